// Package gpu describes the part of an explicit graphics API that the frame
// lifecycle drives: instances, accelerators, devices, queues, swapchains and
// synchronization objects. The vulkan package implements it on top of the
// Vulkan loader; gputest implements it in memory.
//
// Enumerations share the numeric values of their Vulkan counterparts so a
// backend can convert with a plain cast.
package gpu

import (
	"fmt"
	"runtime"
	"strings"
)

// Version is a packed major.minor.patch API version.
type Version uint32

func MakeVersion(major, minor, patch uint32) Version {
	return Version(major<<22 | minor<<12 | patch)
}

func (v Version) Major() uint32 { return uint32(v) >> 22 }
func (v Version) Minor() uint32 { return (uint32(v) >> 12) & 0x3ff }
func (v Version) Patch() uint32 { return uint32(v) & 0xfff }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// PortabilityVersion is the first loader version that hides portability
// implementations unless they are explicitly enumerated.
var PortabilityVersion = MakeVersion(1, 3, 216)

const (
	ExtSurface                        = "VK_KHR_surface"
	ExtSwapchain                      = "VK_KHR_swapchain"
	ExtPortabilityEnumeration         = "VK_KHR_portability_enumeration"
	ExtPortabilitySubset              = "VK_KHR_portability_subset"
	ExtGetPhysicalDeviceProperties2   = "VK_KHR_get_physical_device_properties2"
	ExtDebugReport                    = "VK_EXT_debug_report"
	LayerKhronosValidation            = "VK_LAYER_KHRONOS_validation"
	ExtentUndefined            uint32 = 0xFFFFFFFF
)

// Capabilities describes the host platform as far as instance creation cares.
type Capabilities struct {
	// Portability is set on platforms whose drivers are portability
	// implementations layered on another API (MoltenVK on macOS).
	Portability bool
}

// HostCapabilities reports the capabilities of the running platform.
func HostCapabilities() Capabilities {
	return Capabilities{Portability: runtime.GOOS == "darwin" || runtime.GOOS == "ios"}
}

type InstanceFlags uint32

const (
	InstanceEnumeratePortability InstanceFlags = 0x00000001
)

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityPerformance
	SeverityError
)

// DebugCallback receives validation messages.
type DebugCallback func(severity Severity, layer string, message string)

type InstanceInfo struct {
	AppName       string
	AppVersion    Version
	EngineName    string
	EngineVersion Version
	APIVersion    Version
	Extensions    []string
	Layers        []string
	Flags         InstanceFlags
	// Debug is installed as a validation message sink when non-nil.
	Debug DebugCallback
}

type DeviceType int

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegratedGPU
	DeviceTypeDiscreteGPU
	DeviceTypeVirtualGPU
	DeviceTypeCPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegratedGPU:
		return "Integrated"
	case DeviceTypeDiscreteGPU:
		return "Discrete"
	case DeviceTypeVirtualGPU:
		return "Virtual"
	case DeviceTypeCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 0x00000001
	QueueCompute  QueueFlags = 0x00000002
	QueueTransfer QueueFlags = 0x00000004
)

type QueueFamily struct {
	Flags QueueFlags
	Count uint32
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

// Accelerator is the immutable description of a physical device.
type Accelerator struct {
	Name          string
	Type          DeviceType
	APIVersion    Version
	DriverVersion Version
	QueueFamilies []QueueFamily
	MemoryHeaps   []MemoryHeap
	Extensions    []string
	// Handle is owned by the backend that enumerated the accelerator.
	Handle interface{}
}

func (a *Accelerator) HasExtension(name string) bool {
	for _, e := range a.Extensions {
		if e == name {
			return true
		}
	}
	return false
}

type DeviceInfo struct {
	// QueueFamilies lists the distinct families to create one queue from.
	QueueFamilies []uint32
	Extensions    []string
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type Format uint32

const (
	FormatUndefined     Format = 0
	FormatR8G8B8A8Unorm Format = 37
	FormatR8G8B8A8Srgb  Format = 43
	FormatB8G8R8A8Unorm Format = 44
	FormatB8G8R8A8Srgb  Format = 50
)

type ColorSpace uint32

const (
	ColorSpaceSrgbNonlinear ColorSpace = 0
)

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type PresentMode uint32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo_relaxed"
	default:
		return fmt.Sprintf("present_mode(%d)", uint32(m))
	}
}

// ParsePresentMode maps a configuration name to a PresentMode.
func ParsePresentMode(name string) (PresentMode, error) {
	name = strings.ToLower(name)
	for _, m := range []PresentMode{PresentModeImmediate, PresentModeMailbox, PresentModeFifo, PresentModeFifoRelaxed} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown present mode %q", name)
}

// ParseFormat maps a configuration name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "r8g8b8a8_unorm":
		return FormatR8G8B8A8Unorm, nil
	case "r8g8b8a8_srgb":
		return FormatR8G8B8A8Srgb, nil
	case "b8g8r8a8_unorm":
		return FormatB8G8R8A8Unorm, nil
	case "b8g8r8a8_srgb":
		return FormatB8G8R8A8Srgb, nil
	}
	return FormatUndefined, fmt.Errorf("unknown surface format %q", name)
}

type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount of zero means no upper bound.
	MaxImageCount  uint32
	CurrentExtent  Extent2D
	MinImageExtent Extent2D
	MaxImageExtent Extent2D
	// CurrentTransform is passed back untouched when creating a swapchain.
	CurrentTransform uint32
	// TransferDst reports whether swapchain images can be cleared by transfer.
	TransferDst bool
}

// Surface is a platform drawable created against an Instance.
type Surface uintptr

const NullSurface Surface = 0

type SwapchainInfo struct {
	Surface       Surface
	MinImageCount uint32
	Format        SurfaceFormat
	Extent        Extent2D
	PresentMode   PresentMode
	// QueueFamilies with more than one entry selects concurrent sharing.
	QueueFamilies []uint32
	Transform     uint32
	TransferDst   bool
	// Old is the swapchain being replaced, if any.
	Old Swapchain
}

type SubmitInfo struct {
	Wait           []Semaphore
	CommandBuffers []CommandBuffer
	Signal         []Semaphore
}

type PresentInfo struct {
	Wait       []Semaphore
	Swapchain  Swapchain
	ImageIndex uint32
}

// Color is a linear RGBA clear color.
type Color [4]float32
