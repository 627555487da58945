package renderer

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// SurfaceProvider owns the OS window. The renderer only borrows its surface.
type SurfaceProvider interface {
	// RequiredExtensions lists the instance extensions the window system needs.
	RequiredExtensions() []string
	CreateSurface(inst gpu.Instance) (gpu.Surface, error)
	DestroySurface(inst gpu.Instance, surface gpu.Surface)
	// Extent is the current framebuffer size in pixels.
	Extent() gpu.Extent2D
}

type SurfaceRequirements struct {
	Provider   SurfaceProvider
	AppName    string
	AppVersion gpu.Version
	// Validation enables the Khronos validation layer when it is installed.
	Validation bool
	// Debug turns ownership-order violations into panics.
	Debug        bool
	Capabilities gpu.Capabilities
}

const engineName = "Tundra Engine"

// deviceClaim enforces a single initialized DeviceContext per process.
var deviceClaim atomic.Bool

// DeviceContext exclusively owns the instance and the logical device. Other
// components hold references to it but never destroy what it owns.
type DeviceContext struct {
	loader gpu.Loader

	Instance       gpu.Instance
	Surface        gpu.Surface
	Accelerator    *gpu.Accelerator
	Device         gpu.Device
	GraphicsFamily uint32
	PresentFamily  uint32
	GraphicsQueue  gpu.Queue
	PresentQueue   gpu.Queue
	CommandPool    gpu.CommandPool

	provider    SurfaceProvider
	debug       bool
	initialized bool
	destroyed   bool
	dependents  map[string]int
}

func NewDeviceContext(loader gpu.Loader) *DeviceContext {
	return &DeviceContext{
		loader:     loader,
		dependents: map[string]int{},
	}
}

func (dc *DeviceContext) Initialize(req SurfaceRequirements) error {
	if dc.destroyed {
		return fmt.Errorf("device context: %w", core.ErrShuttingDown)
	}
	if dc.initialized || !deviceClaim.CompareAndSwap(false, true) {
		return core.ErrAlreadyInitialized
	}
	if req.Provider == nil {
		deviceClaim.Store(false)
		return fmt.Errorf("%w: no surface provider", core.ErrInitializationFailure)
	}
	dc.provider = req.Provider
	dc.debug = req.Debug

	if err := dc.initialize(req); err != nil {
		dc.release()
		deviceClaim.Store(false)
		return err
	}
	dc.initialized = true
	core.LogInfo("Device context initialized.")
	return nil
}

func (dc *DeviceContext) initialize(req SurfaceRequirements) error {
	if err := dc.createInstance(req); err != nil {
		return err
	}

	core.LogDebug("Creating surface...")
	surface, err := dc.provider.CreateSurface(dc.Instance)
	if err != nil {
		return fmt.Errorf("%w: surface creation failed: %v", core.ErrInitializationFailure, err)
	}
	dc.Surface = surface

	acc, family, err := dc.selectAccelerator()
	if err != nil {
		return err
	}
	dc.Accelerator = acc
	dc.GraphicsFamily = family
	dc.PresentFamily = family

	return dc.createDevice()
}

func (dc *DeviceContext) createInstance(req SurfaceRequirements) error {
	version, err := dc.loader.Version()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInstanceCreationFailed, err)
	}
	core.LogInfo("Vulkan loader version %s", version)

	available, err := dc.loader.InstanceExtensions()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInstanceCreationFailed, err)
	}

	info := gpu.InstanceInfo{
		AppName:       req.AppName,
		AppVersion:    req.AppVersion,
		EngineName:    engineName,
		EngineVersion: gpu.MakeVersion(0, 1, 0),
		APIVersion:    gpu.MakeVersion(1, 0, 0),
	}
	info.Extensions = appendUnique(info.Extensions, gpu.ExtSurface)
	info.Extensions = appendUnique(info.Extensions, req.Provider.RequiredExtensions()...)

	flags, extensions := portabilityRequirements(req.Capabilities, version)
	info.Flags |= flags
	info.Extensions = appendUnique(info.Extensions, extensions...)

	if req.Validation {
		layers, err := dc.loader.InstanceLayers()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInstanceCreationFailed, err)
		}
		if containsName(layers, gpu.LayerKhronosValidation) {
			core.LogInfo("Validation layers enabled.")
			info.Layers = append(info.Layers, gpu.LayerKhronosValidation)
			if containsName(available, gpu.ExtDebugReport) {
				info.Extensions = appendUnique(info.Extensions, gpu.ExtDebugReport)
				info.Debug = logValidationMessage
			}
		} else {
			core.LogWarn("Validation requested but %s is not installed, continuing without it.", gpu.LayerKhronosValidation)
		}
	}

	for _, ext := range info.Extensions {
		if !containsName(available, ext) {
			return fmt.Errorf("%w: required extension %s is not available", core.ErrInstanceCreationFailed, ext)
		}
	}
	core.LogDebug("Required extensions: %v", info.Extensions)

	inst, err := dc.loader.CreateInstance(info)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInstanceCreationFailed, err)
	}
	dc.Instance = inst
	core.LogInfo("Vulkan Instance created.")
	return nil
}

// portabilityRequirements returns what instance creation needs on a platform
// whose drivers are portability implementations. Loaders older than
// gpu.PortabilityVersion list those drivers without being asked.
func portabilityRequirements(caps gpu.Capabilities, loader gpu.Version) (gpu.InstanceFlags, []string) {
	if !caps.Portability || loader < gpu.PortabilityVersion {
		return 0, nil
	}
	return gpu.InstanceEnumeratePortability, []string{
		gpu.ExtPortabilityEnumeration,
		gpu.ExtGetPhysicalDeviceProperties2,
	}
}

func logValidationMessage(severity gpu.Severity, layer, message string) {
	switch severity {
	case gpu.SeverityError:
		core.LogError("ERROR: [%s] %s", layer, message)
	case gpu.SeverityWarning:
		core.LogWarn("WARNING: [%s] %s", layer, message)
	case gpu.SeverityPerformance:
		core.LogWarn("PERFORMANCE WARNING: [%s] %s", layer, message)
	case gpu.SeverityInfo:
		core.LogInfo("INFORMATION: [%s] %s", layer, message)
	default:
		core.LogDebug("DEBUG: [%s] %s", layer, message)
	}
}

type candidate struct {
	acc    *gpu.Accelerator
	family uint32
	score  int
}

func typeScore(t gpu.DeviceType) int {
	switch t {
	case gpu.DeviceTypeDiscreteGPU:
		return 4
	case gpu.DeviceTypeIntegratedGPU:
		return 3
	case gpu.DeviceTypeVirtualGPU:
		return 2
	case gpu.DeviceTypeCPU:
		return 1
	default:
		return 0
	}
}

// selectAccelerator keeps the accelerators with a queue family that does both
// graphics and presentation to the surface and picks the best scored one.
func (dc *DeviceContext) selectAccelerator() (*gpu.Accelerator, uint32, error) {
	accelerators, err := dc.Instance.Accelerators()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", core.ErrNoSuitableAccelerator, err)
	}
	if len(accelerators) == 0 {
		core.LogError("No devices which support Vulkan were found.")
		return nil, 0, core.ErrNoSuitableAccelerator
	}

	var candidates []candidate
	for _, acc := range accelerators {
		family, ok, err := dc.meetsRequirements(acc)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			candidates = append(candidates, candidate{acc: acc, family: family, score: typeScore(acc.Type)})
		}
	}
	if len(candidates) == 0 {
		core.LogError("No physical devices were found which meet the requirements.")
		return nil, 0, core.ErrNoSuitableAccelerator
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	reportAccelerator(best.acc)
	return best.acc, best.family, nil
}

func (dc *DeviceContext) meetsRequirements(acc *gpu.Accelerator) (uint32, bool, error) {
	core.LogInfo("Graphics | Present | Compute | Transfer | Name")
	family, found := uint32(0), false
	for i, qf := range acc.QueueFamilies {
		present, err := dc.Instance.SurfaceSupport(acc, uint32(i), dc.Surface)
		if err != nil {
			return 0, false, fmt.Errorf("%w: surface query: %w", core.ErrInitializationFailure, surfaceError(err))
		}
		core.LogInfo("   %5t |   %5t |   %5t |    %5t | %s [family %d]",
			qf.Flags&gpu.QueueGraphics != 0, present,
			qf.Flags&gpu.QueueCompute != 0, qf.Flags&gpu.QueueTransfer != 0,
			acc.Name, i)
		if !found && qf.Flags&gpu.QueueGraphics != 0 && present {
			family, found = uint32(i), true
		}
	}
	if !found {
		core.LogInfo("Device %s has no family supporting graphics and present, skipping.", acc.Name)
		return 0, false, nil
	}
	if !acc.HasExtension(gpu.ExtSwapchain) {
		core.LogInfo("Required extension not found: '%s', skipping device.", gpu.ExtSwapchain)
		return 0, false, nil
	}

	formats, err := dc.Instance.SurfaceFormats(acc, dc.Surface)
	if err != nil {
		return 0, false, fmt.Errorf("%w: surface query: %w", core.ErrInitializationFailure, surfaceError(err))
	}
	modes, err := dc.Instance.PresentModes(acc, dc.Surface)
	if err != nil {
		return 0, false, fmt.Errorf("%w: surface query: %w", core.ErrInitializationFailure, surfaceError(err))
	}
	if len(formats) == 0 || len(modes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return 0, false, nil
	}
	return family, true, nil
}

func reportAccelerator(acc *gpu.Accelerator) {
	core.LogInfo("Selected device: '%s'.", acc.Name)
	core.LogInfo("GPU type is %s.", acc.Type)
	core.LogInfo("GPU Driver version: %s", acc.DriverVersion)
	core.LogInfo("Vulkan API version: %s", acc.APIVersion)
	for _, heap := range acc.MemoryHeaps {
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.DeviceLocal {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func (dc *DeviceContext) createDevice() error {
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	families := []uint32{dc.GraphicsFamily}
	if dc.PresentFamily != dc.GraphicsFamily {
		families = append(families, dc.PresentFamily)
	}
	extensions := []string{gpu.ExtSwapchain}
	if dc.Accelerator.HasExtension(gpu.ExtPortabilitySubset) {
		core.LogInfo("Adding required extension '%s'.", gpu.ExtPortabilitySubset)
		extensions = append(extensions, gpu.ExtPortabilitySubset)
	}

	device, err := dc.Instance.CreateDevice(dc.Accelerator, gpu.DeviceInfo{
		QueueFamilies: families,
		Extensions:    extensions,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrDeviceCreationFailed, err)
	}
	dc.Device = device
	core.LogInfo("Logical device created.")

	dc.GraphicsQueue = device.Queue(dc.GraphicsFamily)
	dc.PresentQueue = device.Queue(dc.PresentFamily)
	core.LogInfo("Queues obtained.")

	pool, err := device.CreateCommandPool(dc.GraphicsFamily)
	if err != nil {
		return fmt.Errorf("%w: command pool: %v", core.ErrDeviceCreationFailed, err)
	}
	dc.CommandPool = pool
	core.LogInfo("Graphics command pool created.")
	return nil
}

// retain records a component that must be destroyed before the context.
func (dc *DeviceContext) retain(name string) {
	dc.dependents[name]++
}

func (dc *DeviceContext) drop(name string) {
	if dc.dependents[name] <= 1 {
		delete(dc.dependents, name)
		return
	}
	dc.dependents[name]--
}

// Shutdown waits for the device to go idle and destroys everything the
// context owns: command pool, device, surface (through its provider) and
// finally the instance.
func (dc *DeviceContext) Shutdown() error {
	if dc.destroyed {
		return core.ErrDoubleDestroy
	}
	if !dc.initialized {
		return core.ErrNotInitialized
	}
	if len(dc.dependents) > 0 {
		names := make([]string, 0, len(dc.dependents))
		for name := range dc.dependents {
			names = append(names, name)
		}
		sort.Strings(names)
		debugAssert(dc.debug, "device context shut down while %v are still alive", names)
	}

	var idleErr error
	if err := dc.Device.WaitIdle(); err != nil {
		idleErr = translate(err)
		core.LogError("Device wait idle failed during shutdown: %s", err)
	}
	dc.release()
	dc.destroyed = true
	dc.initialized = false
	deviceClaim.Store(false)
	core.LogInfo("Device context destroyed.")
	return idleErr
}

// release destroys whatever has been created so far, in reverse order.
func (dc *DeviceContext) release() {
	if dc.CommandPool != nil {
		core.LogInfo("Destroying command pools...")
		dc.CommandPool.Destroy()
		dc.CommandPool = nil
	}
	dc.GraphicsQueue = nil
	dc.PresentQueue = nil
	if dc.Device != nil {
		core.LogInfo("Destroying logical device...")
		dc.Device.Destroy()
		dc.Device = nil
	}
	dc.Accelerator = nil
	if dc.Surface != gpu.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		dc.provider.DestroySurface(dc.Instance, dc.Surface)
		dc.Surface = gpu.NullSurface
	}
	if dc.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		dc.Instance.Destroy()
		dc.Instance = nil
	}
}

func (dc *DeviceContext) Initialized() bool {
	return dc.initialized
}

// debugAssert reports an ownership-order violation, fatally in debug mode.
func debugAssert(debug bool, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if debug {
		panic(msg)
	}
	core.LogError("assertion failed: %s", msg)
}

func appendUnique(list []string, names ...string) []string {
	for _, n := range names {
		if !containsName(list, n) {
			list = append(list, n)
		}
	}
	return list
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
