// Package vulkan implements the gpu interfaces on top of the Vulkan loader.
package vulkan

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// Loader binds the Vulkan entry points. There is one per process since the
// binding is global.
type Loader struct {
	procAddr unsafe.Pointer
}

// NewLoader binds the loader through procAddr, usually
// glfw.GetVulkanGetInstanceProcAddress.
func NewLoader(procAddr unsafe.Pointer) (*Loader, error) {
	if procAddr == nil {
		err := errors.New("GetInstanceProcAddress is nil")
		core.LogError(err.Error())
		return nil, err
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}
	return &Loader{procAddr: procAddr}, nil
}

func (l *Loader) Version() (gpu.Version, error) {
	return instanceVersion(l.procAddr), nil
}

func (l *Loader) InstanceExtensions() ([]string, error) {
	var count uint32
	if res := vk.EnumerateInstanceExtensionProperties("", &count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceExtensionProperties", res)
	}
	properties := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateInstanceExtensionProperties("", &count, properties); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceExtensionProperties", res)
	}
	names := make([]string, 0, count)
	for i := range properties[:count] {
		properties[i].Deref()
		names = append(names, vk.ToString(properties[i].ExtensionName[:]))
	}
	return names, nil
}

func (l *Loader) InstanceLayers() ([]string, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceLayerProperties", res)
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make([]string, 0, count)
	for i := range layers[:count] {
		layers[i].Deref()
		names = append(names, vk.ToString(layers[i].LayerName[:]))
	}
	return names, nil
}

func (l *Loader) CreateInstance(info gpu.InstanceInfo) (gpu.Instance, error) {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(info.APIVersion),
		ApplicationVersion: uint32(info.AppVersion),
		PApplicationName:   VulkanSafeString(info.AppName),
		EngineVersion:      uint32(info.EngineVersion),
		PEngineName:        VulkanSafeString(info.EngineName),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		Flags:                   vk.InstanceCreateFlags(info.Flags),
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(info.Extensions),
		EnabledLayerCount:       uint32(len(info.Layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(info.Layers),
	}

	inst := &Instance{live: new(atomic.Int32)}
	if res := vk.CreateInstance(&createInfo, nil, &inst.handle); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	if err := vk.InitInstance(inst.handle); err != nil {
		vk.DestroyInstance(inst.handle, nil)
		core.LogError(err.Error())
		return nil, err
	}

	if info.Debug != nil {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit | vk.DebugReportInformationBit),
			PfnCallback: debugReportFunc(info.Debug),
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(inst.handle, &debugCreateInfo, nil, &dbg)); err != nil {
			// Validation output is lost, the instance is still usable.
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			inst.debugCallback = dbg
		}
	}
	return inst, nil
}

func debugReportFunc(sink gpu.DebugCallback) vk.DebugReportCallbackFunc {
	return func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
		severity := gpu.SeverityInfo
		switch {
		case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
			severity = gpu.SeverityError
		case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
			severity = gpu.SeverityPerformance
		case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
			severity = gpu.SeverityWarning
		case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
			severity = gpu.SeverityDebug
		}
		sink(severity, pLayerPrefix, fmt.Sprintf("Code %d : %s", messageCode, pMessage))
		return vk.Bool32(vk.False)
	}
}
