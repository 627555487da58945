package vulkan

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type Instance struct {
	handle        vk.Instance
	debugCallback vk.DebugReportCallback
	// live counts devices and device children created through this instance.
	live *atomic.Int32
}

// Native returns the vk.Instance, which glfw.Window.CreateWindowSurface takes.
func (inst *Instance) Native() interface{} {
	return inst.handle
}

func (inst *Instance) LiveObjects() int {
	return int(inst.live.Load())
}

func (inst *Instance) Accelerators() ([]*gpu.Accelerator, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(inst.handle, &count, nil); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return nil, nil
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(inst.handle, &count, physicalDevices); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}

	accelerators := make([]*gpu.Accelerator, 0, count)
	for _, pd := range physicalDevices[:count] {
		acc, err := describe(pd)
		if err != nil {
			return nil, err
		}
		accelerators = append(accelerators, acc)
	}
	return accelerators, nil
}

func describe(pd vk.PhysicalDevice) (*gpu.Accelerator, error) {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &properties)
	properties.Deref()

	acc := &gpu.Accelerator{
		Name:          vk.ToString(properties.DeviceName[:]),
		Type:          deviceType(properties.DeviceType),
		APIVersion:    gpu.Version(properties.ApiVersion),
		DriverVersion: gpu.Version(properties.DriverVersion),
		Handle:        pd,
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)
	for i := range families[:familyCount] {
		families[i].Deref()
		acc.QueueFamilies = append(acc.QueueFamilies, gpu.QueueFamily{
			Flags: gpu.QueueFlags(families[i].QueueFlags),
			Count: families[i].QueueCount,
		})
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
	memory.Deref()
	for j := 0; j < int(memory.MemoryHeapCount); j++ {
		memory.MemoryHeaps[j].Deref()
		acc.MemoryHeaps = append(acc.MemoryHeaps, gpu.MemoryHeap{
			Size:        uint64(memory.MemoryHeaps[j].Size),
			DeviceLocal: vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0,
		})
	}

	var extensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &extensionCount, nil); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	extensions := make([]vk.ExtensionProperties, extensionCount)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &extensionCount, extensions); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	for i := range extensions[:extensionCount] {
		extensions[i].Deref()
		acc.Extensions = append(acc.Extensions, vk.ToString(extensions[i].ExtensionName[:]))
	}
	return acc, nil
}

func deviceType(t vk.PhysicalDeviceType) gpu.DeviceType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return gpu.DeviceTypeIntegratedGPU
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return gpu.DeviceTypeDiscreteGPU
	case vk.PhysicalDeviceTypeVirtualGpu:
		return gpu.DeviceTypeVirtualGPU
	case vk.PhysicalDeviceTypeCpu:
		return gpu.DeviceTypeCPU
	default:
		return gpu.DeviceTypeOther
	}
}

func physical(acc *gpu.Accelerator) vk.PhysicalDevice {
	return acc.Handle.(vk.PhysicalDevice)
}

func surfaceHandle(s gpu.Surface) vk.Surface {
	return vk.SurfaceFromPointer(uintptr(s))
}

func (inst *Instance) SurfaceSupport(acc *gpu.Accelerator, family uint32, surface gpu.Surface) (bool, error) {
	var supported vk.Bool32
	if res := vk.GetPhysicalDeviceSurfaceSupport(physical(acc), family, surfaceHandle(surface), &supported); res != vk.Success {
		return false, resultError("vkGetPhysicalDeviceSurfaceSupportKHR", res)
	}
	return supported == vk.True, nil
}

func (inst *Instance) SurfaceCapabilities(acc *gpu.Accelerator, surface gpu.Surface) (gpu.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physical(acc), surfaceHandle(surface), &caps); res != vk.Success {
		return gpu.SurfaceCapabilities{}, resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	return gpu.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    gpu.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent:   gpu.Extent2D{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent:   gpu.Extent2D{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		CurrentTransform: uint32(caps.CurrentTransform),
		TransferDst:      vk.ImageUsageFlagBits(caps.SupportedUsageFlags)&vk.ImageUsageTransferDstBit != 0,
	}, nil
}

func (inst *Instance) SurfaceFormats(acc *gpu.Accelerator, surface gpu.Surface) ([]gpu.SurfaceFormat, error) {
	var count uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physical(acc), surfaceHandle(surface), &count, nil); res != vk.Success {
		return nil, resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	formats := make([]vk.SurfaceFormat, count)
	if count > 0 {
		if res := vk.GetPhysicalDeviceSurfaceFormats(physical(acc), surfaceHandle(surface), &count, formats); res != vk.Success {
			return nil, resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
	}
	out := make([]gpu.SurfaceFormat, 0, count)
	for i := range formats[:count] {
		formats[i].Deref()
		out = append(out, gpu.SurfaceFormat{
			Format:     gpu.Format(formats[i].Format),
			ColorSpace: gpu.ColorSpace(formats[i].ColorSpace),
		})
	}
	return out, nil
}

func (inst *Instance) PresentModes(acc *gpu.Accelerator, surface gpu.Surface) ([]gpu.PresentMode, error) {
	var count uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physical(acc), surfaceHandle(surface), &count, nil); res != vk.Success {
		return nil, resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	modes := make([]vk.PresentMode, count)
	if count > 0 {
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physical(acc), surfaceHandle(surface), &count, modes); res != vk.Success {
			return nil, resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	out := make([]gpu.PresentMode, 0, count)
	for _, m := range modes[:count] {
		out = append(out, gpu.PresentMode(m))
	}
	return out, nil
}

func (inst *Instance) CreateDevice(acc *gpu.Accelerator, info gpu.DeviceInfo) (gpu.Device, error) {
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(info.QueueFamilies))
	for i, family := range info.QueueFamilies {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(info.Extensions),
	}

	var handle vk.Device
	if res := vk.CreateDevice(physical(acc), &deviceCreateInfo, nil, &handle); res != vk.Success {
		return nil, resultError("vkCreateDevice", res)
	}
	core.LogInfo("Logical device created.")

	dev := &Device{
		handle: handle,
		queues: make(map[uint32]*Queue, len(info.QueueFamilies)),
		live:   inst.live,
	}
	for _, family := range info.QueueFamilies {
		var q vk.Queue
		vk.GetDeviceQueue(handle, family, 0, &q)
		dev.queues[family] = &Queue{handle: q}
	}
	inst.live.Add(1)
	return dev, nil
}

func (inst *Instance) DestroySurface(surface gpu.Surface) {
	if surface == gpu.NullSurface {
		return
	}
	vk.DestroySurface(inst.handle, surfaceHandle(surface), nil)
}

func (inst *Instance) Destroy() {
	if inst.debugCallback != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(inst.handle, inst.debugCallback, nil)
		inst.debugCallback = vk.NullDebugReportCallback
	}
	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(inst.handle, nil)
	inst.handle = nil
}
