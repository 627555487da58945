package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type Fence struct {
	device *Device
	handle vk.Fence
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// A signaled fence lets the first wait on a fresh slot return at once.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if res := vk.CreateFence(d.handle, &fenceCreateInfo, nil, &handle); res != vk.Success {
		return nil, resultError("vkCreateFence", res)
	}
	d.live.Add(1)
	return &Fence{device: d, handle: handle}, nil
}

func (f *Fence) Wait(timeout time.Duration) error {
	result := vk.WaitForFences(f.device.handle, 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result, false))
	}
	return resultError("vkWaitForFences", result)
}

func (f *Fence) Reset() error {
	return resultError("vkResetFences", vk.ResetFences(f.device.handle, 1, []vk.Fence{f.handle}))
}

func (f *Fence) Destroy() {
	if f.handle == vk.NullFence {
		return
	}
	vk.DestroyFence(f.device.handle, f.handle, nil)
	f.handle = vk.NullFence
	f.device.live.Add(-1)
}

type Semaphore struct {
	device *Device
	handle vk.Semaphore
}

func (s *Semaphore) Destroy() {
	if s.handle == vk.NullSemaphore {
		return
	}
	vk.DestroySemaphore(s.device.handle, s.handle, nil)
	s.handle = vk.NullSemaphore
	s.device.live.Add(-1)
}
