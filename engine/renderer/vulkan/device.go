package vulkan

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type Device struct {
	handle vk.Device
	queues map[uint32]*Queue
	live   *atomic.Int32
}

// Queue returns the single queue created for family, or nil.
func (d *Device) Queue(family uint32) gpu.Queue {
	q, ok := d.queues[family]
	if !ok {
		return nil
	}
	return q
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.(vk.Image),
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: colorRange,
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.handle, &viewInfo, nil, &view); res != vk.Success {
		return nil, resultError("vkCreateImageView", res)
	}
	d.live.Add(1)
	return &ImageView{device: d, handle: view}, nil
}

func (d *Device) CreateCommandPool(family uint32) (gpu.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.handle, &poolCreateInfo, nil, &pool); res != vk.Success {
		return nil, resultError("vkCreateCommandPool", res)
	}
	d.live.Add(1)
	return &CommandPool{device: d, handle: pool}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	if res := vk.CreateSemaphore(d.handle, &semaphoreCreateInfo, nil, &sem); res != vk.Success {
		return nil, resultError("vkCreateSemaphore", res)
	}
	d.live.Add(1)
	return &Semaphore{device: d, handle: sem}, nil
}

func (d *Device) WaitIdle() error {
	return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.handle))
}

func (d *Device) Destroy() {
	if d.handle == nil {
		return
	}
	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
	d.queues = nil
	d.live.Add(-1)
}

type Queue struct {
	handle vk.Queue
}

func semaphores(list []gpu.Semaphore) []vk.Semaphore {
	out := make([]vk.Semaphore, len(list))
	for i, s := range list {
		out[i] = s.(*Semaphore).handle
	}
	return out
}

func (q *Queue) Submit(info gpu.SubmitInfo, fence gpu.Fence) error {
	waitStages := make([]vk.PipelineStageFlags, len(info.Wait))
	for i := range waitStages {
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	buffers := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, cb := range info.CommandBuffers {
		buffers[i] = cb.(*CommandBuffer).handle
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(info.Wait)),
		PWaitSemaphores:      semaphores(info.Wait),
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(info.Signal)),
		PSignalSemaphores:    semaphores(info.Signal),
	}

	handle := vk.NullFence
	if fence != nil {
		handle = fence.(*Fence).handle
	}
	return resultError("vkQueueSubmit", vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{submitInfo}, handle))
}

func (q *Queue) Present(info gpu.PresentInfo) (bool, error) {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(info.Wait)),
		PWaitSemaphores:    semaphores(info.Wait),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{info.Swapchain.(*Swapchain).handle},
		PImageIndices:      []uint32{info.ImageIndex},
	}
	result := vk.QueuePresent(q.handle, &presentInfo)
	return result == vk.Suboptimal, resultError("vkQueuePresentKHR", result)
}

func (q *Queue) WaitIdle() error {
	return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(q.handle))
}
