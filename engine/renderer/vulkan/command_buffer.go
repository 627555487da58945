package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

var colorRange = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

type CommandPool struct {
	device *Device
	handle vk.CommandPool
}

func (p *CommandPool) Allocate() (gpu.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(p.device.handle, &allocateInfo, buffers); res != vk.Success {
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	p.device.live.Add(1)
	return &CommandBuffer{pool: p, handle: buffers[0]}, nil
}

func (p *CommandPool) Destroy() {
	if p.handle == vk.NullCommandPool {
		return
	}
	vk.DestroyCommandPool(p.device.handle, p.handle, nil)
	p.handle = vk.NullCommandPool
	p.device.live.Add(-1)
}

type CommandBuffer struct {
	pool   *CommandPool
	handle vk.CommandBuffer
}

func (cb *CommandBuffer) Reset() error {
	return resultError("vkResetCommandBuffer", vk.ResetCommandBuffer(cb.handle, 0))
}

func (cb *CommandBuffer) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb.handle, &beginInfo))
}

func (cb *CommandBuffer) End() error {
	return resultError("vkEndCommandBuffer", vk.EndCommandBuffer(cb.handle))
}

func (cb *CommandBuffer) barrier(image gpu.Image, from, to vk.ImageLayout, srcAccess, dstAccess vk.AccessFlagBits, srcStage, dstStage vk.PipelineStageFlagBits) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.(vk.Image),
		SubresourceRange:    colorRange,
	}
	vk.CmdPipelineBarrier(
		cb.handle,
		vk.PipelineStageFlags(srcStage),
		vk.PipelineStageFlags(dstStage),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier},
	)
}

// TransitionToPresent discards the previous contents of image.
func (cb *CommandBuffer) TransitionToPresent(image gpu.Image) {
	cb.barrier(image,
		vk.ImageLayoutUndefined, vk.ImageLayoutPresentSrc,
		0, 0,
		vk.PipelineStageTopOfPipeBit, vk.PipelineStageBottomOfPipeBit)
}

func (cb *CommandBuffer) ClearImage(image gpu.Image, c gpu.Color) {
	cb.barrier(image,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessTransferWriteBit,
		vk.PipelineStageTopOfPipeBit, vk.PipelineStageTransferBit)

	color := vk.ClearColorValue{}
	floats := (*[4]float32)(unsafe.Pointer(&color))
	*floats = c
	vk.CmdClearColorImage(cb.handle, image.(vk.Image), vk.ImageLayoutTransferDstOptimal, &color, 1, []vk.ImageSubresourceRange{colorRange})

	cb.barrier(image,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc,
		vk.AccessTransferWriteBit, 0,
		vk.PipelineStageTransferBit, vk.PipelineStageBottomOfPipeBit)
}

func (cb *CommandBuffer) Free() {
	if cb.handle == nil {
		return
	}
	vk.FreeCommandBuffers(cb.pool.device.handle, cb.pool.handle, 1, []vk.CommandBuffer{cb.handle})
	cb.handle = nil
	cb.pool.device.live.Add(-1)
}
