package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type Swapchain struct {
	device *Device
	handle vk.Swapchain
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, error) {
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	if info.TransferDst {
		usage |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surfaceHandle(info.Surface),
		MinImageCount:    info.MinImageCount,
		ImageFormat:      vk.Format(info.Format.Format),
		ImageColorSpace:  vk.ColorSpace(info.Format.ColorSpace),
		ImageExtent:      vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       usage,
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformFlagBits(info.Transform),
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentMode(info.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	// Graphics and present families differ, so images are shared between them.
	if len(info.QueueFamilies) > 1 {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = uint32(len(info.QueueFamilies))
		swapchainCreateInfo.PQueueFamilyIndices = info.QueueFamilies
	}
	if old, ok := info.Old.(*Swapchain); ok && old != nil {
		swapchainCreateInfo.OldSwapchain = old.handle
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(d.handle, &swapchainCreateInfo, nil, &handle); res != vk.Success {
		return nil, resultError("vkCreateSwapchainKHR", res)
	}
	d.live.Add(1)
	return &Swapchain{device: d, handle: handle}, nil
}

func (sc *Swapchain) Images() ([]gpu.Image, error) {
	var count uint32
	if res := vk.GetSwapchainImages(sc.device.handle, sc.handle, &count, nil); res != vk.Success {
		return nil, resultError("vkGetSwapchainImagesKHR", res)
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(sc.device.handle, sc.handle, &count, images); res != vk.Success {
		return nil, resultError("vkGetSwapchainImagesKHR", res)
	}
	out := make([]gpu.Image, count)
	for i := range out {
		out[i] = images[i]
	}
	return out, nil
}

func (sc *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, bool, error) {
	var index uint32
	result := vk.AcquireNextImage(sc.device.handle, sc.handle, uint64(timeout.Nanoseconds()), signal.(*Semaphore).handle, vk.NullFence, &index)
	if err := resultError("vkAcquireNextImageKHR", result); err != nil {
		return 0, false, err
	}
	return index, result == vk.Suboptimal, nil
}

func (sc *Swapchain) Destroy() {
	if sc.handle == vk.NullSwapchain {
		return
	}
	vk.DestroySwapchain(sc.device.handle, sc.handle, nil)
	sc.handle = vk.NullSwapchain
	sc.device.live.Add(-1)
}

type ImageView struct {
	device *Device
	handle vk.ImageView
}

func (v *ImageView) Destroy() {
	if v.handle == vk.NullImageView {
		return
	}
	vk.DestroyImageView(v.device.handle, v.handle, nil)
	v.handle = vk.NullImageView
	v.device.live.Add(-1)
}
