package gpu

import (
	"errors"
	"time"
)

var (
	// ErrOutOfDate means the swapchain no longer matches its surface.
	ErrOutOfDate = errors.New("swapchain out of date")
	// ErrSurfaceLost means the surface is gone and cannot be presented to.
	ErrSurfaceLost = errors.New("surface lost")
	// ErrDeviceLost means the logical device can no longer execute work.
	ErrDeviceLost = errors.New("device lost")
	// ErrTimeout means a bounded wait expired.
	ErrTimeout = errors.New("timeout")
)

// Loader is the entry point of a backend.
type Loader interface {
	// Version reports the highest API version the loader supports.
	Version() (Version, error)
	InstanceExtensions() ([]string, error)
	InstanceLayers() ([]string, error)
	CreateInstance(info InstanceInfo) (Instance, error)
}

type Instance interface {
	// Native returns the backend handle, for window systems that create surfaces.
	Native() interface{}
	Accelerators() ([]*Accelerator, error)
	SurfaceSupport(acc *Accelerator, family uint32, surface Surface) (bool, error)
	SurfaceCapabilities(acc *Accelerator, surface Surface) (SurfaceCapabilities, error)
	SurfaceFormats(acc *Accelerator, surface Surface) ([]SurfaceFormat, error)
	PresentModes(acc *Accelerator, surface Surface) ([]PresentMode, error)
	CreateDevice(acc *Accelerator, info DeviceInfo) (Device, error)
	DestroySurface(surface Surface)
	// LiveObjects counts objects created from this instance that are still alive.
	LiveObjects() int
	Destroy()
}

type Device interface {
	Queue(family uint32) Queue
	CreateSwapchain(info SwapchainInfo) (Swapchain, error)
	CreateImageView(image Image, format Format) (ImageView, error)
	CreateCommandPool(family uint32) (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	WaitIdle() error
	Destroy()
}

type Queue interface {
	// Submit queues a batch; fence, if non-nil, is signaled when it completes.
	Submit(info SubmitInfo, fence Fence) error
	// Present returns suboptimal=true when the image was shown but the
	// swapchain should be rebuilt, and ErrOutOfDate when it was not shown.
	Present(info PresentInfo) (suboptimal bool, err error)
	WaitIdle() error
}

// Image is a swapchain-owned image.
type Image interface{}

type ImageView interface {
	Destroy()
}

type Swapchain interface {
	Images() ([]Image, error)
	AcquireNextImage(timeout time.Duration, signal Semaphore) (index uint32, suboptimal bool, err error)
	Destroy()
}

type CommandPool interface {
	Allocate() (CommandBuffer, error)
	Destroy()
}

type CommandBuffer interface {
	Reset() error
	Begin() error
	// TransitionToPresent records a barrier that moves image to the present layout.
	TransitionToPresent(image Image)
	// ClearImage clears image to c and leaves it in the present layout.
	ClearImage(image Image, c Color)
	End() error
	Free()
}

type Fence interface {
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}

type Semaphore interface {
	Destroy()
}
