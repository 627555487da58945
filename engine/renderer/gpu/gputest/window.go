package gputest

import (
	"sync"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// Window is a fake platform window. It satisfies the renderer's surface
// provider and reports the surface properties a real compositor would.
type Window struct {
	MinImageCount uint32
	MaxImageCount uint32
	MinExtent     gpu.Extent2D
	MaxExtent     gpu.Extent2D
	Formats       []gpu.SurfaceFormat
	PresentModes  []gpu.PresentMode
	// UndefinedExtent reports the special 0xFFFFFFFF current extent, leaving
	// the swapchain size to the application.
	UndefinedExtent bool
	TransferDst     bool
	// Suboptimal makes acquire and present report a suboptimal swapchain.
	Suboptimal bool
	CreateErr  error
	Extensions []string

	mu     sync.Mutex
	extent gpu.Extent2D
	lost   bool

	destroyed int
}

func NewWindow(width, height uint32) *Window {
	return &Window{
		MinImageCount: 2,
		MaxImageCount: 8,
		MinExtent:     gpu.Extent2D{Width: 1, Height: 1},
		MaxExtent:     gpu.Extent2D{Width: 16384, Height: 16384},
		Formats: []gpu.SurfaceFormat{
			{Format: gpu.FormatB8G8R8A8Unorm, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
			{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox},
		TransferDst:  true,
		Extensions:   []string{gpu.ExtSurface, "VK_KHR_xcb_surface"},
		extent:       gpu.Extent2D{Width: width, Height: height},
	}
}

func (w *Window) RequiredExtensions() []string {
	return append([]string(nil), w.Extensions...)
}

func (w *Window) CreateSurface(inst gpu.Instance) (gpu.Surface, error) {
	if w.CreateErr != nil {
		return gpu.NullSurface, w.CreateErr
	}
	fake, ok := inst.(*Instance)
	if !ok {
		return gpu.NullSurface, errNotFake
	}
	return fake.addSurface(w), nil
}

func (w *Window) DestroySurface(inst gpu.Instance, s gpu.Surface) {
	w.mu.Lock()
	w.destroyed++
	w.mu.Unlock()
	inst.DestroySurface(s)
}

// SurfacesDestroyed counts DestroySurface calls.
func (w *Window) SurfacesDestroyed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

func (w *Window) Extent() gpu.Extent2D {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extent
}

func (w *Window) Resize(width, height uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.extent = gpu.Extent2D{Width: width, Height: height}
}

// Lose makes every later surface operation report gpu.ErrSurfaceLost.
func (w *Window) Lose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lost = true
}

func (w *Window) state() (gpu.Extent2D, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extent, w.lost, w.Suboptimal
}

func (w *Window) capabilities() (gpu.SurfaceCapabilities, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lost {
		return gpu.SurfaceCapabilities{}, gpu.ErrSurfaceLost
	}
	caps := gpu.SurfaceCapabilities{
		MinImageCount:  w.MinImageCount,
		MaxImageCount:  w.MaxImageCount,
		CurrentExtent:  w.extent,
		MinImageExtent: w.MinExtent,
		MaxImageExtent: w.MaxExtent,
		TransferDst:    w.TransferDst,
	}
	if w.UndefinedExtent {
		caps.CurrentExtent = gpu.Extent2D{Width: gpu.ExtentUndefined, Height: gpu.ExtentUndefined}
	}
	return caps, nil
}

func (w *Window) formats() []gpu.SurfaceFormat {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]gpu.SurfaceFormat(nil), w.Formats...)
}

func (w *Window) presentModes() []gpu.PresentMode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]gpu.PresentMode(nil), w.PresentModes...)
}

// matches reports whether a swapchain of extent can still present to w.
func (w *Window) matches(extent gpu.Extent2D) error {
	current, lost, _ := w.state()
	switch {
	case lost:
		return gpu.ErrSurfaceLost
	case current.IsZero():
		return gpu.ErrOutOfDate
	case w.UndefinedExtent:
		return nil
	case current != extent:
		return gpu.ErrOutOfDate
	}
	return nil
}
