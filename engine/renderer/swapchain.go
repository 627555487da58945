package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/math"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// Drainer waits until no submitted frame references the current swapchain.
type Drainer interface {
	Drain() error
}

// SwapImage is a presentable image and its view. It lives until the next
// rebuild of the swapchain that owns it.
type SwapImage struct {
	Index uint32
	Image gpu.Image
	View  gpu.ImageView
	// Clearable is set when the image can be the target of a transfer clear.
	Clearable bool
}

type SwapchainState struct {
	Swapchain   gpu.Swapchain
	Format      gpu.SurfaceFormat
	PresentMode gpu.PresentMode
	Extent      gpu.Extent2D
	Images      []SwapImage
	// Generation increases with every successful build.
	Generation uint64
}

type PresentationConfig struct {
	Format            gpu.Format
	PresentMode       gpu.PresentMode
	DesiredImageCount uint32
}

// PresentationEngine owns the swapchain and its images.
type PresentationEngine struct {
	dc      *DeviceContext
	config  PresentationConfig
	drainer Drainer

	state      *SwapchainState
	generation uint64
	stale      bool
	lost       bool
	destroyed  bool
}

func NewPresentationEngine(dc *DeviceContext, config PresentationConfig) (*PresentationEngine, error) {
	if !dc.Initialized() {
		return nil, core.ErrNotInitialized
	}
	if config.DesiredImageCount == 0 {
		config.DesiredImageCount = 3
	}
	dc.retain("presentation engine")
	return &PresentationEngine{dc: dc, config: config, stale: true}, nil
}

// SetDrainer installs what Rebuild waits on before releasing old images.
func (pe *PresentationEngine) SetDrainer(d Drainer) {
	pe.drainer = d
}

// SetPresentMode changes the preferred present mode, effective on the next rebuild.
func (pe *PresentationEngine) SetPresentMode(mode gpu.PresentMode) {
	if pe.config.PresentMode == mode {
		return
	}
	pe.config.PresentMode = mode
	pe.Invalidate()
}

func (pe *PresentationEngine) State() *SwapchainState {
	return pe.state
}

// Stale reports whether the swapchain must be rebuilt before the next frame.
func (pe *PresentationEngine) Stale() bool {
	return pe.stale || pe.state == nil
}

// Invalidate marks the swapchain out of date, typically after a resize.
func (pe *PresentationEngine) Invalidate() {
	pe.stale = true
}

// Build creates the first swapchain. With an existing swapchain it behaves
// like Rebuild.
func (pe *PresentationEngine) Build(extent gpu.Extent2D) error {
	if pe.state != nil {
		return pe.Rebuild(extent)
	}
	if err := pe.usable(); err != nil {
		return err
	}
	caps, err := pe.capabilities(extent)
	if err != nil {
		return err
	}
	return pe.create(extent, caps, nil)
}

// Rebuild drains in-flight frames, hands the old swapchain to the driver for
// reuse and replaces every SwapImage.
func (pe *PresentationEngine) Rebuild(extent gpu.Extent2D) error {
	if err := pe.usable(); err != nil {
		return err
	}
	if pe.state == nil {
		caps, err := pe.capabilities(extent)
		if err != nil {
			return err
		}
		return pe.create(extent, caps, nil)
	}
	caps, err := pe.capabilities(extent)
	if err != nil {
		return err
	}

	if err := pe.drain(); err != nil {
		return err
	}

	old := pe.state
	pe.destroyViews(old)
	pe.state = nil
	err = pe.create(extent, caps, old.Swapchain)
	old.Swapchain.Destroy()
	if err != nil {
		return err
	}
	core.MetricsSwapchainRebuilt()
	return nil
}

func (pe *PresentationEngine) usable() error {
	if pe.destroyed {
		return core.ErrShuttingDown
	}
	if pe.lost {
		return core.ErrSurfaceLost
	}
	return nil
}

func (pe *PresentationEngine) drain() error {
	if pe.drainer != nil {
		return pe.drainer.Drain()
	}
	return translate(pe.dc.Device.WaitIdle())
}

// capabilities queries the surface and refuses zero extents, which happen
// while the window is minimized.
func (pe *PresentationEngine) capabilities(extent gpu.Extent2D) (gpu.SurfaceCapabilities, error) {
	caps, err := pe.dc.Instance.SurfaceCapabilities(pe.dc.Accelerator, pe.dc.Surface)
	if err != nil {
		return caps, pe.fail(err)
	}
	if extent.IsZero() || (caps.CurrentExtent.Width != gpu.ExtentUndefined && caps.CurrentExtent.IsZero()) {
		pe.stale = true
		core.LogDebug("Swapchain rebuild refused for zero extent %s.", extent)
		return caps, core.ErrZeroExtent
	}
	return caps, nil
}

// fail records a lost surface, which no rebuild can recover from.
func (pe *PresentationEngine) fail(err error) error {
	err = surfaceError(err)
	if errors.Is(err, core.ErrSurfaceLost) {
		pe.lost = true
		pe.stale = true
		core.LogError("Presentation surface lost.")
	}
	return err
}

func (pe *PresentationEngine) create(extent gpu.Extent2D, caps gpu.SurfaceCapabilities, old gpu.Swapchain) error {
	dc := pe.dc
	formats, err := dc.Instance.SurfaceFormats(dc.Accelerator, dc.Surface)
	if err != nil {
		return pe.fail(err)
	}
	format, err := chooseSurfaceFormat(formats, pe.config.Format)
	if err != nil {
		return err
	}
	modes, err := dc.Instance.PresentModes(dc.Accelerator, dc.Surface)
	if err != nil {
		return pe.fail(err)
	}
	mode := choosePresentMode(modes, pe.config.PresentMode)
	extent = chooseExtent(caps, extent)
	imageCount := math.ClampMin(pe.config.DesiredImageCount, caps.MinImageCount, caps.MaxImageCount)

	info := gpu.SwapchainInfo{
		Surface:       dc.Surface,
		MinImageCount: imageCount,
		Format:        format,
		Extent:        extent,
		PresentMode:   mode,
		Transform:     caps.CurrentTransform,
		TransferDst:   caps.TransferDst,
		Old:           old,
	}
	if dc.GraphicsFamily != dc.PresentFamily {
		info.QueueFamilies = []uint32{dc.GraphicsFamily, dc.PresentFamily}
	}

	swapchain, err := dc.Device.CreateSwapchain(info)
	if err != nil {
		pe.stale = true
		if errors.Is(err, gpu.ErrSurfaceLost) {
			return pe.fail(err)
		}
		return fmt.Errorf("failed to create swapchain: %w", translate(err))
	}

	images, err := swapchain.Images()
	if err != nil {
		swapchain.Destroy()
		pe.stale = true
		return fmt.Errorf("failed to get swapchain images: %w", translate(err))
	}
	state := &SwapchainState{
		Swapchain:   swapchain,
		Format:      format,
		PresentMode: mode,
		Extent:      extent,
		Images:      make([]SwapImage, 0, len(images)),
	}
	for i, img := range images {
		view, err := dc.Device.CreateImageView(img, format.Format)
		if err != nil {
			pe.destroyViews(state)
			swapchain.Destroy()
			pe.stale = true
			return fmt.Errorf("failed to create image view: %w", translate(err))
		}
		state.Images = append(state.Images, SwapImage{
			Index:     uint32(i),
			Image:     img,
			View:      view,
			Clearable: caps.TransferDst,
		})
	}

	pe.generation++
	state.Generation = pe.generation
	pe.state = state
	pe.stale = false
	core.LogInfo("Swapchain created: %s, %d images, %s, format %d.", extent, len(images), mode, format.Format)
	return nil
}

func chooseSurfaceFormat(formats []gpu.SurfaceFormat, preferred gpu.Format) (gpu.SurfaceFormat, error) {
	if len(formats) == 0 {
		return gpu.SurfaceFormat{}, core.ErrFormatUnsupported
	}
	want := gpu.SurfaceFormat{Format: preferred, ColorSpace: gpu.ColorSpaceSrgbNonlinear}
	// A single undefined entry means the surface takes any format.
	if len(formats) == 1 && formats[0].Format == gpu.FormatUndefined {
		return want, nil
	}
	for _, f := range formats {
		if f == want {
			return f, nil
		}
	}
	if formats[0].Format == gpu.FormatUndefined {
		return gpu.SurfaceFormat{}, core.ErrFormatUnsupported
	}
	return formats[0], nil
}

// choosePresentMode falls back to FIFO, the only mode every surface supports.
func choosePresentMode(modes []gpu.PresentMode, preferred gpu.PresentMode) gpu.PresentMode {
	for _, m := range modes {
		if m == preferred {
			return m
		}
	}
	return gpu.PresentModeFifo
}

func chooseExtent(caps gpu.SurfaceCapabilities, requested gpu.Extent2D) gpu.Extent2D {
	extent := requested
	if caps.CurrentExtent.Width != gpu.ExtentUndefined {
		extent = caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

// Only the views are destroyed, the images belong to the swapchain.
func (pe *PresentationEngine) destroyViews(state *SwapchainState) {
	for _, img := range state.Images {
		img.View.Destroy()
	}
	state.Images = nil
}

func (pe *PresentationEngine) Destroy() error {
	if pe.destroyed {
		return core.ErrDoubleDestroy
	}
	pe.destroyed = true
	if pe.state != nil {
		pe.destroyViews(pe.state)
		pe.state.Swapchain.Destroy()
		pe.state = nil
	}
	pe.dc.drop("presentation engine")
	core.LogInfo("Presentation engine destroyed.")
	return nil
}
