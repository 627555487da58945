package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type FrameStatus uint8

const (
	// FramePresented means a frame was submitted and shown.
	FramePresented FrameStatus = iota
	// FrameSkipped means no frame was produced this tick, for instance while
	// the window is minimized or the swapchain is being replaced.
	FrameSkipped
)

func (s FrameStatus) String() string {
	if s == FramePresented {
		return "presented"
	}
	return "skipped"
}

// App wires the lifecycle components together for the driving loop.
type App struct {
	Device       *DeviceContext
	Presentation *PresentationEngine
	Scheduler    *FrameScheduler
	Recorder     *CommandRecorder

	config    core.RendererConfig
	destroyed bool
}

// Create initializes the device, builds the first swapchain and allocates the
// frame slots. A window that starts minimized leaves the swapchain unbuilt
// until it has a size.
func Create(provider SurfaceProvider, loader gpu.Loader, cfg *core.Config) (*App, error) {
	return create(provider, loader, cfg, gpu.HostCapabilities())
}

func create(provider SurfaceProvider, loader gpu.Loader, cfg *core.Config, caps gpu.Capabilities) (*App, error) {
	rc := cfg.Renderer
	mode, err := gpu.ParsePresentMode(rc.PresentMode)
	if err != nil {
		return nil, err
	}
	format, err := gpu.ParseFormat(rc.SurfaceFormat)
	if err != nil {
		return nil, err
	}
	rgba, err := cfg.ClearColorRGBA()
	if err != nil {
		return nil, err
	}

	dc := NewDeviceContext(loader)
	if err := dc.Initialize(SurfaceRequirements{
		Provider:     provider,
		AppName:      cfg.Application.Name,
		AppVersion:   gpu.MakeVersion(1, 0, 0),
		Validation:   rc.Validation,
		Debug:        rc.Debug,
		Capabilities: caps,
	}); err != nil {
		return nil, err
	}

	pe, err := NewPresentationEngine(dc, PresentationConfig{
		Format:            format,
		PresentMode:       mode,
		DesiredImageCount: rc.DesiredImageCount,
	})
	if err != nil {
		dc.Shutdown()
		return nil, err
	}
	if err := pe.Build(provider.Extent()); err != nil && !errors.Is(err, core.ErrZeroExtent) {
		pe.Destroy()
		dc.Shutdown()
		return nil, err
	}

	fs, err := NewFrameScheduler(dc, pe, SchedulerConfig{
		FramesInFlight: rc.FramesInFlight,
		FenceTimeout:   rc.FenceTimeout.Std(),
		AcquireTimeout: rc.AcquireTimeout.Std(),
	})
	if err != nil {
		pe.Destroy()
		dc.Shutdown()
		return nil, err
	}
	pe.SetDrainer(fs)

	core.LogInfo("Renderer created.")
	return &App{
		Device:       dc,
		Presentation: pe,
		Scheduler:    fs,
		Recorder:     NewCommandRecorder(ColorFromRGBA(rgba)),
		config:       rc,
	}, nil
}

// Resized schedules a swapchain rebuild for the next frame.
func (a *App) Resized(width, height uint32) {
	core.LogDebug("Renderer resized: %dx%d", width, height)
	a.Presentation.Invalidate()
}

// RenderFrame produces at most one frame. Out-of-date swapchains and zero
// extents are reported as FrameSkipped; the returned error is fatal.
func (a *App) RenderFrame(provider SurfaceProvider) (FrameStatus, error) {
	if a.destroyed {
		return FrameSkipped, core.ErrShuttingDown
	}

	if a.Presentation.Stale() {
		extent := provider.Extent()
		if extent.IsZero() {
			core.MetricsFrameSkipped()
			return FrameSkipped, nil
		}
		err := a.retry(func() error { return a.Presentation.Rebuild(extent) })
		switch {
		case errors.Is(err, core.ErrZeroExtent):
			core.MetricsFrameSkipped()
			return FrameSkipped, nil
		case err != nil:
			return FrameSkipped, err
		}
	}

	var h *FrameHandle
	err := a.retry(func() error {
		var err error
		h, err = a.Scheduler.BeginFrame()
		return err
	})
	switch {
	case errors.Is(err, core.ErrSwapchainOutOfDate):
		core.MetricsFrameSkipped()
		return FrameSkipped, nil
	case err != nil:
		return FrameSkipped, err
	}

	if _, err := a.Recorder.Record(h, h.Image); err != nil {
		if aerr := a.Scheduler.Abandon(h); aerr != nil {
			core.LogError("Failed to abandon frame %d: %s", h.Number, aerr)
		}
		return FrameSkipped, err
	}

	result, err := a.Scheduler.EndFrame(h)
	if err != nil {
		return FrameSkipped, err
	}
	if result.RebuildScheduled {
		core.LogDebug("Present reported an out of date swapchain, rebuilding before the next frame.")
	}
	if !result.Presented {
		core.MetricsFrameSkipped()
		return FrameSkipped, nil
	}
	core.MetricsFramePresented()
	return FramePresented, nil
}

// retry runs fn again after a timeout. A second consecutive timeout is
// treated as a lost device.
func (a *App) retry(fn func() error) error {
	err := fn()
	if !errors.Is(err, core.ErrTimeout) {
		return err
	}
	core.LogWarn("GPU wait timed out, retrying once.")
	err = fn()
	if errors.Is(err, core.ErrTimeout) {
		core.LogError("GPU wait timed out twice, assuming the device is lost.")
		return fmt.Errorf("%w: %w", core.ErrDeviceLost, err)
	}
	return err
}

// ApplyConfig takes the settings that can change while running. Everything
// else is logged as needing a restart.
func (a *App) ApplyConfig(cfg *core.Config) error {
	rc := cfg.Renderer
	mode, err := gpu.ParsePresentMode(rc.PresentMode)
	if err != nil {
		return err
	}
	rgba, err := cfg.ClearColorRGBA()
	if err != nil {
		return err
	}
	a.Presentation.SetPresentMode(mode)
	a.Recorder.SetClearColor(ColorFromRGBA(rgba))

	if rc.FramesInFlight != a.config.FramesInFlight ||
		rc.DesiredImageCount != a.config.DesiredImageCount ||
		rc.SurfaceFormat != a.config.SurfaceFormat ||
		rc.Validation != a.config.Validation ||
		rc.Debug != a.config.Debug {
		core.LogWarn("Some renderer settings changed and need a restart to take effect.")
	}
	a.Scheduler.config.FenceTimeout = rc.FenceTimeout.Std()
	a.Scheduler.config.AcquireTimeout = rc.AcquireTimeout.Std()
	a.config.PresentMode = rc.PresentMode
	a.config.ClearColor = rc.ClearColor
	a.config.FenceTimeout = rc.FenceTimeout
	a.config.AcquireTimeout = rc.AcquireTimeout
	return nil
}

// Destroy tears everything down in reverse order of creation: frame slots,
// swapchain, then the device context.
func (a *App) Destroy() error {
	if a.destroyed {
		return core.ErrDoubleDestroy
	}
	a.destroyed = true

	var errs []error
	if err := a.Scheduler.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Presentation.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Device.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	core.LogInfo("Renderer destroyed.")
	return errors.Join(errs...)
}
