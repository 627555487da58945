package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine has released everything it owned
	EngineStageShutdown
)

// How long the loop sleeps on window events when no frame could be produced.
const idleWait = 100 * time.Millisecond

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isRunning    atomic.Bool
	isSuspended  bool
	window       Window
	loader       gpu.Loader
	app          *renderer.App
	watcher      *core.ConfigWatcher
	changes      <-chan *core.Config
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     float64
}

func New(g *Game, window Window, loader gpu.Loader) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil || g.ApplicationConfig.Config == nil {
		return nil, errors.New("game has no application configuration")
	}
	cfg := g.ApplicationConfig.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		window:       window,
		loader:       loader,
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return core.ErrAlreadyInitialized
	}
	e.currentStage = EngineStageInitializing

	if err := core.SetLogLevel(e.config.Log.Level); err != nil {
		return err
	}
	session := core.NewSessionID()
	core.LogInfo("Starting %s, session %s", e.config.Application.Name, session)

	if !core.EventInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	core.EventRegister(core.EventCodeApplicationQuit, e, e.onEvent)
	core.EventRegister(core.EventCodeKeyPressed, e, e.onKey)
	core.EventRegister(core.EventCodeResized, e, e.onResized)

	if err := core.InputInitialize(); err != nil {
		return err
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	app, err := renderer.Create(e.window, e.loader, e.config)
	if err != nil {
		core.LogError("Failed to create the renderer: %s", err)
		e.release()
		return err
	}
	e.app = app

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		w, err := core.NewConfigWatcher(path, e.gameInstance.ApplicationConfig.EnvFile)
		if err != nil {
			core.LogWarn("Configuration hot reload disabled: %s", err)
		} else {
			e.watcher = w
			e.changes = w.Changes()
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			core.LogError("Game failed to initialize: %s", err)
			e.release()
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// release undoes a partial Initialize so a later engine can start.
func (e *Engine) release() {
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("Failed to close the config watcher: %s", err)
		}
		e.watcher = nil
		e.changes = nil
	}
	if e.app != nil {
		if err := e.app.Destroy(); err != nil {
			core.LogError("Failed to destroy the renderer: %s", err)
		}
		e.app = nil
	}
	core.InputShutdown()
	core.EventShutdown()
	e.currentStage = EngineStageShutdown
}

// Run drives frames until the application quits or a frame fails. The
// returned error is fatal; the caller still owes a Shutdown.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return core.ErrNotInitialized
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		e.window.PumpMessages()
		if !e.isRunning.Load() {
			break
		}
		e.applyPendingConfig()

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := currentTime

		if !e.isSuspended && e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down.")
				e.isRunning.Store(false)
				return err
			}
		}

		status, err := e.app.RenderFrame(e.window)
		if err != nil {
			core.LogError("Frame failed: %s", err)
			e.isRunning.Store(false)
			return err
		}
		if status == renderer.FrameSkipped {
			// Nothing to show, so wait for the window instead of spinning.
			e.window.Idle(idleWait)
		}

		e.clock.Update()
		core.MetricsUpdate(e.clock.Elapsed() - frameStartTime)

		// Input state is copied last so this frame could see its transitions.
		core.InputUpdate(delta)
		e.lastTime = currentTime
	}
	return nil
}

// Stop asks Run to return after the current iteration. It is safe to call
// from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	switch e.currentStage {
	case EngineStageShutdown, EngineStageShuttingDown:
		return core.ErrDoubleDestroy
	case EngineStageUninitialized:
		return core.ErrNotInitialized
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
		e.watcher = nil
		e.changes = nil
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.app != nil {
		if err := e.app.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}

	presented, skipped, rebuilds := core.MetricsCounters()
	core.LogInfo("Frames presented: %d, skipped: %d, swapchain rebuilds: %d", presented, skipped, rebuilds)

	if err := core.InputShutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := core.EventShutdown(); err != nil {
		errs = append(errs, err)
	}
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

// Stage reports where the engine is in its lifecycle.
func (e *Engine) Stage() Stage {
	return e.currentStage
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) applyPendingConfig() {
	select {
	case cfg := <-e.changes:
		e.applyConfig(cfg)
	default:
	}
}

func (e *Engine) applyConfig(cfg *core.Config) {
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("Ignoring log level %q: %s", cfg.Log.Level, err)
	}
	if err := e.app.ApplyConfig(cfg); err != nil {
		core.LogWarn("Ignoring renderer configuration: %s", err)
		return
	}
	e.config = cfg
	core.EventFire(core.EventCodeConfigReloaded, e, core.EventContext{})
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if code == core.EventCodeApplicationQuit {
		core.LogInfo("EventCodeApplicationQuit received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if core.KeyCode(data.Data.U32[0]) == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EventCodeApplicationQuit, e, core.EventContext{})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]

	// Check if different. If so, trigger a resize event.
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
	} else if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}

	if !e.isSuspended && e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	if e.app != nil {
		e.app.Resized(width, height)
	}
	return false
}
