package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu/gputest"
)

// testWindow scripts the event pump: onPump runs on every PumpMessages with
// the 1-based pump count.
type testWindow struct {
	*gputest.Window
	pumps  int
	idles  int
	onPump func(n int)
}

func (w *testWindow) PumpMessages() {
	w.pumps++
	if w.onPump != nil {
		w.onPump(w.pumps)
	}
}

func (w *testWindow) Idle(timeout time.Duration) {
	w.idles++
}

func fireResize(width, height uint32) {
	var ctx core.EventContext
	ctx.Data.U32[0] = width
	ctx.Data.U32[1] = height
	core.EventFire(core.EventCodeResized, nil, ctx)
}

func quit() {
	core.EventFire(core.EventCodeApplicationQuit, nil, core.EventContext{})
}

func newEngine(t *testing.T, g *Game, w *testWindow, loader *gputest.Loader) *Engine {
	t.Helper()
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = &ApplicationConfig{Config: core.DefaultConfig()}
	}
	e, err := New(g, w, loader)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() {
		if e.Stage() != EngineStageShutdown {
			e.Shutdown()
		}
	})
	return e
}

func TestEngineRunsUntilQuit(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	w.onPump = func(n int) {
		if n == 6 {
			quit()
		}
	}

	updates := 0
	initialized, shutdown := false, false
	g := &Game{
		FnInitialize: func() error { initialized = true; return nil },
		FnUpdate:     func(float64) error { updates++; return nil },
		FnShutdown:   func() error { shutdown = true; return nil },
	}
	e := newEngine(t, g, w, loader)
	assert.True(t, initialized)
	assert.Equal(t, EngineStageInitialized, e.Stage())

	require.NoError(t, e.Run())
	assert.Equal(t, 5, updates)
	assert.Equal(t, 5, loader.LastInstance().LastDevice().Presented())
	assert.Zero(t, w.idles)

	require.NoError(t, e.Shutdown())
	assert.True(t, shutdown)
	assert.Equal(t, EngineStageShutdown, e.Stage())
	assert.ErrorIs(t, e.Shutdown(), core.ErrDoubleDestroy)
	assert.Empty(t, loader.Violations())
	assert.Zero(t, loader.Live())
}

func TestEngineEscapeQuits(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	w.onPump = func(n int) {
		if n == 3 {
			core.InputProcessKey(core.KEY_ESCAPE, true)
		}
	}
	e := newEngine(t, &Game{}, w, loader)
	require.NoError(t, e.Run())
	assert.Equal(t, 3, w.pumps)
	require.NoError(t, e.Shutdown())
}

func TestEngineMinimizeAndRestore(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	w.onPump = func(n int) {
		switch n {
		case 3:
			w.Resize(0, 0)
			fireResize(0, 0)
		case 7:
			w.Resize(800, 600)
			fireResize(800, 600)
		case 10:
			quit()
		}
	}

	var resizes [][2]uint32
	updates := 0
	g := &Game{
		FnUpdate: func(float64) error { updates++; return nil },
		FnOnResize: func(width, height uint32) error {
			resizes = append(resizes, [2]uint32{width, height})
			return nil
		},
	}
	e := newEngine(t, g, w, loader)
	require.NoError(t, e.Run())

	// Pumps 1-2 and 7-9 render, 3-6 are minimized.
	assert.Equal(t, 4, w.idles)
	assert.Equal(t, 5, updates)
	assert.Equal(t, 5, loader.LastInstance().LastDevice().Presented())
	assert.Equal(t, [][2]uint32{{800, 600}}, resizes)
	width, height := e.GetFramebufferSize()
	assert.Equal(t, uint32(800), width)
	assert.Equal(t, uint32(600), height)

	require.NoError(t, e.Shutdown())
	assert.Empty(t, loader.Violations())
}

func TestEngineAppliesConfigChanges(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	changes := make(chan *core.Config, 1)

	next := core.DefaultConfig()
	next.Renderer.ClearColor = "steelblue"
	next.Log.Level = "debug"
	w.onPump = func(n int) {
		switch n {
		case 2:
			changes <- next
		case 4:
			quit()
		}
	}

	e := newEngine(t, &Game{}, w, loader)
	e.changes = changes

	reloaded := 0
	core.EventRegister(core.EventCodeConfigReloaded, t, func(core.SystemEventCode, interface{}, interface{}, core.EventContext) bool {
		reloaded++
		return true
	})

	require.NoError(t, e.Run())
	assert.Equal(t, 1, reloaded)
	assert.Same(t, next, e.config)
	require.NotNil(t, e.app.Recorder.ClearColor())

	bad := core.DefaultConfig()
	bad.Renderer.PresentMode = "vsync"
	e.applyConfig(bad)
	assert.Same(t, next, e.config)

	require.NoError(t, e.Shutdown())
	core.SetLogLevel("info")
}

func TestEngineFatalFrame(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	w.onPump = func(n int) {
		if n == 2 {
			w.Lose()
		}
	}
	e := newEngine(t, &Game{}, w, loader)
	assert.ErrorIs(t, e.Run(), core.ErrSurfaceLost)
	require.NoError(t, e.Shutdown())
	assert.Zero(t, loader.Live())
}

func TestEngineLifecycleMisuse(t *testing.T) {
	_, err := New(&Game{}, nil, nil)
	assert.Error(t, err)

	cfg := core.DefaultConfig()
	cfg.Renderer.FramesInFlight = -1
	_, err = New(&Game{ApplicationConfig: &ApplicationConfig{Config: cfg}}, nil, nil)
	assert.Error(t, err)

	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{Config: core.DefaultConfig()}}, w, loader)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(), core.ErrNotInitialized)
	assert.ErrorIs(t, e.Shutdown(), core.ErrNotInitialized)

	require.NoError(t, e.Initialize())
	assert.ErrorIs(t, e.Initialize(), core.ErrAlreadyInitialized)
	require.NoError(t, e.Shutdown())
}

func TestEngineCreateFailure(t *testing.T) {
	loader := gputest.NewLoader()
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{Config: core.DefaultConfig()}}, w, loader)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Initialize(), core.ErrNoSuitableAccelerator)

	// The event system was released, so a new engine can start.
	loader = gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	newEngine(t, &Game{}, w, loader)
}

func TestEngineGameInitializeFailure(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := &testWindow{Window: gputest.NewWindow(1024, 780)}
	failure := errors.New("no save game")
	g := &Game{
		ApplicationConfig: &ApplicationConfig{Config: core.DefaultConfig()},
		FnInitialize:      func() error { return failure },
	}
	e, err := New(g, w, loader)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Initialize(), failure)

	// Everything the renderer created is gone and the engine cannot be reused.
	assert.Zero(t, loader.Live())
	assert.Empty(t, loader.Violations())
	assert.Equal(t, 1, w.SurfacesDestroyed())
	assert.ErrorIs(t, e.Run(), core.ErrNotInitialized)
	assert.ErrorIs(t, e.Shutdown(), core.ErrDoubleDestroy)

	newEngine(t, &Game{}, w, loader)
}
