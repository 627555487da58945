package testbed

import (
	"github.com/spaghettifunk/tundra/engine"
	"github.com/spaghettifunk/tundra/engine/core"
)

// How often the testbed reports frame statistics, in seconds.
const reportInterval = 5.0

type TestGame struct {
	*engine.Game
}

type gameState struct {
	sinceReport float64
	width       uint32
	height      uint32
}

func NewTestGame(appConfig *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: appConfig,
			State: &gameState{
				width:  appConfig.Config.Application.Width,
				height: appConfig.Config.Application.Height,
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogInfo("testbed initialized at %dx%d", g.state().width, g.state().height)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.sinceReport += deltaTime
	if s.sinceReport < reportInterval {
		return nil
	}
	s.sinceReport = 0

	fps, frameTime := core.MetricsFrame()
	presented, skipped, rebuilds := core.MetricsCounters()
	core.LogInfo("%.0f fps, %.2f ms/frame, %d presented, %d skipped, %d rebuilds", fps, frameTime, presented, skipped, rebuilds)
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed shutting down")
	return nil
}
