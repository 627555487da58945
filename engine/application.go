package engine

import (
	"time"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer"
)

type ApplicationConfig struct {
	// Path of the TOML configuration. Empty runs on defaults without reload.
	ConfigPath string
	// Optional dotenv file with TUNDRA_* overrides.
	EnvFile string
	// Config is the loaded configuration the engine starts with.
	Config *core.Config
}

// LoadApplicationConfig reads the configuration at path with overrides from envFile.
func LoadApplicationConfig(path, envFile string) (*ApplicationConfig, error) {
	cfg, err := core.LoadConfig(path, envFile)
	if err != nil {
		return nil, err
	}
	return &ApplicationConfig{
		ConfigPath: path,
		EnvFile:    envFile,
		Config:     cfg,
	}, nil
}

// Window is the OS window the engine drives.
type Window interface {
	renderer.SurfaceProvider
	// PumpMessages dispatches pending window events.
	PumpMessages()
	// Idle waits for window events, at most timeout.
	Idle(timeout time.Duration)
}
