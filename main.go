/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/tundra/engine"
	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/platform"
	"github.com/spaghettifunk/tundra/engine/renderer/vulkan"
	"github.com/spaghettifunk/tundra/testbed"
)

const (
	configFile = "config.toml"
	envFile    = ".env"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := configFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		core.LogInfo("No %s found, using the default configuration.", configFile)
		path = ""
	}
	appConfig, err := engine.LoadApplicationConfig(path, envFile)
	if err != nil {
		core.LogError("Invalid configuration: %s", err)
		return 1
	}

	p := platform.New()
	if err := p.Startup(appConfig.Config.Application); err != nil {
		return 1
	}
	defer p.Shutdown()

	loader, err := vulkan.NewLoader(p.VulkanProcAddr())
	if err != nil {
		return 1
	}

	tb := testbed.NewTestGame(appConfig)
	e, err := engine.New(tb.Game, p, loader)
	if err != nil {
		core.LogError(err.Error())
		return 1
	}
	if err := e.Initialize(); err != nil {
		return 1
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			core.LogInfo("Signal received, shutting down.")
			e.Stop()
		}
	}()

	runErr := e.Run()
	shutdownErr := e.Shutdown()
	if runErr != nil || shutdownErr != nil {
		if shutdownErr != nil {
			core.LogError("Shutdown failed: %s", shutdownErr)
		}
		return 1
	}
	return 0
}
