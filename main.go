/*
This is an example of application that will use the
engine package to test things out. It renders against the
headless backend, so it runs anywhere without a GPU.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/headless"
	"github.com/spaghettifunk/anima/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "engine configuration file, defaults are used when missing")
	frames := flag.Uint64("frames", 600, "number of frames to render, 0 runs until interrupted")
	fps := flag.Float64("fps", 60, "frame rate limit, 0 disables it")
	flag.Parse()

	config, err := core.LoadEngineConfig(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		config, err = core.DefaultEngineConfig(), nil
	}
	if err != nil {
		core.LogFatal(err.Error())
	}

	app := &engine.ApplicationConfig{
		Name:      "Anima Testbed",
		Engine:    config,
		MaxFrames: *frames,
	}
	if *fps > 0 {
		app.LimitFrames = true
		app.TargetFrameSeconds = 1.0 / *fps
	}

	tb, err := testbed.NewTestGame(app)
	if err != nil {
		core.LogFatal(err.Error())
	}

	backend := headless.New(config.FramesInFlight)
	// the demo never inspects old frames
	backend.KeepFrames = int(config.FramesInFlight)

	engine, err := engine.New(tb.Game, backend)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := engine.Initialize(); err != nil {
		core.LogFatal(err.Error())
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	// run engine
	runErr := engine.Run(ctx)
	if err := engine.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogError(runErr.Error())
		os.Exit(1)
	}
}
