package engine

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every system
	EngineStageShutdown
)

var ErrWrongStage = errors.New("engine is not in the required stage")

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *core.EngineConfig
	isRunning     atomic.Bool
	assetManager  *assets.AssetManager
	events        *core.EventBus
	metrics       *core.Metrics
	renderer      *renderer.Renderer
	systemManager *systems.SystemManager
	clock         *core.Clock
	lastTime      float64
	frameNumber   uint64
}

/**
 * @brief Boots every engine system on top of backend. The backend is owned by the
 * engine from here on and is shut down with it.
 */
func New(g *Game, backend renderer.RendererBackend) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("game and application config are required")
	}
	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		clock:        core.NewClock(),
	}

	e.config = g.ApplicationConfig.Engine
	if e.config == nil {
		e.config = core.DefaultEngineConfig()
	}
	if g.ApplicationConfig.Name != "" {
		e.config.Name = g.ApplicationConfig.Name
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(e.config.LogLevel); err != nil {
		core.LogWarn(err.Error())
	}

	e.assetManager = assets.NewAssetManager()
	e.events = core.NewEventBus()
	e.metrics = core.NewMetrics()
	e.renderer = renderer.New(backend)

	sm, err := systems.NewSystemManager(e.config, e.renderer, e.assetManager, e.events, e.metrics)
	if err != nil {
		core.LogError(err.Error())
		e.assetManager.Close()
		e.events.Shutdown()
		return nil, err
	}
	e.systemManager = sm
	e.currentStage = EngineStageBootComplete
	core.LogInfo("%s booted with %d frames in flight", e.config.Name, backend.FramesInFlight())
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return ErrWrongStage
	}
	e.currentStage = EngineStageInitializing

	// register some events
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_PIPELINE_ACTIVATED, e, e.onPipelineEvent)
	e.events.Register(core.EVENT_CODE_PIPELINE_IDLE, e, e.onPipelineEvent)
	e.events.Register(core.EVENT_CODE_ESSENCE_LOADED, e, e.onEssenceLoaded)

	if err := e.initializeAssets(); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) initializeAssets() error {
	dir := e.config.AssetsDir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		core.LogDebug("asset directory '%s' not available, only registered meshes can be loaded", dir)
		return nil
	}
	if e.config.WatchAssets {
		return e.assetManager.Watch(dir)
	}
	return e.assetManager.Index(dir)
}

/**
 * @brief Runs the frame loop until the context is cancelled, APPLICATION_QUIT is
 * fired, MaxFrames is reached or a frame fails.
 */
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return ErrWrongStage
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	app := e.gameInstance.ApplicationConfig
	var runErr error
	for e.isRunning.Load() {
		if ctx.Err() != nil {
			core.LogInfo("context done, stopping the frame loop")
			break
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := float32(currentTime - e.lastTime)
		if app.FixedDelta > 0 {
			delta = app.FixedDelta
		}
		frameStart := time.Now()

		if err := e.Frame(delta); err != nil {
			core.LogError("frame %d failed, shutting down: %s", e.frameNumber, err)
			runErr = err
			break
		}

		frameElapsed := time.Since(frameStart).Seconds()
		e.metrics.Update(frameElapsed)
		if remaining := app.TargetFrameSeconds - frameElapsed; app.LimitFrames && remaining > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(remaining * float64(time.Second))):
			}
		}

		e.lastTime = currentTime
		if app.MaxFrames > 0 && e.frameNumber >= app.MaxFrames {
			break
		}
	}
	e.isRunning.Store(false)
	e.clock.Stop()
	e.currentStage = EngineStageInitialized
	return runErr
}

/**
 * @brief Runs one frame: asset changes reported since the last frame, the game update,
 * the CPU side of the systems and finally recording and submission.
 */
func (e *Engine) Frame(deltaTime float32) error {
	e.drainAssetChanges()

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(e, deltaTime); err != nil {
			return err
		}
	}
	e.systemManager.Update(deltaTime)
	if err := e.systemManager.Render(); err != nil {
		return err
	}
	e.frameNumber++
	return nil
}

func (e *Engine) drainAssetChanges() {
	changes := e.assetManager.Changes()
	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			e.systemManager.Resources().AssetChanged(change)
		default:
			return
		}
	}
}

// Quit asks the frame loop to stop after the current frame. Safe from any goroutine.
func (e *Engine) Quit() {
	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.systemManager.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := e.renderer.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := e.assetManager.Close(); err != nil && !errors.Is(err, assets.ErrManagerClosed) {
		errs = append(errs, err)
	}
	if err := e.events.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	e.currentStage = EngineStageShutdown
	core.LogInfo("%s shut down after %d frames", e.config.Name, e.frameNumber)
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage                      { return e.currentStage }
func (e *Engine) Running() bool                     { return e.isRunning.Load() }
func (e *Engine) FrameNumber() uint64               { return e.frameNumber }
func (e *Engine) Config() *core.EngineConfig        { return e.config }
func (e *Engine) Assets() *assets.AssetManager      { return e.assetManager }
func (e *Engine) Events() *core.EventBus            { return e.events }
func (e *Engine) Metrics() *core.Metrics            { return e.metrics }
func (e *Engine) Systems() *systems.SystemManager   { return e.systemManager }
func (e *Engine) Registry() *systems.Registry       { return e.systemManager.Registry() }
func (e *Engine) Resources() *systems.ResourceCache { return e.systemManager.Resources() }

// DefaultTransition returns animation options with the configured cross-fade length.
func (e *Engine) DefaultTransition(loop bool) model.AnimationOptions {
	return model.AnimationOptions{TransitionDuration: e.config.DefaultTransition, Loop: loop}
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onPipelineEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	kind := model.PipelineKind(data.Data.U32[0])
	switch code {
	case core.EVENT_CODE_PIPELINE_ACTIVATED:
		core.LogDebug("pipeline %s has variants again", kind)
	case core.EVENT_CODE_PIPELINE_IDLE:
		core.LogDebug("pipeline %s went idle", kind)
	}
	return false
}

func (e *Engine) onEssenceLoaded(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogDebug("essence '%s' loaded", data.Data.C[0])
	return false
}
