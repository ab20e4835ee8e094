package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/headless"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *core.EngineConfig {
	cfg := core.DefaultEngineConfig()
	cfg.AssetsDir = ""
	cfg.MaxVariants = 8
	cfg.LogLevel = "error"
	return cfg
}

func TestEngineRunsSoldierUntilQuit(t *testing.T) {
	backend := headless.New(2)
	backend.KeepFrames = 4

	var variant *model.Variant
	ticks := 0
	g := &Game{
		ApplicationConfig: &ApplicationConfig{
			Name:               "test",
			Engine:             testConfig(),
			MaxFrames:          100000,
			FixedDelta:         1.0 / 60.0,
			LimitFrames:        true,
			TargetFrameSeconds: 0.001,
		},
		FnInitialize: func(e *Engine) error {
			e.Assets().RegisterMesh("Soldier", assets.Soldier())
			e.Resources().AcquireEssence("Soldier", model.PipelinePBR, func(ok bool) {
				require.True(t, ok)
				variant = e.Registry().CreateVariant("Soldier")
				require.NotNil(t, variant)
				require.True(t, variant.SetActiveAnimationByName("Walk", e.DefaultTransition(true)))
			})
			return nil
		},
		FnUpdate: func(e *Engine, dt float32) error {
			assert.InDelta(t, 1.0/60.0, dt, 1e-6)
			if variant != nil {
				ticks++
				if ticks == 10 {
					e.Quit()
				}
			}
			return nil
		},
	}

	e, err := New(g, backend)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))

	require.NotNil(t, variant)
	assert.False(t, e.Running())
	assert.Equal(t, 1, e.Registry().VariantCount())
	assert.Greater(t, variant.AnimationTime(), float32(0))
	assert.Equal(t, e.FrameNumber(), backend.LastFrame().Number)
	assert.NotEmpty(t, backend.LastFrame().Filter(headless.OpDispatch))
	assert.Positive(t, e.Metrics().Pass(renderer.PassSkinning.String()).Dispatches)

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShutdown, e.Stage())
	require.NoError(t, e.Shutdown())
}

func TestEngineStopsAtMaxFrames(t *testing.T) {
	backend := headless.New(3)
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{Engine: testConfig(), MaxFrames: 5}}, backend)
	require.NoError(t, err)
	defer e.Shutdown()

	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(5), e.FrameNumber())
	frames := backend.Frames()
	require.Len(t, frames, 5)
	assert.Equal(t, uint32(1), frames[4].Index)
}

func TestEngineHonoursCancelledContext(t *testing.T) {
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{Engine: testConfig()}}, headless.New(2))
	require.NoError(t, err)
	defer e.Shutdown()
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(0), e.FrameNumber())
}

func TestEngineStopsOnUpdateError(t *testing.T) {
	boom := errors.New("boom")
	g := &Game{
		ApplicationConfig: &ApplicationConfig{Engine: testConfig(), MaxFrames: 10},
		FnUpdate: func(e *Engine, dt float32) error {
			if e.FrameNumber() == 2 {
				return boom
			}
			return nil
		},
	}
	e, err := New(g, headless.New(2))
	require.NoError(t, err)
	defer e.Shutdown()
	require.NoError(t, e.Initialize())

	assert.ErrorIs(t, e.Run(context.Background()), boom)
	assert.Equal(t, uint64(2), e.FrameNumber())
}

func TestEngineStages(t *testing.T) {
	_, err := New(&Game{}, headless.New(2))
	assert.Error(t, err)

	bad := testConfig()
	bad.FramesInFlight = 0
	_, err = New(&Game{ApplicationConfig: &ApplicationConfig{Engine: bad}}, headless.New(2))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{Name: "stages", Engine: testConfig()}}, headless.New(2))
	require.NoError(t, err)
	assert.Equal(t, EngineStageBootComplete, e.Stage())
	assert.Equal(t, "stages", e.Config().Name)
	assert.ErrorIs(t, e.Run(context.Background()), ErrWrongStage)

	require.NoError(t, e.Initialize())
	assert.ErrorIs(t, e.Initialize(), ErrWrongStage)
	require.NoError(t, e.Shutdown())
}
