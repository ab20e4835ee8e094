package testbed

import (
	"context"
	"testing"

	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/headless"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestbedCrossFadesTheCrowd(t *testing.T) {
	config := core.DefaultEngineConfig()
	config.AssetsDir = ""
	config.LogLevel = "error"

	tb, err := NewTestGame(&engine.ApplicationConfig{Engine: config, FixedDelta: 0.1})
	require.NoError(t, err)

	// stop once the crowd has been spawned and swapped clips at least once
	update := tb.FnUpdate
	tb.FnUpdate = func(e *engine.Engine, dt float32) error {
		if err := update(e, dt); err != nil {
			return err
		}
		st := tb.state()
		if len(st.soldiers) == soldierCount && !st.walking {
			e.Quit()
		}
		return nil
	}

	backend := headless.New(config.FramesInFlight)
	backend.KeepFrames = 2
	e, err := engine.New(tb.Game, backend)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run(context.Background()))

	st := tb.state()
	require.Len(t, st.soldiers, soldierCount)
	require.NotNil(t, st.floor)
	assert.Equal(t, soldierCount+1, e.Registry().VariantCount())
	for _, v := range st.soldiers {
		assert.Positive(t, v.TransitionRemaining())
	}
	assert.Same(t, st.orbit, e.Systems().Cameras().Active())

	require.NoError(t, e.Shutdown())
	assert.Nil(t, st.soldiers)
}
