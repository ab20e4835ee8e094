package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngineConfig(t *testing.T) {
	cfg, err := ParseEngineConfig([]byte(`
name = "soldiers"
frames_in_flight = 3
max_variants = 64
log_level = "info"
`))
	require.NoError(t, err)
	assert.Equal(t, "soldiers", cfg.Name)
	assert.Equal(t, uint32(3), cfg.FramesInFlight)
	assert.Equal(t, uint32(64), cfg.MaxVariants)
	assert.Equal(t, "info", cfg.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, uint32(2), cfg.JointDirtyFrames)
	assert.Equal(t, uint32(64), cfg.SkinningWorkgroup)
}

func TestParseEngineConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown key", data: `frames = 2`},
		{name: "zero frames in flight", data: `frames_in_flight = 0`},
		{name: "zero max variants", data: `max_variants = 0`},
		{name: "negative transition", data: `default_transition = -1.0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEngineConfig([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestMetricsPassCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordDraw("display")
	m.RecordDraw("display")
	m.RecordSkip("display")
	m.RecordDispatch("skinning")

	assert.Equal(t, PassStats{Draws: 2, Skipped: 1}, m.Pass("display"))
	assert.Equal(t, uint32(1), m.Pass("skinning").Dispatches)

	m.ResetPasses()
	assert.Equal(t, PassStats{}, m.Pass("display"))
}

func TestEventBusFire(t *testing.T) {
	bus := NewEventBus()
	var got string
	listener := &struct{}{}
	require.True(t, bus.Register(EVENT_CODE_ESSENCE_LOADED, listener, func(code SystemEventCode, sender, l interface{}, data EventContext) bool {
		got = data.Data.C[0]
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_ESSENCE_LOADED, listener, nil))

	ctx := EventContext{}
	ctx.Data.C[0] = "Soldier"
	assert.True(t, bus.Fire(EVENT_CODE_ESSENCE_LOADED, nil, ctx))
	assert.Equal(t, "Soldier", got)

	assert.True(t, bus.Unregister(EVENT_CODE_ESSENCE_LOADED, listener))
	assert.False(t, bus.Fire(EVENT_CODE_ESSENCE_LOADED, nil, ctx))
}
