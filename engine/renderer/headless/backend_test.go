package headless

import (
	"testing"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameIndexCyclesThroughFramesInFlight(t *testing.T) {
	b := New(2)
	var indices []uint32
	for i := 0; i < 5; i++ {
		f, err := b.BeginFrame()
		require.NoError(t, err)
		indices = append(indices, f.FrameIndex)
		require.NoError(t, b.EndFrame(f))
	}
	assert.Equal(t, []uint32{0, 1, 0, 1, 0}, indices)
}

func TestEndFrameTwiceFails(t *testing.T) {
	b := New(2)
	f, err := b.BeginFrame()
	require.NoError(t, err)
	require.NoError(t, b.EndFrame(f))
	assert.Error(t, b.EndFrame(f))
}

func TestBufferWrites(t *testing.T) {
	b := New(2)
	h, err := b.CreateBuffer(renderer.BufferDesc{Name: "joints", Size: 8, HostVisible: true})
	require.NoError(t, err)
	require.NoError(t, b.WriteBuffer(h, 4, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, b.BufferData(h))
	assert.Equal(t, 1, b.BufferWrites(h))
	assert.Error(t, b.WriteBuffer(h, 6, []byte{1, 2, 3}))

	b.DestroyBuffer(h)
	assert.False(t, b.BufferExists(h))
	assert.Error(t, b.WriteBuffer(h, 0, []byte{1}))
}

func TestFailCreateReportsDeviceFailure(t *testing.T) {
	b := New(2)
	b.FailCreate = true
	_, err := b.CreateBuffer(renderer.BufferDesc{Name: "x", Size: 4})
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	_, err = b.CreatePipeline(renderer.PipelineDesc{Name: "p"})
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
}

func TestQueryResultsArriveAfterLatency(t *testing.T) {
	b := New(2)
	b.Samples = func(slot uint32) uint64 { return uint64(slot) * 10 }
	pool, err := b.CreateQueryPool(4)
	require.NoError(t, err)

	f, _ := b.BeginFrame()
	f.Commands.ResetQueries(pool, 3, 1)
	f.Commands.BeginQuery(pool, 3)
	f.Commands.EndQuery(pool, 3)
	_, ok := b.PollQuery(pool, 3)
	assert.False(t, ok, "result of the current frame must not be ready")
	require.NoError(t, b.EndFrame(f))

	f, _ = b.BeginFrame()
	samples, ok := b.PollQuery(pool, 3)
	assert.True(t, ok)
	assert.Equal(t, uint64(30), samples)

	f.Commands.ResetQueries(pool, 3, 1)
	_, ok = b.PollQuery(pool, 3)
	assert.False(t, ok)
	require.NoError(t, b.EndFrame(f))

	_, ok = b.PollQuery(pool, 99)
	assert.False(t, ok)
}

func TestInPassAndPassOrder(t *testing.T) {
	b := New(1)
	f, _ := b.BeginFrame()
	c := f.Commands
	c.BeginPass(renderer.PassDepth, 0)
	c.DrawIndexed(3, 1, 0, 0)
	c.EndPass()
	c.BeginPass(renderer.PassPointShadow, 0)
	c.DrawIndexed(6, 1, 0, 0)
	c.EndPass()
	c.BeginPass(renderer.PassPointShadow, 1)
	c.DrawIndexed(9, 1, 0, 0)
	c.EndPass()
	require.NoError(t, b.EndFrame(f))

	frame := b.LastFrame()
	assert.Equal(t, []renderer.PassKind{renderer.PassDepth, renderer.PassPointShadow, renderer.PassPointShadow}, frame.PassOrder())
	second := frame.InPass(renderer.PassPointShadow, 1)
	require.Len(t, second, 1)
	assert.Equal(t, uint32(9), second[0].Counts[0])
	assert.Len(t, frame.Filter(OpDrawIndexed), 3)
}
