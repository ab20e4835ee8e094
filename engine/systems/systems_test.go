package systems

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/components"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/spaghettifunk/anima/engine/renderer/headless"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	assets.Source
	loads int32
	// when set, mesh loads wait until it is closed
	gate chan struct{}
}

func (c *countingSource) LoadMesh(name string) (*assets.MeshData, error) {
	atomic.AddInt32(&c.loads, 1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Source.LoadMesh(name)
}

type fixture struct {
	cfg     *core.EngineConfig
	backend *headless.Backend
	events  *core.EventBus
	source  *countingSource
	sm      *SystemManager
}

func newFixture(t *testing.T, configure func(cfg *core.EngineConfig)) *fixture {
	t.Helper()
	cfg := core.DefaultEngineConfig()
	cfg.MaxVariants = 8
	if configure != nil {
		configure(cfg)
	}

	am := assets.NewAssetManager()
	am.RegisterMesh("Soldier", assets.Soldier())
	am.RegisterMesh("Cube", assets.UnitCube())

	f := &fixture{
		cfg:     cfg,
		backend: headless.New(cfg.FramesInFlight),
		events:  core.NewEventBus(),
		source:  &countingSource{Source: am},
	}
	sm, err := NewSystemManager(cfg, renderer.New(f.backend), f.source, f.events, core.NewMetrics())
	require.NoError(t, err)
	f.sm = sm

	observer := components.NewObserver(1, mgl32.Vec3{0, 1, 0}, 10)
	require.NoError(t, sm.Cameras().Register("observer", observer))
	require.NoError(t, sm.Cameras().SetActive("observer"))

	t.Cleanup(func() {
		assert.NoError(t, sm.Shutdown())
		am.Close()
	})
	return f
}

func (f *fixture) load(t *testing.T, name string, kind model.PipelineKind) *model.Essence {
	t.Helper()
	var ok, done atomic.Bool
	f.sm.Resources().AcquireEssence(name, kind, func(r bool) {
		ok.Store(r)
		done.Store(true)
	})
	require.Eventually(t, func() bool {
		f.sm.Jobs().Update()
		return done.Load()
	}, 2*time.Second, time.Millisecond)
	require.True(t, ok.Load())
	e, found := f.sm.Registry().Essence(name)
	require.True(t, found)
	return e
}

func (f *fixture) frame(t *testing.T, dt float32) *headless.Frame {
	t.Helper()
	f.sm.Update(dt)
	require.NoError(t, f.sm.Render())
	return f.backend.LastFrame()
}

func countOp(cmds []headless.Command, op headless.Op) int {
	n := 0
	for _, c := range cmds {
		if c.Op == op {
			n++
		}
	}
	return n
}

func TestAcquireEssenceIsSingleFlight(t *testing.T) {
	f := newFixture(t, nil)

	var calls atomic.Int32
	cb := func(ok bool) {
		assert.True(t, ok)
		calls.Add(1)
	}
	f.sm.Resources().AcquireEssence("Soldier", model.PipelinePBR, cb)
	f.sm.Resources().AcquireEssence("Soldier", model.PipelinePBR, cb)
	assert.True(t, f.sm.Resources().Pending("Soldier"))
	// callbacks never run from inside the acquire call
	assert.Equal(t, int32(0), calls.Load())

	require.Eventually(t, func() bool {
		f.sm.Jobs().Update()
		return calls.Load() == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.source.loads))
	assert.Equal(t, 1, f.sm.Registry().EssenceCount())

	// already registered: served from the registry on the next update
	f.sm.Resources().AcquireEssence("Soldier", model.PipelinePBR, cb)
	assert.Equal(t, int32(2), calls.Load())
	f.sm.Jobs().Update()
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.source.loads))
}

func TestAcquireEssenceNeverBlocksTheCaller(t *testing.T) {
	f := newFixture(t, func(cfg *core.EngineConfig) {
		cfg.JobWorkers = 1
		cfg.JobQueueSize = 0
	})
	gate := make(chan struct{})
	f.source.gate = gate

	var loaded, done atomic.Int32
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		requests := []struct {
			name string
			kind model.PipelineKind
		}{{"Soldier", model.PipelinePBR}, {"Cube", model.PipelineDebug}, {"Missing", model.PipelinePBR}}
		for _, r := range requests {
			f.sm.Resources().AcquireEssence(r.name, r.kind, func(ok bool) {
				if ok {
					loaded.Add(1)
				}
				done.Add(1)
			})
		}
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("AcquireEssence waited for a worker")
	}
	assert.GreaterOrEqual(t, f.sm.Jobs().Backlog(), 2)

	close(gate)
	require.Eventually(t, func() bool {
		f.sm.Jobs().Update()
		return done.Load() == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(2), loaded.Load())
	assert.Equal(t, 0, f.sm.Jobs().Backlog())
}

func TestAcquireUnknownEssenceFails(t *testing.T) {
	f := newFixture(t, nil)
	var result, done atomic.Bool
	result.Store(true)
	f.sm.Resources().AcquireEssence("Nope", model.PipelinePBR, func(ok bool) {
		result.Store(ok)
		done.Store(true)
	})
	require.Eventually(t, func() bool {
		f.sm.Jobs().Update()
		return done.Load()
	}, 2*time.Second, time.Millisecond)
	assert.False(t, result.Load())
	assert.Equal(t, 0, f.sm.Registry().EssenceCount())
}

func TestCreateVariantForUnknownEssenceLogsError(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)

	var buf bytes.Buffer
	core.SetLogOutput(&buf)
	defer core.SetLogOutput(os.Stderr)

	v := f.sm.Registry().CreateVariant("Ghost")
	assert.Nil(t, v)
	assert.Contains(t, buf.String(), "Ghost")
	assert.Contains(t, buf.String(), core.ErrEssenceNotFound.Error())
	assert.Equal(t, 1, f.sm.Registry().EssenceCount())
}

func TestRemovingOneVariantLeavesTheOtherUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	reg := f.sm.Registry()

	keep := reg.CreateVariant("Soldier")
	drop := reg.CreateVariant("Soldier")
	require.NotNil(t, keep)
	require.NotNil(t, drop)
	require.True(t, keep.SetActiveAnimationByName("Walk", model.AnimationOptions{Loop: true}))
	f.frame(t, 0.3)
	f.frame(t, 0.3)

	globals := make([]mgl32.Mat4, len(keep.Nodes))
	for i, n := range keep.Nodes {
		globals[i] = n.Global
	}
	joints := append([]mgl32.Mat4(nil), keep.JointMatrices...)
	keepBuffers := keep.Buffers
	dropBuffers := drop.Buffers
	waits := f.backend.WaitIdleCalls()

	reg.RemoveVariant(drop)
	assert.Equal(t, 1, reg.PendingRemovals())
	assert.Equal(t, 1, reg.FlushRemovals())
	assert.Equal(t, waits+1, f.backend.WaitIdleCalls())

	for i, n := range keep.Nodes {
		assert.Equal(t, globals[i], n.Global)
	}
	assert.Equal(t, joints, keep.JointMatrices)
	for _, b := range keepBuffers.SkinnedBuffers {
		assert.True(t, f.backend.BufferExists(b))
	}
	for _, b := range dropBuffers.SkinnedBuffers {
		assert.False(t, f.backend.BufferExists(b))
	}
	e, ok := reg.Essence("Soldier")
	require.True(t, ok)
	assert.Equal(t, []*model.Variant{keep}, e.Variants)
	assert.Equal(t, []*model.Variant{keep}, reg.Variants(model.PipelinePBR))
}

func TestFreeUnusedEssencesAfterLastVariant(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	reg := f.sm.Registry()
	buffersWithEssence := f.backend.BufferCount()

	v := reg.CreateVariant("Soldier")
	require.NotNil(t, v)
	assert.Equal(t, 0, reg.FreeUnusedEssences())

	reg.RemoveVariant(v)
	reg.FlushRemovals()
	assert.Equal(t, 1, reg.FreeUnusedEssences())
	assert.Equal(t, 0, reg.EssenceCount())
	assert.Nil(t, reg.CreateVariant("Soldier"))
	// vertex, uv, index and material buffers went with the geometry
	assert.Equal(t, buffersWithEssence-4, f.backend.BufferCount())
}

func TestDestroyEssenceInUseIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	require.NotNil(t, f.sm.Registry().CreateVariant("Soldier"))

	err := f.sm.Registry().DestroyEssence("Soldier")
	assert.ErrorIs(t, err, core.ErrEssenceInUse)
	assert.Equal(t, 1, f.sm.Registry().EssenceCount())
	assert.ErrorIs(t, f.sm.Registry().DestroyEssence("Ghost"), core.ErrEssenceNotFound)
}

func TestOccludedVariantSkipsDisplayButStillAnimates(t *testing.T) {
	var hidden atomic.Int32
	hidden.Store(-1)
	f := newFixture(t, nil)
	f.backend.Samples = func(query uint32) uint64 {
		if int32(query%8) == hidden.Load() {
			return 0
		}
		return 1
	}
	f.load(t, "Soldier", model.PipelinePBR)
	reg := f.sm.Registry()
	visible := reg.CreateVariant("Soldier")
	occluded := reg.CreateVariant("Soldier")
	occluded.SetWorldTransform(mgl32.Translate3D(1, 0, 0))
	hidden.Store(int32(occluded.QuerySlot))
	require.True(t, occluded.SetActiveAnimationByName("Walk", model.AnimationOptions{Loop: true}))

	// results come back when the frame slot that issued them is reused, so with
	// two frames in flight both first frames draw everything
	for i := 0; i < 2; i++ {
		fr := f.frame(t, 0.1)
		assert.False(t, occluded.Occluded)
		assert.Equal(t, 4, countOp(fr.InPass(renderer.PassDisplay, 0), headless.OpDrawIndexed))
		assert.Equal(t, 2, countOp(fr.InPass(renderer.PassOcclusion, 0), headless.OpEndQuery))
	}

	hips := occluded.Nodes[assets.SoldierNodeHips].Global
	third := f.frame(t, 0.1)
	assert.True(t, occluded.Occluded)
	assert.False(t, visible.Occluded)
	assert.Equal(t, 2, countOp(third.InPass(renderer.PassDisplay, 0), headless.OpDrawIndexed))
	assert.Equal(t, uint32(1), f.sm.Metrics().Pass(renderer.PassDisplay.String()).Skipped)

	// animation and propagation still ran for the occluded variant
	assert.InDelta(t, 0.3, occluded.AnimationTime(), 1e-5)
	assert.NotEqual(t, hips, occluded.Nodes[assets.SoldierNodeHips].Global)
	// it is still skinned and still queried
	assert.Equal(t, 2, countOp(third.InPass(renderer.PassSkinning, 0), headless.OpDispatch))
	assert.Equal(t, 2, countOp(third.InPass(renderer.PassOcclusion, 0), headless.OpEndQuery))
}

func TestReusedQuerySlotStartsVisible(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.Samples = func(uint32) uint64 { return 0 }
	f.load(t, "Soldier", model.PipelinePBR)
	reg := f.sm.Registry()

	a := reg.CreateVariant("Soldier")
	for i := 0; i < 3; i++ {
		f.frame(t, 0.016)
	}
	require.True(t, a.Occluded)
	slot := a.QuerySlot

	reg.RemoveVariant(a)
	require.Equal(t, 1, reg.FlushRemovals())
	b := reg.CreateVariant("Soldier")
	require.Equal(t, slot, b.QuerySlot)

	// both frame ranges still hold results of a
	for i := 0; i < 2; i++ {
		fr := f.frame(t, 0.016)
		assert.False(t, b.Occluded)
		assert.Equal(t, 2, countOp(fr.InPass(renderer.PassDisplay, 0), headless.OpDrawIndexed))
	}

	// its own result is back
	f.frame(t, 0.016)
	assert.True(t, b.Occluded)
}

func TestQueriesAreReadFromTheFrameSlotBeingReused(t *testing.T) {
	f := newFixture(t, nil)
	var polled []uint32
	f.backend.Samples = func(query uint32) uint64 {
		polled = append(polled, query)
		return 1
	}
	f.load(t, "Soldier", model.PipelinePBR)
	v := f.sm.Registry().CreateVariant("Soldier")

	for i := 0; i < 4; i++ {
		f.frame(t, 0.016)
	}
	// frames 3 and 4 read what frames 1 and 2 recorded in their own ranges
	capacity := uint32(f.cfg.MaxVariants)
	assert.Equal(t, []uint32{uint32(v.QuerySlot), capacity + uint32(v.QuerySlot)}, polled)
}

func TestOcclusionResultsNeverBlock(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.QueryLatency = 100
	f.backend.Samples = func(uint32) uint64 { return 0 }
	f.load(t, "Soldier", model.PipelinePBR)
	v := f.sm.Registry().CreateVariant("Soldier")

	for i := 0; i < 3; i++ {
		fr := f.frame(t, 0.016)
		assert.False(t, v.Occluded)
		assert.Equal(t, 2, countOp(fr.InPass(renderer.PassDisplay, 0), headless.OpDrawIndexed))
	}
}

func TestPassOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	f.sm.Registry().CreateVariant("Soldier")
	f.sm.Orchestrator().SetDirectionalLight(&model.DirectionalLight{Direction: mgl32.Vec3{0, -1, -1}, Color: mgl32.Vec3{1, 1, 1}, Extent: 10})
	require.True(t, f.sm.Orchestrator().AddPointLight(model.PointLight{Position: mgl32.Vec3{0, 3, 0}, Color: mgl32.Vec3{1, 1, 1}, Range: 10}))

	fr := f.frame(t, 0.016)
	expected := []renderer.PassKind{renderer.PassSkinning, renderer.PassDepth, renderer.PassDirectionalShadow}
	for i := 0; i < 6; i++ {
		expected = append(expected, renderer.PassPointShadow)
	}
	expected = append(expected, renderer.PassOcclusion, renderer.PassDisplay)
	assert.Equal(t, expected, fr.PassOrder())

	var layers []uint32
	for _, c := range fr.Filter(headless.OpBeginPass) {
		if c.Pass == renderer.PassPointShadow {
			layers = append(layers, c.Layer)
		}
	}
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, layers)

	// queries are reset outside of any pass, before the first graphics pass
	reset := -1
	depth := -1
	for i, c := range fr.Commands {
		if c.Op == headless.OpResetQueries && reset < 0 {
			reset = i
		}
		if c.Op == headless.OpBeginPass && c.Pass == renderer.PassDepth && depth < 0 {
			depth = i
		}
	}
	assert.True(t, reset >= 0 && reset < depth)
}

func pushedFlags(cmds []headless.Command) []uint32 {
	var out []uint32
	for _, c := range cmds {
		if c.Op == headless.OpPushParameters && len(c.Data) == DrawParamsSize {
			out = append(out, binary.LittleEndian.Uint32(c.Data[DrawParamsSize-4:]))
		}
	}
	return out
}

func TestDirectionalShadowDrawsUseTheLightView(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	f.sm.Registry().CreateVariant("Soldier")
	f.sm.Orchestrator().SetDirectionalLight(&model.DirectionalLight{Direction: mgl32.Vec3{0, -1, 0}, Color: mgl32.Vec3{1, 1, 1}, Extent: 10})

	fr := f.frame(t, 0.016)
	shadow := pushedFlags(fr.InPass(renderer.PassDirectionalShadow, 0))
	require.NotEmpty(t, shadow)
	for _, flags := range shadow {
		assert.NotZero(t, flags&DrawFlagLightView)
	}
	for _, flags := range pushedFlags(fr.InPass(renderer.PassDepth, 0)) {
		assert.Zero(t, flags&DrawFlagLightView)
	}
}

func TestWithoutLightsShadowPassesAreOmitted(t *testing.T) {
	f := newFixture(t, nil)
	fr := f.frame(t, 0.016)
	assert.Equal(t, []renderer.PassKind{renderer.PassSkinning, renderer.PassDepth, renderer.PassOcclusion, renderer.PassDisplay}, fr.PassOrder())
	assert.Equal(t, 0, countOp(fr.Commands, headless.OpDrawIndexed))
}

func TestSkinningBarriersBracketDispatches(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	v := f.sm.Registry().CreateVariant("Soldier")

	fr := f.frame(t, 0.016)
	cmds := fr.InPass(renderer.PassSkinning, 0)
	ops := make([]headless.Op, len(cmds))
	for i, c := range cmds {
		ops[i] = c.Op
	}
	assert.Equal(t, []headless.Op{
		headless.OpBindPipeline,
		headless.OpBarrier,
		headless.OpBindBindingSet,
		headless.OpPushParameters,
		headless.OpDispatch,
		headless.OpBarrier,
	}, ops)

	out := v.Buffers.SkinnedBuffers[fr.Index]
	acquire := cmds[1].Barriers[0]
	release := cmds[5].Barriers[0]
	assert.Equal(t, out, acquire.Buffer)
	assert.Equal(t, renderer.QueueGraphics, acquire.SrcQueue)
	assert.Equal(t, renderer.QueueCompute, acquire.DstQueue)
	assert.Equal(t, renderer.AccessShaderWrite, acquire.DstAccess)
	assert.Equal(t, out, release.Buffer)
	assert.Equal(t, renderer.QueueCompute, release.SrcQueue)
	assert.Equal(t, renderer.QueueGraphics, release.DstQueue)
	assert.Equal(t, renderer.PipelineStageVertexInput, release.DstStage)
	assert.Equal(t, v.Buffers.BindingSets[fr.Index], cmds[2].BindingSet)
	// 12 vertices fit one workgroup
	assert.Equal(t, [3]uint32{1, 1, 1}, cmds[4].Counts)
	assert.Len(t, cmds[3].Data, SkinParamsSize)
}

func TestJointBlockIsUploadedOncePerFrameInFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	v := f.sm.Registry().CreateVariant("Soldier")

	f.frame(t, 0.016)
	assert.Equal(t, 1, f.sm.Skinning().Uploads())
	f.frame(t, 0.016)
	assert.Equal(t, 1, f.sm.Skinning().Uploads())
	f.frame(t, 0.016)
	assert.Equal(t, 0, f.sm.Skinning().Uploads())
	assert.Equal(t, 1, f.backend.BufferWrites(v.Buffers.JointBuffers[0]))
	assert.Equal(t, 1, f.backend.BufferWrites(v.Buffers.JointBuffers[1]))

	// a running clip changes the pose every frame, so both copies follow
	require.True(t, v.SetActiveAnimationByName("Walk", model.AnimationOptions{Loop: true}))
	f.frame(t, 0.1)
	f.frame(t, 0.1)
	assert.Equal(t, 2, f.backend.BufferWrites(v.Buffers.JointBuffers[0]))
	assert.Equal(t, 2, f.backend.BufferWrites(v.Buffers.JointBuffers[1]))
}

func TestEssenceResourcesAreBoundOncePerSubPass(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	a := f.sm.Registry().CreateVariant("Soldier")
	b := f.sm.Registry().CreateVariant("Soldier")

	fr := f.frame(t, 0.016)
	depth := fr.InPass(renderer.PassDepth, 0)
	assert.Equal(t, 1, countOp(depth, headless.OpBindIndexBuffer))
	assert.Equal(t, 2, countOp(depth, headless.OpDrawIndexed))

	display := fr.InPass(renderer.PassDisplay, 0)
	// opaque and blend sub-passes
	assert.Equal(t, 2, countOp(display, headless.OpBindIndexBuffer))
	draws := make([]uint32, 0, 4)
	var vertexStreams []renderer.BufferHandle
	for _, c := range display {
		switch c.Op {
		case headless.OpDrawIndexed:
			draws = append(draws, c.Counts[2])
		case headless.OpBindVertexBuffers:
			vertexStreams = append(vertexStreams, c.Buffers[0])
		}
	}
	assert.Equal(t, []uint32{0, 0, 48, 48}, draws)
	assert.Contains(t, vertexStreams, a.Buffers.SkinnedBuffers[fr.Index])
	assert.Contains(t, vertexStreams, b.Buffers.SkinnedBuffers[fr.Index])
}

func TestInactiveVariantIsSkippedByEveryPass(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	v := f.sm.Registry().CreateVariant("Soldier")
	v.Active = false

	fr := f.frame(t, 0.016)
	assert.Equal(t, 0, countOp(fr.Commands, headless.OpDrawIndexed))
	assert.Equal(t, 0, countOp(fr.Commands, headless.OpDispatch))
	assert.Equal(t, uint32(1), f.sm.Metrics().Pass(renderer.PassDisplay.String()).Skipped)
	assert.Equal(t, uint32(1), f.sm.Metrics().Pass(renderer.PassSkinning.String()).Skipped)
}

func TestVariantOutsideFrustumIsCulled(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	v := f.sm.Registry().CreateVariant("Soldier")
	v.SetWorldTransform(mgl32.Translate3D(0, 0, 500))
	require.True(t, v.SetActiveAnimationByName("Walk", model.AnimationOptions{Loop: true}))

	fr := f.frame(t, 0.25)
	assert.False(t, v.Visible)
	assert.Equal(t, 0, countOp(fr.InPass(renderer.PassDisplay, 0), headless.OpDrawIndexed))
	// time advances but the pose is not evaluated
	assert.Equal(t, float32(0.25), v.AnimationTime())
	assert.Equal(t, float32(0), v.Nodes[assets.SoldierNodeHips].Translation.X())
}

func TestPipelineActivationEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)

	var activated, idle []uint32
	f.events.Register(core.EVENT_CODE_PIPELINE_ACTIVATED, "test", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		activated = append(activated, data.Data.U32[0])
		return false
	})
	f.events.Register(core.EVENT_CODE_PIPELINE_IDLE, "test", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		idle = append(idle, data.Data.U32[0])
		return false
	})

	a := f.sm.Registry().CreateVariant("Soldier")
	b := f.sm.Registry().CreateVariant("Soldier")
	assert.Equal(t, []uint32{uint32(model.PipelinePBR)}, activated)
	p, _ := f.sm.Registry().Pipeline(model.PipelinePBR)
	assert.True(t, p.Active())

	f.sm.Registry().RemoveVariant(a)
	f.sm.Registry().FlushRemovals()
	assert.Empty(t, idle)
	f.sm.Registry().RemoveVariant(b)
	f.sm.Registry().FlushRemovals()
	assert.Equal(t, []uint32{uint32(model.PipelinePBR)}, idle)
	assert.False(t, p.Active())
}

func TestDebugPipelineDrawsOnlyDisplay(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Cube", model.PipelineDebug)
	v := f.sm.Registry().CreateVariant("Cube")
	require.NotNil(t, v)
	assert.Empty(t, v.Buffers.SkinnedBuffers)

	fr := f.frame(t, 0.016)
	assert.Equal(t, 0, countOp(fr.InPass(renderer.PassDepth, 0), headless.OpDrawIndexed))
	assert.Equal(t, 0, countOp(fr.InPass(renderer.PassOcclusion, 0), headless.OpDrawIndexed))
	assert.Equal(t, 1, countOp(fr.InPass(renderer.PassDisplay, 0), headless.OpDrawIndexed))
}

func TestQueryPoolExhaustionPanics(t *testing.T) {
	f := newFixture(t, func(cfg *core.EngineConfig) { cfg.MaxVariants = 1 })
	f.load(t, "Cube", model.PipelinePBR)
	require.NotNil(t, f.sm.Registry().CreateVariant("Cube"))
	assert.Panics(t, func() { f.sm.Registry().CreateVariant("Cube") })
}

func TestAssetChangeDropsUnusedEssence(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, "Soldier", model.PipelinePBR)
	f.load(t, "Cube", model.PipelinePBR)
	require.NotNil(t, f.sm.Registry().CreateVariant("Cube"))

	var changed []string
	f.events.Register(core.EVENT_CODE_ASSET_CHANGED, "test", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		changed = append(changed, data.Data.C[0])
		return false
	})
	f.sm.Resources().AssetChanged(assets.AssetChange{Name: "Soldier", Path: "assets/Soldier.glb"})
	f.sm.Resources().AssetChanged(assets.AssetChange{Name: "Cube", Path: "assets/Cube.glb"})

	assert.Equal(t, []string{"Soldier", "Cube"}, changed)
	_, ok := f.sm.Registry().Essence("Soldier")
	assert.False(t, ok)
	_, ok = f.sm.Registry().Essence("Cube")
	assert.True(t, ok)

	// the next acquire reloads it
	f.load(t, "Soldier", model.PipelinePBR)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.source.loads))
}
