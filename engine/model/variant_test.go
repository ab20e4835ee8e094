package model

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSoldier(t *testing.T) *Essence {
	t.Helper()
	e, err := NewEssence("Soldier", PipelinePBR, assets.Soldier(), nil, "Soldier")
	require.NoError(t, err)
	return e
}

func assertMatEqual(t *testing.T, expected, actual mgl32.Mat4) {
	t.Helper()
	assert.True(t, expected.ApproxEqualThreshold(actual, 1e-5), "expected %v, got %v", expected, actual)
}

func TestEssencePartitionsPrimitivesByAlphaMode(t *testing.T) {
	e := newSoldier(t)
	assert.Len(t, e.DrawLists[assets.AlphaModeOpaque], 1)
	assert.Len(t, e.DrawLists[assets.AlphaModeMask], 0)
	assert.Len(t, e.DrawLists[assets.AlphaModeBlend], 1)
	assert.Equal(t, uint32(1), e.DrawLists[assets.AlphaModeBlend][0].Material)
	// both primitives share the vertex range
	assert.Len(t, e.SkinnedItems, 1)
	assert.Equal(t, []int{assets.SoldierNodeBody}, e.SkinNodes)
	assert.Equal(t, 2, e.JointCount)
	assert.Equal(t, 0, e.AnimationIndex("Walk"))
	assert.Equal(t, -1, e.AnimationIndex("Run"))
	assert.Equal(t, float32(1), e.Clips[0].EndTime)
	assert.Equal(t, float32(2), e.Clips[1].EndTime)
}

func TestNewEssenceLeavesSourceNodesUntouched(t *testing.T) {
	md := assets.UnitCube()
	md.Nodes[0].Matrix = mgl32.Mat4{}

	e, err := NewEssence("Cube", PipelineDebug, md, nil, "Cube")
	require.NoError(t, err)
	assert.Equal(t, mgl32.Ident4(), e.Data.Nodes[0].Matrix)
	assert.Equal(t, mgl32.Mat4{}, md.Nodes[0].Matrix)
}

func TestNewEssenceRejectsInvalidData(t *testing.T) {
	md := assets.Soldier()
	md.Indices[0] = 9999
	_, err := NewEssence("Broken", PipelinePBR, md, nil, "Broken")
	assert.ErrorIs(t, err, assets.ErrInvalidMesh)

	_, err = NewEssence("Nil", PipelinePBR, nil, nil, "Nil")
	assert.ErrorIs(t, err, assets.ErrInvalidMesh)
}

func TestGlobalEqualsParentTimesLocal(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.SetLocalTRS(assets.SoldierNodeArmature, mgl32.Vec3{1, 2, 3}, mgl32.QuatRotate(0.3, mgl32.Vec3{0, 1, 0}), mgl32.Vec3{2, 2, 2})
	v.SetLocalTRS(assets.SoldierNodeHips, mgl32.Vec3{0, 0.5, 0}, mgl32.QuatRotate(0.7, mgl32.Vec3{1, 0, 0}), mgl32.Vec3{1, 1, 1})
	v.SetLocalTRS(assets.SoldierNodeSpine, mgl32.Vec3{0, 1, 0}, mgl32.QuatRotate(-0.2, mgl32.Vec3{0, 0, 1}), mgl32.Vec3{1, 0.5, 1})
	v.ComputeGlobalTransforms()

	for i, tpl := range v.Essence.Data.Nodes {
		n := v.Nodes[i]
		if tpl.Parent < 0 {
			assert.Equal(t, n.Local, n.Global, "root %d", i)
			continue
		}
		assertMatEqual(t, v.Nodes[tpl.Parent].Global.Mul4(n.Local), n.Global)
	}
}

func TestFirstPropagationTouchesEveryNode(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.ComputeGlobalTransforms()
	for i, n := range v.Nodes {
		assert.True(t, n.LocalValid, "node %d", i)
		assert.True(t, n.GlobalChanged, "node %d", i)
		assert.Equal(t, uint64(1), n.Generation, "node %d", i)
	}
}

func TestComputeGlobalTransformsIsIdempotent(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.SetLocalTRS(assets.SoldierNodeHips, mgl32.Vec3{0.3, 0, 0}, mgl32.QuatRotate(1, mgl32.Vec3{0, 1, 0}), mgl32.Vec3{1, 1, 1})
	v.ComputeGlobalTransforms()

	before := make([]mgl32.Mat4, len(v.Nodes))
	for i, n := range v.Nodes {
		before[i] = n.Global
	}

	v.ComputeGlobalTransforms()
	for i, n := range v.Nodes {
		assert.Equal(t, before[i], n.Global, "node %d", i)
		assert.False(t, n.GlobalChanged, "node %d", i)
		assert.Equal(t, uint64(1), n.Generation, "node %d", i)
	}
}

func TestOnlyDirtySubtreeIsRecomputed(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.ComputeGlobalTransforms()

	v.SetLocalTRS(assets.SoldierNodeHips, mgl32.Vec3{1, 0, 0}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
	v.ComputeGlobalTransforms()

	assert.False(t, v.Nodes[assets.SoldierNodeArmature].GlobalChanged)
	assert.True(t, v.Nodes[assets.SoldierNodeHips].GlobalChanged)
	// the spine did not change locally but follows its parent
	assert.True(t, v.Nodes[assets.SoldierNodeSpine].GlobalChanged)
	assert.False(t, v.Nodes[assets.SoldierNodeBody].GlobalChanged)
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, v.Nodes[assets.SoldierNodeSpine].Global.Col(3).Vec3())
}

func TestWorldPlacementFoldsIntoModel(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.ComputeGlobalTransforms()
	body := assets.SoldierNodeBody
	assert.Equal(t, v.Nodes[body].Global, v.Nodes[body].Model)

	world := mgl32.Translate3D(5, 0, -2)
	v.SetWorldTransform(world)
	assert.True(t, v.WorldChanged())
	v.ComputeGlobalTransforms()
	assert.False(t, v.WorldChanged())
	assertMatEqual(t, world.Mul4(v.Nodes[body].Global), v.Nodes[body].Model)
	// nodes without geometry are not affected by the world placement
	assert.False(t, v.Nodes[body].GlobalChanged)
	assert.Equal(t, mgl32.Ident4(), v.Nodes[assets.SoldierNodeHips].Model)
}

func TestSkinNodeCachesInverseGlobal(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.SetLocalTRS(assets.SoldierNodeArmature, mgl32.Vec3{0, 2, 0}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
	v.ComputeGlobalTransforms()
	body := v.Nodes[assets.SoldierNodeBody]
	assertMatEqual(t, mgl32.Ident4(), body.Global.Mul4(body.InverseGlobal))
	assertMatEqual(t, v.World, v.SkinModel(0))
}

func TestForestOfRoots(t *testing.T) {
	md := assets.UnitCube()
	second := md.Nodes[0]
	second.Name = "Cube2"
	second.Translation = mgl32.Vec3{3, 0, 0}
	md.Nodes = append(md.Nodes, second)
	md.RootNodes = []int{0, 1}
	e, err := NewEssence("Cubes", PipelineDebug, md, nil, "Cubes")
	require.NoError(t, err)
	assert.Len(t, e.DrawLists[assets.AlphaModeOpaque], 2)

	v := NewVariant(e, 2)
	v.ComputeGlobalTransforms()
	assert.Equal(t, mgl32.Ident4(), v.Nodes[0].Global)
	assert.Equal(t, mgl32.Translate3D(3, 0, 0), v.Nodes[1].Global)
}

func TestJointMatrixIsJointGlobalTimesInverseBind(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.SetLocalTRS(assets.SoldierNodeSpine, mgl32.Vec3{0, 1, 0}, mgl32.QuatRotate(0.5, mgl32.Vec3{0, 0, 1}), mgl32.Vec3{1, 1, 1})
	v.ComputeGlobalTransforms()
	require.True(t, v.UpdateAllSkinsJoints())

	skin := v.Essence.Data.Skins[0]
	for j, node := range skin.Joints {
		assertMatEqual(t, v.Nodes[node].Global.Mul4(skin.InverseBindMatrices[j]), v.JointMatrices[j])
	}
	// rest pose of the hips gives identity
	assertMatEqual(t, mgl32.Ident4(), v.JointMatrices[0])
}

func TestSkinUpdateIsIdempotent(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.ComputeGlobalTransforms()
	require.True(t, v.UpdateAllSkinsJoints())

	// drain the dirty counter: one upload per frame in flight
	assert.True(t, v.ConsumeJointUpload())
	assert.True(t, v.ConsumeJointUpload())
	assert.False(t, v.ConsumeJointUpload())

	joints := append([]mgl32.Mat4(nil), v.JointMatrices...)
	v.ComputeGlobalTransforms()
	assert.False(t, v.UpdateAllSkinsJoints())
	assert.False(t, v.UpdateAllSkinsJoints())
	assert.Equal(t, joints, v.JointMatrices)
	assert.False(t, v.JointUploadPending())
}

func TestJointBytesLayout(t *testing.T) {
	v := NewVariant(newSoldier(t), 2)
	v.JointMatrices[1] = mgl32.Translate3D(1, 2, 3)
	data := v.JointBytes()
	require.Len(t, data, 2*JointMatrixSize)
	// column 3 of joint 1 holds the translation
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, data[JointMatrixSize+12*4:JointMatrixSize+13*4])
}

type fakeTransform struct {
	world     mgl32.Mat4
	listeners []func()
}

func (f *fakeTransform) GetWorldTransform() mgl32.Mat4 { return f.world }
func (f *fakeTransform) GetWorldPosition() mgl32.Vec3  { return f.world.Col(3).Vec3() }
func (f *fakeTransform) OnChange(fn func()) func() {
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	return func() { f.listeners[idx] = nil }
}
func (f *fakeTransform) set(m mgl32.Mat4) {
	f.world = m
	for _, l := range f.listeners {
		if l != nil {
			l()
		}
	}
}

func TestVariantFollowsSceneTransform(t *testing.T) {
	src := &fakeTransform{world: mgl32.Translate3D(1, 0, 0)}
	v := NewVariant(newSoldier(t), 2)
	v.Follow(src)
	v.Tick(0)
	assert.Equal(t, src.world, v.World)

	src.set(mgl32.Translate3D(2, 0, 0))
	v.Tick(0)
	assert.Equal(t, mgl32.Translate3D(2, 0, 0), v.World)
	assertMatEqual(t, v.World.Mul4(v.Nodes[assets.SoldierNodeBody].Global), v.Nodes[assets.SoldierNodeBody].Model)

	v.Detach()
	src.set(mgl32.Translate3D(9, 0, 0))
	v.Tick(0)
	assert.Equal(t, mgl32.Translate3D(2, 0, 0), v.World)
}
