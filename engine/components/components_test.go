package components

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestTransformComposesParent(t *testing.T) {
	parent := NewTransformAt(mgl32.Vec3{1, 0, 0})
	child := NewTransformAt(mgl32.Vec3{0, 2, 0})
	child.SetParent(parent)

	assert.Equal(t, mgl32.Vec3{1, 2, 0}, child.GetWorldPosition())

	calls := 0
	unsubscribe := child.OnChange(func() { calls++ })
	parent.Translate(mgl32.Vec3{0, 0, 3})
	assert.Equal(t, 1, calls)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, child.GetWorldPosition())

	unsubscribe()
	parent.Translate(mgl32.Vec3{1, 0, 0})
	assert.Equal(t, 1, calls)

	child.SetParent(nil)
	assert.Equal(t, mgl32.Vec3{0, 2, 0}, child.GetWorldPosition())
	assert.Empty(t, parent.children)
}

func TestCameraBaseViewIsInverseOfPlacement(t *testing.T) {
	c := NewCameraBase(1)
	c.SetPosition(mgl32.Vec3{0, 0, 10})
	p := c.GetTransform().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -10, p.Z(), 1e-5)
	assert.False(t, c.IsDirty)

	c.MoveForward(4)
	assert.InDelta(t, 6, c.GetPosition().Z(), 1e-5)
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCameraBase(1)
	c.Pitch(10)
	assert.Equal(t, pitchLimit, c.GetEulerRotation().X())
	c.Pitch(-20)
	assert.Equal(t, -pitchLimit, c.GetEulerRotation().X())
}

func TestObserverLooksAtCenter(t *testing.T) {
	o := NewObserver(1, mgl32.Vec3{1, 0, 0}, 5)
	o.Orbit(0.8, 0.4)
	assert.InDelta(t, 5, o.GetPosition().Sub(o.Center).Len(), 1e-4)

	c := o.GetTransform().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 0, c.X(), 1e-4)
	assert.InDelta(t, 0, c.Y(), 1e-4)
	assert.InDelta(t, -5, c.Z(), 1e-4)

	assert.True(t, Frustum(o).ContainsBox(o.Center, mgl32.Vec3{0.5, 0.5, 0.5}))
}

func TestThirdPersonFollowsTarget(t *testing.T) {
	target := NewTransformAt(mgl32.Vec3{0, 0, 0})
	tp := NewThirdPerson(1, target, mgl32.Vec3{0, 2, 6})
	assert.Equal(t, mgl32.Vec3{0, 2, 6}, tp.GetPosition())

	target.SetPosition(mgl32.Vec3{4, 0, 0})
	tp.OnUpdate(0.016)
	assert.Equal(t, mgl32.Vec3{4, 2, 6}, tp.GetPosition())
	c := tp.GetTransform().Mul4x1(mgl32.Vec4{4, 0, 0, 1})
	assert.InDelta(t, 0, c.X(), 1e-4)
}
