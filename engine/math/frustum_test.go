package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestPlaneInFrontBoundaryIsInclusive(t *testing.T) {
	p := Plane{Position: mgl32.Vec3{0, 0, 0}, Normal: mgl32.Vec3{1, 0, 0}}
	extent := mgl32.Vec3{1, 1, 1}

	assert.True(t, p.InFront(mgl32.Vec3{-1, 0, 0}, extent), "distance equal to the projected radius is in front")
	assert.False(t, p.InFront(mgl32.Vec3{-1.001, 0, 0}, extent))
	assert.True(t, p.InFront(mgl32.Vec3{5, 0, 0}, mgl32.Vec3{}))
}

func TestPlaneProjectedRadiusUsesNormalComponents(t *testing.T) {
	n := mgl32.Vec3{1, 1, 0}.Normalize()
	p := Plane{Position: mgl32.Vec3{}, Normal: n}
	extent := mgl32.Vec3{2, 1, 7}
	radius := 2*n[0] + 1*n[1]

	onBoundary := n.Mul(-radius)
	assert.True(t, p.InFront(onBoundary, extent))
	assert.False(t, p.InFront(n.Mul(-radius-0.01), extent))
}

func TestFrustumContainsBox(t *testing.T) {
	// camera at origin looking down -Z, 90 deg fov
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := NewFrustumFromMatrix(proj.Mul4(view))

	tests := []struct {
		name     string
		center   mgl32.Vec3
		extent   mgl32.Vec3
		expected bool
	}{
		{name: "inside", center: mgl32.Vec3{0, 0, -10}, extent: mgl32.Vec3{1, 1, 1}, expected: true},
		{name: "left", center: mgl32.Vec3{-20, 0, -10}, extent: mgl32.Vec3{1, 1, 1}, expected: false},
		{name: "right", center: mgl32.Vec3{20, 0, -10}, extent: mgl32.Vec3{1, 1, 1}, expected: false},
		{name: "behind", center: mgl32.Vec3{0, 0, 5}, extent: mgl32.Vec3{1, 1, 1}, expected: false},
		{name: "beyond far", center: mgl32.Vec3{0, 0, -200}, extent: mgl32.Vec3{1, 1, 1}, expected: false},
		{name: "straddles left plane", center: mgl32.Vec3{-10.5, 0, -10}, extent: mgl32.Vec3{1, 1, 1}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.ContainsBox(tt.center, tt.extent))
		})
	}
}

func TestAABBTransform(t *testing.T) {
	box := NewAABBFromPoints([]mgl32.Vec3{{-1, 0, -1}, {1, 2, 1}})
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, box.Center())
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, box.Extent())

	moved := box.Transform(mgl32.Translate3D(10, 0, 0).Mul4(mgl32.Scale3D(2, 2, 2)))
	assert.InDeltaSlice(t, []float32{8, 0, -2}, moved.Min[:], 1e-5)
	assert.InDeltaSlice(t, []float32{12, 4, 2}, moved.Max[:], 1e-5)
}

func TestCubeFaceViewLooksAlongFace(t *testing.T) {
	pos := mgl32.Vec3{1, 2, 3}
	for f := CubeFace(0); f < CubeFaceCount; f++ {
		view := CubeFaceView(pos, f)
		target := pos.Add(f.Direction())
		inView := view.Mul4x1(target.Vec4(1))
		// looking down -Z in view space
		assert.InDelta(t, -1.0, inView.Z(), 1e-5, "face %d", f)
		assert.InDelta(t, 0.0, inView.X(), 1e-5, "face %d", f)
		assert.InDelta(t, 0.0, inView.Y(), 1e-5, "face %d", f)
	}
}

func TestSlerpQuatTakesShortestPath(t *testing.T) {
	a := mgl32.QuatIdent()
	b := mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0}).Scale(-1)
	mid := SlerpQuat(a, b, 0.5)
	expected := mgl32.QuatRotate(mgl32.DegToRad(45), mgl32.Vec3{0, 1, 0})
	assert.InDelta(t, 1.0, abs32(mid.Dot(expected)), 1e-4)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-3, 0, 10))
	assert.Equal(t, float32(1), Clamp(float32(2), 0, 1))
}
