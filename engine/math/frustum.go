package math

import (
	m "math"

	"github.com/go-gl/mathgl/mgl32"
)

/**
 * @brief A plane given by a point on it and a unit normal.
 * The positive half-space (the side the normal points to) is "in front".
 */
type Plane struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
}

// InFront reports whether a box centered at center with the given half-extent
// reaches the positive side of the plane. The boundary is inclusive.
func (p Plane) InFront(center, extent mgl32.Vec3) bool {
	radius := extent[0]*abs32(p.Normal[0]) +
		extent[1]*abs32(p.Normal[1]) +
		extent[2]*abs32(p.Normal[2])
	return center.Sub(p.Position).Dot(p.Normal) >= -radius
}

// Frustum holds the six view planes with normals pointing inside.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

const (
	FrustumLeft = iota
	FrustumRight
	FrustumBottom
	FrustumTop
	FrustumNear
	FrustumFar
)

// NewFrustumFromMatrix extracts the planes of a projection * view matrix
// (Gribb/Hartmann). Clip depth is [-1, 1] as produced by mgl32.Perspective.
func NewFrustumFromMatrix(viewProj mgl32.Mat4) Frustum {
	r0 := viewProj.Row(0)
	r1 := viewProj.Row(1)
	r2 := viewProj.Row(2)
	r3 := viewProj.Row(3)

	raw := [6]mgl32.Vec4{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r3.Add(r2),
		r3.Sub(r2),
	}

	var f Frustum
	for i, p := range raw {
		n := p.Vec3()
		length := n.Len()
		if length == 0 {
			continue
		}
		n = n.Mul(1 / length)
		d := p[3] / length
		f.Planes[i] = Plane{
			Position: n.Mul(-d),
			Normal:   n,
		}
	}
	return f
}

// ContainsBox is true only when the box passes all six planes.
func (f Frustum) ContainsBox(center, extent mgl32.Vec3) bool {
	for _, p := range f.Planes {
		if !p.InFront(center, extent) {
			return false
		}
	}
	return true
}

func abs32(v float32) float32 {
	return float32(m.Abs(float64(v)))
}
