package math

import "github.com/go-gl/mathgl/mgl32"

/**
 * @brief Represents the extents of a 3d object.
 */
type AABB struct {
	/** @brief The minimum extents of the object. */
	Min mgl32.Vec3
	/** @brief The maximum extents of the object. */
	Max mgl32.Vec3
}

func NewAABBFromPoints(points []mgl32.Vec3) AABB {
	if len(points) == 0 {
		return AABB{}
	}
	box := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < box.Min[i] {
				box.Min[i] = p[i]
			}
			if p[i] > box.Max[i] {
				box.Max[i] = p[i]
			}
		}
	}
	return box
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extent is the half size of the box along each axis.
func (b AABB) Extent() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

// Transform returns the axis aligned box enclosing b after applying mat.
func (b AABB) Transform(mat mgl32.Mat4) AABB {
	c := mat.Mul4x1(b.Center().Vec4(1)).Vec3()
	e := b.Extent()
	var out mgl32.Vec3
	for row := 0; row < 3; row++ {
		out[row] = abs32(mat.At(row, 0))*e[0] +
			abs32(mat.At(row, 1))*e[1] +
			abs32(mat.At(row, 2))*e[2]
	}
	return AABB{Min: c.Sub(out), Max: c.Add(out)}
}
