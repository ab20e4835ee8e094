package model

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/math"
)

/** @brief Sun-like light rendered into a single orthographic shadow map. */
type DirectionalLight struct {
	Direction mgl32.Vec3
	Color     mgl32.Vec3
	// Center of the shadowed region and its half size.
	Center mgl32.Vec3
	Extent float32
}

func (l DirectionalLight) View() mgl32.Mat4 {
	dir := l.Direction.Normalize()
	eye := l.Center.Sub(dir.Mul(l.Extent * 2))
	up := mgl32.Vec3{0, 1, 0}
	if d := dir.Dot(up); d > 0.99 || d < -0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	return mgl32.LookAtV(eye, l.Center, up)
}

func (l DirectionalLight) Projection() mgl32.Mat4 {
	e := l.Extent
	return mgl32.Ortho(-e, e, -e, e, 0.01, e*4)
}

func (l DirectionalLight) ViewProjection() mgl32.Mat4 {
	return l.Projection().Mul4(l.View())
}

/** @brief Omni light rendered into the six faces of a cube shadow map. */
type PointLight struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	Range    float32
}

// FaceViewProjection uses the shared cube face convention of the math package.
func (l PointLight) FaceViewProjection(face math.CubeFace) mgl32.Mat4 {
	return math.CubeFaceProjection(0.05, l.Range).Mul4(math.CubeFaceView(l.Position, face))
}
