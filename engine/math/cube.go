package math

import "github.com/go-gl/mathgl/mgl32"

// CubeFace indexes the six layers of a point-light shadow cube map.
// The same order and up vectors are used by the shadow pass and by the
// display shader when it samples the cube.
type CubeFace uint32

const (
	CubeFacePositiveX CubeFace = iota
	CubeFaceNegativeX
	CubeFacePositiveY
	CubeFaceNegativeY
	CubeFacePositiveZ
	CubeFaceNegativeZ

	CubeFaceCount = 6
)

var cubeFaceDirections = [CubeFaceCount]mgl32.Vec3{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
}

var cubeFaceUps = [CubeFaceCount]mgl32.Vec3{
	{0, -1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
	{0, -1, 0},
	{0, -1, 0},
}

func (f CubeFace) Direction() mgl32.Vec3 {
	return cubeFaceDirections[f]
}

// CubeFaceView is the view matrix looking from position through face f.
func CubeFaceView(position mgl32.Vec3, f CubeFace) mgl32.Mat4 {
	return mgl32.LookAtV(position, position.Add(cubeFaceDirections[f]), cubeFaceUps[f])
}

// CubeFaceProjection is the 90 degree square projection shared by all faces.
func CubeFaceProjection(near, far float32) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(90), 1, near, far)
}
