package systems

import (
	"encoding/binary"
	m "math"

	"github.com/go-gl/mathgl/mgl32"
)

// Push block flags.
const (
	DrawFlagSkinned uint32 = 1 << iota
	DrawFlagAlphaMask
	DrawFlagAlphaBlend
	DrawFlagProxy
	// depth.vert projects with the directional light instead of the camera
	DrawFlagLightView
)

// DrawParamsSize is the push constant range of every graphics pipeline.
const DrawParamsSize = 16*4 + 4*4

// SkinParamsSize is the push constant range of the skinning compute pipeline.
const SkinParamsSize = 16*4 + 4*4

/** @brief Per-draw parameters pushed before every indexed draw. */
type DrawParams struct {
	Model    mgl32.Mat4
	Material uint32
	// Index of the point light, or 0 for the directional light.
	Light uint32
	// Cube face rendered by the point shadow pass.
	Face  uint32
	Flags uint32
}

func (p DrawParams) Bytes() []byte {
	buf := make([]byte, 0, DrawParamsSize)
	buf = appendMat4(buf, p.Model)
	buf = binary.LittleEndian.AppendUint32(buf, p.Material)
	buf = binary.LittleEndian.AppendUint32(buf, p.Light)
	buf = binary.LittleEndian.AppendUint32(buf, p.Face)
	return binary.LittleEndian.AppendUint32(buf, p.Flags)
}

/**
 * @brief Per-dispatch parameters of the skinning shader. Model brings the skinned
 * vertices to world space and undoes the skin node transform already present in
 * the joint matrices.
 */
type SkinParams struct {
	Model       mgl32.Mat4
	FirstVertex uint32
	VertexCount uint32
	JointOffset uint32
	// Stride in 32-bit words of both the input and output vertex layouts.
	VertexWords uint32
}

func (p SkinParams) Bytes() []byte {
	buf := make([]byte, 0, SkinParamsSize)
	buf = appendMat4(buf, p.Model)
	buf = binary.LittleEndian.AppendUint32(buf, p.FirstVertex)
	buf = binary.LittleEndian.AppendUint32(buf, p.VertexCount)
	buf = binary.LittleEndian.AppendUint32(buf, p.JointOffset)
	return binary.LittleEndian.AppendUint32(buf, p.VertexWords)
}

func appendMat4(dst []byte, mat mgl32.Mat4) []byte {
	for _, f := range mat {
		dst = binary.LittleEndian.AppendUint32(dst, m.Float32bits(f))
	}
	return dst
}
