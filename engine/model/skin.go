package model

import (
	"encoding/binary"
	m "math"

	"github.com/go-gl/mathgl/mgl32"
)

// JointMatrixSize is the byte size of one joint matrix in the GPU buffer.
const JointMatrixSize = 16 * 4

type Skin struct {
	// Node that owns the skin.
	Node int
	// First joint of this skin in the variant joint block.
	JointOffset uint32
	JointCount  uint32
	// Generation of every joint node when its matrix was last computed.
	generations []uint64
}

func newSkins(e *Essence) []Skin {
	skins := make([]Skin, len(e.Data.Skins))
	var offset uint32
	for i, s := range e.Data.Skins {
		skins[i] = Skin{
			Node:        e.SkinNodes[i],
			JointOffset: offset,
			JointCount:  uint32(len(s.Joints)),
			generations: make([]uint64, len(s.Joints)),
		}
		offset += uint32(len(s.Joints))
	}
	return skins
}

/**
 * @brief Recomputes joint i of every skin as jointNode.Global * inverseBind[i] for
 * the joints whose node global changed since the last call. When any matrix changed
 * the joint block is scheduled for upload to every frame-in-flight copy.
 * @returns true if at least one joint matrix was recomputed.
 */
func (v *Variant) UpdateAllSkinsJoints() bool {
	changed := false
	for si := range v.Skins {
		sk := &v.Skins[si]
		tpl := &v.Essence.Data.Skins[si]
		for j, nodeIndex := range tpl.Joints {
			gen := v.Nodes[nodeIndex].Generation
			if gen == sk.generations[j] {
				continue
			}
			sk.generations[j] = gen
			v.JointMatrices[sk.JointOffset+uint32(j)] = v.Nodes[nodeIndex].Global.Mul4(tpl.InverseBindMatrices[j])
			changed = true
		}
	}
	if changed {
		v.jointDirty = v.jointDirtyFrames
	}
	return changed
}

// JointUploadPending reports whether the joint block still has to reach a frame-in-flight copy.
func (v *Variant) JointUploadPending() bool {
	return v.jointDirty > 0
}

// ConsumeJointUpload is called once per frame by the skinning stage. It returns
// true while the current frame's joint buffer needs the latest matrices.
func (v *Variant) ConsumeJointUpload() bool {
	if v.jointDirty == 0 {
		return false
	}
	v.jointDirty--
	return true
}

// JointBytes encodes the joint block as column-major float32 matrices.
func (v *Variant) JointBytes() []byte {
	buf := make([]byte, len(v.JointMatrices)*JointMatrixSize)
	for i, mat := range v.JointMatrices {
		putMat4(buf[i*JointMatrixSize:], mat)
	}
	return buf
}

func putMat4(dst []byte, mat mgl32.Mat4) {
	for i, f := range mat {
		binary.LittleEndian.PutUint32(dst[i*4:], m.Float32bits(f))
	}
}
