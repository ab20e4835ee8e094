package model

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/math"
)

/**
 * @brief Runtime state of one node of a variant. The static part (parent, children,
 * base matrix, submesh and skin references) stays in the essence template.
 */
type Node struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3

	// Pose of the fading-out clip while a transition runs.
	PrevTranslation mgl32.Vec3
	PrevRotation    mgl32.Quat
	PrevScale       mgl32.Vec3

	Local  mgl32.Mat4
	Global mgl32.Mat4
	// World placement of the variant folded in. Only maintained for nodes with geometry.
	Model mgl32.Mat4
	// Inverse of Global. Only maintained for nodes that own a skin.
	InverseGlobal mgl32.Mat4

	LocalValid    bool
	GlobalChanged bool
	// Incremented every time Global is recomputed.
	Generation uint64

	blend bool
}

func newNode(tpl *assets.NodeData) Node {
	n := Node{
		Translation:   tpl.Translation,
		Rotation:      tpl.Rotation,
		Scale:         tpl.Scale,
		Local:         mgl32.Ident4(),
		Global:        mgl32.Ident4(),
		Model:         mgl32.Ident4(),
		InverseGlobal: mgl32.Ident4(),
	}
	if n.Rotation == (mgl32.Quat{}) {
		n.Rotation = mgl32.QuatIdent()
	}
	n.PrevTranslation = n.Translation
	n.PrevRotation = n.Rotation
	n.PrevScale = n.Scale
	return n
}

func (n *Node) snapshotPrevious() {
	n.PrevTranslation = n.Translation
	n.PrevRotation = n.Rotation
	n.PrevScale = n.Scale
}

func (n *Node) localTRS(weight float32) mgl32.Mat4 {
	if !n.blend {
		return math.ComposeTRS(n.Translation, n.Rotation, n.Scale)
	}
	return math.ComposeTRS(
		math.LerpVec3(n.PrevTranslation, n.Translation, weight),
		math.SlerpQuat(n.PrevRotation, n.Rotation, weight),
		math.LerpVec3(n.PrevScale, n.Scale, weight),
	)
}

// SetLocalTRS replaces the pose of a node and invalidates its local transform.
func (v *Variant) SetLocalTRS(node int, t mgl32.Vec3, r mgl32.Quat, s mgl32.Vec3) {
	n := &v.Nodes[node]
	n.Translation = t
	n.Rotation = r
	n.Scale = s
	n.LocalValid = false
}

/**
 * @brief Walks every root depth first and brings Local, Global, Model and
 * InverseGlobal up to date. A node is only recomputed when its own local transform
 * was invalidated or its parent's global changed during this walk.
 */
func (v *Variant) ComputeGlobalTransforms() {
	weight := v.anim.blendWeight()
	for _, root := range v.Essence.Data.RootNodes {
		v.propagate(root, false, weight)
	}
	v.worldChanged = false
}

func (v *Variant) propagate(index int, parentChanged bool, weight float32) {
	tpl := &v.Essence.Data.Nodes[index]
	n := &v.Nodes[index]

	localChanged := false
	if !n.LocalValid {
		n.Local = n.localTRS(weight).Mul4(tpl.Matrix)
		n.LocalValid = true
		localChanged = true
	}

	changed := localChanged || parentChanged
	n.GlobalChanged = changed
	if changed {
		if tpl.Parent < 0 {
			n.Global = n.Local
		} else {
			n.Global = v.Nodes[tpl.Parent].Global.Mul4(n.Local)
		}
		n.Generation++
		if tpl.Skin >= 0 {
			n.InverseGlobal = n.Global.Inv()
		}
	}

	if tpl.SubMesh >= 0 && (changed || v.worldChanged) {
		n.Model = v.World.Mul4(n.Global)
	}

	for _, child := range tpl.Children {
		v.propagate(child, changed, weight)
	}
}
