package model

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer"
)

// TransformSource is the scene component a variant follows.
type TransformSource interface {
	GetWorldTransform() mgl32.Mat4
	GetWorldPosition() mgl32.Vec3
	// OnChange registers fn to run after every change and returns a function removing it.
	OnChange(fn func()) func()
}

/** @brief Per-variant GPU buffers, one per frame in flight. */
type VariantBuffers struct {
	JointBuffers   []renderer.BufferHandle
	SkinnedBuffers []renderer.BufferHandle
	BindingSets    []renderer.BindingSetHandle
}

/**
 * @brief One placed, posed and animated instance of an essence. The node array mirrors
 * the essence template 1:1.
 */
type Variant struct {
	ID      string
	Essence *Essence

	Nodes []Node
	Skins []Skin
	// Joint matrices of all skins, indexed by Skin.JointOffset.
	JointMatrices []mgl32.Mat4

	World        mgl32.Mat4
	worldChanged bool

	// Inactive variants are skipped by every pass.
	Active bool
	// Result of the last frustum test.
	Visible bool
	// Result of the last occlusion query that came back.
	Occluded bool
	// Occlusion query slot, -1 when none is assigned.
	QuerySlot int

	Buffers VariantBuffers

	anim             animationState
	jointDirty       uint32
	jointDirtyFrames uint32

	source      TransformSource
	unsubscribe func()
	sourceDirty bool
}

func NewVariant(e *Essence, jointDirtyFrames uint32) *Variant {
	v := &Variant{
		ID:               uuid.NewString(),
		Essence:          e,
		Nodes:            make([]Node, len(e.Data.Nodes)),
		World:            mgl32.Ident4(),
		worldChanged:     true,
		Active:           true,
		Visible:          true,
		QuerySlot:        -1,
		jointDirtyFrames: jointDirtyFrames,
	}
	for i := range e.Data.Nodes {
		v.Nodes[i] = newNode(&e.Data.Nodes[i])
	}
	v.Skins = newSkins(e)
	v.JointMatrices = make([]mgl32.Mat4, e.JointCount)
	for i := range v.JointMatrices {
		v.JointMatrices[i] = mgl32.Ident4()
	}
	if jointDirtyFrames > 0 {
		// identity matrices still have to reach the GPU once
		v.jointDirty = jointDirtyFrames
	}
	return v
}

// SetWorldTransform places the variant. Every node with geometry refreshes its Model on the next propagation.
func (v *Variant) SetWorldTransform(world mgl32.Mat4) {
	v.World = world
	v.worldChanged = true
}

func (v *Variant) WorldChanged() bool {
	return v.worldChanged
}

// Follow binds the variant to a scene transform. Passing nil detaches it.
func (v *Variant) Follow(src TransformSource) {
	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
	v.source = src
	if src == nil {
		return
	}
	v.unsubscribe = src.OnChange(func() { v.sourceDirty = true })
	v.sourceDirty = true
}

// SyncWorld reads the followed transform if it changed since the last frame.
func (v *Variant) SyncWorld() {
	if v.source == nil || !v.sourceDirty {
		return
	}
	v.sourceDirty = false
	v.SetWorldTransform(v.source.GetWorldTransform())
}

// Detach releases the scene subscription. Called by the registry when the variant is destroyed.
func (v *Variant) Detach() {
	v.Follow(nil)
}

// WorldBounds is the essence bounding box placed in the world.
func (v *Variant) WorldBounds() math.AABB {
	return v.Essence.Bounds.Transform(v.World)
}

// SkinModel is Model * InverseGlobal of the node owning skin, used to undo the node
// transform already contained in the joint matrices.
func (v *Variant) SkinModel(skin int) mgl32.Mat4 {
	if v.Skins[skin].Node < 0 {
		return v.World
	}
	n := &v.Nodes[v.Skins[skin].Node]
	return v.World.Mul4(n.Global).Mul4(n.InverseGlobal)
}

// Tick runs the per-frame CPU work: world sync, animation, propagation and joints.
func (v *Variant) Tick(dt float32) {
	v.SyncWorld()
	v.UpdateAnimation(dt)
	v.ComputeGlobalTransforms()
	v.UpdateAllSkinsJoints()
}
