package model

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/renderer"
	"golang.org/x/exp/slices"
)

/**
 * @brief GPU objects shared by every variant of an essence. They are owned by the
 * resource cache; essences only point at them.
 */
type Geometry struct {
	// position, normal, tangent, joints and weights; the skinning input for skinned meshes
	VertexBuffer renderer.BufferHandle
	UVBuffer     renderer.BufferHandle
	IndexBuffer  renderer.BufferHandle
	// material factors of every primitive, indexed by DrawItem.Material
	MaterialBuffer renderer.BufferHandle
	Textures       []renderer.TextureHandle
	VertexCount    uint32
	IndexCount     uint32
	// Bytes per vertex in VertexBuffer.
	VertexStride uint32
}

// DrawItem is one primitive of one node, in stored order.
type DrawItem struct {
	Node      int
	SubMesh   int
	Primitive int
	Material  uint32
}

type Clip struct {
	Name      string
	StartTime float32
	EndTime   float32
	// Nodes targeted by at least one channel.
	Targets []int
}

func (c Clip) Duration() float32 {
	return c.EndTime - c.StartTime
}

/**
 * @brief Shared, read-only description of one mesh asset. Variants keep a pointer
 * back to their essence; the registry owns both.
 */
type Essence struct {
	Name string
	Kind PipelineKind
	Data *assets.MeshData

	// Non-owning. GeometryKey identifies the entry in the resource cache.
	Geometry    *Geometry
	GeometryKey string

	// Resource-binding set shared by all variants, created by the pipeline.
	BindingSet renderer.BindingSetHandle

	Bounds math.AABB
	Clips  []Clip
	// Primitives partitioned by alpha mode at build time.
	DrawLists [assets.AlphaModeCount][]DrawItem
	// Skinned primitives with distinct vertex ranges, dispatched by the skinning stage.
	SkinnedItems []DrawItem
	// Node that owns each skin.
	SkinNodes []int
	// Total number of joints over all skins.
	JointCount int

	Variants []*Variant
}

func NewEssence(name string, kind PipelineKind, data *assets.MeshData, geometry *Geometry, key string) (*Essence, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: essence '%s' has no mesh data", assets.ErrInvalidMesh, name)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("essence '%s': %w", name, err)
	}

	// the mesh data is shared with the asset registry, so node defaults go into a copy
	shared := *data
	shared.Nodes = slices.Clone(data.Nodes)
	data = &shared

	e := &Essence{
		Name:        name,
		Kind:        kind,
		Data:        data,
		Geometry:    geometry,
		GeometryKey: key,
		Bounds:      math.NewAABBFromPoints(data.Positions),
	}

	for i := range data.Nodes {
		if data.Nodes[i].Matrix == (mgl32.Mat4{}) {
			data.Nodes[i].Matrix = mgl32.Ident4()
		}
	}

	e.SkinNodes = make([]int, len(data.Skins))
	for i := range e.SkinNodes {
		e.SkinNodes[i] = -1
	}
	for _, s := range data.Skins {
		e.JointCount += len(s.Joints)
	}

	var material uint32
	materials := make(map[[2]int]uint32)
	for si, sm := range data.SubMeshes {
		for pi := range sm.Primitives {
			materials[[2]int{si, pi}] = material
			material++
		}
	}

	skinnedRanges := make(map[[2]uint32]bool)
	for ni, n := range data.Nodes {
		if n.Skin >= 0 && e.SkinNodes[n.Skin] < 0 {
			e.SkinNodes[n.Skin] = ni
		}
		if n.SubMesh < 0 {
			continue
		}
		for pi, p := range data.SubMeshes[n.SubMesh].Primitives {
			item := DrawItem{Node: ni, SubMesh: n.SubMesh, Primitive: pi, Material: materials[[2]int{n.SubMesh, pi}]}
			e.DrawLists[p.AlphaMode] = append(e.DrawLists[p.AlphaMode], item)
			vertexRange := [2]uint32{p.FirstVertex, p.VertexCount}
			if n.Skin >= 0 && data.IsSkinned() && !skinnedRanges[vertexRange] {
				// primitives sharing a vertex range are skinned once
				skinnedRanges[vertexRange] = true
				e.SkinnedItems = append(e.SkinnedItems, item)
			}
		}
	}

	for _, a := range data.Animations {
		e.Clips = append(e.Clips, newClip(a))
	}
	return e, nil
}

func newClip(a assets.AnimationData) Clip {
	c := Clip{Name: a.Name}
	first := true
	for _, s := range a.Samplers {
		start, end := s.Inputs[0], s.Inputs[len(s.Inputs)-1]
		if first || start < c.StartTime {
			c.StartTime = start
		}
		if first || end > c.EndTime {
			c.EndTime = end
		}
		first = false
	}
	seen := make(map[int]bool)
	for _, ch := range a.Channels {
		if !seen[ch.Node] {
			seen[ch.Node] = true
			c.Targets = append(c.Targets, ch.Node)
		}
	}
	return c
}

// AnimationIndex returns -1 when no clip has that name.
func (e *Essence) AnimationIndex(name string) int {
	for i, c := range e.Clips {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (e *Essence) Primitive(item DrawItem) assets.Primitive {
	return e.Data.SubMeshes[item.SubMesh].Primitives[item.Primitive]
}

func (e *Essence) IsSkinned() bool {
	return len(e.SkinnedItems) > 0
}

// MaterialCount is the number of primitives over all submeshes.
func (e *Essence) MaterialCount() int {
	n := 0
	for _, sm := range e.Data.SubMeshes {
		n += len(sm.Primitives)
	}
	return n
}

// HasVariants is false once the last variant has been removed.
func (e *Essence) HasVariants() bool {
	return len(e.Variants) > 0
}

func (e *Essence) AttachVariant(v *Variant) {
	e.Variants = append(e.Variants, v)
}

// DetachVariant reports whether v belonged to e.
func (e *Essence) DetachVariant(v *Variant) bool {
	for i, o := range e.Variants {
		if o == v {
			e.Variants = append(e.Variants[:i], e.Variants[i+1:]...)
			return true
		}
	}
	return false
}
