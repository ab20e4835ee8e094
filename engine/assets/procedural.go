package assets

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/math"
)

const (
	SoldierNodeArmature = iota
	SoldierNodeHips
	SoldierNodeSpine
	SoldierNodeBody
)

// Soldier builds a two-bone skinned column: three rings of four vertices at
// y = 0, 1, 2 bound to Hips, blended, and bound to Spine. It carries two clips:
// "Walk" moves the hips from x=0 to x=1 over one second and bends the spine,
// "Idle" sways the spine over two seconds.
func Soldier() *MeshData {
	ring := []mgl32.Vec2{{-0.25, -0.25}, {0.25, -0.25}, {0.25, 0.25}, {-0.25, 0.25}}

	md := &MeshData{}
	for level := 0; level < 3; level++ {
		for _, p := range ring {
			md.Positions = append(md.Positions, mgl32.Vec3{p[0], float32(level), p[1]})
			md.UVs = append(md.UVs, mgl32.Vec2{(p[0] + 0.25) * 2, float32(level) / 2})
			md.Joints = append(md.Joints, [4]uint32{0, 1, 0, 0})
			switch level {
			case 0:
				md.Weights = append(md.Weights, mgl32.Vec4{1, 0, 0, 0})
			case 1:
				md.Weights = append(md.Weights, mgl32.Vec4{0.5, 0.5, 0, 0})
			default:
				md.Weights = append(md.Weights, mgl32.Vec4{0, 1, 0, 0})
			}
		}
	}

	// sides
	for level := uint32(0); level < 2; level++ {
		for side := uint32(0); side < 4; side++ {
			a := level*4 + side
			b := level*4 + (side+1)%4
			c := a + 4
			d := b + 4
			md.Indices = append(md.Indices, a, b, d, a, d, c)
		}
	}
	sideCount := uint32(len(md.Indices))
	// caps
	md.Indices = append(md.Indices, 0, 2, 1, 0, 3, 2)
	md.Indices = append(md.Indices, 8, 9, 10, 8, 10, 11)

	md.Normals = math.GenerateNormals(md.Positions, md.Indices)
	md.Tangents = make([]mgl32.Vec4, len(md.Positions))
	for i := range md.Tangents {
		md.Tangents[i] = mgl32.Vec4{1, 0, 0, 1}
	}

	md.SubMeshes = []SubMesh{{
		Name: "Body",
		Primitives: []Primitive{
			{
				FirstIndex:  0,
				IndexCount:  sideCount,
				VertexCount: uint32(len(md.Positions)),
				AlphaMode:   AlphaModeOpaque,
				Material:    defaultMaterial(mgl32.Vec4{0.35, 0.4, 0.3, 1}),
			},
			{
				FirstIndex:  sideCount,
				IndexCount:  uint32(len(md.Indices)) - sideCount,
				VertexCount: uint32(len(md.Positions)),
				AlphaMode:   AlphaModeBlend,
				Material:    defaultMaterial(mgl32.Vec4{0.6, 0.8, 1, 0.4}),
			},
		},
	}}

	md.Nodes = []NodeData{
		SoldierNodeArmature: node("Armature", -1, []int{SoldierNodeHips, SoldierNodeBody}),
		SoldierNodeHips:     node("Hips", SoldierNodeArmature, []int{SoldierNodeSpine}),
		SoldierNodeSpine:    node("Spine", SoldierNodeHips, nil),
		SoldierNodeBody:     node("Body", SoldierNodeArmature, nil),
	}
	md.Nodes[SoldierNodeSpine].Translation = mgl32.Vec3{0, 1, 0}
	md.Nodes[SoldierNodeBody].SubMesh = 0
	md.Nodes[SoldierNodeBody].Skin = 0
	md.RootNodes = []int{SoldierNodeArmature}

	md.Skins = []SkinData{{
		Name:   "Skeleton",
		Joints: []int{SoldierNodeHips, SoldierNodeSpine},
		InverseBindMatrices: []mgl32.Mat4{
			mgl32.Ident4(),
			mgl32.Translate3D(0, -1, 0),
		},
	}}

	bend := mgl32.QuatRotate(mgl32.DegToRad(20), mgl32.Vec3{0, 0, 1})
	sway := mgl32.QuatRotate(mgl32.DegToRad(5), mgl32.Vec3{1, 0, 0})
	md.Animations = []AnimationData{
		{
			Name: "Walk",
			Samplers: []SamplerData{
				{
					Interpolation: InterpolationLinear,
					Inputs:        []float32{0, 1},
					Outputs:       []mgl32.Vec4{{0, 0, 0, 0}, {1, 0, 0, 0}},
				},
				{
					Interpolation: InterpolationLinear,
					Inputs:        []float32{0, 0.5, 1},
					Outputs:       []mgl32.Vec4{quatXYZW(mgl32.QuatIdent()), quatXYZW(bend), quatXYZW(mgl32.QuatIdent())},
				},
			},
			Channels: []ChannelData{
				{Node: SoldierNodeHips, Path: PathTranslate, Sampler: 0},
				{Node: SoldierNodeSpine, Path: PathRotate, Sampler: 1},
			},
		},
		{
			Name: "Idle",
			Samplers: []SamplerData{
				{
					Interpolation: InterpolationLinear,
					Inputs:        []float32{0, 1, 2},
					Outputs:       []mgl32.Vec4{quatXYZW(mgl32.QuatIdent()), quatXYZW(sway), quatXYZW(mgl32.QuatIdent())},
				},
				{
					Interpolation: InterpolationLinear,
					Inputs:        []float32{0, 2},
					Outputs:       []mgl32.Vec4{{1, 1, 1, 0}, {1, 1, 1, 0}},
				},
			},
			Channels: []ChannelData{
				{Node: SoldierNodeSpine, Path: PathRotate, Sampler: 0},
				{Node: SoldierNodeHips, Path: PathScale, Sampler: 1},
			},
		},
	}
	return md
}

// UnitCube is a rigid cube spanning [-1, 1] on every axis with a single node.
// It doubles as the occlusion proxy geometry.
func UnitCube() *MeshData {
	md := &MeshData{
		Positions: []mgl32.Vec3{
			{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
			{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
		},
		Indices: []uint32{
			0, 2, 1, 0, 3, 2, // -Z
			4, 5, 6, 4, 6, 7, // +Z
			0, 1, 5, 0, 5, 4, // -Y
			3, 7, 6, 3, 6, 2, // +Y
			0, 4, 7, 0, 7, 3, // -X
			1, 2, 6, 1, 6, 5, // +X
		},
	}
	md.Normals = math.GenerateNormals(md.Positions, md.Indices)
	md.UVs = make([]mgl32.Vec2, len(md.Positions))
	md.SubMeshes = []SubMesh{{
		Name: "Cube",
		Primitives: []Primitive{{
			IndexCount:  uint32(len(md.Indices)),
			VertexCount: uint32(len(md.Positions)),
			AlphaMode:   AlphaModeOpaque,
			Material:    defaultMaterial(mgl32.Vec4{0.8, 0.6, 0.4, 1}),
		}},
	}}
	cube := node("Cube", -1, nil)
	cube.SubMesh = 0
	md.Nodes = []NodeData{cube}
	md.RootNodes = []int{0}
	return md
}

func node(name string, parent int, children []int) NodeData {
	return NodeData{
		Name:     name,
		Parent:   parent,
		Children: children,
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
		Matrix:   mgl32.Ident4(),
		SubMesh:  -1,
		Skin:     -1,
	}
}

func defaultMaterial(color mgl32.Vec4) Material {
	return Material{
		BaseColorFactor: color,
		MetallicFactor:  0,
		RoughnessFactor: 0.8,
		AlphaCutoff:     0.5,
	}
}

func quatXYZW(q mgl32.Quat) mgl32.Vec4 {
	return mgl32.Vec4{q.V[0], q.V[1], q.V[2], q.W}
}
