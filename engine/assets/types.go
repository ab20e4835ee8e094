package assets

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrInvalidMesh = errors.New("invalid mesh data")

type AlphaMode uint8

const (
	AlphaModeOpaque AlphaMode = iota
	AlphaModeMask
	AlphaModeBlend

	AlphaModeCount = 3
)

func (a AlphaMode) String() string {
	switch a {
	case AlphaModeOpaque:
		return "opaque"
	case AlphaModeMask:
		return "mask"
	case AlphaModeBlend:
		return "blend"
	}
	return fmt.Sprintf("alpha(%d)", uint8(a))
}

type Interpolation uint8

const (
	InterpolationLinear Interpolation = iota
	InterpolationStep
	InterpolationCubicSpline
)

func (i Interpolation) String() string {
	switch i {
	case InterpolationLinear:
		return "LINEAR"
	case InterpolationStep:
		return "STEP"
	case InterpolationCubicSpline:
		return "CUBICSPLINE"
	}
	return fmt.Sprintf("interpolation(%d)", uint8(i))
}

type ChannelPath uint8

const (
	PathTranslate ChannelPath = iota
	PathRotate
	PathScale
)

/** @brief Material factors of a primitive. Textures are referenced by name and resolved by the resource cache. */
type Material struct {
	BaseColorFactor  mgl32.Vec4
	EmissiveFactor   mgl32.Vec3
	MetallicFactor   float32
	RoughnessFactor  float32
	AlphaCutoff      float32
	BaseColorTexture string
	NormalTexture    string
}

/** @brief A drawable range of the shared vertex/index arrays. */
type Primitive struct {
	FirstIndex  uint32
	IndexCount  uint32
	FirstVertex uint32
	VertexCount uint32
	AlphaMode   AlphaMode
	Material    Material
}

type SubMesh struct {
	Name       string
	Primitives []Primitive
}

/**
 * @brief One node of the imported hierarchy. Parent is -1 for roots.
 * SubMesh and Skin are -1 when the node carries none.
 */
type NodeData struct {
	Name        string
	Parent      int
	Children    []int
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
	// Static transform applied after the animated TRS. Identity for TRS-only nodes.
	Matrix  mgl32.Mat4
	SubMesh int
	Skin    int
}

type SkinData struct {
	Name                string
	Joints              []int
	InverseBindMatrices []mgl32.Mat4
}

/** @brief Keyframe times and outputs. Outputs are xyz(w); rotations are stored x, y, z, w. */
type SamplerData struct {
	Interpolation Interpolation
	Inputs        []float32
	Outputs       []mgl32.Vec4
}

type ChannelData struct {
	Node    int
	Path    ChannelPath
	Sampler int
}

type AnimationData struct {
	Name     string
	Samplers []SamplerData
	Channels []ChannelData
}

/**
 * @brief Everything an imported model provides. Vertex attribute arrays are indexed
 * by the same vertex index; Joints/Weights are empty for rigid meshes.
 */
type MeshData struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Tangents  []mgl32.Vec4
	UVs       []mgl32.Vec2
	Joints    [][4]uint32
	Weights   []mgl32.Vec4
	Indices   []uint32

	SubMeshes  []SubMesh
	Nodes      []NodeData
	Skins      []SkinData
	Animations []AnimationData
	RootNodes  []int
}

func (md *MeshData) IsSkinned() bool {
	return len(md.Skins) > 0 && len(md.Joints) == len(md.Positions)
}

// Validate checks every index the rest of the engine dereferences without bounds checks.
func (md *MeshData) Validate() error {
	vertexCount := len(md.Positions)
	if vertexCount == 0 {
		return fmt.Errorf("%w: no vertices", ErrInvalidMesh)
	}
	if len(md.Normals) != 0 && len(md.Normals) != vertexCount {
		return fmt.Errorf("%w: %d normals for %d vertices", ErrInvalidMesh, len(md.Normals), vertexCount)
	}
	if len(md.UVs) != 0 && len(md.UVs) != vertexCount {
		return fmt.Errorf("%w: %d uvs for %d vertices", ErrInvalidMesh, len(md.UVs), vertexCount)
	}
	if len(md.Joints) != len(md.Weights) {
		return fmt.Errorf("%w: joint and weight counts differ", ErrInvalidMesh)
	}
	for _, idx := range md.Indices {
		if int(idx) >= vertexCount {
			return fmt.Errorf("%w: index %d out of range", ErrInvalidMesh, idx)
		}
	}
	for si, sm := range md.SubMeshes {
		for pi, p := range sm.Primitives {
			if int(p.FirstIndex+p.IndexCount) > len(md.Indices) {
				return fmt.Errorf("%w: submesh %d primitive %d index range", ErrInvalidMesh, si, pi)
			}
			if int(p.FirstVertex+p.VertexCount) > vertexCount {
				return fmt.Errorf("%w: submesh %d primitive %d vertex range", ErrInvalidMesh, si, pi)
			}
			if p.AlphaMode >= AlphaModeCount {
				return fmt.Errorf("%w: submesh %d primitive %d alpha mode %d", ErrInvalidMesh, si, pi, p.AlphaMode)
			}
		}
	}
	if len(md.RootNodes) == 0 && len(md.Nodes) > 0 {
		return fmt.Errorf("%w: nodes without roots", ErrInvalidMesh)
	}
	for _, r := range md.RootNodes {
		if r < 0 || r >= len(md.Nodes) || md.Nodes[r].Parent != -1 {
			return fmt.Errorf("%w: bad root node %d", ErrInvalidMesh, r)
		}
	}
	for ni, n := range md.Nodes {
		if n.Parent < -1 || n.Parent >= len(md.Nodes) {
			return fmt.Errorf("%w: node %d parent %d", ErrInvalidMesh, ni, n.Parent)
		}
		for _, c := range n.Children {
			if c < 0 || c >= len(md.Nodes) || md.Nodes[c].Parent != ni {
				return fmt.Errorf("%w: node %d child %d", ErrInvalidMesh, ni, c)
			}
		}
		if n.SubMesh >= len(md.SubMeshes) || n.SubMesh < -1 {
			return fmt.Errorf("%w: node %d submesh %d", ErrInvalidMesh, ni, n.SubMesh)
		}
		if n.Skin >= len(md.Skins) || n.Skin < -1 {
			return fmt.Errorf("%w: node %d skin %d", ErrInvalidMesh, ni, n.Skin)
		}
	}
	for si, s := range md.Skins {
		if len(s.Joints) != len(s.InverseBindMatrices) {
			return fmt.Errorf("%w: skin %d has %d joints and %d inverse bind matrices", ErrInvalidMesh, si, len(s.Joints), len(s.InverseBindMatrices))
		}
		for _, j := range s.Joints {
			if j < 0 || j >= len(md.Nodes) {
				return fmt.Errorf("%w: skin %d joint %d", ErrInvalidMesh, si, j)
			}
		}
	}
	for ai, a := range md.Animations {
		for ci, c := range a.Channels {
			if c.Node < 0 || c.Node >= len(md.Nodes) || c.Sampler < 0 || c.Sampler >= len(a.Samplers) {
				return fmt.Errorf("%w: animation %d channel %d", ErrInvalidMesh, ai, ci)
			}
		}
		for si, s := range a.Samplers {
			expected := len(s.Inputs)
			if s.Interpolation == InterpolationCubicSpline {
				// in-tangent, value, out-tangent per key
				expected *= 3
			}
			if len(s.Inputs) == 0 || len(s.Outputs) != expected {
				return fmt.Errorf("%w: animation %d sampler %d has %d inputs and %d outputs", ErrInvalidMesh, ai, si, len(s.Inputs), len(s.Outputs))
			}
		}
	}
	return nil
}
