package systems

import (
	"encoding/binary"
	"fmt"
	m "math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

const (
	// position(3) normal(3) tangent(4) joints(4 x u32) weights(4)
	VertexStride = 18 * 4
	UVStride     = 2 * 4
	// base color(4) emissive(3) metallic roughness cutoff textures(2) alpha mode, padded to 16
	MaterialStride = 16 * 4

	// Texture index written when a material references no texture.
	NoTexture = ^uint32(0)
)

type geometryReference struct {
	geometry       *model.Geometry
	referenceCount uint32
	textureNames   []string
}

/**
 * @brief Uploads the shared vertex, uv, index and material buffers of a mesh once and
 * hands out non-owning pointers to every essence built from it.
 */
type GeometrySystem struct {
	backend  renderer.RendererBackend
	textures *TextureSystem
	entries  map[string]*geometryReference
}

func NewGeometrySystem(backend renderer.RendererBackend, textures *TextureSystem) *GeometrySystem {
	return &GeometrySystem{
		backend:  backend,
		textures: textures,
		entries:  make(map[string]*geometryReference),
	}
}

/**
 * @brief Returns the geometry registered under key, uploading md the first time.
 * textures holds the decoded images referenced by the materials; missing ones fall
 * back to the default texture.
 */
func (gs *GeometrySystem) Acquire(key string, md *assets.MeshData, textures map[string]*assets.TextureData) (*model.Geometry, error) {
	if ref, ok := gs.entries[key]; ok {
		ref.referenceCount++
		return ref.geometry, nil
	}

	ref := &geometryReference{referenceCount: 1}
	g := &model.Geometry{
		VertexCount:  uint32(len(md.Positions)),
		IndexCount:   uint32(len(md.Indices)),
		VertexStride: VertexStride,
	}

	textureIndex := make(map[string]uint32)
	indexOf := func(name string) uint32 {
		if name == "" {
			return NoTexture
		}
		if idx, ok := textureIndex[name]; ok {
			return idx
		}
		handle := gs.textures.GetDefaultTexture()
		if data, ok := textures[name]; ok && data != nil {
			h, err := gs.textures.Acquire(data)
			if err != nil {
				core.LogWarn("texture '%s' upload failed, using default: %s", name, err)
			} else {
				handle = h
				ref.textureNames = append(ref.textureNames, name)
			}
		} else {
			core.LogWarn("texture '%s' not available, using default", name)
		}
		idx := uint32(len(g.Textures))
		g.Textures = append(g.Textures, handle)
		textureIndex[name] = idx
		return idx
	}
	materials := encodeMaterials(md, indexOf)

	var err error
	if g.VertexBuffer, err = gs.upload(key+".vertices", renderer.BufferUsageVertex|renderer.BufferUsageStorage, encodeVertices(md)); err != nil {
		return nil, err
	}
	if g.UVBuffer, err = gs.upload(key+".uvs", renderer.BufferUsageVertex, encodeUVs(md)); err != nil {
		gs.destroy(ref, g)
		return nil, err
	}
	if g.IndexBuffer, err = gs.upload(key+".indices", renderer.BufferUsageIndex, encodeIndices(md)); err != nil {
		gs.destroy(ref, g)
		return nil, err
	}
	if g.MaterialBuffer, err = gs.upload(key+".materials", renderer.BufferUsageStorage, materials); err != nil {
		gs.destroy(ref, g)
		return nil, err
	}

	ref.geometry = g
	gs.entries[key] = ref
	core.LogDebug("geometry '%s' uploaded: %d vertices, %d indices, %d textures", key, g.VertexCount, g.IndexCount, len(g.Textures))
	return g, nil
}

// Release destroys the GPU buffers when the last essence using key goes away.
func (gs *GeometrySystem) Release(key string) {
	ref, ok := gs.entries[key]
	if !ok {
		core.LogWarn("GeometrySystem.Release called for unknown geometry '%s'", key)
		return
	}
	ref.referenceCount--
	if ref.referenceCount > 0 {
		return
	}
	gs.destroy(ref, ref.geometry)
	delete(gs.entries, key)
}

func (gs *GeometrySystem) Count() int {
	return len(gs.entries)
}

func (gs *GeometrySystem) Shutdown() error {
	for key, ref := range gs.entries {
		gs.destroy(ref, ref.geometry)
		delete(gs.entries, key)
	}
	return nil
}

func (gs *GeometrySystem) upload(name string, usage renderer.BufferUsage, data []byte) (renderer.BufferHandle, error) {
	if len(data) == 0 {
		// zero sized buffers are invalid on most devices
		data = make([]byte, 4)
	}
	h, err := gs.backend.CreateBuffer(renderer.BufferDesc{
		Name:        name,
		Size:        uint64(len(data)),
		Usage:       usage | renderer.BufferUsageTransferDst,
		HostVisible: true,
	})
	if err != nil {
		return renderer.InvalidHandle, fmt.Errorf("failed to create buffer '%s': %w", name, err)
	}
	if err := gs.backend.WriteBuffer(h, 0, data); err != nil {
		gs.backend.DestroyBuffer(h)
		return renderer.InvalidHandle, fmt.Errorf("failed to upload buffer '%s': %w", name, err)
	}
	return h, nil
}

func (gs *GeometrySystem) destroy(ref *geometryReference, g *model.Geometry) {
	for _, h := range []renderer.BufferHandle{g.VertexBuffer, g.UVBuffer, g.IndexBuffer, g.MaterialBuffer} {
		if h != renderer.InvalidHandle {
			gs.backend.DestroyBuffer(h)
		}
	}
	for _, name := range ref.textureNames {
		gs.textures.Release(name)
	}
	ref.textureNames = nil
}

func putFloats(dst []byte, fs ...float32) []byte {
	for _, f := range fs {
		dst = binary.LittleEndian.AppendUint32(dst, m.Float32bits(f))
	}
	return dst
}

func encodeVertices(md *assets.MeshData) []byte {
	buf := make([]byte, 0, len(md.Positions)*VertexStride)
	for i, p := range md.Positions {
		buf = putFloats(buf, p[:]...)

		normal := mgl32.Vec3{0, 1, 0}
		if i < len(md.Normals) {
			normal = md.Normals[i]
		}
		buf = putFloats(buf, normal[:]...)

		tangent := mgl32.Vec4{1, 0, 0, 1}
		if i < len(md.Tangents) {
			tangent = md.Tangents[i]
		}
		buf = putFloats(buf, tangent[:]...)

		var joints [4]uint32
		var weights mgl32.Vec4
		if i < len(md.Joints) {
			joints, weights = md.Joints[i], md.Weights[i]
		}
		for _, j := range joints {
			buf = binary.LittleEndian.AppendUint32(buf, j)
		}
		buf = putFloats(buf, weights[:]...)
	}
	return buf
}

func encodeUVs(md *assets.MeshData) []byte {
	buf := make([]byte, 0, len(md.Positions)*UVStride)
	for i := range md.Positions {
		var uv mgl32.Vec2
		if i < len(md.UVs) {
			uv = md.UVs[i]
		}
		buf = putFloats(buf, uv[:]...)
	}
	return buf
}

func encodeIndices(md *assets.MeshData) []byte {
	buf := make([]byte, 0, len(md.Indices)*4)
	for _, idx := range md.Indices {
		buf = binary.LittleEndian.AppendUint32(buf, idx)
	}
	return buf
}

// encodeMaterials writes one block per primitive in submesh order, matching DrawItem.Material.
func encodeMaterials(md *assets.MeshData, textureIndex func(name string) uint32) []byte {
	var buf []byte
	for _, sm := range md.SubMeshes {
		for _, p := range sm.Primitives {
			mat := p.Material
			buf = putFloats(buf, mat.BaseColorFactor[:]...)
			buf = putFloats(buf, mat.EmissiveFactor[:]...)
			buf = putFloats(buf, mat.MetallicFactor, mat.RoughnessFactor, mat.AlphaCutoff)
			buf = binary.LittleEndian.AppendUint32(buf, textureIndex(mat.BaseColorTexture))
			buf = binary.LittleEndian.AppendUint32(buf, textureIndex(mat.NormalTexture))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(p.AlphaMode))
			buf = append(buf, make([]byte, 3*4)...)
		}
	}
	return buf
}
