package assets

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProceduralMeshesAreValid(t *testing.T) {
	soldier := Soldier()
	require.NoError(t, soldier.Validate())
	assert.True(t, soldier.IsSkinned())
	assert.Len(t, soldier.Animations, 2)
	assert.Equal(t, "Walk", soldier.Animations[0].Name)

	cube := UnitCube()
	require.NoError(t, cube.Validate())
	assert.False(t, cube.IsSkinned())
}

func TestValidateRejectsBrokenMeshes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(md *MeshData)
	}{
		{"no vertices", func(md *MeshData) { md.Positions = nil }},
		{"index out of range", func(md *MeshData) { md.Indices[0] = 1000 }},
		{"primitive past indices", func(md *MeshData) { md.SubMeshes[0].Primitives[0].IndexCount = 1000 }},
		{"bad alpha mode", func(md *MeshData) { md.SubMeshes[0].Primitives[0].AlphaMode = AlphaMode(7) }},
		{"root with parent", func(md *MeshData) { md.RootNodes = []int{SoldierNodeHips} }},
		{"child parent mismatch", func(md *MeshData) { md.Nodes[SoldierNodeHips].Parent = SoldierNodeBody }},
		{"skin ibm mismatch", func(md *MeshData) { md.Skins[0].InverseBindMatrices = md.Skins[0].InverseBindMatrices[:1] }},
		{"channel sampler out of range", func(md *MeshData) { md.Animations[0].Channels[0].Sampler = 9 }},
		{"sampler output count", func(md *MeshData) { md.Animations[0].Samplers[0].Outputs = md.Animations[0].Samplers[0].Outputs[:1] }},
		{"joints without weights", func(md *MeshData) { md.Weights = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := Soldier()
			tt.mutate(md)
			err := md.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMesh)
		})
	}
}

func TestValidateAcceptsCubicSplineOutputs(t *testing.T) {
	md := Soldier()
	s := &md.Animations[0].Samplers[0]
	s.Interpolation = InterpolationCubicSpline
	s.Outputs = append(s.Outputs, s.Outputs...)
	s.Outputs = append(s.Outputs, s.Outputs[:2]...)
	assert.NoError(t, md.Validate())
}

type fakeDecoder struct {
	calls int
	md    *MeshData
}

func (d *fakeDecoder) Decode(path string) (*MeshData, error) {
	d.calls++
	if d.md == nil {
		return nil, errors.New("broken file")
	}
	return d.md, nil
}

func TestAssetManagerLoadMesh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Crate.fake"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.fake"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Other.unknown"), []byte("x"), 0o644))

	am := NewAssetManager()
	decoder := &fakeDecoder{md: UnitCube()}
	am.RegisterDecoder(".FAKE", decoder)
	am.RegisterMesh("Soldier", Soldier())
	require.NoError(t, am.Index(dir))

	md, err := am.LoadMesh("Soldier")
	require.NoError(t, err)
	assert.True(t, md.IsSkinned())

	md, err = am.LoadMesh("Crate")
	require.NoError(t, err)
	assert.Len(t, md.Nodes, 1)
	assert.Equal(t, 1, decoder.calls)

	_, err = am.LoadMesh("Ghost")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = am.LoadMesh("Other")
	assert.ErrorIs(t, err, ErrNoDecoder)

	decoder.md = nil
	_, err = am.LoadMesh("Broken")
	assert.Error(t, err)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTextureLoaderDecodesRGBA(t *testing.T) {
	tl := NewTextureLoader()
	tex, err := tl.DecodeBytes("albedo", encodePNG(t, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, "png", tex.Format)
	assert.Equal(t, uint32(4), tex.Width)
	assert.Equal(t, uint32(2), tex.Height)
	require.Len(t, tex.Pixels, 4*2*4)
	// pixel (3, 1)
	off := (1*4 + 3) * 4
	assert.Equal(t, []byte{255, 3, 1, 255}, tex.Pixels[off:off+4])
}

func TestTextureLoaderDownscales(t *testing.T) {
	tl := &TextureLoader{MaxDimension: 8}
	tex, err := tl.DecodeBytes("big", encodePNG(t, 32, 16))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), tex.Width)
	assert.Equal(t, uint32(4), tex.Height)
	assert.Len(t, tex.Pixels, 8*4*4)
}

func TestTextureLoaderRejectsGarbage(t *testing.T) {
	_, err := NewTextureLoader().DecodeBytes("bad", []byte("not an image"))
	assert.Error(t, err)
}

func TestAssetManagerLoadTexture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "albedo.png"), encodePNG(t, 2, 2), 0o644))

	am := NewAssetManager()
	require.NoError(t, am.Index(dir))
	tex, err := am.LoadTexture("albedo")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tex.Width)

	_, err = am.LoadTexture("missing")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestAssetManagerWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	am := NewAssetManager()
	require.NoError(t, am.Watch(dir))

	path := filepath.Join(dir, "Soldier.glb")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	select {
	case change := <-am.Changes():
		assert.Equal(t, "Soldier", change.Name)
		assert.False(t, change.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	require.NoError(t, am.Close())
	assert.ErrorIs(t, am.Close(), ErrManagerClosed)
	_, open := <-am.Changes()
	for open {
		_, open = <-am.Changes()
	}
}

func TestAssetName(t *testing.T) {
	assert.Equal(t, "Soldier", assetName("assets/models/Soldier.glb"))
	assert.Equal(t, "albedo", assetName("albedo.png"))
}
