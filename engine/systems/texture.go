package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/** @brief The name of the default texture. */
const DEFAULT_TEXTURE_NAME = "default"

type textureReference struct {
	handle         renderer.TextureHandle
	referenceCount uint32
}

/**
 * @brief Reference counted sampled textures. Decoding happens on a job worker;
 * Acquire only uploads already decoded pixels and must run on the main thread.
 */
type TextureSystem struct {
	backend        renderer.RendererBackend
	textures       map[string]*textureReference
	defaultTexture renderer.TextureHandle
}

func NewTextureSystem(backend renderer.RendererBackend) (*TextureSystem, error) {
	ts := &TextureSystem{
		backend:  backend,
		textures: make(map[string]*textureReference),
	}
	// 1x1 opaque white used when a material has no texture or it failed to load
	h, err := backend.CreateTexture(renderer.TextureDesc{Name: DEFAULT_TEXTURE_NAME, Width: 1, Height: 1, Layers: 1}, []byte{255, 255, 255, 255})
	if err != nil {
		return nil, fmt.Errorf("failed to create default texture: %w", err)
	}
	ts.defaultTexture = h
	return ts, nil
}

func (ts *TextureSystem) GetDefaultTexture() renderer.TextureHandle {
	return ts.defaultTexture
}

// Acquire uploads data on first use and increments the reference count.
func (ts *TextureSystem) Acquire(data *assets.TextureData) (renderer.TextureHandle, error) {
	if ref, ok := ts.textures[data.Name]; ok {
		ref.referenceCount++
		return ref.handle, nil
	}
	h, err := ts.backend.CreateTexture(renderer.TextureDesc{
		Name:   data.Name,
		Width:  data.Width,
		Height: data.Height,
		Layers: 1,
	}, data.Pixels)
	if err != nil {
		return renderer.InvalidHandle, err
	}
	ts.textures[data.Name] = &textureReference{handle: h, referenceCount: 1}
	return h, nil
}

// Release destroys the texture when its last reference goes away.
func (ts *TextureSystem) Release(name string) {
	ref, ok := ts.textures[name]
	if !ok {
		core.LogWarn("TextureSystem.Release called for unknown texture '%s'", name)
		return
	}
	ref.referenceCount--
	if ref.referenceCount == 0 {
		ts.backend.DestroyTexture(ref.handle)
		delete(ts.textures, name)
	}
}

func (ts *TextureSystem) Count() int {
	return len(ts.textures)
}

func (ts *TextureSystem) Shutdown() error {
	for name, ref := range ts.textures {
		ts.backend.DestroyTexture(ref.handle)
		delete(ts.textures, name)
	}
	ts.backend.DestroyTexture(ts.defaultTexture)
	return nil
}
