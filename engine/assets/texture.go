package assets

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

/** @brief Decoded RGBA8 pixels ready to be uploaded as a sampled texture. */
type TextureData struct {
	Name   string
	Width  uint32
	Height uint32
	// 4 bytes per pixel, row-major.
	Pixels []byte
	// Format reported by the decoder (png, jpeg, bmp, tiff, webp).
	Format string
}

// TextureLoader decodes the image formats registered with the image package.
type TextureLoader struct {
	// Textures larger than this on either side are downscaled. Zero keeps the original size.
	MaxDimension int
}

func NewTextureLoader() *TextureLoader {
	return &TextureLoader{}
}

func (tl *TextureLoader) Load(name, path string) (*TextureData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open texture '%s': %w", path, err)
	}
	defer f.Close()
	return tl.Decode(name, f)
}

// DecodeBytes decodes an image embedded in a model file.
func (tl *TextureLoader) DecodeBytes(name string, data []byte) (*TextureData, error) {
	return tl.Decode(name, bytes.NewReader(data))
}

func (tl *TextureLoader) Decode(name string, r io.Reader) (*TextureData, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode texture '%s': %w", name, err)
	}

	bounds := img.Bounds()
	dst := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	if tl.MaxDimension > 0 && (dst.Dx() > tl.MaxDimension || dst.Dy() > tl.MaxDimension) {
		dst = fitInside(dst, tl.MaxDimension)
	}

	rgba := image.NewRGBA(dst)
	if dst.Dx() == bounds.Dx() && dst.Dy() == bounds.Dy() {
		draw.Draw(rgba, dst, img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(rgba, dst, img, bounds, draw.Src, nil)
	}

	return &TextureData{
		Name:   name,
		Width:  uint32(dst.Dx()),
		Height: uint32(dst.Dy()),
		Pixels: rgba.Pix,
		Format: format,
	}, nil
}

func fitInside(r image.Rectangle, limit int) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w >= h {
		return image.Rect(0, 0, limit, maxInt(1, h*limit/w))
	}
	return image.Rect(0, 0, maxInt(1, w*limit/h), limit)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
