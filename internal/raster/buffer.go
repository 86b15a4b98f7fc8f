// Package raster holds the 8-bit RGBA pixel buffers that flow through the
// restoration pipeline, plus a small size-keyed pool for reusing them.
package raster

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// BytesPerPixel is the size of one RGBA sample.
const BytesPerPixel = 4

// Buffer is a row-major 8-bit RGBA raster.
// Premultiplication is whatever the producer wrote; nothing here multiplies or
// divides by alpha.
type Buffer struct {
	Width  int
	Height int
	Stride int // bytes between vertically adjacent pixels
	Pix    []uint8
}

// New allocates a zeroed w x h buffer.
func New(w, h int) *Buffer {
	if w < 0 || h < 0 {
		panic(fmt.Sprintf("raster: negative size %dx%d", w, h))
	}
	return &Buffer{
		Width:  w,
		Height: h,
		Stride: w * BytesPerPixel,
		Pix:    make([]uint8, w*h*BytesPerPixel),
	}
}

// FromRGBA wraps an existing packed RGBA slice without copying it.
func FromRGBA(w, h int, pix []uint8) (*Buffer, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", w, h)
	}
	if len(pix) != w*h*BytesPerPixel {
		return nil, fmt.Errorf("pixel data size mismatch: expected %d, got %d", w*h*BytesPerPixel, len(pix))
	}
	return &Buffer{Width: w, Height: h, Stride: w * BytesPerPixel, Pix: pix}, nil
}

// FromImage converts any decoded image into a packed buffer with straight alpha.
func FromImage(img image.Image) *Buffer {
	r := img.Bounds()
	b := New(r.Dx(), r.Dy())
	b.Load(img)
	return b
}

// Load copies the top-left of img into the buffer as straight RGBA.
// NRGBA sources are copied byte for byte; others go through draw.Src.
func (b *Buffer) Load(img image.Image) {
	r := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok {
		w := min(b.Width, r.Dx()) * BytesPerPixel
		for y := 0; y < min(b.Height, r.Dy()); y++ {
			i := n.PixOffset(r.Min.X, r.Min.Y+y)
			copy(b.Pix[y*b.Stride:y*b.Stride+w], n.Pix[i:i+w])
		}
		return
	}
	draw.Draw(b.NRGBA(), b.Bounds(), img, r.Min, draw.Src)
}

// Bounds returns the buffer rectangle anchored at the origin.
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// PixOffset returns the index of the first byte of pixel (x, y).
func (b *Buffer) PixOffset(x, y int) int {
	return y*b.Stride + x*BytesPerPixel
}

// RGBA returns the channels of pixel (x, y).
func (b *Buffer) RGBA(x, y int) (r, g, bl, a uint8) {
	i := b.PixOffset(x, y)
	s := b.Pix[i : i+4 : i+4]
	return s[0], s[1], s[2], s[3]
}

// SetRGBA writes the channels of pixel (x, y).
func (b *Buffer) SetRGBA(x, y int, r, g, bl, a uint8) {
	i := b.PixOffset(x, y)
	s := b.Pix[i : i+4 : i+4]
	s[0], s[1], s[2], s[3] = r, g, bl, a
}

// Packed reports whether rows are contiguous with no padding between them.
func (b *Buffer) Packed() bool {
	return b.Stride == b.Width*BytesPerPixel && len(b.Pix) == b.Width*b.Height*BytesPerPixel
}

// Sub returns a view of r sharing the receiver's memory. r is clipped to the
// buffer bounds.
func (b *Buffer) Sub(r image.Rectangle) *Buffer {
	r = r.Intersect(b.Bounds())
	if r.Empty() {
		return &Buffer{}
	}
	start := b.PixOffset(r.Min.X, r.Min.Y)
	end := b.PixOffset(r.Max.X-1, r.Max.Y-1) + BytesPerPixel
	return &Buffer{
		Width:  r.Dx(),
		Height: r.Dy(),
		Stride: b.Stride,
		Pix:    b.Pix[start:end:end],
	}
}

// CopyFrom copies src into the receiver with src's origin placed at (x, y).
// Pixels falling outside the receiver are skipped.
func (b *Buffer) CopyFrom(src *Buffer, x, y int) {
	dst := b.Sub(image.Rect(x, y, x+src.Width, y+src.Height))
	for row := 0; row < dst.Height; row++ {
		n := dst.Width * BytesPerPixel
		copy(dst.Pix[row*dst.Stride:row*dst.Stride+n], src.Pix[row*src.Stride:row*src.Stride+n])
	}
}

// Clone returns a packed copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	out := New(b.Width, b.Height)
	out.CopyFrom(b, 0, 0)
	return out
}

// HasAlpha reports whether any pixel is not fully opaque.
func (b *Buffer) HasAlpha() bool {
	for y := 0; y < b.Height; y++ {
		row := b.Pix[y*b.Stride : y*b.Stride+b.Width*BytesPerPixel]
		for i := 3; i < len(row); i += BytesPerPixel {
			if row[i] != 0xff {
				return true
			}
		}
	}
	return false
}

// Clear zeroes every pixel.
func (b *Buffer) Clear() {
	if b.Packed() {
		clear(b.Pix)
		return
	}
	for y := 0; y < b.Height; y++ {
		clear(b.Pix[y*b.Stride : y*b.Stride+b.Width*BytesPerPixel])
	}
}

// NRGBA exposes the buffer as an image sharing the same memory.
func (b *Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{Pix: b.Pix, Stride: b.Stride, Rect: b.Bounds()}
}
