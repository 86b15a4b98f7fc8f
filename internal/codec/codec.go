// Package codec converts between RGBA rasters and planar NCHW float32 tensors.
//
// Samples are normalised to [0, 1] by dividing by 255. Alpha never enters the
// model: Encode extracts it into a parallel buffer and Decode writes it back.
package codec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dudu/dejpeg/internal/raster"
)

var (
	// ErrSizeMismatch is returned when tensor data does not hold C*H*W samples.
	ErrSizeMismatch = errors.New("tensor size mismatch")
	// ErrUnsupportedOutput is returned for tensor values that are neither a
	// flat float32 slice nor a [1][C][H][W] float32 nest.
	ErrUnsupportedOutput = errors.New("unsupported tensor output")
)

// Planar is one image in NCHW layout with N=1.
type Planar struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Shape returns the NCHW shape of the tensor.
func (p Planar) Shape() []int64 {
	return []int64{1, int64(p.Channels), int64(p.Height), int64(p.Width)}
}

// Plane returns channel c as a row-major slice.
func (p Planar) Plane(c int) []float32 {
	n := p.Height * p.Width
	return p.Data[c*n : (c+1)*n]
}

// Encode packs src into a planar tensor with the given channel count, padded
// on the right and bottom to padW x padH by replicating the last column and
// row. channels must be 1 (luminance mean) or 3 (RGB).
//
// When src has any non-opaque pixel the alpha channel is returned as a
// separate w*h slice normalised to [0, 1]; otherwise alpha is nil.
//
// Once encoding has run longer than softBudget, ctx is polled after every row.
func Encode(ctx context.Context, src *raster.Buffer, channels, padW, padH int, softBudget time.Duration) (Planar, []float32, error) {
	w, h := src.Width, src.Height
	if w <= 0 || h <= 0 {
		return Planar{}, nil, fmt.Errorf("cannot encode empty raster %dx%d", w, h)
	}
	if channels != 1 && channels != 3 {
		return Planar{}, nil, fmt.Errorf("%w: %d channels", ErrUnsupportedOutput, channels)
	}
	if padW < w {
		padW = w
	}
	if padH < h {
		padH = h
	}

	p := Planar{
		Channels: channels,
		Height:   padH,
		Width:    padW,
		Data:     make([]float32, channels*padH*padW),
	}
	var alpha []float32
	if src.HasAlpha() {
		alpha = make([]float32, w*h)
	}

	plane := padH * padW
	start := time.Now()
	for y := 0; y < padH; y++ {
		sy := min(y, h-1)
		row := src.Pix[sy*src.Stride : sy*src.Stride+w*raster.BytesPerPixel]
		base := y * padW

		for x := 0; x < padW; x++ {
			i := min(x, w-1) * raster.BytesPerPixel
			r, g, b := row[i], row[i+1], row[i+2]

			if channels == 1 {
				gray := (int(r) + int(g) + int(b)) / 3
				p.Data[base+x] = float32(gray) / 255.0
			} else {
				p.Data[base+x] = float32(r) / 255.0
				p.Data[plane+base+x] = float32(g) / 255.0
				p.Data[2*plane+base+x] = float32(b) / 255.0
			}

			if alpha != nil && y < h && x < w {
				alpha[y*w+x] = float32(row[i+3]) / 255.0
			}
		}

		if softBudget > 0 && time.Since(start) > softBudget {
			if err := ctx.Err(); err != nil {
				return Planar{}, nil, err
			}
		}
	}

	return p, alpha, nil
}

// Decode converts p into a fresh w x h raster, cropping any padding.
func Decode(p Planar, w, h int, alpha []float32) (*raster.Buffer, error) {
	dst := raster.New(w, h)
	if err := DecodeInto(dst, p, alpha); err != nil {
		return nil, err
	}
	return dst, nil
}

// DecodeInto writes p into dst, whose size selects the top-left region of p.
// Single-channel tensors are replicated into R, G and B. Alpha comes from the
// given slice when present, else it is 255.
func DecodeInto(dst *raster.Buffer, p Planar, alpha []float32) error {
	w, h := dst.Width, dst.Height
	if p.Channels != 1 && p.Channels != 3 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedOutput, p.Channels)
	}
	if len(p.Data) != p.Channels*p.Height*p.Width {
		return fmt.Errorf("%w: have %d samples, want %d*%d*%d", ErrSizeMismatch, len(p.Data), p.Channels, p.Height, p.Width)
	}
	if p.Width < w || p.Height < h {
		return fmt.Errorf("%w: tensor %dx%d smaller than %dx%d", ErrSizeMismatch, p.Width, p.Height, w, h)
	}
	if alpha != nil && len(alpha) != w*h {
		return fmt.Errorf("%w: alpha has %d samples, want %d", ErrSizeMismatch, len(alpha), w*h)
	}

	plane := p.Height * p.Width
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*raster.BytesPerPixel]
		base := y * p.Width

		for x := 0; x < w; x++ {
			i := x * raster.BytesPerPixel
			r := toByte(p.Data[base+x])
			g, b := r, r
			if p.Channels == 3 {
				g = toByte(p.Data[plane+base+x])
				b = toByte(p.Data[2*plane+base+x])
			}
			a := uint8(255)
			if alpha != nil {
				a = toByte(alpha[y*w+x])
			}
			row[i], row[i+1], row[i+2], row[i+3] = r, g, b, a
		}
	}
	return nil
}

// Materialize flattens a backend output value into planar form. v may be a
// flat []float32 or a [1][C][H][W] nest. For flat data a channels value <= 0
// infers C from the slice length.
func Materialize(v any, channels, h, w int) (Planar, error) {
	switch data := v.(type) {
	case []float32:
		n := h * w
		if channels <= 0 {
			if n == 0 || len(data)%n != 0 {
				return Planar{}, fmt.Errorf("%w: %d samples for %dx%d", ErrSizeMismatch, len(data), w, h)
			}
			channels = len(data) / n
		}
		if len(data) != channels*n {
			return Planar{}, fmt.Errorf("%w: have %d samples, want %d*%d*%d", ErrSizeMismatch, len(data), channels, h, w)
		}
		return Planar{Channels: channels, Height: h, Width: w, Data: data}, nil

	case [][][][]float32:
		return flattenNested(data, channels, h, w)

	default:
		return Planar{}, fmt.Errorf("%w: %T", ErrUnsupportedOutput, v)
	}
}

func flattenNested(data [][][][]float32, channels, h, w int) (Planar, error) {
	if len(data) != 1 {
		return Planar{}, fmt.Errorf("%w: batch size %d", ErrUnsupportedOutput, len(data))
	}
	planes := data[0]
	if channels > 0 && len(planes) != channels {
		return Planar{}, fmt.Errorf("%w: have %d channels, want %d", ErrSizeMismatch, len(planes), channels)
	}

	out := Planar{Channels: len(planes), Height: h, Width: w, Data: make([]float32, len(planes)*h*w)}
	for c, plane := range planes {
		if len(plane) != h {
			return Planar{}, fmt.Errorf("%w: channel %d has %d rows, want %d", ErrSizeMismatch, c, len(plane), h)
		}
		for y, row := range plane {
			if len(row) != w {
				return Planar{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrSizeMismatch, y, len(row), w)
			}
			copy(out.Data[(c*h+y)*w:], row)
		}
	}
	return out, nil
}

// toByte maps [0, 1] to [0, 255] with round-to-nearest and clamping.
func toByte(v float32) uint8 {
	f := math.Round(float64(v) * 255.0)
	switch {
	case f >= 255:
		return 255
	case f > 0:
		return uint8(f)
	default:
		return 0 // negatives and NaN
	}
}
