package tiler

import (
	"fmt"

	"github.com/dudu/dejpeg/internal/raster"
)

// Stitcher composites processed tiles into the output raster.
// Tiles must be drawn in grid order for the output to be deterministic.
type Stitcher struct {
	out     *raster.Buffer
	overlap int
	drawn   int
}

// NewStitcher returns a stitcher writing into out, which should start zeroed.
func NewStitcher(out *raster.Buffer, overlap int) *Stitcher {
	return &Stitcher{out: out, overlap: overlap}
}

// Drawn returns the number of tiles composited so far.
func (s *Stitcher) Drawn() int { return s.drawn }

// Draw blends content over the output at t's position using t's feather mask
// with straight-alpha source-over on all four channels.
func (s *Stitcher) Draw(t Tile, content *raster.Buffer) error {
	if content.Width != t.W || content.Height != t.H {
		return fmt.Errorf("%s: content is %dx%d", t, content.Width, content.Height)
	}
	if t.X < 0 || t.Y < 0 || t.X+t.W > s.out.Width || t.Y+t.H > s.out.Height {
		return fmt.Errorf("%s: outside %dx%d output", t, s.out.Width, s.out.Height)
	}

	mask := Feather(t, s.overlap)
	for y := 0; y < t.H; y++ {
		src := content.Pix[y*content.Stride : y*content.Stride+t.W*raster.BytesPerPixel]
		o := s.out.PixOffset(t.X, t.Y+y)
		dst := s.out.Pix[o : o+t.W*raster.BytesPerPixel]
		weights := mask[y*t.W : (y+1)*t.W]

		for x, m := range weights {
			i := x * raster.BytesPerPixel
			switch m {
			case 0:
			case 255:
				copy(dst[i:i+4], src[i:i+4])
			default:
				a := float32(m) / 255
				for c := 0; c < 4; c++ {
					dst[i+c] = blend(src[i+c], dst[i+c], a)
				}
			}
		}
	}

	s.drawn++
	return nil
}

func blend(src, dst uint8, a float32) uint8 {
	v := float32(src)*a + float32(dst)*(1-a) + 0.5
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}
