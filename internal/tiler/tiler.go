// Package tiler splits large images into overlapping tiles and reassembles
// the processed tiles with feathered edges.
package tiler

import (
	"fmt"
	"image"
)

// MinTile is the smallest tile side produced for images at least that large.
const MinTile = 32

// Edges is a set of tile sides.
type Edges uint8

const (
	Left Edges = 1 << iota
	Top
	Right
	Bottom

	AllEdges = Left | Top | Right | Bottom
)

// Has reports whether every side in e2 is set.
func (e Edges) Has(e2 Edges) bool { return e&e2 == e2 }

// Tile is one rectangular region of the source image.
type Tile struct {
	Index  int // row-major position in the grid
	GX, GY int
	X, Y   int
	W, H   int
	// Boundary holds the sides lying on the image border. The remaining sides
	// are shared with a neighbour and get feathered.
	Boundary Edges
}

// Rect returns the tile rectangle in image coordinates.
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.W, t.Y+t.H)
}

func (t Tile) String() string {
	return fmt.Sprintf("tile %d (%d,%d) %dx%d+%d+%d", t.Index, t.GX, t.GY, t.W, t.H, t.X, t.Y)
}

// Grid is the ordered tile layout of one image.
type Grid struct {
	Width, Height int
	TileMax       int
	Overlap       int
	Cols, Rows    int
	StepX, StepY  int
	Tiles         []Tile // row-major
}

// Len returns the number of tiles.
func (g Grid) Len() int { return len(g.Tiles) }

type span struct{ start, size int }

// Plan lays out tiles over a w x h image. Neighbouring tiles overlap by
// exactly overlap pixels except where the last tile of a row or column was
// shifted inward to keep its short side at least MinTile.
func Plan(w, h, tileMax, overlap int) (Grid, error) {
	if w <= 0 || h <= 0 {
		return Grid{}, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	if tileMax < MinTile {
		return Grid{}, fmt.Errorf("tile size %d below minimum %d", tileMax, MinTile)
	}
	if overlap < 0 || overlap >= tileMax {
		return Grid{}, fmt.Errorf("overlap %d must be in [0, %d)", overlap, tileMax)
	}

	cols := spans(w, tileMax, overlap)
	rows := spans(h, tileMax, overlap)

	g := Grid{
		Width:   w,
		Height:  h,
		TileMax: tileMax,
		Overlap: overlap,
		Cols:    len(cols),
		Rows:    len(rows),
		StepX:   min(w, tileMax-overlap),
		StepY:   min(h, tileMax-overlap),
		Tiles:   make([]Tile, 0, len(cols)*len(rows)),
	}

	for gy, r := range rows {
		for gx, c := range cols {
			t := Tile{
				Index: len(g.Tiles),
				GX:    gx,
				GY:    gy,
				X:     c.start,
				Y:     r.start,
				W:     c.size,
				H:     r.size,
			}
			if c.start == 0 {
				t.Boundary |= Left
			}
			if c.start+c.size == w {
				t.Boundary |= Right
			}
			if r.start == 0 {
				t.Boundary |= Top
			}
			if r.start+r.size == h {
				t.Boundary |= Bottom
			}
			g.Tiles = append(g.Tiles, t)
		}
	}
	return g, nil
}

// spans places tiles along one axis of length n.
func spans(n, tileMax, overlap int) []span {
	if n <= tileMax {
		return []span{{0, n}}
	}

	step := tileMax - overlap
	count := (n - overlap + step - 1) / step
	out := make([]span, count)
	for k := range out {
		start := k * step
		out[k] = span{start, min(tileMax, n-start)}
	}

	last := &out[count-1]
	if last.size < MinTile {
		last.start = max(0, n-MinTile)
		last.size = n - last.start
	}
	return out
}

// Feather returns the per-pixel blend weight of t, row-major, as 8-bit alpha.
// On each side shared with a neighbour the weight rises linearly from 0 at the
// edge pixel to 255 at overlap/2 pixels in; border sides are not feathered.
func Feather(t Tile, overlap int) []uint8 {
	mask := make([]uint8, t.W*t.H)
	ramp := overlap / 2

	colWeight := make([]float64, t.W)
	for x := range colWeight {
		colWeight[x] = 1
		if !t.Boundary.Has(Left) {
			colWeight[x] = min(colWeight[x], rampAt(x, ramp))
		}
		if !t.Boundary.Has(Right) {
			colWeight[x] = min(colWeight[x], rampAt(t.W-1-x, ramp))
		}
	}

	for y := 0; y < t.H; y++ {
		rowWeight := 1.0
		if !t.Boundary.Has(Top) {
			rowWeight = min(rowWeight, rampAt(y, ramp))
		}
		if !t.Boundary.Has(Bottom) {
			rowWeight = min(rowWeight, rampAt(t.H-1-y, ramp))
		}

		row := mask[y*t.W : (y+1)*t.W]
		for x := range row {
			row[x] = quantize(min(rowWeight, colWeight[x]))
		}
	}
	return mask
}

// rampAt is the weight d pixels in from a shared edge.
func rampAt(d, ramp int) float64 {
	if ramp <= 0 || d >= ramp {
		return 1
	}
	return float64(d) / float64(ramp)
}

func quantize(a float64) uint8 {
	v := int(a*255 + 0.5)
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
