// Package scratch holds processed tiles between inference and stitching.
//
// Memory keeps buffers as they are. Disk spills each tile to a PNG file in a
// private directory, for images whose tiles would not fit the memory budget.
package scratch

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/dudu/dejpeg/internal/raster"
)

// ErrMissing is returned by Take for an index that was never stored.
var ErrMissing = errors.New("tile not in scratch store")

// Store is a set of processed tiles keyed by tile index. Implementations are
// safe for concurrent use.
type Store interface {
	// Put stores b under idx. The store takes ownership of b.
	Put(idx int, b *raster.Buffer) error
	// Take removes and returns the tile stored under idx.
	Take(idx int) (*raster.Buffer, error)
	// Len returns the number of stored tiles.
	Len() int
	// Close discards every stored tile.
	Close() error
}

// Memory is an in-memory Store.
type Memory struct {
	mu    sync.Mutex
	tiles map[int]*raster.Buffer
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tiles: make(map[int]*raster.Buffer)}
}

func (m *Memory) Put(idx int, b *raster.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[idx] = b
	return nil
}

func (m *Memory) Take(idx int) (*raster.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.tiles[idx]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissing, idx)
	}
	delete(m.tiles, idx)
	return b, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.tiles)
	return nil
}

// Disk is a Store writing one PNG per tile.
type Disk struct {
	dir  string
	pool *raster.Pool
	enc  png.Encoder

	mu     sync.Mutex
	files  map[int]string
	closed bool
}

// NewDisk creates a private directory under dir ("" selects os.TempDir).
// Buffers handed to Put are released to pool after writing and Take draws
// from it; pool may be nil.
func NewDisk(dir string, pool *raster.Pool) (*Disk, error) {
	path, err := os.MkdirTemp(dir, "dejpeg-tiles-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Disk{
		dir:   path,
		pool:  pool,
		enc:   png.Encoder{CompressionLevel: png.BestSpeed},
		files: make(map[int]string),
	}, nil
}

// Dir returns the scratch directory.
func (d *Disk) Dir() string { return d.dir }

func (d *Disk) Put(idx int, b *raster.Buffer) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("scratch store closed")
	}
	d.mu.Unlock()

	path := filepath.Join(d.dir, fmt.Sprintf("tile-%05d.png", idx))
	if err := d.write(path, b); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write tile %d: %w", idx, err)
	}
	d.pool.Release(b)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.Join(errors.New("scratch store closed"), os.Remove(path))
	}
	d.files[idx] = path
	return nil
}

func (d *Disk) write(path string, b *raster.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.enc.Encode(f, b.NRGBA()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *Disk) Take(idx int) (*raster.Buffer, error) {
	d.mu.Lock()
	path, ok := d.files[idx]
	delete(d.files, idx)
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissing, idx)
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile %d: %w", idx, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %d: %w", idx, err)
	}

	r := img.Bounds()
	b := d.pool.Acquire(r.Dx(), r.Dy())
	b.Load(img)
	return b, nil
}

func (d *Disk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// Close removes the scratch directory and everything in it.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	clear(d.files)

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	return nil
}
