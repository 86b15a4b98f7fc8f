package pipeline

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/dudu/dejpeg/internal/raster"
)

// Config holds pipeline configuration
type Config struct {
	// TileMax and TileOverlap override the model profile when non-zero
	TileMax     int
	TileOverlap int
	// Channels overrides the channel count of models whose input channel
	// axis is dynamic (1 or 3; 0 guesses from the model name)
	Channels int

	// MemoryBudget is the largest image, in RGBA bytes, processed without
	// tiling. Tiles of larger images are spilled to ScratchDir
	MemoryBudget int64
	ScratchDir   string

	// Workers bounds how many tiles are encoded and decoded concurrently.
	// Model runs are always serialised
	Workers int

	// PadMultiple rounds tile sides up for models that need aligned input;
	// 1 disables padding
	PadMultiple int
	// EncodeSoftBudget is how long tensor packing runs before it starts
	// polling for cancellation; negative disables polling
	EncodeSoftBudget time.Duration

	PoolCapacity int

	// Logger receives debug events; nil discards them
	Logger *slog.Logger
}

// DefaultMemoryBudget is 16 Mi pixels of RGBA
const DefaultMemoryBudget = 16 * 1024 * 1024 * 4

// DefaultConfig returns the default configuration for this host
func DefaultConfig() Config {
	return Config{
		MemoryBudget:     DefaultMemoryBudget,
		Workers:          DefaultWorkers(runtime.NumCPU()),
		PadMultiple:      8,
		EncodeSoftBudget: 50 * time.Millisecond,
		PoolCapacity:     raster.DefaultPoolCapacity,
	}
}

// DefaultWorkers returns max(1, min(8, ceil(cpus/2)))
func DefaultWorkers(cpus int) int {
	return max(1, min(8, (cpus+1)/2))
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MemoryBudget <= 0 {
		c.MemoryBudget = d.MemoryBudget
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	switch {
	case c.PadMultiple == 0:
		c.PadMultiple = d.PadMultiple
	case c.PadMultiple < 0:
		c.PadMultiple = 1
	}
	if c.EncodeSoftBudget == 0 {
		c.EncodeSoftBudget = d.EncodeSoftBudget
	}
	if c.PoolCapacity <= 0 {
		c.PoolCapacity = d.PoolCapacity
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
