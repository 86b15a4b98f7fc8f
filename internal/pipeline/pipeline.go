// Package pipeline restores one image at a time: it profiles the model,
// splits the image into tiles when needed, runs every tile through the model
// and stitches the results back together
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dudu/dejpeg/internal/cancel"
	"github.com/dudu/dejpeg/internal/profile"
	"github.com/dudu/dejpeg/internal/progress"
	"github.com/dudu/dejpeg/internal/raster"
	"github.com/dudu/dejpeg/internal/scratch"
	"github.com/dudu/dejpeg/internal/tiler"
)

// Timing holds performance timing information for the last run. Encode,
// Inference and Decode are summed over tiles
type Timing struct {
	Encode    time.Duration
	Inference time.Duration
	Decode    time.Duration
	Stitch    time.Duration
	Total     time.Duration
	Tiles     int
	Tiled     bool
}

// Request is one restoration call
type Request struct {
	Input *raster.Buffer
	// Strength in [0, 100] is bound as strength/100 for models that take a
	// quality scalar and ignored otherwise
	Strength float32
	Model    Model
	// Cancel and Progress may be nil
	Cancel   *cancel.Token
	Progress progress.Sink

	// ImageIndex (1-based) and ImageCount position the image in a batch
	ImageIndex int
	ImageCount int
}

// Pipeline orchestrates tiled restoration
type Pipeline struct {
	config Config
	log    *slog.Logger
	pool   *raster.Pool

	// serialises model runs across workers and concurrent calls
	runSlot *semaphore.Weighted

	mu         sync.Mutex
	lastTiming Timing
}

// New creates a pipeline with the given configuration. Zero fields take
// their defaults
func New(config Config) *Pipeline {
	config = config.withDefaults()
	return &Pipeline{
		config:  config,
		log:     config.Logger,
		pool:    raster.NewPool(config.PoolCapacity),
		runSlot: semaphore.NewWeighted(1),
	}
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.config
}

// Profile derives the tiling profile used for m
func (p *Pipeline) Profile(m Model) (profile.Profile, error) {
	inputs, outputs := m.Introspect()
	return profile.Derive(m.Name(), inputs, outputs, profile.Overrides{
		TileMax:  p.config.TileMax,
		Overlap:  p.config.TileOverlap,
		Channels: p.config.Channels,
	})
}

// Direct reports whether a w x h image is processed as a single tile without
// splitting
func (p *Pipeline) Direct(prof profile.Profile, w, h int) bool {
	return max(w, h) <= prof.TileMax && int64(w)*int64(h)*raster.BytesPerPixel <= p.config.MemoryBudget
}

// Run restores req.Input and returns a new buffer of the same size
//
// Errors are *Error values except for ErrInvalidArgument. The last event
// delivered to req.Progress is always a final one (Done, Failed or Cancelled)
func (p *Pipeline) Run(ctx context.Context, req Request) (*raster.Buffer, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, stop := req.Cancel.Context(ctx)
	defer stop()

	start := time.Now()
	r := &run{
		p:      p,
		req:    req,
		timing: Timing{},
	}
	out, err := r.execute(ctx)
	r.timing.Total = time.Since(start)

	p.mu.Lock()
	p.lastTiming = r.timing
	p.mu.Unlock()

	return out, err
}

func validate(req Request) error {
	if req.Input == nil || req.Input.Width <= 0 || req.Input.Height <= 0 {
		return fmt.Errorf("%w: empty input", ErrInvalidArgument)
	}
	if req.Model == nil {
		return fmt.Errorf("%w: no model", ErrInvalidArgument)
	}
	s := float64(req.Strength)
	if math.IsNaN(s) || s < 0 || s > 100 {
		return fmt.Errorf("%w: strength %v outside [0, 100]", ErrInvalidArgument, req.Strength)
	}
	return nil
}

// LastTiming returns timing from the last Run call
func (p *Pipeline) LastTiming() Timing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTiming
}

// Close releases pooled buffers
func (p *Pipeline) Close() error {
	p.pool.Clear()
	return nil
}

// PoolStats returns tile buffer pool counters
func (p *Pipeline) PoolStats() raster.PoolStats {
	return p.pool.Stats()
}

// run is the state of one Run call
type run struct {
	p    *Pipeline
	req  Request
	prof profile.Profile
	grid tiler.Grid

	store    scratch.Store
	reporter *progress.Reporter

	mu     sync.Mutex // guards timing
	timing Timing
}

func (r *run) execute(ctx context.Context) (*raster.Buffer, error) {
	in := r.req.Input
	log := r.p.log

	if err := ctx.Err(); err != nil {
		return nil, r.fail(newError(KindCancelled, -1, err))
	}

	prof, err := r.p.Profile(r.req.Model)
	if err != nil {
		return nil, r.fail(newError(KindProfile, -1, err))
	}
	r.prof = prof

	if r.p.Direct(prof, in.Width, in.Height) {
		r.grid, err = tiler.Plan(in.Width, in.Height, max(in.Width, in.Height, tiler.MinTile), 0)
	} else {
		r.grid, err = tiler.Plan(in.Width, in.Height, prof.TileMax, prof.Overlap)
		r.timing.Tiled = true
	}
	if err != nil {
		return nil, r.fail(newError(KindProfile, -1, err))
	}
	r.timing.Tiles = r.grid.Len()

	workers := min(r.p.config.Workers, r.grid.Len())
	r.reporter = progress.NewReporter(max(r.req.ImageIndex, 1), r.req.ImageCount, r.grid.Len(), workers)

	if int64(in.Width)*int64(in.Height)*raster.BytesPerPixel > r.p.config.MemoryBudget {
		disk, err := scratch.NewDisk(r.p.config.ScratchDir, r.p.pool)
		if err != nil {
			return nil, r.fail(newError(KindIO, -1, err))
		}
		r.store = disk
	} else {
		r.store = scratch.NewMemory()
	}
	defer func() {
		if err := r.store.Close(); err != nil {
			log.Warn("scratch cleanup failed", "error", err)
		}
	}()

	log.Debug("restore started",
		"model", prof.Name,
		"width", in.Width,
		"height", in.Height,
		"channels", prof.Channels,
		"strength_input", prof.StrengthInput,
		"tiled", r.timing.Tiled,
		"tiles", r.grid.Len(),
		"workers", workers,
	)

	out := raster.New(in.Width, in.Height)
	if err := r.process(ctx, out, workers); err != nil {
		return nil, r.fail(err)
	}

	r.reporter.Finish(progress.Done, nil)
	r.emit()
	st := r.reporter.Stats()
	log.Debug("restore done",
		"tiles", r.grid.Len(),
		"tile_mean", st.Mean,
		"tile_median", st.Median,
		"tile_stddev", st.StdDev,
	)
	return out, nil
}

// process runs every tile through the worker pool and stitches the results
// in grid order on the calling goroutine
func (r *run) process(ctx context.Context, out *raster.Buffer, workers int) *Error {
	ctx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	results := make(chan tileResult, r.grid.Len())
	sem := semaphore.NewWeighted(int64(workers))

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()
		for _, t := range r.grid.Tiles {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(t tiler.Tile) {
				defer wg.Done()
				defer sem.Release(1)
				results <- r.processTile(ctx, t)
			}(t)
		}
	}()

	stitcher := tiler.NewStitcher(out, r.grid.Overlap)
	ready := make([]bool, r.grid.Len())
	next := 0

	var firstErr *Error
	fail := func(err *Error) {
		if firstErr == nil {
			firstErr = err
			stopWork()
		}
	}

	for res := range results {
		if firstErr != nil {
			continue // drain
		}
		if res.err != nil {
			fail(res.err)
			continue
		}

		r.reporter.Done(res.tile, res.elapsed)
		r.p.log.Debug("tile done", "tile", res.tile, "elapsed", res.elapsed)
		r.emit()
		if err := r.cancelled(ctx); err != nil {
			fail(newError(KindCancelled, res.tile, err))
			continue
		}

		ready[res.tile] = true
		for next < len(ready) && ready[next] {
			if err := r.stitch(stitcher, next); err != nil {
				fail(err)
				break
			}
			next++
			if err := r.cancelled(ctx); err != nil {
				fail(newError(KindCancelled, next-1, err))
				break
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if next != r.grid.Len() {
		// scheduler stopped early without a tile error
		return newError(KindCancelled, next, context.Cause(ctx))
	}
	return nil
}

func (r *run) stitch(s *tiler.Stitcher, idx int) *Error {
	start := time.Now()
	content, err := r.store.Take(idx)
	if err != nil {
		return newError(KindIO, idx, err)
	}
	defer r.p.pool.Release(content)

	if err := s.Draw(r.grid.Tiles[idx], content); err != nil {
		return newError(KindCodec, idx, err)
	}
	r.addTiming(func(t *Timing) { t.Stitch += time.Since(start) })
	return nil
}

// cancelled checks the context and the token directly, since the token only
// reaches the context through a goroutine
func (r *run) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.req.Cancel.Triggered() {
		return context.Canceled
	}
	return nil
}

func (r *run) emit() {
	if r.req.Progress == nil {
		return
	}
	r.req.Progress.OnProgress(r.reporter.Snapshot())
}

// fail records the terminal state, emits the final event and returns err
func (r *run) fail(err *Error) error {
	state := progress.Failed
	if err.Kind == KindCancelled {
		state = progress.Cancelled
	}
	r.p.log.Debug("restore stopped", "state", state, "error", err)

	if r.reporter == nil {
		r.reporter = progress.NewReporter(max(r.req.ImageIndex, 1), r.req.ImageCount, 0, 1)
	}
	r.reporter.Finish(state, err)
	r.emit()
	return err
}

func (r *run) addTiming(f func(*Timing)) {
	r.mu.Lock()
	f(&r.timing)
	r.mu.Unlock()
}

// asCancelled reports whether err stems from ctx ending
func asCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
