package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dudu/dejpeg/internal/codec"
	"github.com/dudu/dejpeg/internal/inference"
	"github.com/dudu/dejpeg/internal/tiler"
)

type tileResult struct {
	tile    int
	elapsed time.Duration
	err     *Error
}

// processTile encodes, runs and decodes one tile and hands the result to the
// scratch store. The reported duration starts once the tile holds the run slot,
// so time spent queued behind other workers does not inflate the estimate
func (r *run) processTile(ctx context.Context, t tiler.Tile) tileResult {
	res := tileResult{tile: t.Index}

	if err := r.cancelled(ctx); err != nil {
		res.err = newError(KindCancelled, t.Index, err)
		return res
	}
	r.reporter.Start(t.Index)

	padW, padH := r.paddedSize(t.W, t.H)
	region := r.req.Input.Sub(t.Rect())

	encStart := time.Now()
	planar, alpha, err := codec.Encode(ctx, region, r.prof.Channels, padW, padH, r.p.config.EncodeSoftBudget)
	r.addTiming(func(tm *Timing) { tm.Encode += time.Since(encStart) })
	if err != nil {
		res.err = r.classify(ctx, t.Index, KindCodec, err)
		return res
	}

	bindings := []inference.Binding{{
		Name:  r.prof.PrimaryInput,
		Shape: planar.Shape(),
		Data:  planar.Data,
	}}
	if r.prof.HasStrength() {
		bindings = append(bindings, inference.Binding{
			Name:  r.prof.StrengthInput,
			Shape: []int64{1, 1},
			Data:  []float32{r.req.Strength / 100},
		})
	}

	outputs, start, err := r.runModel(ctx, bindings)
	if err != nil {
		res.err = r.classify(ctx, t.Index, KindInference, err)
		return res
	}
	if err := r.cancelled(ctx); err != nil {
		res.err = newError(KindCancelled, t.Index, err)
		return res
	}

	decStart := time.Now()
	result, err := r.materialize(outputs, padW, padH)
	if err != nil {
		res.err = r.classify(ctx, t.Index, KindInference, err)
		return res
	}

	content := r.p.pool.Acquire(t.W, t.H)
	if err := codec.DecodeInto(content, result, alpha); err != nil {
		r.p.pool.Release(content)
		res.err = newError(KindCodec, t.Index, err)
		return res
	}
	r.addTiming(func(tm *Timing) { tm.Decode += time.Since(decStart) })

	if err := r.store.Put(t.Index, content); err != nil {
		res.err = newError(KindIO, t.Index, err)
		return res
	}

	res.elapsed = time.Since(start)
	return res
}

// runModel holds the run slot for the duration of one model call and returns
// when the slot was acquired
func (r *run) runModel(ctx context.Context, bindings []inference.Binding) ([]inference.Value, time.Time, error) {
	if err := r.p.runSlot.Acquire(ctx, 1); err != nil {
		return nil, time.Time{}, err
	}
	defer r.p.runSlot.Release(1)

	start := time.Now()
	outputs, err := r.req.Model.Run(ctx, bindings)
	r.addTiming(func(tm *Timing) { tm.Inference += time.Since(start) })
	return outputs, start, err
}

// materialize picks the image output and flattens it to planar form
func (r *run) materialize(outputs []inference.Value, padW, padH int) (codec.Planar, error) {
	idx := r.prof.PrimaryOutput
	if idx >= len(outputs) {
		return codec.Planar{}, &inference.RunError{
			Kind:   inference.OutputShapeUnexpected,
			Detail: fmt.Sprintf("model returned %d outputs, image output is #%d", len(outputs), idx),
		}
	}
	v := outputs[idx]

	channels := r.prof.OutputChannels
	switch len(v.Shape) {
	case 0:
	case 4:
		if v.Shape[0] != 1 || v.Shape[2] != int64(padH) || v.Shape[3] != int64(padW) {
			return codec.Planar{}, &inference.RunError{
				Kind:   inference.OutputShapeUnexpected,
				Detail: fmt.Sprintf("output shape %v for %dx%d input", v.Shape, padW, padH),
			}
		}
		channels = int(v.Shape[1])
	default:
		return codec.Planar{}, &inference.RunError{
			Kind:   inference.OutputShapeUnexpected,
			Detail: fmt.Sprintf("output has rank %d", len(v.Shape)),
		}
	}

	p, err := codec.Materialize(v.Data, channels, padH, padW)
	if err != nil {
		return codec.Planar{}, newError(KindCodec, -1, err)
	}
	return p, nil
}

// paddedSize returns the tensor extents for a w x h tile
func (r *run) paddedSize(w, h int) (int, int) {
	if r.prof.Static() {
		return max(w, r.prof.StaticWidth), max(h, r.prof.StaticHeight)
	}
	m := r.p.config.PadMultiple
	if m <= 1 {
		return w, h
	}
	return (w + m - 1) / m * m, (h + m - 1) / m * m
}

// classify wraps err in an *Error, reporting cancellation whenever the run
// context has ended
func (r *run) classify(ctx context.Context, tile int, kind ErrorKind, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		kind = pe.Kind
		err = pe.Err
	}
	if asCancelled(ctx, err) {
		return newError(KindCancelled, tile, err)
	}
	return newError(kind, tile, err)
}
