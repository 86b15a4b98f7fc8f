package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dudu/dejpeg/internal/inference"
	"github.com/dudu/dejpeg/internal/progress"
	"github.com/dudu/dejpeg/internal/raster"
)

// stubModel is an in-memory Model whose behaviour is a function of its
// bindings
type stubModel struct {
	name    string
	inputs  map[string]inference.TensorSpec
	outputs []inference.TensorSpec
	fn      func(ctx context.Context, bindings []inference.Binding) ([]inference.Value, error)

	calls  atomic.Int32
	mu     sync.Mutex
	shapes [][]int64
}

func (m *stubModel) Name() string { return m.name }

func (m *stubModel) Introspect() (map[string]inference.TensorSpec, []inference.TensorSpec) {
	return m.inputs, m.outputs
}

func (m *stubModel) Run(ctx context.Context, bindings []inference.Binding) ([]inference.Value, error) {
	m.calls.Add(1)
	if err := inference.ValidateBindings(m.inputs, bindings); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.shapes = append(m.shapes, bindings[0].Shape)
	m.mu.Unlock()
	return m.fn(ctx, bindings)
}

func (m *stubModel) Close() error { return nil }

var _ inference.Backend = (*stubModel)(nil)

func imageSpec(name string, shape ...int64) inference.TensorSpec {
	return inference.TensorSpec{Name: name, ElementType: inference.Float32, Shape: shape}
}

func newStub(name string, channels int64, withStrength bool, fn func(context.Context, []inference.Binding) ([]inference.Value, error)) *stubModel {
	inputs := map[string]inference.TensorSpec{
		"input": imageSpec("input", 1, channels, -1, -1),
	}
	if withStrength {
		inputs["qf"] = imageSpec("qf", 1, 1)
	}
	return &stubModel{
		name:    name,
		inputs:  inputs,
		outputs: []inference.TensorSpec{imageSpec("output", 1, channels, -1, -1)},
		fn:      fn,
	}
}

func binding(bindings []inference.Binding, name string) inference.Binding {
	for _, b := range bindings {
		if b.Name == name {
			return b
		}
	}
	return inference.Binding{}
}

// identity returns the image input unchanged
func identity(_ context.Context, bindings []inference.Binding) ([]inference.Value, error) {
	in := binding(bindings, "input")
	return []inference.Value{{
		Shape: append([]int64(nil), in.Shape...),
		Data:  append([]float32(nil), in.Data...),
	}}, nil
}

// nestedIdentity returns the image input as a [1][C][H][W] nest without a
// shape
func nestedIdentity(_ context.Context, bindings []inference.Binding) ([]inference.Value, error) {
	in := binding(bindings, "input")
	c, h, w := int(in.Shape[1]), int(in.Shape[2]), int(in.Shape[3])
	nest := make([][][]float32, c)
	for ci := range nest {
		nest[ci] = make([][]float32, h)
		for y := range nest[ci] {
			off := (ci*h + y) * w
			nest[ci][y] = append([]float32(nil), in.Data[off:off+w]...)
		}
	}
	return []inference.Value{{Data: [][][][]float32{nest}}}, nil
}

// strengthEcho fills an RGB output with the bound strength scalar
func strengthEcho(_ context.Context, bindings []inference.Binding) ([]inference.Value, error) {
	in := binding(bindings, "input")
	qf := binding(bindings, "qf").Data[0]
	shape := []int64{1, 3, in.Shape[2], in.Shape[3]}
	data := make([]float32, 3*in.Shape[2]*in.Shape[3])
	for i := range data {
		data[i] = qf
	}
	return []inference.Value{{Shape: shape, Data: data}}, nil
}

// contentDependent darkens each tile by an amount derived from its first
// sample, so overlapping tiles disagree and blending matters
func contentDependent(_ context.Context, bindings []inference.Binding) ([]inference.Value, error) {
	in := binding(bindings, "input")
	bias := in.Data[0] * 0.25
	data := make([]float32, len(in.Data))
	for i, v := range in.Data {
		data[i] = v*0.5 + bias
	}
	return []inference.Value{{Shape: in.Shape, Data: data}}, nil
}

// slow wraps fn with a per-call delay that honours ctx
func slow(d time.Duration, fn func(context.Context, []inference.Binding) ([]inference.Value, error)) func(context.Context, []inference.Binding) ([]inference.Value, error) {
	return func(ctx context.Context, bindings []inference.Binding) ([]inference.Value, error) {
		select {
		case <-time.After(d):
			return fn(ctx, bindings)
		case <-ctx.Done():
			return nil, &inference.RunError{Kind: inference.InferenceAborted, Err: ctx.Err()}
		}
	}
}

func failing(_ context.Context, _ []inference.Binding) ([]inference.Value, error) {
	return nil, &inference.RunError{Kind: inference.BackendError, Detail: "device lost"}
}

// recorder collects progress snapshots
type recorder struct {
	mu        sync.Mutex
	events    []progressEvent
	snapshots []progress.Snapshot
	onRun     func(progressEvent)
}

var _ progress.Sink = (*recorder)(nil)

type progressEvent struct {
	state string
	done  int
	total int
}

func (r *recorder) OnProgress(s progress.Snapshot) {
	e := progressEvent{state: s.State.String(), done: s.TilesDone, total: s.TilesTotal}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
	if s.State == progress.Running && r.onRun != nil {
		r.onRun(e)
	}
}

func (r *recorder) running() []progressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progressEvent
	for _, e := range r.events {
		if e.state == "running" {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last() progressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return progressEvent{}
	}
	return r.events[len(r.events)-1]
}

func solid(w, h int, r, g, b, a uint8) *raster.Buffer {
	buf := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.SetRGBA(x, y, r, g, b, a)
		}
	}
	return buf
}

func gradient(w, h int, alpha uint8) *raster.Buffer {
	buf := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.SetRGBA(x, y, uint8(x*3+y), uint8(y*5), uint8((x*y)>>4), alpha)
		}
	}
	return buf
}
