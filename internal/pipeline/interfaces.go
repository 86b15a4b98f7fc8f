package pipeline

import (
	"context"

	"github.com/dudu/dejpeg/internal/inference"
)

// Introspector exposes a model's tensor descriptors
type Introspector interface {
	Introspect() (map[string]inference.TensorSpec, []inference.TensorSpec)
}

// Runner executes a model once
type Runner interface {
	Run(ctx context.Context, inputs []inference.Binding) ([]inference.Value, error)
}

// Model is what the pipeline needs from a loaded session. The pipeline never
// closes it; *inference.Session and any inference.Backend satisfy it
type Model interface {
	Name() string
	Introspector
	Runner
}

var _ Model = (inference.Backend)(nil)
