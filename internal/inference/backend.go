package inference

import (
	"context"
	"fmt"
	"strings"
)

// ElementType names the element type of a tensor
type ElementType string

const (
	Float32 ElementType = "float32"
	Float16 ElementType = "float16"
	Int64   ElementType = "int64"
	Other   ElementType = "other"
)

// Dynamic marks an extent resolved at bind time
const Dynamic = -1

// TensorSpec describes one model input or output
type TensorSpec struct {
	Name        string
	ElementType ElementType
	Shape       []int64 // Dynamic for free axes
}

// Rank returns the number of axes
func (s TensorSpec) Rank() int {
	return len(s.Shape)
}

// Extent returns axis i, or Dynamic when the axis is free or out of range
func (s TensorSpec) Extent(i int) int64 {
	if i < 0 || i >= len(s.Shape) || s.Shape[i] < 0 {
		return Dynamic
	}
	return s.Shape[i]
}

func (s TensorSpec) String() string {
	dims := make([]string, len(s.Shape))
	for i, d := range s.Shape {
		if d < 0 {
			dims[i] = "?"
		} else {
			dims[i] = fmt.Sprint(d)
		}
	}
	return fmt.Sprintf("%s %s[%s]", s.Name, s.ElementType, strings.Join(dims, ","))
}

// Binding is one named float32 input for a run
type Binding struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Value is one output of a run. Data is either a flat []float32 or a
// [][][][]float32 nest, depending on the backend
type Value struct {
	Shape []int64
	Data  any
}

// Backend is a loaded model that can be introspected and run
type Backend interface {
	// Name returns the model file name used for profile heuristics
	Name() string
	// Introspect returns the input descriptors keyed by name and the outputs in
	// declaration order
	Introspect() (map[string]TensorSpec, []TensorSpec)
	// Run executes the model once. Implementations should return a RunError
	// with kind InferenceAborted when ctx ends mid-run
	Run(ctx context.Context, inputs []Binding) ([]Value, error)
	// Close releases the model. It is idempotent
	Close() error
}

// ValidateBindings checks bindings against the input descriptors: every input
// must be bound exactly once with a compatible shape and matching data length
func ValidateBindings(inputs map[string]TensorSpec, bindings []Binding) error {
	seen := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		spec, ok := inputs[b.Name]
		if !ok {
			return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("unknown input %q", b.Name)}
		}
		if seen[b.Name] {
			return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("input %q bound twice", b.Name)}
		}
		seen[b.Name] = true

		if len(b.Shape) != spec.Rank() {
			return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("input %q has rank %d, want %d", b.Name, len(b.Shape), spec.Rank())}
		}
		size := int64(1)
		for i, d := range b.Shape {
			if d <= 0 {
				return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("input %q axis %d has extent %d", b.Name, i, d)}
			}
			if want := spec.Extent(i); want != Dynamic && want != d {
				return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("input %q axis %d is %d, want %d", b.Name, i, d, want)}
			}
			size *= d
		}
		if int64(len(b.Data)) != size {
			return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("input %q has %d elements, shape needs %d", b.Name, len(b.Data), size)}
		}
	}

	for name := range inputs {
		if !seen[name] {
			return &RunError{Kind: InputShapeMismatch, Detail: fmt.Sprintf("input %q not bound", name)}
		}
	}
	return nil
}
