package inference

import "fmt"

// LoadErrorKind classifies model load failures
type LoadErrorKind int

const (
	FileMissing LoadErrorKind = iota
	UnreadableFormat
	IncompatibleRuntime
)

func (k LoadErrorKind) String() string {
	switch k {
	case FileMissing:
		return "file missing"
	case UnreadableFormat:
		return "unreadable format"
	case IncompatibleRuntime:
		return "incompatible runtime"
	default:
		return fmt.Sprintf("LoadErrorKind(%d)", int(k))
	}
}

// LoadError is returned by Load
type LoadError struct {
	Kind LoadErrorKind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to load model %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("failed to load model %s: %s", e.Path, e.Kind)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RunErrorKind classifies failures of a single model run
type RunErrorKind int

const (
	InputShapeMismatch RunErrorKind = iota
	OutputShapeUnexpected
	InferenceAborted
	BackendError
)

func (k RunErrorKind) String() string {
	switch k {
	case InputShapeMismatch:
		return "input shape mismatch"
	case OutputShapeUnexpected:
		return "unexpected output shape"
	case InferenceAborted:
		return "inference aborted"
	case BackendError:
		return "backend error"
	default:
		return fmt.Sprintf("RunErrorKind(%d)", int(k))
	}
}

// RunError is returned by Backend.Run
type RunError struct {
	Kind   RunErrorKind
	Detail string
	Err    error
}

func (e *RunError) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// Is matches another *RunError of the same kind, so callers can test with
// errors.Is(err, &RunError{Kind: InferenceAborted})
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	return ok && t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// ErrAborted matches any run that was interrupted
var ErrAborted error = &RunError{Kind: InferenceAborted}
