package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind int

const (
	KindProfile ErrorKind = iota
	KindCodec
	KindInference
	KindIO
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindProfile:
		return "profile"
	case KindCodec:
		return "codec"
	case KindInference:
		return "inference"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by Run. Tile is the failing tile index, or -1
type Error struct {
	Kind ErrorKind
	Tile int
	Err  error
}

func (e *Error) Error() string {
	var msg string
	if e.Tile >= 0 {
		msg = fmt.Sprintf("restore failed at tile %d: %s", e.Tile, e.Kind)
	} else {
		msg = fmt.Sprintf("restore failed: %s", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare *Error of the same kind, such as ErrCancelled
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	// ErrCancelled matches every cancelled run
	ErrCancelled error = &Error{Kind: KindCancelled, Tile: -1}
	// ErrInvalidArgument is returned for a nil input or model and for
	// strength outside [0, 100]
	ErrInvalidArgument = errors.New("invalid argument")
)

func newError(kind ErrorKind, tile int, err error) *Error {
	return &Error{Kind: kind, Tile: tile, Err: err}
}
