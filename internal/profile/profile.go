// Package profile derives tiling and channel settings for a loaded model from
// its file name and tensor descriptors.
package profile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dudu/dejpeg/internal/inference"
)

// Family is the model architecture guessed from the file name.
type Family int

const (
	Generic Family = iota
	FBCNN
	SCUNet
)

func (f Family) String() string {
	switch f {
	case FBCNN:
		return "fbcnn"
	case SCUNet:
		return "scunet"
	default:
		return "generic"
	}
}

// Default tile limits per family.
const (
	DefaultTileMax = 1200
	DefaultOverlap = 32
	SCUNetTileMax  = 640
	SCUNetOverlap  = 128
	MinTileMax     = 32
)

// ErrorKind classifies profile failures.
type ErrorKind int

const (
	NoImageInput ErrorKind = iota
	NoImageOutput
	UnsupportedChannels
)

func (k ErrorKind) String() string {
	switch k {
	case NoImageInput:
		return "no image input"
	case NoImageOutput:
		return "no image output"
	case UnsupportedChannels:
		return "unsupported channel count"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by Derive.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "profile: " + e.Kind.String()
	}
	return "profile: " + e.Kind.String() + ": " + e.Detail
}

// Profile is the derived configuration for one model.
type Profile struct {
	Name   string
	Family Family

	PrimaryInput  string
	PrimaryOutput int
	// StrengthInput is empty when the model takes no quality scalar.
	StrengthInput string

	Channels       int // 1 or 3
	OutputChannels int // 1 or 3

	TileMax int
	Overlap int

	// StaticHeight and StaticWidth are non-zero when the model only accepts
	// that exact spatial size.
	StaticHeight int
	StaticWidth  int
}

// Color reports whether the model consumes RGB.
func (p Profile) Color() bool { return p.Channels == 3 }

// HasStrength reports whether the model takes a strength scalar.
func (p Profile) HasStrength() bool { return p.StrengthInput != "" }

// Static reports whether the model has fixed spatial extents.
func (p Profile) Static() bool { return p.StaticHeight > 0 && p.StaticWidth > 0 }

// Overrides replace derived values when non-zero.
type Overrides struct {
	TileMax int
	Overlap int
	// Channels is used when the primary input's channel axis is dynamic.
	Channels int
}

// FamilyOf guesses the family from a model file name.
func FamilyOf(name string) Family {
	base := strings.ToLower(filepath.Base(name))
	switch {
	case strings.HasPrefix(base, inference.PrefixSCUNet):
		return SCUNet
	case strings.HasPrefix(base, inference.PrefixFBCNN):
		return FBCNN
	default:
		return Generic
	}
}

// Derive builds the profile for a model named name with the given descriptors.
func Derive(name string, inputs map[string]inference.TensorSpec, outputs []inference.TensorSpec, o Overrides) (Profile, error) {
	p := Profile{Name: filepath.Base(name), Family: FamilyOf(name)}

	// Sorted for deterministic error details and strength selection.
	names := make([]string, 0, len(inputs))
	for n := range inputs {
		names = append(names, n)
	}
	sort.Strings(names)

	var images []string
	for _, n := range names {
		spec := inputs[n]
		if spec.ElementType == inference.Float32 && spec.Rank() == 4 {
			images = append(images, n)
		}
	}
	if len(images) != 1 {
		return Profile{}, &Error{Kind: NoImageInput, Detail: fmt.Sprintf("%d float32 rank-4 inputs", len(images))}
	}
	primary := inputs[images[0]]
	p.PrimaryInput = images[0]

	channels, err := inputChannels(p.Name, primary, o.Channels)
	if err != nil {
		return Profile{}, err
	}
	p.Channels = channels

	var scalars []string
	for _, n := range names {
		if n != p.PrimaryInput && isScalar(inputs[n]) {
			scalars = append(scalars, n)
		}
	}
	if len(scalars) == 1 {
		p.StrengthInput = scalars[0]
	}

	p.PrimaryOutput = -1
	for i, out := range outputs {
		if out.ElementType == inference.Float32 && out.Rank() == 4 {
			p.PrimaryOutput = i
			break
		}
	}
	if p.PrimaryOutput < 0 {
		return Profile{}, &Error{Kind: NoImageOutput, Detail: fmt.Sprintf("%d outputs, none float32 rank-4", len(outputs))}
	}
	switch c := outputs[p.PrimaryOutput].Extent(1); c {
	case inference.Dynamic:
		p.OutputChannels = p.Channels
	case 1, 3:
		p.OutputChannels = int(c)
	default:
		return Profile{}, &Error{Kind: UnsupportedChannels, Detail: fmt.Sprintf("output has %d channels", c)}
	}

	p.TileMax, p.Overlap = DefaultTileMax, DefaultOverlap
	if p.Family == SCUNet {
		p.TileMax, p.Overlap = SCUNetTileMax, SCUNetOverlap
	}
	if o.TileMax > 0 {
		p.TileMax = max(o.TileMax, MinTileMax)
	}
	if o.Overlap > 0 {
		p.Overlap = o.Overlap
		if p.Family == SCUNet {
			p.Overlap = max(p.Overlap, SCUNetOverlap)
		}
	}

	if h, w := primary.Extent(2), primary.Extent(3); h > 0 && w > 0 {
		p.StaticHeight, p.StaticWidth = int(h), int(w)
		p.TileMax = min(p.TileMax, p.StaticHeight, p.StaticWidth)
	}
	if p.Overlap >= p.TileMax {
		p.Overlap = p.TileMax / 2
	}

	return p, nil
}

func inputChannels(name string, spec inference.TensorSpec, override int) (int, error) {
	switch c := spec.Extent(1); c {
	case 1, 3:
		return int(c), nil
	case inference.Dynamic:
		if override == 1 || override == 3 {
			return override, nil
		}
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "color"):
			return 3, nil
		case strings.Contains(lower, "gray"):
			return 1, nil
		}
		return 3, nil
	default:
		return 0, &Error{Kind: UnsupportedChannels, Detail: fmt.Sprintf("input %q has %d channels", spec.Name, c)}
	}
}

// isScalar reports whether spec is a float32 [1,1] input, with dynamic axes
// resolved to 1.
func isScalar(spec inference.TensorSpec) bool {
	if spec.ElementType != inference.Float32 || spec.Rank() != 2 {
		return false
	}
	for _, d := range spec.Shape {
		if d != 1 && d != inference.Dynamic {
			return false
		}
	}
	return true
}
