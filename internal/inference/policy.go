package inference

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OptLevel is the graph optimization level applied when a session is created
type OptLevel int

const (
	OptNone OptLevel = iota
	OptBasic
	OptExtended
	OptAll
)

func (l OptLevel) String() string {
	switch l {
	case OptNone:
		return "none"
	case OptBasic:
		return "basic"
	case OptExtended:
		return "extended"
	case OptAll:
		return "all"
	default:
		return fmt.Sprintf("OptLevel(%d)", int(l))
	}
}

// ParseOptLevel parses the names produced by OptLevel.String
func ParseOptLevel(s string) (OptLevel, error) {
	switch strings.ToLower(s) {
	case "none", "disable", "off":
		return OptNone, nil
	case "basic":
		return OptBasic, nil
	case "extended":
		return OptExtended, nil
	case "all":
		return OptAll, nil
	}
	return OptNone, fmt.Errorf("unknown optimization level %q", s)
}

// Model family prefixes recognised in file names
const (
	PrefixFBCNN  = "fbcnn_"
	PrefixSCUNet = "scunet_"
)

// Policy holds per-session runtime settings
type Policy struct {
	IntraOpThreads int
	InterOpThreads int
	Optimization   OptLevel
}

// PolicyFor derives the session policy for a model file on a host with cpus
// logical CPUs
//
// Pre-optimised .ort files and SCUNet models run unoptimised; SCUNet produces
// wrong output with aggressive fusion. Everything else uses extended
func PolicyFor(modelName string, cpus int) Policy {
	base := strings.ToLower(filepath.Base(modelName))

	opt := OptExtended
	switch {
	case strings.HasSuffix(base, ".ort"):
		opt = OptNone
	case strings.HasPrefix(base, PrefixSCUNet):
		opt = OptNone
	case strings.HasPrefix(base, PrefixFBCNN):
		opt = OptExtended
	}

	return Policy{
		IntraOpThreads: IntraOpThreads(cpus),
		InterOpThreads: 4,
		Optimization:   opt,
	}
}

// IntraOpThreads returns 1 on hosts with at most two CPUs, else ceil(3P/4)
func IntraOpThreads(cpus int) int {
	if cpus <= 2 {
		return 1
	}
	return (3*cpus + 3) / 4
}
