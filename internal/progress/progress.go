// Package progress tracks tile completion for a restoration run and estimates
// the time remaining.
package progress

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// State is the phase a snapshot was taken in.
type State int

const (
	Running State = iota
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Final reports whether no further snapshots follow.
func (s State) Final() bool { return s != Running }

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	State State

	ImageIndex  int // 1-based
	TotalImages int

	TilesDone  int
	TilesTotal int
	// ActiveTiles lists the 0-based indices of tiles being processed.
	ActiveTiles []int
	// ActiveRanges is ActiveTiles as 1-based compacted ranges, e.g. "3-5,7".
	ActiveRanges string

	// ETA is meaningful only when HasETA is set.
	ETA    time.Duration
	HasETA bool

	Err error
}

func (s Snapshot) String() string {
	var b strings.Builder
	if s.TotalImages > 1 {
		fmt.Fprintf(&b, "image %d/%d ", s.ImageIndex, s.TotalImages)
	}
	fmt.Fprintf(&b, "tile %d/%d", s.TilesDone, s.TilesTotal)
	if s.ActiveRanges != "" {
		fmt.Fprintf(&b, " [%s]", s.ActiveRanges)
	}
	if s.HasETA && s.State == Running {
		fmt.Fprintf(&b, " eta %s", s.ETA.Round(time.Second))
	}
	if s.State != Running {
		fmt.Fprintf(&b, " %s", s.State)
	}
	return b.String()
}

// Sink receives snapshots. Calls come from the pipeline goroutine in order.
type Sink interface {
	OnProgress(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

func (f SinkFunc) OnProgress(s Snapshot) { f(s) }

// Alpha is the smoothing factor of the per-tile duration average.
const Alpha = 0.3

// Reporter aggregates tile events for one image.
type Reporter struct {
	mu sync.Mutex

	imageIndex int
	imageCount int
	total      int
	done       int
	active     map[int]struct{}

	avg     float64 // smoothed tile duration in nanoseconds
	samples int
	window  []time.Duration // most recent durations, oldest first
	size    int

	state State
	err   error
}

// NewReporter tracks tilesTotal tiles of image imageIndex (1-based) out of
// imageCount. window bounds the durations kept for Stats; use at least the
// worker count.
func NewReporter(imageIndex, imageCount, tilesTotal, window int) *Reporter {
	return &Reporter{
		imageIndex: imageIndex,
		imageCount: max(imageCount, 1),
		total:      tilesTotal,
		active:     make(map[int]struct{}),
		size:       max(window, 1),
	}
}

// Start marks tile k as in flight.
func (r *Reporter) Start(k int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[k] = struct{}{}
}

// Done records that tile k finished after d.
func (r *Reporter) Done(k int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, k)
	if r.done < r.total {
		r.done++
	}

	if r.samples == 0 {
		r.avg = float64(d)
	} else {
		r.avg = Alpha*float64(d) + (1-Alpha)*r.avg
	}
	r.samples++

	if len(r.window) == r.size {
		copy(r.window, r.window[1:])
		r.window = r.window[:r.size-1]
	}
	r.window = append(r.window, d)
}

// Finish records the terminal state.
func (r *Reporter) Finish(state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = state
	r.err = err
	clear(r.active)
}

// Average returns the smoothed per-tile duration, zero before any completion.
func (r *Reporter) Average() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.avg)
}

// Snapshot returns the current view.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		State:       r.state,
		ImageIndex:  r.imageIndex,
		TotalImages: r.imageCount,
		TilesDone:   r.done,
		TilesTotal:  r.total,
		Err:         r.err,
	}

	if len(r.active) > 0 {
		s.ActiveTiles = make([]int, 0, len(r.active))
		for k := range r.active {
			s.ActiveTiles = append(s.ActiveTiles, k)
		}
		slices.Sort(s.ActiveTiles)

		display := make([]int, len(s.ActiveTiles))
		for i, k := range s.ActiveTiles {
			display[i] = k + 1
		}
		s.ActiveRanges = CompactRanges(display)
	}

	if r.samples > 0 {
		s.HasETA = true
		s.ETA = time.Duration(r.avg * float64(r.total-r.done))
	}
	return s
}

// CompactRanges renders integers as sorted comma-separated runs: 1,2,3,5
// becomes "1-3,5". Duplicates are ignored.
func CompactRanges(values []int) string {
	if len(values) == 0 {
		return ""
	}
	v := slices.Clone(values)
	slices.Sort(v)
	v = slices.Compact(v)

	var b strings.Builder
	for i := 0; i < len(v); {
		j := i
		for j+1 < len(v) && v[j+1] == v[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v[i]))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(v[j]))
		}
		i = j + 1
	}
	return b.String()
}
