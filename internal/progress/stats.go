package progress

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stats summarises the recent tile durations.
type Stats struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	Median time.Duration
}

// Stats computes statistics over the duration window.
func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	xs := make([]float64, len(r.window))
	for i, d := range r.window {
		xs[i] = float64(d)
	}
	r.mu.Unlock()

	s := Stats{Count: len(xs)}
	if len(xs) == 0 {
		return s
	}

	mean, std := stat.MeanStdDev(xs, nil)
	s.Mean = time.Duration(mean)
	if !math.IsNaN(std) {
		s.StdDev = time.Duration(std)
	}

	slices.Sort(xs)
	s.Median = time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil))
	return s
}
