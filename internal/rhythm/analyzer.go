// Package rhythm measures the temporal structure of share arrivals: how
// bursty the inter-arrival gaps are and how spread their distribution is.
package rhythm

import (
	"errors"
	"math"
	"sync"
	"time"
)

const (
	DefaultWindow = 10
	DefaultBins   = 10
)

// ErrNotEnoughSamples is returned when fewer than two timestamps are given.
var ErrNotEnoughSamples = errors.New("rhythm: at least two timestamps are required")

// Burstiness classes a coefficient of variation.
type Burstiness string

const (
	Regular Burstiness = "regular"
	Poisson Burstiness = "poisson"
	Bursty  Burstiness = "bursty"
)

// Metric is one analysis window's result.
type Metric struct {
	CV          float64   `json:"cv"`
	TimeEntropy float64   `json:"time_entropy"`
	MeanDelta   float64   `json:"mean_delta_ns"`
	Samples     int       `json:"samples"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Burstiness reports whether arrivals look clock-like, memoryless or
// clustered. A CV above 1.1 is the non-Poisson signature.
func (m Metric) Burstiness() Burstiness {
	switch {
	case m.CV > 1.1:
		return Bursty
	case m.CV < 0.9:
		return Regular
	default:
		return Poisson
	}
}

// Compute derives CV and temporal entropy from ordered nanosecond
// timestamps. Entropy is Shannon entropy in nats over a histogram of the
// deltas with equal-width bins spanning [min, max].
func Compute(timestamps []int64, bins int) (Metric, error) {
	if len(timestamps) < 2 {
		return Metric{}, ErrNotEnoughSamples
	}
	if bins <= 0 {
		bins = DefaultBins
	}

	deltas := make([]float64, len(timestamps)-1)
	var sum float64
	for i := 1; i < len(timestamps); i++ {
		d := float64(timestamps[i] - timestamps[i-1])
		deltas[i-1] = d
		sum += d
	}
	mean := sum / float64(len(deltas))

	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	std := math.Sqrt(variance / float64(len(deltas)))

	cv := 0.0
	if mean > 0 {
		cv = std / mean
	}

	return Metric{
		CV:          cv,
		TimeEntropy: histogramEntropy(deltas, bins),
		MeanDelta:   mean,
		Samples:     len(timestamps),
		ComputedAt:  time.Now(),
	}, nil
}

func histogramEntropy(values []float64, bins int) float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		idx := 0
		if width > 0 {
			idx = int((v - lo) / width)
			if idx >= bins {
				// upper edge is closed
				idx = bins - 1
			}
		}
		counts[idx]++
	}

	total := float64(len(values))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log(p)
	}
	return h
}

// Analyzer accumulates arrival timestamps and computes a Metric every time
// more than window timestamps have been collected. Windows do not overlap.
type Analyzer struct {
	mu         sync.Mutex
	window     int
	bins       int
	timestamps []int64
	latest     Metric
	hasLatest  bool
	windows    uint64
}

// NewAnalyzer creates an analyzer; non-positive arguments take defaults.
func NewAnalyzer(window, bins int) *Analyzer {
	if window <= 0 {
		window = DefaultWindow
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	return &Analyzer{
		window:     window,
		bins:       bins,
		timestamps: make([]int64, 0, window+1),
	}
}

// Record appends one arrival. When the window fills, the metric is computed,
// stored as the latest, returned with ok=true, and the window is reset.
func (a *Analyzer) Record(ts int64) (Metric, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timestamps = append(a.timestamps, ts)
	if len(a.timestamps) <= a.window {
		return Metric{}, false
	}

	m, err := Compute(a.timestamps, a.bins)
	a.timestamps = a.timestamps[:0]
	if err != nil {
		return Metric{}, false
	}
	a.latest = m
	a.hasLatest = true
	a.windows++
	return m, true
}

// Reset discards the timestamps of the current, incomplete window.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timestamps = a.timestamps[:0]
}

// Latest returns the most recent metric. ok is false until a window completes.
func (a *Analyzer) Latest() (Metric, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.hasLatest
}

// Pending reports how many timestamps the open window holds.
func (a *Analyzer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timestamps)
}

// Windows reports how many windows have been analyzed.
func (a *Analyzer) Windows() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windows
}
