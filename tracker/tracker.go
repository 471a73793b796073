// Package tracker - Rolling per-backend performance statistics that drive
// load-balance scheduling.
package tracker

import (
	"sync"
	"time"

	"github.com/accel-lab/go-accel/hardware"
)

const (
	// DefaultWindow is the number of samples retained per backend.
	DefaultWindow = 100

	// NeutralWeight is returned for a backend with no samples yet, so a
	// cold-started accelerator competes on equal footing instead of being
	// starved behind an established one.
	NeutralWeight = 0.5

	// latencyScale is the mean latency at which a fully successful backend
	// drops to NeutralWeight. Below it weights approach 1, above it they
	// decay toward 0.
	latencyScale = 25 * time.Millisecond
)

// Sample is one completed (or failed, or timed-out) backend call.
type Sample struct {
	Backend   hardware.Kind
	Timestamp time.Time
	Latency   time.Duration
	Success   bool
}

// Stats summarizes one backend's current window for reporting.
type Stats struct {
	Samples     int           `json:"samples"`
	SuccessRate float64       `json:"success_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
	Weight      float64       `json:"weight"`
}

// Tracker keeps a bounded ring of recent samples per backend. The lock is
// scoped to window mutation and aggregation only; it is never held across
// an inference call.
type Tracker struct {
	mu      sync.Mutex
	window  int
	rings   map[hardware.Kind][]Sample
	cursors map[hardware.Kind]int
}

// New creates a Tracker with the given window size per backend. Sizes below
// one fall back to DefaultWindow.
func New(window int) *Tracker {
	if window < 1 {
		window = DefaultWindow
	}
	return &Tracker{
		window:  window,
		rings:   make(map[hardware.Kind][]Sample),
		cursors: make(map[hardware.Kind]int),
	}
}

// Record appends one sample, evicting the oldest once the window is full.
// Called exactly once per backend call by the orchestrator.
func (t *Tracker) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ring := t.rings[s.Backend]
	if len(ring) < t.window {
		t.rings[s.Backend] = append(ring, s)
		return
	}
	cursor := t.cursors[s.Backend]
	ring[cursor] = s
	t.cursors[s.Backend] = (cursor + 1) % t.window
}

// Weight computes the backend's current scheduling weight: success rate over
// the window, discounted by mean latency. Only the relative comparison
// between two backends' weights is meaningful.
func (t *Tracker) Weight(backend hardware.Kind) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weightLocked(backend)
}

func (t *Tracker) weightLocked(backend hardware.Kind) float64 {
	ring := t.rings[backend]
	if len(ring) == 0 {
		return NeutralWeight
	}

	var successes int
	var total time.Duration
	for _, s := range ring {
		if s.Success {
			successes++
		}
		total += s.Latency
	}
	successRate := float64(successes) / float64(len(ring))
	mean := total / time.Duration(len(ring))

	return successRate / (1.0 + mean.Seconds()/latencyScale.Seconds())
}

// LastSuccess returns the timestamp of the most recent successful sample and
// whether one exists. Used as the load-balance tiebreak.
func (t *Tracker) LastSuccess(backend hardware.Kind) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var latest time.Time
	var found bool
	for _, s := range t.rings[backend] {
		if s.Success && s.Timestamp.After(latest) {
			latest = s.Timestamp
			found = true
		}
	}
	return latest, found
}

// Count returns the number of samples currently held for the backend.
func (t *Tracker) Count(backend hardware.Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rings[backend])
}

// MeanLatency returns the mean latency over the backend's window, or zero
// with no samples.
func (t *Tracker) MeanLatency(backend hardware.Kind) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	ring := t.rings[backend]
	if len(ring) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range ring {
		total += s.Latency
	}
	return total / time.Duration(len(ring))
}

// StatsFor returns the reporting summary for one backend.
func (t *Tracker) StatsFor(backend hardware.Kind) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	ring := t.rings[backend]
	stats := Stats{Samples: len(ring), Weight: t.weightLocked(backend)}
	if len(ring) == 0 {
		return stats
	}

	var successes int
	var total time.Duration
	for _, s := range ring {
		if s.Success {
			successes++
		}
		total += s.Latency
	}
	stats.SuccessRate = float64(successes) / float64(len(ring))
	stats.MeanLatency = total / time.Duration(len(ring))
	return stats
}
