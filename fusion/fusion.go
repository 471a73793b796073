// Package fusion - Merging of detection sets produced by independent
// inference backends.
package fusion

import (
	"sort"
	"time"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/hardware"
)

// Priority is the caller's hint for how two engines' results should be
// reconciled.
type Priority string

const (
	// PriorityAccuracy keeps, per overlapping region, whichever engine was
	// more confident.
	PriorityAccuracy Priority = "accuracy"
	// PriorityLatency discards the slower engine's result entirely when the
	// faster one arrived within the latency budget.
	PriorityLatency Priority = "latency"
	// PriorityPerformance takes a deduplicated union of both sets,
	// maximizing recall.
	PriorityPerformance Priority = "performance"
)

// Priorities lists the accepted priority hints.
var Priorities = []Priority{PriorityAccuracy, PriorityLatency, PriorityPerformance}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

const (
	// DefaultOverlapThreshold is the IoU above which two detections are
	// treated as the same object.
	DefaultOverlapThreshold float32 = 0.5
	// DefaultLatencyBudget is the arrival time under which latency-priority
	// fusion trusts the faster engine alone.
	DefaultLatencyBudget = 50 * time.Millisecond
)

// EngineResult is one backend's contribution to a fused response.
type EngineResult struct {
	Engine     hardware.Kind
	Detections []common.Detection
	Latency    time.Duration
}

// Result is a combined detection set and the engines that contributed to it.
type Result struct {
	Detections []common.Detection
	Engines    []hardware.Kind
	// Fused is true when two engine results were actually reconciled, false
	// for single-engine pass-through.
	Fused bool
}

// Fuser merges two engines' detection sets according to a priority policy.
// It is stateless and safe for concurrent use.
type Fuser struct {
	overlapThreshold float32
	latencyBudget    time.Duration
}

// Option adjusts a Fuser.
type Option func(*Fuser)

// WithOverlapThreshold overrides the IoU threshold for treating two
// detections as the same object.
func WithOverlapThreshold(threshold float32) Option {
	return func(f *Fuser) { f.overlapThreshold = threshold }
}

// WithLatencyBudget overrides the budget for latency-priority fusion.
func WithLatencyBudget(budget time.Duration) Option {
	return func(f *Fuser) { f.latencyBudget = budget }
}

// NewFuser creates a Fuser with the default thresholds, adjusted by opts.
func NewFuser(opts ...Option) *Fuser {
	f := &Fuser{
		overlapThreshold: DefaultOverlapThreshold,
		latencyBudget:    DefaultLatencyBudget,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fuse combines two engine results under the given priority. Either side may
// be nil, in which case the survivor passes through unfused; callers must
// not invoke Fuse with both sides nil.
func (f *Fuser) Fuse(a, b *EngineResult, priority Priority) Result {
	if a == nil {
		return passthrough(b)
	}
	if b == nil {
		return passthrough(a)
	}

	switch priority {
	case PriorityLatency:
		faster, slower := a, b
		if b.Latency < a.Latency {
			faster, slower = b, a
		}
		if faster.Latency <= f.latencyBudget {
			return Result{
				Detections: tagged(faster),
				Engines:    []hardware.Kind{faster.Engine},
				Fused:      true,
			}
		}
		// Too slow to trust alone; reconcile both as in accuracy mode.
		return f.fuseAccuracy(faster, slower)
	case PriorityPerformance:
		return f.dedupUnion(a, b)
	default:
		return f.fuseAccuracy(a, b)
	}
}

// Union concatenates both detection sets without any overlap resolution.
// This backs the parallel strategy, which trades precision for recall.
func (f *Fuser) Union(a, b *EngineResult) Result {
	if a == nil {
		return passthrough(b)
	}
	if b == nil {
		return passthrough(a)
	}

	detections := append(tagged(a), tagged(b)...)
	sortByConfidence(detections)
	return Result{
		Detections: detections,
		Engines:    []hardware.Kind{a.Engine, b.Engine},
		Fused:      true,
	}
}

// fuseAccuracy keeps, for each pair of overlapping detections across the two
// sets, the higher-confidence one; everything without a cross-engine overlap
// is kept as-is.
func (f *Fuser) fuseAccuracy(a, b *EngineResult) Result {
	kept := make([]common.Detection, 0, len(a.Detections)+len(b.Detections))
	consumed := make([]bool, len(b.Detections))

	for _, da := range a.Detections {
		winner := tag(da, a.Engine)
		for i, db := range b.Detections {
			if consumed[i] {
				continue
			}
			if da.Box.IoU(db.Box) < f.overlapThreshold {
				continue
			}
			consumed[i] = true
			if db.Confidence > winner.Confidence {
				winner = tag(db, b.Engine)
			}
		}
		kept = append(kept, winner)
	}
	for i, db := range b.Detections {
		if !consumed[i] {
			kept = append(kept, tag(db, b.Engine))
		}
	}

	sortByConfidence(kept)
	return Result{
		Detections: kept,
		Engines:    []hardware.Kind{a.Engine, b.Engine},
		Fused:      true,
	}
}

// dedupUnion merges both sets and suppresses spatial duplicates, always
// preferring the higher-confidence detection of an overlapping group.
func (f *Fuser) dedupUnion(a, b *EngineResult) Result {
	pool := append(tagged(a), tagged(b)...)
	sortByConfidence(pool)

	kept := make([]common.Detection, 0, len(pool))
	for _, candidate := range pool {
		duplicate := false
		for _, existing := range kept {
			if candidate.Box.IoU(existing.Box) >= f.overlapThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}

	return Result{
		Detections: kept,
		Engines:    []hardware.Kind{a.Engine, b.Engine},
		Fused:      true,
	}
}

func passthrough(r *EngineResult) Result {
	return Result{
		Detections: tagged(r),
		Engines:    []hardware.Kind{r.Engine},
		Fused:      false,
	}
}

func tag(d common.Detection, engine hardware.Kind) common.Detection {
	if d.Engine == "" {
		d.Engine = string(engine)
	}
	return d
}

func tagged(r *EngineResult) []common.Detection {
	out := make([]common.Detection, len(r.Detections))
	for i, d := range r.Detections {
		out[i] = tag(d, r.Engine)
	}
	return out
}

func sortByConfidence(detections []common.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
