package inference

import (
	"time"

	"gorgonia.org/tensor"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/fusion"
	"github.com/accel-lab/go-accel/hardware"
)

// Request is one inference call against the orchestrator. All fields must be
// populated; the API layer fills configured defaults before dispatch.
type Request struct {
	// Image is the preprocessed CHW float32 pixel tensor.
	Image *tensor.Dense
	// Strategy selects the dispatch policy.
	Strategy Strategy
	// Threshold is the minimum detection confidence in [0, 1].
	Threshold float32
	// Priority steers fusion for dual-engine strategies. Empty means
	// performance.
	Priority fusion.Priority
	// MaxResults caps the returned detections. Zero means no cap.
	MaxResults int
	// Timeout is the hard upper bound for the whole request.
	Timeout time.Duration
}

// Validate rejects malformed requests before any dispatch happens.
func (r *Request) Validate() error {
	if r.Image == nil {
		return newError(ErrKindInvalidRequest, "image tensor is required")
	}
	if _, err := ParseStrategy(string(r.Strategy)); err != nil {
		return wrapError(ErrKindInvalidRequest, err)
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return newError(ErrKindInvalidRequest, "threshold outside [0,1]")
	}
	if r.Timeout <= 0 {
		return newError(ErrKindInvalidRequest, "timeout must be positive")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return newError(ErrKindInvalidRequest, "unknown priority "+string(r.Priority))
	}
	if r.MaxResults < 0 {
		return newError(ErrKindInvalidRequest, "max_results must not be negative")
	}
	return nil
}

func (r *Request) priority() fusion.Priority {
	if r.Priority == "" {
		return fusion.PriorityPerformance
	}
	return r.Priority
}

// Response is the orchestrator's answer to a successful request.
type Response struct {
	// Detections is the combined detection set, ordered by descending
	// confidence and capped at the request's MaxResults.
	Detections []common.Detection
	// EngineUsed is the primary engine (the only one for single-engine
	// strategies, the first contributor otherwise).
	EngineUsed hardware.Kind
	// EnginesUsed lists every engine whose result contributed.
	EnginesUsed []hardware.Kind
	// Fused is true when two engine results were reconciled.
	Fused bool
	// InferenceTime is the wall time the orchestrator spent on the request.
	InferenceTime time.Duration
	// EngineLatency is the per-engine call latency for engines that ran.
	EngineLatency map[hardware.Kind]time.Duration
}
