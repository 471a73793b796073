// Package backends - The uniform adapter contract every accelerator kind
// implements.
package backends

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/hardware"
)

// Params carries the per-call inference parameters.
type Params struct {
	// Threshold is the minimum confidence a detection must reach.
	Threshold float32
	// MaxResults caps the detections a backend returns. Zero means no cap.
	MaxResults int
}

// Result is one backend's detections plus the time the call took.
type Result struct {
	Detections []common.Detection
	Latency    time.Duration
}

// Sentinel failure modes shared across adapters. Adapters wrap these with
// device context; the orchestrator classifies on them with errors.Is.
var (
	// ErrDeviceBusy is returned when a hardware concurrency limit is hit
	// (the Hailo handle supports one in-flight call).
	ErrDeviceBusy = errors.New("device busy")
	// ErrOutOfMemory is returned when the device cannot allocate the
	// buffers a call needs (GPU arena exhaustion).
	ErrOutOfMemory = errors.New("device out of memory")
)

// Adapter wraps one accelerator kind behind a deadline-aware inference call.
//
// Infer must return once ctx expires even if the underlying hardware call is
// still running: cancellation is best-effort signal propagation, not
// hardware-side preemption. Implementations run the blocking SDK call on its
// own goroutine (see Call) and release any device state from that goroutine
// when the call drains, on success and failure alike.
type Adapter interface {
	Kind() hardware.Kind
	Infer(ctx context.Context, img *tensor.Dense, params Params) (*Result, error)
	Close() error
}

// Call runs the blocking fn on its own goroutine and waits for it or for ctx,
// whichever finishes first. On ctx expiry the caller gets ctx.Err() and the
// goroutine is abandoned: fn keeps running until the hardware call drains
// and must release device state itself.
func Call(ctx context.Context, fn func() (*Result, error)) (*Result, error) {
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := fn()
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Apply filters detections below the threshold and caps the count, keeping
// the highest-confidence ones. Shared postprocessing for adapters whose
// runtime does not filter itself.
func (p Params) Apply(detections []common.Detection) []common.Detection {
	kept := make([]common.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= p.Threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	if p.MaxResults > 0 && len(kept) > p.MaxResults {
		kept = kept[:p.MaxResults]
	}
	return kept
}
