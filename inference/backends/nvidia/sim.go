package nvidia

import (
	"time"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/images"
	"github.com/accel-lab/go-accel/inference/backends"
)

// SimRuntime is a deterministic stand-in for the CUDA stack, used on hosts
// without a GPU and throughout the tests.
type SimRuntime struct {
	// Latency is how long each call blocks.
	Latency time.Duration
	// Detections is returned from every call, subject to the caller's
	// threshold and cap.
	Detections []common.Detection
	// Err, when set, fails every call after the latency elapses.
	Err error
}

// NewSimRuntime returns a simulated runtime producing fixed person and car
// detections at GPU-typical latency.
func NewSimRuntime() *SimRuntime {
	return &SimRuntime{
		Latency: 40 * time.Millisecond,
		Detections: []common.Detection{
			{
				Label:      "person",
				Confidence: 0.85,
				Box:        common.BoundingBox{X1: 100, Y1: 100, X2: 300, Y2: 300},
			},
			{
				Label:      "car",
				Confidence: 0.75,
				Box:        common.BoundingBox{X1: 400, Y1: 200, X2: 600, Y2: 400},
			},
		},
	}
}

// Infer implements Runtime.
func (s *SimRuntime) Infer(input []float32, shape images.Shape, params backends.Params) ([]common.Detection, error) {
	time.Sleep(s.Latency)
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]common.Detection, len(s.Detections))
	copy(out, s.Detections)
	return out, nil
}

// Close implements Runtime.
func (s *SimRuntime) Close() error { return nil }
