package hailo

import (
	"time"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/images"
	"github.com/accel-lab/go-accel/inference/backends"
)

// SimRuntime is a deterministic stand-in for HailoRT, used on hosts without
// the accelerator and throughout the tests. It blocks for the configured
// latency the way the real SDK blocks on the device.
type SimRuntime struct {
	// Latency is how long each call blocks.
	Latency time.Duration
	// Detections is returned from every call, subject to the caller's
	// threshold and cap.
	Detections []common.Detection
	// Err, when set, fails every call after the latency elapses.
	Err error
}

// NewSimRuntime returns a simulated runtime producing one fixed person
// detection at NPU-typical latency.
func NewSimRuntime() *SimRuntime {
	return &SimRuntime{
		Latency: 8 * time.Millisecond,
		Detections: []common.Detection{
			{
				Label:      "person",
				Confidence: 0.87,
				Box:        common.BoundingBox{X1: 96, Y1: 64, X2: 288, Y2: 416},
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
