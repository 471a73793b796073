// Package hailo - Backend adapter for the Hailo-8 edge NPU.
package hailo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/hardware"
	"github.com/accel-lab/go-accel/images"
	"github.com/accel-lab/go-accel/inference/backends"
)

// Runtime is the narrow surface of the vendor SDK the adapter consumes: a
// blocking inference call over raw CHW float32 pixels. The production
// runtime wraps HailoRT; SimRuntime stands in where no device is attached.
type Runtime interface {
	Infer(input []float32, shape images.Shape, params backends.Params) ([]common.Detection, error)
	Close() error
}

// Adapter drives a single Hailo-8 device handle. The handle supports exactly
// one in-flight inference; a second concurrent call is rejected with
// ErrDeviceBusy rather than queued, so the orchestrator can surface the
// condition instead of silently blocking.
type Adapter struct {
	rt   Runtime
	slot chan struct{}
}

// NewAdapter wraps the given runtime.
func NewAdapter(rt Runtime) *Adapter {
	return &Adapter{
		rt:   rt,
		slot: make(chan struct{}, 1),
	}
}

// Kind implements backends.Adapter.
func (a *Adapter) Kind() hardware.Kind { return hardware.KindHailo }

// Infer implements backends.Adapter. When ctx expires mid-call the adapter
// returns immediately while the SDK call drains on its own goroutine; the
// device handle is released only once that drain completes.
func (a *Adapter) Infer(ctx context.Context, img *tensor.Dense, params backends.Params) (*backends.Result, error) {
	select {
	case a.slot <- struct{}{}:
	default:
		return nil, errors.Wrap(backends.ErrDeviceBusy, "hailo handle has a call in flight")
	}

	shape, err := images.TensorShape(img)
	if err != nil {
		<-a.slot
		return nil, errors.Wrap(err, "hailo input")
	}
	input, ok := img.Data().([]float32)
	if !ok {
		<-a.slot
		return nil, errors.New("hailo input: tensor backing is not []float32")
	}

	start := time.Now()
	return backends.Call(ctx, func() (*backends.Result, error) {
		defer func() { <-a.slot }()

		detections, err := a.rt.Infer(input, shape, params)
		if err != nil {
			return nil, errors.Wrap(err, "hailo inference")
		}
		return &backends.Result{
			Detections: params.Apply(detections),
			Latency:    time.Since(start),
		}, nil
	})
}

// Close implements backends.Adapter.
func (a *Adapter) Close() error { return a.rt.Close() }
