// Package nvidia - Backend adapter for discrete NVIDIA GPUs.
package nvidia

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/hardware"
	"github.com/accel-lab/go-accel/images"
	"github.com/accel-lab/go-accel/inference/backends"
)

// Runtime is the narrow surface of the GPU inference stack: a blocking call
// over raw CHW float32 pixels. ONNXRuntime is the production implementation;
// SimRuntime stands in where no GPU is attached.
type Runtime interface {
	Infer(input []float32, shape images.Shape, params backends.Params) ([]common.Detection, error)
	Close() error
}

// Adapter drives the GPU runtime. Unlike the NPU handle, the runtime accepts
// concurrent callers and serializes internally, so there is no busy
// rejection here; the GPU's characteristic failure mode is memory
// exhaustion, surfaced as backends.ErrOutOfMemory.
type Adapter struct {
	rt Runtime
}

// NewAdapter wraps the given runtime.
func NewAdapter(rt Runtime) *Adapter {
	return &Adapter{rt: rt}
}

// Kind implements backends.Adapter.
func (a *Adapter) Kind() hardware.Kind { return hardware.KindNVIDIA }

// Infer implements backends.Adapter. On ctx expiry the call is abandoned to
// drain on its own goroutine; runtime-held GPU buffers are scoped to the
// session and released by the runtime regardless.
func (a *Adapter) Infer(ctx context.Context, img *tensor.Dense, params backends.Params) (*backends.Result, error) {
	shape, err := images.TensorShape(img)
	if err != nil {
		return nil, errors.Wrap(err, "nvidia input")
	}
	input, ok := img.Data().([]float32)
	if !ok {
		return nil, errors.New("nvidia input: tensor backing is not []float32")
	}

	start := time.Now()
	return backends.Call(ctx, func() (*backends.Result, error) {
		detections, err := a.rt.Infer(input, shape, params)
		if err != nil {
			return nil, wrapGPUError(err)
		}
		return &backends.Result{
			Detections: params.Apply(detections),
			Latency:    time.Since(start),
		}, nil
	})
}

// Close implements backends.Adapter.
func (a *Adapter) Close() error { return a.rt.Close() }

// wrapGPUError maps CUDA arena exhaustion onto the shared sentinel so the
// orchestrator can classify it without parsing driver text.
func wrapGPUError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "out of memory") {
		return errors.Wrap(backends.ErrOutOfMemory, err.Error())
	}
	return errors.Wrap(err, "nvidia inference")
}
