package nvidia

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/images"
	"github.com/accel-lab/go-accel/inference/backends"
)

// ONNXConfig configures the onnxruntime-backed GPU runtime.
type ONNXConfig struct {
	// ModelPath is the ONNX detection model (YOLOv8 output layout).
	ModelPath string `json:"modelPath"   yaml:"modelPath"`
	// InputShape is the model's expected spatial input.
	InputShape images.Shape `json:"inputShape"  yaml:"inputShape"`
	// DeviceID selects the CUDA device.
	DeviceID int `json:"deviceID"    yaml:"deviceID"`
	// GPUMemLimit bounds the CUDA arena in bytes. Zero leaves the
	// onnxruntime default.
	GPUMemLimit int64 `json:"gpuMemLimit" yaml:"gpuMemLimit"`
	// LibraryPath points at the onnxruntime shared library when it is not
	// on the default loader path.
	LibraryPath string `json:"libraryPath" yaml:"libraryPath"`
}

// ONNXRuntime runs the detection model through an onnxruntime session with
// the CUDA execution provider. The session owns pre-allocated input/output
// tensors, so calls are serialized on an internal mutex; concurrency above
// that is the adapter's problem, and GPU memory is scoped to the session
// and freed on Close on success and failure paths alike.
type ONNXRuntime struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	shape   images.Shape
}

const yoloAnchors = 8400

// NewONNXRuntime initializes the onnxruntime environment (once per process)
// and builds a CUDA-backed session for the configured model.
func NewONNXRuntime(cfg ONNXConfig) (*ONNXRuntime, error) {
	if cfg.InputShape.Width <= 0 || cfg.InputShape.Height <= 0 {
		cfg.InputShape = images.DefaultShape
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "initializing onnxruntime")
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating CUDA provider options")
	}
	defer cudaOpts.Destroy()

	cudaParams := map[string]string{
		"device_id":                 fmt.Sprintf("%d", cfg.DeviceID),
		"do_copy_in_default_stream": "1",
	}
	if cfg.GPUMemLimit > 0 {
		cudaParams["gpu_mem_limit"] = fmt.Sprintf("%d", cfg.GPUMemLimit)
	}
	if err := cudaOpts.Update(cudaParams); err != nil {
		return nil, errors.Wrap(err, "configuring CUDA provider")
	}
	if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return nil, errors.Wrap(err, "appending CUDA provider")
	}

	inputShape := ort.NewShape(1, 3, int64(cfg.InputShape.Height), int64(cfg.InputShape.Width))
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	outputShape := ort.NewShape(1, int64(4+len(cocoLabels)), yoloAnchors)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "creating output tensor")
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "creating session for %s", cfg.ModelPath)
	}

	return &ONNXRuntime{
		session: session,
		input:   input,
		output:  output,
		shape:   cfg.InputShape,
	}, nil
}

// Infer implements Runtime.
func (r *ONNXRuntime) Infer(input []float32, shape images.Shape, params backends.Params) ([]common.Detection, error) {
	if shape != r.shape {
		return nil, errors.Errorf("input shape %dx%d does not match session shape %dx%d",
			shape.Width, shape.Height, r.shape.Width, r.shape.Height)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dst := r.input.GetData()
	if len(dst) != len(input) {
		return nil, errors.Errorf("input tensor holds %d floats, session expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := r.session.Run(); err != nil {
		return nil, err
	}
	return decodeYOLO(r.output.GetData(), params.Threshold), nil
}

// Close implements Runtime.
func (r *ONNXRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
	if r.input != nil {
		r.input.Destroy()
		r.input = nil
	}
	if r.output != nil {
		r.output.Destroy()
		r.output = nil
	}
	return nil
}

// decodeYOLO converts the raw [1, 4+classes, anchors] output into corner-box
// detections in model input pixel space, suppressing spatial duplicates.
func decodeYOLO(data []float32, threshold float32) []common.Detection {
	classes := len(cocoLabels)
	var raw []common.Detection

	for i := 0; i < yoloAnchors; i++ {
		bestClass := -1
		var bestScore float32
		for c := 0; c < classes; c++ {
			score := data[(4+c)*yoloAnchors+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}

		cx := data[0*yoloAnchors+i]
		cy := data[1*yoloAnchors+i]
		w := data[2*yoloAnchors+i]
		h := data[3*yoloAnchors+i]
		raw = append(raw, common.Detection{
			Label:      cocoLabels[bestClass],
			Confidence: bestScore,
			Box: common.BoundingBox{
				X1: cx - w/2,
				Y1: cy - h/2,
				X2: cx + w/2,
				Y2: cy + h/2,
			},
		})
	}
	return suppressDuplicates(raw, 0.45)
}

// suppressDuplicates is plain NMS: keep the highest-confidence box of every
// overlapping group.
func suppressDuplicates(detections []common.Detection, iouThreshold float32) []common.Detection {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	kept := detections[:0]
	for _, candidate := range detections {
		duplicate := false
		for _, existing := range kept {
			if candidate.Box.IoU(existing.Box) >= iouThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}
