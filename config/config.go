// Package config - YAML configuration for the inference service.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/accel-lab/go-accel/images"
)

// RuntimeMode selects how a backend adapter reaches its accelerator SDK.
type RuntimeMode string

const (
	// RuntimeONNX drives the GPU through an onnxruntime CUDA session.
	RuntimeONNX RuntimeMode = "onnx"
	// RuntimeSimulated replaces the vendor SDK with a deterministic
	// in-process stand-in. Used for development hosts without hardware.
	RuntimeSimulated RuntimeMode = "simulated"
)

// Config is the full service configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`
	// ProbeInterval is how often the hardware snapshot refreshes.
	ProbeInterval Duration `yaml:"probe_interval"`

	Tracker  TrackerConfig  `yaml:"tracker"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Input    images.Shape   `yaml:"input"`
	Hailo    HailoConfig    `yaml:"hailo"`
	NVIDIA   NVIDIAConfig   `yaml:"nvidia"`
}

// TrackerConfig tunes the performance tracker.
type TrackerConfig struct {
	// Window is the number of samples retained per backend.
	Window int `yaml:"window"`
}

// FusionConfig tunes the result fuser.
type FusionConfig struct {
	// OverlapThreshold is the IoU above which two detections are the same object.
	OverlapThreshold float32 `yaml:"overlap_threshold"`
	// LatencyBudget bounds latency-priority single-engine shortcutting.
	LatencyBudget Duration `yaml:"latency_budget"`
}

// DefaultsConfig supplies request fields the caller omitted.
type DefaultsConfig struct {
	Threshold  float32  `yaml:"threshold"`
	Timeout    Duration `yaml:"timeout"`
	MaxResults int      `yaml:"max_results"`
}

// HailoConfig configures the edge-NPU adapter.
type HailoConfig struct {
	Runtime RuntimeMode `yaml:"runtime"`
}

// NVIDIAConfig configures the GPU adapter.
type NVIDIAConfig struct {
	Runtime   RuntimeMode `yaml:"runtime"`
	ModelPath string      `yaml:"model_path"`
	DeviceID  int         `yaml:"device_id"`
	// LibraryPath points at the onnxruntime shared library when it is not
	// on the default loader path.
	LibraryPath string `yaml:"library_path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:        ":9700",
		ProbeInterval: Duration(30 * time.Second),
		Tracker:       TrackerConfig{Window: 100},
		Fusion: FusionConfig{
			OverlapThreshold: 0.5,
			LatencyBudget:    Duration(50 * time.Millisecond),
		},
		Defaults: DefaultsConfig{
			Threshold:  0.4,
			Timeout:    Duration(10 * time.Second),
			MaxResults: 100,
		},
		Input:  images.DefaultShape,
		Hailo:  HailoConfig{Runtime: RuntimeSimulated},
		NVIDIA: NVIDIAConfig{Runtime: RuntimeONNX, ModelPath: "models/coco/yolov8n.onnx"},
	}
}

// Load reads configuration from path, layered over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validating config %s", path)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.ProbeInterval <= 0 {
		return errors.New("probe_interval must be positive")
	}
	if c.Tracker.Window < 1 {
		return errors.New("tracker.window must be at least 1")
	}
	if c.Fusion.OverlapThreshold < 0 || c.Fusion.OverlapThreshold > 1 {
		return errors.Errorf("fusion.overlap_threshold %f outside [0,1]", c.Fusion.OverlapThreshold)
	}
	if c.Defaults.Threshold < 0 || c.Defaults.Threshold > 1 {
		return errors.Errorf("defaults.threshold %f outside [0,1]", c.Defaults.Threshold)
	}
	if c.Defaults.Timeout <= 0 {
		return errors.New("defaults.timeout must be positive")
	}
	if c.Defaults.MaxResults < 1 {
		return errors.New("defaults.max_results must be at least 1")
	}
	if c.Input.Width <= 0 || c.Input.Height <= 0 {
		return errors.Errorf("input shape %dx%d invalid", c.Input.Width, c.Input.Height)
	}
	switch c.Hailo.Runtime {
	case RuntimeSimulated:
	default:
		return errors.Errorf("hailo.runtime %q unsupported (want %q)", c.Hailo.Runtime, RuntimeSimulated)
	}
	switch c.NVIDIA.Runtime {
	case RuntimeONNX:
		if c.NVIDIA.ModelPath == "" {
			return errors.New("nvidia.model_path required for the onnx runtime")
		}
	case RuntimeSimulated:
	default:
		return errors.Errorf("nvidia.runtime %q unsupported", c.NVIDIA.Runtime)
	}
	return nil
}

// Duration wraps time.Duration with YAML parsing of values like "50ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
