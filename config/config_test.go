package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9700", cfg.Listen)
	assert.Equal(t, 100, cfg.Tracker.Window)
	assert.Equal(t, 10*time.Second, cfg.Defaults.Timeout.Std())
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":8088"
probe_interval: 5s
tracker:
  window: 25
fusion:
  overlap_threshold: 0.35
  latency_budget: 80ms
defaults:
  threshold: 0.5
  timeout: 2s
  max_results: 10
nvidia:
  runtime: simulated
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval.Std())
	assert.Equal(t, 25, cfg.Tracker.Window)
	assert.InDelta(t, 0.35, cfg.Fusion.OverlapThreshold, 0.0001)
	assert.Equal(t, 80*time.Millisecond, cfg.Fusion.LatencyBudget.Std())
	assert.Equal(t, RuntimeSimulated, cfg.NVIDIA.Runtime)
	assert.Equal(t, RuntimeSimulated, cfg.Hailo.Runtime, "untouched sections keep defaults")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"threshold above one", "defaults:\n  threshold: 1.5\n"},
		{"zero timeout", "defaults:\n  timeout: 0s\n"},
		{"empty listen", "listen: \"\"\n"},
		{"bad duration", "probe_interval: soon\n"},
		{"unknown nvidia runtime", "nvidia:\n  runtime: warp\n"},
		{"onnx without model", "nvidia:\n  runtime: onnx\n  model_path: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
