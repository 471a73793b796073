package inference

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/fusion"
	"github.com/accel-lab/go-accel/hardware"
	"github.com/accel-lab/go-accel/inference/backends"
	"github.com/accel-lab/go-accel/tracker"
)

// mockAdapter is a deadline-honoring stand-in for a backend.
type mockAdapter struct {
	kind       hardware.Kind
	latency    time.Duration
	detections []common.Detection
	err        error
	calls      int
}

func (m *mockAdapter) Kind() hardware.Kind { return m.kind }

func (m *mockAdapter) Infer(ctx context.Context, img *tensor.Dense, params backends.Params) (*backends.Result, error) {
	m.calls++
	select {
	case <-time.After(m.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &backends.Result{
		Detections: params.Apply(m.detections),
		Latency:    m.latency,
	}, nil
}

func (m *mockAdapter) Close() error { return nil }

// staticSnapshot satisfies SnapshotSource with a fixed availability view.
type staticSnapshot struct{ kinds []hardware.Kind }

func (s staticSnapshot) Snapshot() hardware.Snapshot {
	snap := hardware.Snapshot{Taken: time.Now()}
	for i, k := range s.kinds {
		snap.Devices = append(snap.Devices, hardware.Device{
			Kind: k, Index: i, Name: string(k), Available: true,
		})
	}
	return snap
}

func person(confidence float32) common.Detection {
	return common.Detection{
		Label:      "person",
		Confidence: confidence,
		Box:        common.BoundingBox{X1: 100, Y1: 100, X2: 300, Y2: 300},
	}
}

func testImage(t *testing.T) *tensor.Dense {
	t.Helper()
	return tensor.New(tensor.WithShape(3, 8, 8), tensor.WithBacking(make([]float32, 3*8*8)))
}

func testRequest(t *testing.T, strategy Strategy) *Request {
	t.Helper()
	return &Request{
		Image:      testImage(t),
		Strategy:   strategy,
		Threshold:  0.5,
		Priority:   fusion.PriorityAccuracy,
		MaxResults: 100,
		Timeout:    time.Second,
	}
}

type fixture struct {
	orch    *Orchestrator
	tracker *tracker.Tracker
	hailo   *mockAdapter
	nvidia  *mockAdapter
}

func newFixture(kinds ...hardware.Kind) *fixture {
	f := &fixture{
		tracker: tracker.New(100),
		hailo:   &mockAdapter{kind: hardware.KindHailo, latency: time.Millisecond, detections: []common.Detection{person(0.9)}},
		nvidia:  &mockAdapter{kind: hardware.KindNVIDIA, latency: time.Millisecond, detections: []common.Detection{person(0.6)}},
	}
	f.orch = NewOrchestrator(staticSnapshot{kinds: kinds}, f.tracker, fusion.NewFuser(), f.hailo, f.nvidia)
	return f
}

func seed(tr *tracker.Tracker, kind hardware.Kind, n int, latency time.Duration, success bool) {
	for i := 0; i < n; i++ {
		tr.Record(tracker.Sample{Backend: kind, Timestamp: time.Now(), Latency: latency, Success: success})
	}
}

func TestValidateRejectsBeforeDispatch(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"unknown strategy", func(r *Request) { r.Strategy = "warp" }},
		{"threshold above one", func(r *Request) { r.Threshold = 1.2 }},
		{"negative threshold", func(r *Request) { r.Threshold = -0.1 }},
		{"zero timeout", func(r *Request) { r.Timeout = 0 }},
		{"nil image", func(r *Request) { r.Image = nil }},
		{"unknown priority", func(r *Request) { r.Priority = "turbo" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t, StrategyAuto)
			tt.mutate(req)

			_, err := f.orch.Infer(context.Background(), req)
			assert.Equal(t, ErrKindInvalidRequest, KindOf(err))
		})
	}

	assert.Zero(t, f.hailo.calls+f.nvidia.calls, "invalid requests never reach an adapter")
	assert.Zero(t, f.tracker.Count(hardware.KindHailo), "no samples for rejected requests")
}

func TestAutoDelegatesToLoadBalanceWhenBothHealthy(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	seed(f.tracker, hardware.KindHailo, 10, 8*time.Millisecond, true)
	seed(f.tracker, hardware.KindNVIDIA, 10, 40*time.Millisecond, true)

	auto, err := f.orch.Infer(context.Background(), testRequest(t, StrategyAuto))
	require.NoError(t, err)

	// Rebuild the same tracker state; auto must match load_balance exactly.
	g := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	seed(g.tracker, hardware.KindHailo, 10, 8*time.Millisecond, true)
	seed(g.tracker, hardware.KindNVIDIA, 10, 40*time.Millisecond, true)

	balanced, err := g.orch.Infer(context.Background(), testRequest(t, StrategyLoadBalance))
	require.NoError(t, err)

	assert.Equal(t, balanced.EngineUsed, auto.EngineUsed)
	assert.Equal(t, hardware.KindHailo, auto.EngineUsed)
}

func TestAutoSingleBackendFallback(t *testing.T) {
	f := newFixture(hardware.KindNVIDIA)

	resp, err := f.orch.Infer(context.Background(), testRequest(t, StrategyAuto))
	require.NoError(t, err)

	assert.Equal(t, hardware.KindNVIDIA, resp.EngineUsed)
	assert.Zero(t, f.hailo.calls)
}

func TestAutoNoHardware(t *testing.T) {
	f := newFixture()

	_, err := f.orch.Infer(context.Background(), testRequest(t, StrategyAuto))
	assert.Equal(t, ErrKindNoHardware, KindOf(err))
}

func TestExplicitStrategyNeverRedirected(t *testing.T) {
	// Scenario: hailo requested while only the GPU is healthy.
	f := newFixture(hardware.KindNVIDIA)

	req := testRequest(t, StrategyHailo)
	_, err := f.orch.Infer(context.Background(), req)

	assert.Equal(t, ErrKindBackendUnavailable, KindOf(err))
	assert.Zero(t, f.nvidia.calls, "the healthy backend must not be silently substituted")

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []hardware.Kind{hardware.KindHailo}, e.Engines)
}

func TestBothFusesByConfidenceUnderAccuracyPriority(t *testing.T) {
	// Scenario: overlapping person at 0.9 (NPU) and 0.6 (GPU).
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)

	resp, err := f.orch.Infer(context.Background(), testRequest(t, StrategyBoth))
	require.NoError(t, err)

	require.Len(t, resp.Detections, 1)
	assert.InDelta(t, 0.9, resp.Detections[0].Confidence, 0.0001)
	assert.True(t, resp.Fused)
	assert.ElementsMatch(t, []hardware.Kind{hardware.KindHailo, hardware.KindNVIDIA}, resp.EnginesUsed)
	assert.Len(t, resp.EngineLatency, 2)
}

func TestBothDegradesToSurvivorOnSingleFailure(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	f.nvidia.err = errors.New("cuda context lost")

	resp, err := f.orch.Infer(context.Background(), testRequest(t, StrategyBoth))
	require.NoError(t, err)

	assert.Equal(t, []hardware.Kind{hardware.KindHailo}, resp.EnginesUsed)
	assert.False(t, resp.Fused)
	require.Len(t, resp.Detections, 1)

	// Both calls still recorded: one success, one failure.
	assert.Equal(t, 1, f.tracker.Count(hardware.KindHailo))
	assert.Equal(t, 1, f.tracker.Count(hardware.KindNVIDIA))
}

func TestBothFailsWithAggregateErrorWhenBothFail(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	f.hailo.err = errors.New("stream aborted")
	f.nvidia.err = errors.New("cuda context lost")

	_, err := f.orch.Infer(context.Background(), testRequest(t, StrategyBoth))
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrKindInference, e.Kind)
	assert.ElementsMatch(t, []hardware.Kind{hardware.KindHailo, hardware.KindNVIDIA}, e.Engines)
	assert.Contains(t, e.Error(), "stream aborted")
	assert.Contains(t, e.Error(), "cuda context lost")
}

func TestParallelUnionsWithoutSuppression(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)

	resp, err := f.orch.Infer(context.Background(), testRequest(t, StrategyParallel))
	require.NoError(t, err)

	assert.Len(t, resp.Detections, 2, "parallel keeps both engines' overlapping detections")
	assert.True(t, resp.Fused)
}

func TestCompoundStrategyRequiresBothKinds(t *testing.T) {
	for _, strategy := range []Strategy{StrategyBoth, StrategyParallel, StrategyLoadBalance} {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(hardware.KindHailo)
			_, err := f.orch.Infer(context.Background(), testRequest(t, strategy))
			assert.Equal(t, ErrKindBackendUnavailable, KindOf(err))
		})
	}
}

func TestLoadBalancePrefersFasterBackend(t *testing.T) {
	// Scenario: ten clean successes at 8ms (NPU) versus 40ms (GPU).
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	seed(f.tracker, hardware.KindHailo, 10, 8*time.Millisecond, true)
	seed(f.tracker, hardware.KindNVIDIA, 10, 40*time.Millisecond, true)

	resp, err := f.orch.Infer(context.Background(), testRequest(t, StrategyLoadBalance))
	require.NoError(t, err)

	assert.Equal(t, hardware.KindHailo, resp.EngineUsed)
	assert.Equal(t, 1, f.hailo.calls)
	assert.Zero(t, f.nvidia.calls)
}

func TestSelectByWeightColdStartPrefersNPU(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	assert.Equal(t, hardware.KindHailo, f.orch.selectByWeight())
}

func TestSelectByWeightRecencyTiebreak(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)

	// Identical stats, but the GPU succeeded more recently.
	earlier := time.Now().Add(-time.Minute)
	f.tracker.Record(tracker.Sample{Backend: hardware.KindHailo, Timestamp: earlier, Latency: 10 * time.Millisecond, Success: true})
	f.tracker.Record(tracker.Sample{Backend: hardware.KindNVIDIA, Timestamp: time.Now(), Latency: 10 * time.Millisecond, Success: true})

	assert.Equal(t, hardware.KindNVIDIA, f.orch.selectByWeight())
}

func TestTimeoutBoundsRequestAndRecordsFailures(t *testing.T) {
	// Scenario: both backends take 100ms against a far shorter deadline.
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	f.hailo.latency = 100 * time.Millisecond
	f.nvidia.latency = 100 * time.Millisecond

	req := testRequest(t, StrategyParallel)
	req.Timeout = 5 * time.Millisecond

	start := time.Now()
	_, err := f.orch.Infer(context.Background(), req)
	elapsed := time.Since(start)

	assert.Equal(t, ErrKindTimeout, KindOf(err))
	assert.Less(t, elapsed, 80*time.Millisecond, "the request must not wait out the hardware calls")

	for _, kind := range hardware.Kinds {
		stats := f.tracker.StatsFor(kind)
		require.Equal(t, 1, stats.Samples, "%s records its timed-out call", kind)
		assert.Zero(t, stats.SuccessRate, "%s timeout counts as a failure sample", kind)
	}
}

func TestSingleBackendTimeoutDoesNotFallBack(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	f.hailo.latency = 100 * time.Millisecond

	req := testRequest(t, StrategyHailo)
	req.Timeout = 5 * time.Millisecond

	_, err := f.orch.Infer(context.Background(), req)

	assert.Equal(t, ErrKindTimeout, KindOf(err))
	assert.Zero(t, f.nvidia.calls, "no mid-request fallback for explicit strategies")
}

func TestDeviceBusySurfaced(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	f.hailo.err = backends.ErrDeviceBusy

	_, err := f.orch.Infer(context.Background(), testRequest(t, StrategyHailo))
	assert.Equal(t, ErrKindDeviceBusy, KindOf(err))
}

func TestMaxResultsCapsFusedDetections(t *testing.T) {
	f := newFixture(hardware.KindHailo, hardware.KindNVIDIA)
	f.hailo.detections = []common.Detection{
		{Label: "person", Confidence: 0.95, Box: common.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{Label: "car", Confidence: 0.85, Box: common.BoundingBox{X1: 100, Y1: 100, X2: 150, Y2: 150}},
	}
	f.nvidia.detections = []common.Detection{
		{Label: "dog", Confidence: 0.80, Box: common.BoundingBox{X1: 300, Y1: 300, X2: 350, Y2: 350}},
	}

	req := testRequest(t, StrategyBoth)
	req.MaxResults = 2

	resp, err := f.orch.Infer(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Detections, 2)
	assert.Equal(t, "person", resp.Detections[0].Label, "the cap keeps the most confident detections")
}
