package inference

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/accel-lab/go-accel/common"
	"github.com/accel-lab/go-accel/fusion"
	"github.com/accel-lab/go-accel/hardware"
	"github.com/accel-lab/go-accel/inference/backends"
	"github.com/accel-lab/go-accel/tracker"
)

// SnapshotSource yields the current hardware availability view. Satisfied by
// *hardware.Probe.
type SnapshotSource interface {
	Snapshot() hardware.Snapshot
}

// Orchestrator routes each request to one or both backend adapters according
// to its strategy, records a performance sample for every completed call,
// and fuses multi-engine results. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	probe    SnapshotSource
	tracker  *tracker.Tracker
	fuser    *fusion.Fuser
	adapters map[hardware.Kind]backends.Adapter
}

// NewOrchestrator wires the orchestrator over its collaborators. Adapters
// missing for a kind simply leave that kind unavailable.
func NewOrchestrator(probe SnapshotSource, tr *tracker.Tracker, fuser *fusion.Fuser, adapters ...backends.Adapter) *Orchestrator {
	byKind := make(map[hardware.Kind]backends.Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}
	return &Orchestrator{
		probe:    probe,
		tracker:  tr,
		fuser:    fuser,
		adapters: byKind,
	}
}

// Tracker exposes the performance tracker for reporting endpoints.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// Infer executes one request end to end. The request's timeout is the hard
// upper bound: outstanding backend calls are abandoned once it elapses and
// every call, including timed-out ones, contributes a performance sample.
// Failures are always *Error values carrying a definite kind.
func (o *Orchestrator) Infer(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	snap := o.probe.Snapshot()

	switch req.Strategy {
	case StrategyAuto:
		hailoUp := o.usable(snap, hardware.KindHailo)
		nvidiaUp := o.usable(snap, hardware.KindNVIDIA)
		switch {
		case hailoUp && nvidiaUp:
			return o.loadBalance(ctx, req, start)
		case hailoUp:
			return o.single(ctx, req, hardware.KindHailo, start)
		case nvidiaUp:
			return o.single(ctx, req, hardware.KindNVIDIA, start)
		default:
			return nil, newError(ErrKindNoHardware, "no accelerator of any kind is healthy")
		}

	case StrategyHailo:
		if !o.usable(snap, hardware.KindHailo) {
			return nil, newError(ErrKindBackendUnavailable,
				"hailo requested explicitly but no healthy device exists", hardware.KindHailo)
		}
		return o.single(ctx, req, hardware.KindHailo, start)

	case StrategyNVIDIA:
		if !o.usable(snap, hardware.KindNVIDIA) {
			return nil, newError(ErrKindBackendUnavailable,
				"nvidia requested explicitly but no healthy device exists", hardware.KindNVIDIA)
		}
		return o.single(ctx, req, hardware.KindNVIDIA, start)

	case StrategyBoth, StrategyParallel, StrategyLoadBalance:
		if err := o.requireBoth(snap); err != nil {
			return nil, err
		}
		if req.Strategy == StrategyLoadBalance {
			return o.loadBalance(ctx, req, start)
		}
		return o.dual(ctx, req, start)

	default:
		// Validate already rejected unknown strategies.
		return nil, newError(ErrKindInvalidRequest, "unknown strategy "+string(req.Strategy))
	}
}

// usable reports whether the kind has both a healthy device and an adapter.
func (o *Orchestrator) usable(snap hardware.Snapshot, kind hardware.Kind) bool {
	_, wired := o.adapters[kind]
	return wired && snap.Available(kind)
}

// requireBoth gates the compound strategies, which need both kinds healthy.
func (o *Orchestrator) requireBoth(snap hardware.Snapshot) *Error {
	var missing []hardware.Kind
	for _, kind := range hardware.Kinds {
		if !o.usable(snap, kind) {
			missing = append(missing, kind)
		}
	}
	if len(missing) == len(hardware.Kinds) {
		return newError(ErrKindNoHardware, "no accelerator of any kind is healthy")
	}
	if len(missing) > 0 {
		return newError(ErrKindBackendUnavailable,
			"compound strategies need both engines healthy", missing...)
	}
	return nil
}

// loadBalance picks the backend with the higher rolling weight. Ties fall to
// the most recent successful sample, and with no history at all to the NPU,
// the lower-power option.
func (o *Orchestrator) loadBalance(ctx context.Context, req *Request, start time.Time) (*Response, error) {
	target := o.selectByWeight()
	log.Printf("[orchestrator] load_balance selected %s (hailo=%.4f nvidia=%.4f)",
		target, o.tracker.Weight(hardware.KindHailo), o.tracker.Weight(hardware.KindNVIDIA))
	return o.single(ctx, req, target, start)
}

func (o *Orchestrator) selectByWeight() hardware.Kind {
	hailoWeight := o.tracker.Weight(hardware.KindHailo)
	nvidiaWeight := o.tracker.Weight(hardware.KindNVIDIA)

	switch {
	case hailoWeight > nvidiaWeight:
		return hardware.KindHailo
	case nvidiaWeight > hailoWeight:
		return hardware.KindNVIDIA
	}

	hailoLast, hailoOK := o.tracker.LastSuccess(hardware.KindHailo)
	nvidiaLast, nvidiaOK := o.tracker.LastSuccess(hardware.KindNVIDIA)
	switch {
	case hailoOK && nvidiaOK:
		if nvidiaLast.After(hailoLast) {
			return hardware.KindNVIDIA
		}
		return hardware.KindHailo
	case nvidiaOK:
		return hardware.KindNVIDIA
	default:
		return hardware.KindHailo
	}
}

// single dispatches to exactly one backend. Transient failures are fatal to
// the request; no implicit substitution happens here.
func (o *Orchestrator) single(ctx context.Context, req *Request, kind hardware.Kind, start time.Time) (*Response, error) {
	res, cerr := o.dispatch(ctx, kind, req)
	if cerr != nil {
		return nil, cerr
	}

	return &Response{
		Detections:    capResults(res.Detections, req.MaxResults),
		EngineUsed:    kind,
		EnginesUsed:   []hardware.Kind{kind},
		InferenceTime: time.Since(start),
		EngineLatency: map[hardware.Kind]time.Duration{kind: res.Latency},
	}, nil
}

// dual dispatches to both backends concurrently, waits for both within the
// request deadline, and reconciles. A single failure degrades to the
// survivor; a double failure surfaces both causes.
func (o *Orchestrator) dual(ctx context.Context, req *Request, start time.Time) (*Response, error) {
	type outcome struct {
		kind hardware.Kind
		res  *backends.Result
		err  *Error
	}
	results := make(chan outcome, len(hardware.Kinds))

	for _, kind := range hardware.Kinds {
		go func(kind hardware.Kind) {
			res, err := o.dispatch(ctx, kind, req)
			results <- outcome{kind: kind, res: res, err: err}
		}(kind)
	}

	byKind := make(map[hardware.Kind]*backends.Result, len(hardware.Kinds))
	var failures []*Error
	for range hardware.Kinds {
		out := <-results
		if out.err != nil {
			log.Printf("[orchestrator] %s failed during %s dispatch: %v", out.kind, req.Strategy, out.err)
			failures = append(failures, out.err)
			continue
		}
		byKind[out.kind] = out.res
	}

	if len(byKind) == 0 {
		return nil, aggregateFailure(failures)
	}

	var fused fusion.Result
	engineA := engineResult(hardware.KindHailo, byKind)
	engineB := engineResult(hardware.KindNVIDIA, byKind)
	if req.Strategy == StrategyParallel {
		fused = o.fuser.Union(engineA, engineB)
	} else {
		fused = o.fuser.Fuse(engineA, engineB, req.priority())
	}

	latencies := make(map[hardware.Kind]time.Duration, len(byKind))
	for kind, res := range byKind {
		latencies[kind] = res.Latency
	}

	return &Response{
		Detections:    capResults(fused.Detections, req.MaxResults),
		EngineUsed:    fused.Engines[0],
		EnginesUsed:   fused.Engines,
		Fused:         fused.Fused,
		InferenceTime: time.Since(start),
		EngineLatency: latencies,
	}, nil
}

// dispatch runs one backend call and records exactly one performance sample
// for it, success or not.
func (o *Orchestrator) dispatch(ctx context.Context, kind hardware.Kind, req *Request) (*backends.Result, *Error) {
	adapter, ok := o.adapters[kind]
	if !ok {
		return nil, newError(ErrKindBackendUnavailable, "no adapter wired", kind)
	}

	start := time.Now()
	res, err := adapter.Infer(ctx, req.Image, backends.Params{
		Threshold:  req.Threshold,
		MaxResults: req.MaxResults,
	})
	elapsed := time.Since(start)

	o.tracker.Record(tracker.Sample{
		Backend:   kind,
		Timestamp: time.Now(),
		Latency:   elapsed,
		Success:   err == nil,
	})

	if err != nil {
		return nil, classify(kind, err)
	}
	return res, nil
}

// classify maps adapter errors onto the closed error taxonomy, always
// tagging the originating backend.
func classify(kind hardware.Kind, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return wrapError(ErrKindTimeout, err, kind)
	case errors.Is(err, backends.ErrDeviceBusy):
		return wrapError(ErrKindDeviceBusy, err, kind)
	default:
		return wrapError(ErrKindInference, err, kind)
	}
}

// aggregateFailure combines both engines' failures into one error. The kind
// is Timeout only when every engine timed out; otherwise the mixed failure
// reads as an inference failure referencing both causes.
func aggregateFailure(failures []*Error) *Error {
	kind := ErrKindTimeout
	engines := make([]hardware.Kind, 0, len(failures))
	messages := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.Kind != ErrKindTimeout {
			kind = ErrKindInference
		}
		engines = append(engines, f.Engines...)
		messages = append(messages, f.Error())
	}
	return &Error{
		Kind:    kind,
		Engines: engines,
		Message: "all engines failed: " + strings.Join(messages, "; "),
	}
}

func engineResult(kind hardware.Kind, byKind map[hardware.Kind]*backends.Result) *fusion.EngineResult {
	res, ok := byKind[kind]
	if !ok {
		return nil
	}
	return &fusion.EngineResult{
		Engine:     kind,
		Detections: res.Detections,
		Latency:    res.Latency,
	}
}

func capResults(detections []common.Detection, max int) []common.Detection {
	if max > 0 && len(detections) > max {
		return detections[:max]
	}
	return detections
}
