// Package inference - Request routing across heterogeneous accelerators.
package inference

import "github.com/pkg/errors"

// Strategy selects which backend(s) handle a request and how their results
// are combined.
type Strategy string

const (
	// StrategyAuto picks load-balancing when both backends are healthy and
	// falls back to whichever single backend is present.
	StrategyAuto Strategy = "auto"
	// StrategyHailo dispatches only to the Hailo-8 NPU. Never redirected.
	StrategyHailo Strategy = "hailo"
	// StrategyNVIDIA dispatches only to the NVIDIA GPU. Never redirected.
	StrategyNVIDIA Strategy = "nvidia"
	// StrategyBoth runs both backends concurrently and fuses their results
	// under the request's priority.
	StrategyBoth Strategy = "both"
	// StrategyParallel runs both backends concurrently and unions their
	// detections without overlap resolution, maximizing recall.
	StrategyParallel Strategy = "parallel"
	// StrategyLoadBalance picks the backend with the better rolling
	// performance weight.
	StrategyLoadBalance Strategy = "load_balance"
)

// Strategies is the closed set of accepted strategy values.
var Strategies = []Strategy{
	StrategyAuto,
	StrategyHailo,
	StrategyNVIDIA,
	StrategyBoth,
	StrategyParallel,
	StrategyLoadBalance,
}

// ParseStrategy converts a wire value into a Strategy, rejecting unknown
// values at parse time rather than at dispatch time.
func ParseStrategy(raw string) (Strategy, error) {
	for _, s := range Strategies {
		if raw == string(s) {
			return s, nil
		}
	}
	return "", errors.Errorf("unknown engine strategy %q", raw)
}

// Description returns the human-readable summary served by the engine
// capability endpoint.
func (s Strategy) Description() string {
	switch s {
	case StrategyAuto:
		return "automatically select the best engine"
	case StrategyHailo:
		return "Hailo-8 PCIe accelerator only"
	case StrategyNVIDIA:
		return "NVIDIA GPU only"
	case StrategyBoth:
		return "dual-engine inference with result fusion"
	case StrategyParallel:
		return "parallel dual-engine inference, union of detections"
	case StrategyLoadBalance:
		return "weighted selection between engines"
	default:
		return "unknown strategy"
	}
}
