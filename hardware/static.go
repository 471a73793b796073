package hardware

import "context"

// StaticProber reports a fixed device list. It backs the simulated runtimes
// and tests, where no real bus scan is possible.
type StaticProber struct {
	DeviceKind Kind
	Devices    []Device
}

// Kind implements Prober.
func (p *StaticProber) Kind() Kind { return p.DeviceKind }

// Probe implements Prober.
func (p *StaticProber) Probe(ctx context.Context) ([]Device, error) {
	out := make([]Device, len(p.Devices))
	copy(out, p.Devices)
	return out, nil
}
