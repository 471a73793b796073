package hardware

import "context"

// FallbackProber consults Primary first and reports Standby's devices when
// the primary scan comes back empty. Used to keep a simulated backend
// reachable on hosts where the physical device is absent.
type FallbackProber struct {
	Primary Prober
	Standby Prober
}

// Kind implements Prober.
func (p *FallbackProber) Kind() Kind { return p.Primary.Kind() }

// Probe implements Prober. Primary errors are not masked; the standby only
// covers the empty-scan case.
func (p *FallbackProber) Probe(ctx context.Context) ([]Device, error) {
	devices, err := p.Primary.Probe(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices, nil
	}
	return p.Standby.Probe(ctx)
}
