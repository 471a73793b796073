// Package hardware - Accelerator discovery and health snapshots.
package hardware

import (
	"context"
	"log"
	"sync"
	"time"
)

// Kind identifies one class of hardware accelerator.
type Kind string

const (
	// KindHailo is the Hailo-8 edge NPU attached over PCIe.
	KindHailo Kind = "hailo"
	// KindNVIDIA is a discrete NVIDIA GPU.
	KindNVIDIA Kind = "nvidia"
)

// Kinds lists every accelerator class the probe knows about.
var Kinds = []Kind{KindHailo, KindNVIDIA}

// Device describes one discovered accelerator. Memory fields are only
// populated for GPU-class devices; the NPU does not report capacity.
type Device struct {
	Kind          Kind   `json:"kind"            yaml:"kind"`
	Index         int    `json:"index"           yaml:"index"`
	Name          string `json:"name"            yaml:"name"`
	MemoryTotalMB int64  `json:"memory_total_mb,omitempty" yaml:"memory_total_mb,omitempty"`
	MemoryUsedMB  int64  `json:"memory_used_mb,omitempty"  yaml:"memory_used_mb,omitempty"`
	Available     bool   `json:"is_available"    yaml:"is_available"`
}

// Snapshot is an immutable view of the accelerators present at one probe
// pass. Callers receive their own copy and may hold it for the duration of
// a request without seeing later refreshes.
type Snapshot struct {
	Devices []Device  `json:"devices"`
	Taken   time.Time `json:"taken"`
}

// ByKind returns the devices of one kind.
func (s Snapshot) ByKind(kind Kind) []Device {
	var out []Device
	for _, d := range s.Devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Available reports whether at least one healthy device of the kind exists.
func (s Snapshot) Available(kind Kind) bool {
	for _, d := range s.Devices {
		if d.Kind == kind && d.Available {
			return true
		}
	}
	return false
}

// AvailableKinds returns the kinds with at least one healthy device, in the
// fixed Kinds order.
func (s Snapshot) AvailableKinds() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if s.Available(k) {
			out = append(out, k)
		}
	}
	return out
}

// Prober enumerates devices of a single kind. Implementations must treat an
// absent driver or empty bus as zero devices, not an error; errors are
// reserved for genuinely broken probing (and still only cost that kind its
// entry in the snapshot, never the whole pass).
type Prober interface {
	Kind() Kind
	Probe(ctx context.Context) ([]Device, error)
}

// Probe owns the most recent Snapshot and refreshes it on demand or on a
// fixed interval. Reads never block on an in-flight refresh; they see the
// previous snapshot until the new one is swapped in.
type Probe struct {
	probers []Prober

	mu   sync.RWMutex
	snap Snapshot
}

// NewProbe creates a Probe over the given per-kind probers. The snapshot is
// empty until the first Refresh.
func NewProbe(probers ...Prober) *Probe {
	return &Probe{probers: probers}
}

// Refresh probes every kind and swaps in the combined snapshot. A failure
// probing one kind leaves that kind with zero devices and does not affect
// the others.
func (p *Probe) Refresh(ctx context.Context) Snapshot {
	snap := Snapshot{Taken: time.Now()}
	for _, prober := range p.probers {
		devices, err := prober.Probe(ctx)
		if err != nil {
			log.Printf("[hardware] probing %s failed: %v", prober.Kind(), err)
			continue
		}
		snap.Devices = append(snap.Devices, devices...)
	}

	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
	return snap.clone()
}

// Snapshot returns a copy of the most recent snapshot.
func (p *Probe) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.clone()
}

// Run refreshes the snapshot on the given interval until ctx is cancelled.
func (p *Probe) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{Taken: s.Taken}
	if len(s.Devices) > 0 {
		out.Devices = make([]Device, len(s.Devices))
		copy(out.Devices, s.Devices)
	}
	return out
}
