package hardware

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// nvidiaQuery asks nvidia-smi for the fields we map onto Device, one CSV
// line per GPU.
var nvidiaQuery = []string{
	"--query-gpu=index,name,memory.total,memory.used",
	"--format=csv,noheader,nounits",
}

// NVIDIAProber discovers NVIDIA GPUs through nvidia-smi. The binary ships
// with the driver, so its absence means no usable GPU rather than an error.
type NVIDIAProber struct {
	// Command is the nvidia-smi binary, overridable for tests.
	Command string
}

// NewNVIDIAProber returns a prober shelling out to nvidia-smi.
func NewNVIDIAProber() *NVIDIAProber {
	return &NVIDIAProber{Command: "nvidia-smi"}
}

// Kind implements Prober.
func (p *NVIDIAProber) Kind() Kind { return KindNVIDIA }

// Probe implements Prober.
func (p *NVIDIAProber) Probe(ctx context.Context) ([]Device, error) {
	if _, err := exec.LookPath(p.Command); err != nil {
		// No driver stack installed: the kind is absent, not broken.
		return nil, nil
	}

	out, err := exec.CommandContext(ctx, p.Command, nvidiaQuery...).Output()
	if err != nil {
		// A present but failing nvidia-smi usually indicates the driver
		// lost the device; report the kind absent and let the next probe
		// pick it back up.
		return nil, nil
	}
	return parseNVIDIASMI(string(out))
}

func parseNVIDIASMI(out string) ([]Device, error) {
	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, errors.Errorf("unexpected nvidia-smi line %q", line)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		index, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing gpu index %q", fields[0])
		}
		total, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing memory.total %q", fields[2])
		}
		used, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing memory.used %q", fields[3])
		}

		devices = append(devices, Device{
			Kind:          KindNVIDIA,
			Index:         index,
			Name:          fields[1],
			MemoryTotalMB: total,
			MemoryUsedMB:  used,
			Available:     true,
		})
	}
	return devices, nil
}
