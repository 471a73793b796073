package hardware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// hailoDevGlob matches the character devices created by the hailo_pci
// kernel module, one per attached module (/dev/hailo0, /dev/hailo1, ...).
const hailoDevGlob = "hailo[0-9]*"

// HailoProber discovers Hailo-8 modules through their device nodes. The
// driver layer is provisioned externally; if the nodes are missing the kind
// is simply reported as absent.
type HailoProber struct {
	// DevDir is the directory holding device nodes, normally /dev.
	// Overridable for tests.
	DevDir string
}

// NewHailoProber returns a prober scanning /dev for Hailo device nodes.
func NewHailoProber() *HailoProber {
	return &HailoProber{DevDir: "/dev"}
}

// Kind implements Prober.
func (p *HailoProber) Kind() Kind { return KindHailo }

// Probe implements Prober. It never fails on an empty bus: no device nodes
// means no devices.
func (p *HailoProber) Probe(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(p.DevDir, hailoDevGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var devices []Device
	for _, node := range matches {
		info, err := os.Stat(node)
		if err != nil || info.IsDir() {
			continue
		}
		index := hailoIndex(node)
		devices = append(devices, Device{
			Kind:      KindHailo,
			Index:     index,
			Name:      fmt.Sprintf("Hailo-8 PCIe module %d", index),
			Available: true,
		})
	}
	return devices, nil
}

func hailoIndex(node string) int {
	suffix := strings.TrimPrefix(filepath.Base(node), "hailo")
	index, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return index
}
