package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/accel-lab/go-accel/api"
	"github.com/accel-lab/go-accel/config"
	"github.com/accel-lab/go-accel/fusion"
	"github.com/accel-lab/go-accel/hardware"
	"github.com/accel-lab/go-accel/inference"
	"github.com/accel-lab/go-accel/inference/backends"
	"github.com/accel-lab/go-accel/inference/backends/hailo"
	"github.com/accel-lab/go-accel/inference/backends/nvidia"
	"github.com/accel-lab/go-accel/tracker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "accel-serve: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "accel-serve",
		Short:        "Serve object detection across Hailo-8 and NVIDIA accelerators",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	return cmd
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := hardware.NewProbe(hailoProber(cfg), nvidiaProber(cfg))
	snap := probe.Refresh(ctx)
	for _, d := range snap.Devices {
		log.Printf("[accel-serve] detected %s device %d: %s", d.Kind, d.Index, d.Name)
	}
	if len(snap.Devices) == 0 {
		log.Printf("[accel-serve] no accelerators detected, requests will fail until a probe finds one")
	}
	go probe.Run(ctx, cfg.ProbeInterval.Std())

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, a := range adapters {
			if cerr := a.Close(); cerr != nil {
				log.Printf("[accel-serve] closing %s adapter: %v", a.Kind(), cerr)
			}
		}
	}()

	orch := inference.NewOrchestrator(
		probe,
		tracker.New(cfg.Tracker.Window),
		fusion.NewFuser(
			fusion.WithOverlapThreshold(cfg.Fusion.OverlapThreshold),
			fusion.WithLatencyBudget(cfg.Fusion.LatencyBudget.Std()),
		),
		adapters...,
	)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.New(orch, probe, cfg).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("[accel-serve] listening on %s", cfg.Listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[accel-serve] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// hailoProber scans the PCIe bus for hailo device nodes. In simulated mode a
// static device stands in when no physical NPU is present, so development
// hosts still exercise the full dispatch path.
func hailoProber(cfg *config.Config) hardware.Prober {
	scan := hardware.NewHailoProber()
	if cfg.Hailo.Runtime != config.RuntimeSimulated {
		return scan
	}
	return &hardware.FallbackProber{
		Primary: scan,
		Standby: &hardware.StaticProber{
			DeviceKind: hardware.KindHailo,
			Devices: []hardware.Device{
				{Kind: hardware.KindHailo, Index: 0, Name: "hailo8-sim", Available: true},
			},
		},
	}
}

func nvidiaProber(cfg *config.Config) hardware.Prober {
	scan := hardware.NewNVIDIAProber()
	if cfg.NVIDIA.Runtime != config.RuntimeSimulated {
		return scan
	}
	return &hardware.FallbackProber{
		Primary: scan,
		Standby: &hardware.StaticProber{
			DeviceKind: hardware.KindNVIDIA,
			Devices: []hardware.Device{
				{Kind: hardware.KindNVIDIA, Index: 0, Name: "nvidia-sim", Available: true},
			},
		},
	}
}

func buildAdapters(cfg *config.Config) ([]backends.Adapter, error) {
	// Hailo ships with the simulated runtime until a native SDK binding
	// lands; config validation enforces the mode.
	hailoAdapter := hailo.NewAdapter(hailo.NewSimRuntime())

	var nvidiaRT nvidia.Runtime
	switch cfg.NVIDIA.Runtime {
	case config.RuntimeONNX:
		rt, err := nvidia.NewONNXRuntime(nvidia.ONNXConfig{
			ModelPath:   cfg.NVIDIA.ModelPath,
			InputShape:  cfg.Input,
			DeviceID:    cfg.NVIDIA.DeviceID,
			LibraryPath: cfg.NVIDIA.LibraryPath,
		})
		if err != nil {
			return nil, err
		}
		nvidiaRT = rt
	default:
		nvidiaRT = nvidia.NewSimRuntime()
	}

	return []backends.Adapter{hailoAdapter, nvidia.NewAdapter(nvidiaRT)}, nil
}
