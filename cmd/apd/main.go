// Package main implements the access point daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/api"
	"github.com/radio-control/apd/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "configuration file (default $APD_CONFIG or apd.yaml)")
	demo := flag.Bool("demo", false, "drive synthetic stations against the simulated radios")
	demoInterval := flag.Duration("demo-interval", 5*time.Second, "interval between demo station joins")
	demoStations := flag.Int("demo-stations", 4, "demo stations kept associated per BSS")
	flag.Parse()
	defer klog.Flush()

	klog.Infof("Starting apd %s", Version)
	api.Version = Version

	// Step 1: Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath, true)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}
	klog.Infof("Configuration loaded: %d interface(s)", len(cfg.Interfaces))
	if len(cfg.Interfaces) == 0 {
		klog.Warning("No interfaces configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 2: Wire components
	d, err := newDaemon(ctx, cfg)
	if err != nil {
		klog.Errorf("Failed to start: %v", err)
		klog.Flush()
		os.Exit(1)
	}

	var demoOpts *demoOptions
	if *demo {
		demoOpts = &demoOptions{Interval: *demoInterval, Stations: *demoStations}
	}

	// Step 3: Run until signalled
	klog.Infof("API base URL: http://%s/api/v1", cfg.Server.Addr)
	if err := d.Run(ctx, demoOpts); err != nil {
		klog.Errorf("apd exited: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}
