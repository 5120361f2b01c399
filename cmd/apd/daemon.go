package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/accounting"
	"github.com/radio-control/apd/internal/adapter/sim"
	"github.com/radio-control/apd/internal/api"
	"github.com/radio-control/apd/internal/audit"
	"github.com/radio-control/apd/internal/auth"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/command"
	"github.com/radio-control/apd/internal/config"
	"github.com/radio-control/apd/internal/metrics"
	"github.com/radio-control/apd/internal/radio"
	"github.com/radio-control/apd/internal/telemetry"
)

// beaconPeriod is 100 TU, the tick of the simulated radios.
const beaconPeriod = 102400 * time.Microsecond

// shutdownTimeout bounds the graceful shutdown.
const shutdownTimeout = 30 * time.Second

// daemon holds the wired components of one apd process.
type daemon struct {
	cfg          *config.Config
	manager      *radio.Manager
	radios       map[string]*sim.Radio
	hub          *telemetry.Hub
	publisher    *telemetry.Publisher
	registry     *prometheus.Registry
	accounting   bss.Accounting
	auditLogger  *audit.Logger
	orchestrator *command.Orchestrator
	server       *api.Server
	closers      []func() error
}

// newDaemon builds every component from cfg. Nothing runs until Run.
func newDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		manager: radio.NewManager(),
		radios:  make(map[string]*sim.Radio),
	}

	// Step 1: Telemetry hub and event publisher
	d.hub = telemetry.NewHub(&cfg.Timing, telemetry.WithSnapshot(func(ctx context.Context) interface{} {
		list, err := d.manager.List(ctx)
		if err != nil {
			klog.V(2).Infof("apd: ready snapshot incomplete: %v", err)
		}
		return list
	}))
	d.publisher = telemetry.NewPublisher(d.hub, cfg.Timing.EventBufferSize)
	klog.Info("Telemetry hub initialized")

	// Step 2: Metrics registry
	recorder := metrics.NewRecorder()
	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		recorder,
		metrics.NewSnapshotCollector(metrics.ManagerSnapshots(d.manager), cfg.Timing.CommandTimeoutRead),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Step 3: Accounting sink
	if err := d.openAccounting(ctx); err != nil {
		return nil, d.abort(err)
	}

	// Step 4: Interfaces on simulated radios
	timing := command.BuildTiming(&cfg.Timing)
	events := radio.FanOut{d.publisher, recorder}
	for _, ic := range cfg.Interfaces {
		rc, err := command.BuildInterface(ic)
		if err != nil {
			return nil, d.abort(fmt.Errorf("interface %s: %w", ic.Name, err))
		}
		drv := sim.New(ic.Name)
		observer := d.publisher.Observer(ic.Name)
		iface, err := radio.NewInterface(rc, drv, timing,
			radio.WithEvents(events),
			radio.WithCollaborators(func(bss.Config) bss.Collaborators {
				return bss.Collaborators{Accounting: d.accounting, Observer: observer}
			}),
		)
		if err != nil {
			_ = drv.Close()
			return nil, d.abort(fmt.Errorf("interface %s: %w", ic.Name, err))
		}
		if err := d.manager.Add(iface); err != nil {
			_ = iface.Close(ctx)
			return nil, d.abort(err)
		}
		d.radios[ic.Name] = drv
	}
	klog.Infof("Radio manager initialized with %d interface(s)", len(d.radios))

	// Step 5: Audit logger
	auditLogger, err := audit.NewLogger(cfg.Audit,
		audit.WithUserFunc(auth.SubjectFrom),
		audit.WithCodeFunc(command.CodeOf),
	)
	if err != nil {
		return nil, d.abort(fmt.Errorf("failed to initialize audit logger: %w", err))
	}
	d.auditLogger = auditLogger
	d.closers = append(d.closers, auditLogger.Close)

	// Step 6: Command orchestrator
	d.orchestrator = command.NewOrchestrator(command.ManagerRegistry{Manager: d.manager}, d.hub, &cfg.Timing)
	d.orchestrator.SetAuditLogger(auditLogger)

	// Step 7: API server
	middleware, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return nil, d.abort(err)
	}
	d.server = api.NewServer(cfg.Server, d.hub, d.orchestrator, middleware, d.registry)
	return d, nil
}

func (d *daemon) openAccounting(ctx context.Context) error {
	switch d.cfg.Accounting.Sink {
	case "kafka":
		sink, err := accounting.DialKafka(ctx, d.cfg.Accounting, nil)
		if err != nil {
			return err
		}
		d.accounting = sink
		d.closers = append(d.closers, sink.Close)
	case "log":
		d.accounting = accounting.NewLogSink()
	}
	return nil
}

func newAuthMiddleware(cfg config.AuthConfig) (*auth.Middleware, error) {
	if cfg.Disabled {
		return auth.NewDisabledMiddleware(), nil
	}
	vc, err := auth.VerifierConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	return auth.NewMiddleware(verifier), nil
}

// Run starts the interfaces and the API server and blocks until ctx ends
// or a component fails, then shuts everything down.
func (d *daemon) Run(ctx context.Context, demo *demoOptions) error {
	d.manager.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(d.server.Start)
	for _, r := range d.radios {
		g.Go(func() error {
			r.Run(ctx, beaconPeriod)
			return nil
		})
	}
	if demo != nil {
		g.Go(func() error {
			return runDemo(ctx, d, *demo)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return d.shutdown()
	})
	return g.Wait()
}

// shutdown stops the components in dependency order: interfaces first so
// their last events still reach the hub, the server last.
func (d *daemon) shutdown() error {
	klog.Info("apd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	d.publisher.Close()
	d.hub.Stop()
	if err := d.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	klog.Info("apd: shutdown complete")
	return nil
}

// abort releases what newDaemon built before err and returns err.
func (d *daemon) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := d.manager.Shutdown(ctx); serr != nil {
		klog.Warningf("apd: %v", serr)
	}
	d.publisher.Close()
	d.hub.Stop()
	_ = d.close()
	return err
}

// close releases the sinks opened by newDaemon.
func (d *daemon) close() error {
	var first error
	for n := len(d.closers) - 1; n >= 0; n-- {
		if err := d.closers[n](); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}
