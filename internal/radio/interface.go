package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/admission"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/channel"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

var (
	// ErrNotFound is returned for an unknown interface, BSS or ban entry.
	ErrNotFound = errors.New("NOT_FOUND")
	// ErrNoBSS rejects enabling an interface without BSSes.
	ErrNoBSS = errors.New("interface has no BSS")
)

// Interface is one radio and the BSSes it hosts.
type Interface struct {
	name      string
	driver    adapter.Driver
	timing    Timing
	events    Events
	collab    func(bss.Config) bss.Collaborators
	now       func() time.Time
	afterFunc func(time.Duration, func()) admission.Timer

	ctx    context.Context
	cancel context.CancelFunc

	cmds    chan func()
	inboxMu sync.Mutex
	inbox   []func()
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	start   sync.Once
	stop    sync.Once
	running atomic.Bool

	// Everything below is owned by the event loop.
	cfg         Config
	state       State
	initFailed  bool
	lastErr     error
	caps        adapter.Capabilities
	bsses       []*bss.Context
	proto       *admission.Protocol
	coord       *channel.Coordinator
	chosen      adapter.ChannelParams
	acsFailures int
	ht40Tries   int
	retry       admission.Timer
	surveys     int
}

// Option configures an Interface.
type Option func(*Interface)

// WithEvents sets the upward event sink.
func WithEvents(e Events) Option {
	return func(i *Interface) { i.events = e }
}

// WithCollaborators sets the factory for per-BSS collaborators.
func WithCollaborators(f func(bss.Config) bss.Collaborators) Option {
	return func(i *Interface) { i.collab = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Interface) { i.now = now }
}

// WithTimerFunc replaces time.AfterFunc for every loop timer.
func WithTimerFunc(f func(time.Duration, func()) admission.Timer) Option {
	return func(i *Interface) { i.afterFunc = f }
}

// NewInterface creates an interface on driver. The loop does not run until
// Start.
func NewInterface(cfg Config, driver adapter.Driver, timing Timing, opts ...Option) (*Interface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if timing.QueueSize <= 0 {
		timing.QueueSize = DefaultTiming().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	i := &Interface{
		name:   cfg.Name,
		driver: driver,
		timing: timing,
		events: NopEvents{},
		collab: func(bss.Config) bss.Collaborators { return bss.Collaborators{} },
		now:    time.Now,
		afterFunc: func(d time.Duration, fn func()) admission.Timer {
			return time.AfterFunc(d, fn)
		},
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func(), timing.QueueSize),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		cfg:     cfg,
		state:   Uninitialized,
	}
	for _, opt := range opts {
		opt(i)
	}

	h := hooks{i}
	i.proto = admission.New(driver, i, h, timing.admission(), admission.WithClock(i.now))
	i.coord = channel.New(driver, i, h, timing.channel(), channel.WithClock(i.now))
	for _, bc := range cfg.BSS {
		b, err := bss.New(bc, i.collab(bc))
		if err != nil {
			cancel()
			return nil, err
		}
		i.bsses = append(i.bsses, b)
	}
	driver.Subscribe(i)
	return i, nil
}

// Name returns the interface name.
func (i *Interface) Name() string { return i.name }

// Start runs the event loop and initializes the driver. Unless the
// configuration disables it, the interface is then enabled.
func (i *Interface) Start() {
	i.start.Do(func() {
		i.running.Store(true)
		go i.run()
		i.enqueue(func() {
			if err := i.initialize(); err != nil {
				return
			}
			if !i.cfg.Disabled {
				if err := i.enable(); err != nil {
					klog.Errorf("%s: enable failed: %v", i.name, err)
				}
			}
		})
	})
}

func (i *Interface) run() {
	defer close(i.stopped)
	for {
		select {
		case <-i.done:
			return
		case fn := <-i.cmds:
			// Driver events and timers queued before the command run first.
			i.drain()
			fn()
		case <-i.notify:
			i.drain()
		}
	}
}

// enqueue adds fn to the unbounded inbox used by driver events and timers.
func (i *Interface) enqueue(fn func()) {
	i.inboxMu.Lock()
	i.inbox = append(i.inbox, fn)
	i.inboxMu.Unlock()
	select {
	case i.notify <- struct{}{}:
	default:
	}
}

func (i *Interface) drain() {
	for {
		i.inboxMu.Lock()
		batch := i.inbox
		i.inbox = nil
		i.inboxMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			select {
			case <-i.done:
				return
			default:
			}
			fn()
		}
	}
}

// Do runs fn on the event loop and waits for its result. A full command
// queue returns BUSY and a stopped loop UNAVAILABLE.
func (i *Interface) Do(ctx context.Context, fn func() error) error {
	select {
	case <-i.done:
		return adapter.ErrUnavailable
	default:
	}
	res := make(chan error, 1)
	select {
	case i.cmds <- func() { res <- fn() }:
	default:
		return adapter.ErrBusy
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-i.stopped:
		return adapter.ErrUnavailable
	}
}

// AfterFunc schedules fn on the event loop after d.
func (i *Interface) AfterFunc(d time.Duration, fn func()) admission.Timer {
	return i.afterFunc(d, func() { i.enqueue(fn) })
}

// HandleDriverEvent queues a driver notification for the event loop.
func (i *Interface) HandleDriverEvent(ev adapter.Event) {
	i.enqueue(func() { i.handleEvent(ev) })
}

func (i *Interface) call() (context.Context, context.CancelFunc) {
	if i.timing.CallTimeout <= 0 {
		return context.WithCancel(i.ctx)
	}
	return context.WithTimeout(i.ctx, i.timing.CallTimeout)
}

func (i *Interface) setState(to State) {
	if to == i.state {
		return
	}
	from := i.state
	i.state = to
	klog.Infof("%s: %s -> %s", i.name, from, to)
	i.events.InterfaceStateChanged(i.name, from, to)
}

func (i *Interface) initialize() error {
	ctx, cancel := i.call()
	caps, err := i.driver.Init(ctx)
	cancel()
	if err != nil {
		i.initFailed = true
		i.lastErr = fault.Driver("init", "", adapter.Normalize("Init", err, nil))
		klog.Errorf("%s: driver init failed: %v", i.name, err)
		i.events.Fault(i.name, i.lastErr)
		i.setState(Disabled)
		return i.lastErr
	}
	i.initFailed = false
	i.caps = caps
	i.coord.SetCapabilities(caps)
	klog.Infof("%s: driver up, modes %s, %d channels, %d max stations", i.name, caps.Modes, len(caps.Channels), caps.MaxStations)
	i.setState(Disabled)
	return nil
}

func (i *Interface) enable() error {
	switch i.state {
	case Uninitialized, Disabled:
	default:
		return nil
	}
	if i.initFailed || i.state == Uninitialized {
		if err := i.initialize(); err != nil {
			return err
		}
	}
	if len(i.bsses) == 0 {
		return ErrNoBSS
	}
	i.acsFailures, i.ht40Tries, i.lastErr = 0, 0, nil

	if i.cfg.Country == "" {
		return i.selectChannel()
	}
	i.setState(CountryUpdate)
	ctx, cancel := i.call()
	err := i.driver.SetCountry(ctx, i.cfg.Country)
	cancel()
	if err != nil {
		err = fault.Driver("set_country", "", adapter.Normalize("SetCountry", err, nil))
		i.fail(err)
		return err
	}
	// Completion arrives as RegulatoryUpdated.
	return nil
}

// selectChannel leaves CountryUpdate for automatic selection or the fixed
// channel.
func (i *Interface) selectChannel() error {
	if i.cfg.ACS() {
		i.setState(AutoChannelSelect)
		return i.startSurvey()
	}
	params, _, err := i.coord.Validate(i.cfg.Channel)
	if err != nil {
		i.fail(err)
		return err
	}
	i.chosen = params
	return i.htScan()
}

func (i *Interface) startSurvey() error {
	ctx, cancel := i.call()
	err := i.driver.StartSurvey(ctx)
	cancel()
	if err != nil {
		return i.acsFailed(fault.Driver("start_survey", "", adapter.Normalize("StartSurvey", err, nil)))
	}
	return nil
}

func (i *Interface) onSurvey(results []adapter.Survey) {
	i.surveys++
	if i.state != AutoChannelSelect {
		return
	}
	params, err := i.coord.Select(results, channel.Constraints{
		Band:    i.cfg.Band,
		Width:   i.cfg.Channel.Width,
		NoRadar: i.cfg.NoDFS,
	})
	if err != nil {
		_ = i.acsFailed(err)
		return
	}
	i.acsFailures = 0
	i.chosen = params
	klog.Infof("%s: ACS selected channel %d (%d MHz, %d MHz wide) from %d surveyed", i.name, params.Channel, params.FrequencyMHz, params.Width, len(results))
	_ = i.htScan()
}

// acsFailed counts a failed selection cycle and schedules the next one.
// The error is only returned once the retries are exhausted.
func (i *Interface) acsFailed(err error) error {
	i.acsFailures++
	klog.Warningf("%s: channel selection attempt %d failed: %v", i.name, i.acsFailures, err)
	i.events.Fault(i.name, err)
	if i.acsFailures >= i.timing.ACSMaxRetries {
		err = fmt.Errorf("channel selection failed %d times: %w", i.acsFailures, err)
		i.fail(err)
		return err
	}
	i.schedule(i.timing.ACSRetryInterval, func() {
		if i.state == AutoChannelSelect {
			_ = i.startSurvey()
		}
	})
	return nil
}

// schedule arms the single retry timer, replacing a pending one.
func (i *Interface) schedule(d time.Duration, fn func()) {
	i.stopRetry()
	var t admission.Timer
	t = i.AfterFunc(d, func() {
		if i.retry != t {
			return
		}
		i.retry = nil
		fn()
	})
	i.retry = t
}

func (i *Interface) stopRetry() {
	if i.retry != nil {
		i.retry.Stop()
		i.retry = nil
	}
}

func (i *Interface) htScan() error {
	i.setState(HTScan)
	if i.chosen.Width >= adapter.Width40 &&
		adapter.BandOf(i.chosen.FrequencyMHz) == capability.Band2GHz &&
		i.caps.HasFeature(adapter.FeatureHT40Scan) {
		i.ht40Tries = 0
		return i.startHTScan()
	}
	return i.afterHTScan()
}

func (i *Interface) startHTScan() error {
	i.ht40Tries++
	ctx, cancel := i.call()
	err := i.driver.StartHTScan(ctx, i.chosen)
	cancel()
	if err == nil {
		return nil
	}
	if i.ht40Tries < i.timing.HT40ScanMaxTries {
		klog.V(2).Infof("%s: overlapping BSS scan attempt %d failed: %v", i.name, i.ht40Tries, err)
		i.schedule(i.timing.HTScanRetryDelay, func() {
			if i.state == HTScan {
				_ = i.startHTScan()
			}
		})
		return nil
	}
	klog.Warningf("%s: overlapping BSS scan failed %d times, using 20 MHz: %v", i.name, i.ht40Tries, err)
	i.narrow()
	return i.afterHTScan()
}

func (i *Interface) onHTScan(allow40 bool) {
	if i.state != HTScan {
		return
	}
	if !allow40 {
		klog.Infof("%s: 40 MHz intolerant neighbours, falling back to 20 MHz", i.name)
		i.narrow()
	}
	_ = i.afterHTScan()
}

func (i *Interface) narrow() {
	i.chosen.Width = adapter.Width20
	i.chosen.SecondaryOffset = 0
}

func (i *Interface) afterHTScan() error {
	if i.coord.RequiresCAC(i.chosen) {
		i.setState(DFS)
		if err := i.coord.StartCAC(i.ctx, i.chosen, i.timing.CACDuration); err != nil {
			i.fail(err)
			return err
		}
		// Completion arrives through CACCompleted.
		return nil
	}
	if err := i.coord.Apply(i.ctx, i.chosen); err != nil {
		i.fail(err)
		return err
	}
	return i.enterEnabled()
}

func (i *Interface) cacCompleted() {
	if i.state != DFS {
		return
	}
	_ = i.enterEnabled()
}

func (i *Interface) enterEnabled() error {
	for n, b := range i.bsses {
		if err := i.startBSS(b); err != nil {
			for _, started := range i.bsses[:n] {
				i.stopBSS(started)
			}
			i.fail(err)
			return err
		}
	}
	i.coord.Activate()
	i.setState(Enabled)
	for _, b := range i.bsses {
		i.proto.SyncMode(i.ctx, b)
	}
	return nil
}

func (i *Interface) startBSS(b *bss.Context) error {
	cfg := b.Config()
	cur := i.coord.Current()
	b.SetWidth40(cur.Width >= adapter.Width40)
	ctx, cancel := i.call()
	defer cancel()
	err := i.driver.StartBSS(ctx, adapter.BSSParams{
		BSSID:          cfg.BSSID,
		SSID:           cfg.SSID,
		Channel:        cur,
		BeaconInterval: cfg.BeaconInterval,
		Rates:          cfg.Profile.Rates,
		BasicRates:     cfg.Profile.BasicRates,
	})
	if err != nil {
		return fault.Driver("start_bss", "", adapter.Normalize("StartBSS", err, nil))
	}
	klog.Infof("%s: bss %s (%q) beaconing on %d MHz", i.name, cfg.BSSID, cfg.SSID, cur.FrequencyMHz)
	return nil
}

func (i *Interface) stopBSS(b *bss.Context) {
	ctx, cancel := i.call()
	defer cancel()
	if err := i.driver.StopBSS(ctx, b.BSSID()); err != nil {
		err = adapter.Normalize("StopBSS", err, nil)
		klog.Warningf("%s: stopping bss %s failed: %v", i.name, b.BSSID(), err)
		i.events.DriverFailed(i.name, "stop_bss", err)
	}
}

// leaveEnabled cancels channel work, demotes every associated station and
// stops beaconing.
func (i *Interface) leaveEnabled() {
	i.coord.Cancel()
	if i.state != Enabled {
		return
	}
	for _, b := range i.bsses {
		i.proto.DemoteAll(i.ctx, b, frame.ReasonDeauthLeaving)
		i.stopBSS(b)
	}
}

// shutdown takes the interface to Disabled from any state.
func (i *Interface) shutdown() {
	i.stopRetry()
	i.leaveEnabled()
	i.setState(Disabled)
}

func (i *Interface) fail(err error) {
	i.lastErr = err
	klog.Errorf("%s: %v", i.name, err)
	i.events.Fault(i.name, err)
	i.shutdown()
}

// reselect restarts channel selection after radar.
func (i *Interface) reselect() {
	i.stopRetry()
	i.acsFailures, i.ht40Tries = 0, 0
	i.setState(AutoChannelSelect)
	_ = i.startSurvey()
}

func (i *Interface) radar(freqMHz int) {
	hit := i.coord.Radar(freqMHz)
	switch i.state {
	case DFS:
		i.reselect()
	case Enabled:
		if hit {
			i.leaveEnabled()
			i.reselect()
		}
	}
}

func (i *Interface) switchCompleted(from, to adapter.ChannelParams) {
	for _, b := range i.bsses {
		b.SetWidth40(to.Width >= adapter.Width40)
		i.proto.SyncMode(i.ctx, b)
	}
	i.events.ChannelSwitchCompleted(i.name, from, to)
}

// hooks adapts admission and channel outcomes to the interface events.
type hooks struct{ i *Interface }

func (h hooks) StationJoined(b *bss.Context, sta *bss.Station) {
	h.i.events.StationJoined(h.i.name, b.BSSID(), sta.Info())
}

func (h hooks) StationLeft(b *bss.Context, info bss.Info, reason frame.ReasonCode) {
	h.i.events.StationLeft(h.i.name, b.BSSID(), info, reason)
}

func (h hooks) Rejected(b *bss.Context, addr frame.Addr, status frame.StatusCode) {
	h.i.events.StationRejected(h.i.name, b.BSSID(), addr, status)
}

func (h hooks) DriverFailed(op string, err error) {
	h.i.events.DriverFailed(h.i.name, op, err)
}

func (h hooks) SwitchCompleted(from, to adapter.ChannelParams) { h.i.switchCompleted(from, to) }

func (h hooks) SwitchFailed(target adapter.ChannelParams, err error) {
	h.i.events.ChannelSwitchFailed(h.i.name, target, err)
	h.i.events.Fault(h.i.name, err)
}

func (h hooks) CACCompleted(adapter.ChannelParams) { h.i.cacCompleted() }

func (h hooks) RadarDetected(freqMHz int, operating bool) {
	h.i.events.RadarDetected(h.i.name, freqMHz, operating)
}
