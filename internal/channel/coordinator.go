package channel

import (
	"context"
	"errors"
	"time"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/admission"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

var (
	// ErrSwitchInProgress rejects a switch while another one runs.
	ErrSwitchInProgress = errors.New("channel switch in progress")
	// ErrNotOperating rejects a switch while the interface is not enabled.
	ErrNotOperating = errors.New("interface not operating")
	// ErrNoSwitch is returned by Abort when nothing is in progress.
	ErrNoSwitch = errors.New("no channel switch in progress")
	// ErrRadar is the cause of a switch aborted by radar.
	ErrRadar = errors.New("radar detected")
)

// Events receives coordinator outcomes.
type Events interface {
	SwitchCompleted(from, to adapter.ChannelParams)
	SwitchFailed(target adapter.ChannelParams, err error)
	CACCompleted(params adapter.ChannelParams)
	RadarDetected(freqMHz int, operating bool)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) SwitchCompleted(adapter.ChannelParams, adapter.ChannelParams) {}
func (NopEvents) SwitchFailed(adapter.ChannelParams, error)                    {}
func (NopEvents) CACCompleted(adapter.ChannelParams)                           {}
func (NopEvents) RadarDetected(int, bool)                                      {}

// Config tunes the coordinator.
type Config struct {
	// RadarCooldown is the non-occupancy period after radar.
	RadarCooldown time.Duration
	// CACDuration is used when StartCAC gets no duration.
	CACDuration time.Duration
	// CallTimeout bounds each driver call.
	CallTimeout time.Duration
}

// DefaultConfig returns the regulatory defaults (ETSI non-occupancy period
// and CAC time).
func DefaultConfig() Config {
	return Config{
		RadarCooldown: 30 * time.Minute,
		CACDuration:   60 * time.Second,
		CallTimeout:   2 * time.Second,
	}
}

// Switch is an in-progress channel switch.
type Switch struct {
	Target   adapter.ChannelParams `json:"target"`
	Previous adapter.ChannelParams `json:"previous"`
	Count    uint8                 `json:"count"`
	BlockTx  bool                  `json:"blockTx"`
	Started  time.Time             `json:"started"`
}

// CAC is a running channel availability check.
type CAC struct {
	Params   adapter.ChannelParams `json:"params"`
	Started  time.Time             `json:"started"`
	Duration time.Duration         `json:"duration"`
	// Offloaded is set when the driver times the check.
	Offloaded bool `json:"offloaded"`
}

// State is a copy of the coordinator state for introspection.
type State struct {
	Current   adapter.ChannelParams `json:"current"`
	Operating bool                  `json:"operating"`
	Switch    *Switch               `json:"switch,omitempty"`
	CAC       *CAC                  `json:"cac,omitempty"`
	Blacklist []BlacklistEntry      `json:"blacklist"`
}

// Coordinator owns the operating channel of one interface.
type Coordinator struct {
	driver adapter.Driver
	sched  admission.Scheduler
	events Events
	cfg    Config
	now    func() time.Time

	plan      []adapter.Channel
	offload   bool
	current   adapter.ChannelParams
	operating bool
	sw        *Switch
	cac       *CAC
	cacTimer  admission.Timer
	blacklist *Blacklist
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator. Timer callbacks are run through sched and
// must land on the interface event loop.
func New(driver adapter.Driver, sched admission.Scheduler, events Events, cfg Config, opts ...Option) *Coordinator {
	if events == nil {
		events = NopEvents{}
	}
	c := &Coordinator{
		driver:    driver,
		sched:     sched,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
		blacklist: NewBlacklist(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetConfig replaces the tuning used from now on.
func (c *Coordinator) SetConfig(cfg Config) { c.cfg = cfg }

// SetCapabilities takes the channel plan and DFS offload flag from a driver
// snapshot.
func (c *Coordinator) SetCapabilities(caps adapter.Capabilities) {
	c.plan = append([]adapter.Channel(nil), caps.Channels...)
	c.offload = caps.HasFeature(adapter.FeatureDFSOffload)
}

// SetPlan replaces the channel plan after a regulatory update.
func (c *Coordinator) SetPlan(plan []adapter.Channel) {
	c.plan = append([]adapter.Channel(nil), plan...)
}

// Plan returns the channel plan.
func (c *Coordinator) Plan() []adapter.Channel { return c.plan }

// Current returns the operating channel.
func (c *Coordinator) Current() adapter.ChannelParams { return c.current }

// InProgress reports whether a switch is running.
func (c *Coordinator) InProgress() bool { return c.sw != nil }

// CACRunning reports whether a CAC wait is running.
func (c *Coordinator) CACRunning() bool { return c.cac != nil }

// Blacklist returns the radar blacklist.
func (c *Coordinator) Blacklist() *Blacklist { return c.blacklist }

// State returns a copy of the coordinator state.
func (c *Coordinator) State() State {
	st := State{
		Current:   c.current,
		Operating: c.operating,
		Blacklist: c.blacklist.Entries(c.now()),
	}
	if c.sw != nil {
		sw := *c.sw
		st.Switch = &sw
	}
	if c.cac != nil {
		cac := *c.cac
		st.CAC = &cac
	}
	return st
}

// Lookup returns the plan entry for params, matching by frequency or, when
// the frequency is unset, by channel number.
func (c *Coordinator) Lookup(params adapter.ChannelParams) (adapter.Channel, bool) {
	for _, ch := range c.plan {
		if params.FrequencyMHz != 0 && ch.FrequencyMHz == params.FrequencyMHz {
			return ch, true
		}
		if params.FrequencyMHz == 0 && ch.Number == params.Channel {
			return ch, true
		}
	}
	return adapter.Channel{}, false
}

// Validate resolves params against the plan and the blacklist. It fills in
// the channel number and frequency and defaults the width to 20 MHz.
func (c *Coordinator) Validate(params adapter.ChannelParams) (adapter.ChannelParams, adapter.Channel, error) {
	ch, ok := c.Lookup(params)
	if !ok {
		return params, ch, fault.Regulatory("channel", "%w: channel %d (%d MHz) is not in the channel plan",
			ErrChannelInvalid, params.Channel, params.FrequencyMHz)
	}
	params.Channel = ch.Number
	params.FrequencyMHz = ch.FrequencyMHz
	if params.Width == 0 {
		params.Width = adapter.Width20
	}
	if ch.Flags&adapter.ChannelDisabled != 0 {
		return params, ch, fault.Regulatory("channel", "%w: channel %d is disabled", ErrChannelInvalid, ch.Number)
	}
	if c.blacklist.Contains(ch.FrequencyMHz, c.now()) {
		return params, ch, fault.Regulatory("channel", "channel %d is in radar cooldown", ch.Number)
	}
	if params.Width >= adapter.Width40 {
		if params.SecondaryOffset == 0 {
			params.SecondaryOffset = secondaryOffset(ch)
		}
		if params.SecondaryOffset > 0 && ch.Flags&adapter.ChannelHT40Plus == 0 ||
			params.SecondaryOffset < 0 && ch.Flags&adapter.ChannelHT40Minus == 0 ||
			params.SecondaryOffset == 0 {
			return params, ch, fault.Regulatory("channel", "%w: channel %d does not allow 40 MHz with offset %d",
				ErrChannelInvalid, ch.Number, params.SecondaryOffset)
		}
		if c.blacklist.Contains(ch.FrequencyMHz+params.SecondaryOffset*20, c.now()) {
			return params, ch, fault.Regulatory("channel", "secondary channel of %d is in radar cooldown", ch.Number)
		}
	} else {
		params.SecondaryOffset = 0
	}
	return params, ch, nil
}

// RequiresCAC reports whether params needs a channel availability check.
func (c *Coordinator) RequiresCAC(params adapter.ChannelParams) bool {
	ch, ok := c.Lookup(params)
	return ok && ch.Flags&adapter.ChannelRadar != 0
}

// Select runs automatic channel selection over survey results, skipping
// blacklisted frequencies.
func (c *Coordinator) Select(results []adapter.Survey, cons Constraints) (adapter.ChannelParams, error) {
	now := c.now()
	exclude := cons.Exclude
	cons.Exclude = func(freq int) bool {
		return c.blacklist.Contains(freq, now) || exclude != nil && exclude(freq)
	}
	return Select(results, c.plan, cons)
}

// Apply sets the operating channel during bring up.
func (c *Coordinator) Apply(ctx context.Context, params adapter.ChannelParams) error {
	cctx, cancel := c.call(ctx)
	defer cancel()
	if err := c.driver.SetChannel(cctx, params); err != nil {
		return fault.Driver("set_channel", "", adapter.Normalize("SetChannel", err, nil))
	}
	c.current = params
	return nil
}

// Activate marks the interface operating on its current channel. Switches
// are only accepted while operating.
func (c *Coordinator) Activate() { c.operating = true }

// Cancel drops any in-progress switch and CAC wait without touching the
// driver. It reports whether anything was cancelled.
func (c *Coordinator) Cancel() bool {
	c.operating = false
	cancelled := c.sw != nil || c.cac != nil
	if c.sw != nil {
		klog.Infof("channel: switch to %d MHz cancelled", c.sw.Target.FrequencyMHz)
		c.sw = nil
	}
	c.stopCAC()
	return cancelled
}

func (c *Coordinator) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// Initiate starts a switch to target announced over count beacons. A count
// of zero switches on the next beacon tick.
func (c *Coordinator) Initiate(target adapter.ChannelParams, count uint8, blockTx bool) (adapter.ChannelParams, error) {
	if c.sw != nil {
		return target, ErrSwitchInProgress
	}
	if !c.operating {
		return target, ErrNotOperating
	}
	target, ch, err := c.Validate(target)
	if err != nil {
		return target, err
	}
	if ch.Flags&adapter.ChannelRadar != 0 {
		return target, fault.Regulatory("channel_switch", "channel %d requires CAC", ch.Number)
	}
	c.sw = &Switch{
		Target:   target,
		Previous: c.current,
		Count:    count,
		BlockTx:  blockTx,
		Started:  c.now(),
	}
	klog.Infof("channel: switching %d MHz -> %d MHz in %d beacons", c.current.FrequencyMHz, target.FrequencyMHz, count)
	return target, nil
}

// Tick advances the countdown by one beacon. Each decrement is announced
// to every associated station of bsses; at zero the new channel is
// applied. Failed announcements are returned but do not stop the
// countdown.
func (c *Coordinator) Tick(ctx context.Context, bsses []*bss.Context) error {
	if c.sw == nil {
		return nil
	}
	var errs error
	if c.sw.Count > 0 {
		c.sw.Count--
		errs = c.announce(ctx, bsses)
	}
	if c.sw.Count > 0 {
		return errs
	}
	return errors.Join(errs, c.complete(ctx))
}

func (c *Coordinator) announce(ctx context.Context, bsses []*bss.Context) error {
	var errs error
	sw := c.sw
	for _, b := range bsses {
		for _, sta := range b.Table().Stations() {
			if sta.Status != bss.Associated {
				continue
			}
			bssid := b.BSSID()
			if !sta.VBSSID.IsZero() {
				bssid = sta.VBSSID
			}
			req := frame.ChannelSwitchAction{
				To:         sta.Addr,
				BSSID:      bssid,
				BlockTx:    sw.BlockTx,
				NewChannel: sw.Target.Channel,
				Count:      sw.Count,
			}
			cctx, cancel := c.call(ctx)
			if err := c.driver.SendFrame(cctx, req); err != nil {
				klog.V(2).Infof("channel: csa action to %s failed: %v", sta.Addr, err)
				errs = errors.Join(errs, fault.Driver("csa_action", sta.Addr.String(), adapter.Normalize("send_frame", err, nil)))
			}
			cancel()
		}
	}
	return errs
}

func (c *Coordinator) complete(ctx context.Context) error {
	sw := c.sw
	cctx, cancel := c.call(ctx)
	err := c.driver.SetChannel(cctx, sw.Target)
	cancel()
	if err != nil {
		return c.abort(ctx, adapter.Normalize("SetChannel", err, nil))
	}
	c.sw = nil
	from := c.current
	c.current = sw.Target
	klog.Infof("channel: switched to %d MHz", sw.Target.FrequencyMHz)
	c.events.SwitchCompleted(from, sw.Target)
	return nil
}

// Abort ends the in-progress switch after a driver failure, restoring the
// previous channel.
func (c *Coordinator) Abort(ctx context.Context, cause error) error {
	if c.sw == nil {
		return ErrNoSwitch
	}
	return c.abort(ctx, cause)
}

func (c *Coordinator) abort(ctx context.Context, cause error) error {
	sw := c.sw
	c.sw = nil
	if cause == nil {
		cause = errors.New("aborted")
	}
	cctx, cancel := c.call(ctx)
	if err := c.driver.SetChannel(cctx, sw.Previous); err != nil {
		klog.Warningf("channel: restoring %d MHz failed: %v", sw.Previous.FrequencyMHz, err)
	}
	cancel()
	c.current = sw.Previous
	err := fault.Driver("channel_switch", "", cause)
	klog.Errorf("channel: switch to %d MHz aborted: %v", sw.Target.FrequencyMHz, cause)
	c.events.SwitchFailed(sw.Target, err)
	return err
}

// StartCAC starts radar monitoring on params for duration, or the default
// CAC time when duration is zero. Unless the driver runs CAC itself, expiry
// is timed here and reported with CACCompleted.
func (c *Coordinator) StartCAC(ctx context.Context, params adapter.ChannelParams, duration time.Duration) error {
	if duration <= 0 {
		duration = c.cfg.CACDuration
	}
	c.stopCAC()
	cctx, cancel := c.call(ctx)
	err := c.driver.StartCAC(cctx, params)
	cancel()
	if err != nil {
		return fault.Driver("start_cac", "", adapter.Normalize("StartCAC", err, nil))
	}
	c.current = params
	cac := &CAC{Params: params, Started: c.now(), Duration: duration, Offloaded: c.offload}
	c.cac = cac
	if !c.offload {
		var t admission.Timer
		t = c.sched.AfterFunc(duration, func() {
			// A stopped timer may still have its callback queued.
			if c.cacTimer != t {
				return
			}
			c.finishCAC()
		})
		c.cacTimer = t
	}
	klog.Infof("channel: CAC on %d MHz for %v", params.FrequencyMHz, duration)
	return nil
}

// CACFinished handles the driver report of an offloaded CAC. Reports for
// another frequency or without a running CAC are ignored.
func (c *Coordinator) CACFinished(freqMHz int, aborted bool) (bool, error) {
	if c.cac == nil || c.cac.Params.FrequencyMHz != freqMHz {
		return false, nil
	}
	if aborted {
		c.stopCAC()
		return true, fault.Regulatory("cac", "driver aborted CAC on %d MHz", freqMHz)
	}
	c.finishCAC()
	return true, nil
}

func (c *Coordinator) finishCAC() {
	params := c.cac.Params
	c.cac = nil
	c.cacTimer = nil
	klog.Infof("channel: CAC on %d MHz completed", params.FrequencyMHz)
	c.events.CACCompleted(params)
}

func (c *Coordinator) stopCAC() {
	if c.cacTimer != nil {
		c.cacTimer.Stop()
		c.cacTimer = nil
	}
	c.cac = nil
}

// Radar handles a radar report. The frequency is blacklisted, a running
// switch and CAC wait are dropped. It reports whether the radar hit the
// operating channel, the CAC channel or the switch target.
func (c *Coordinator) Radar(freqMHz int) bool {
	now := c.now()
	c.blacklist.Add(freqMHz, now.Add(c.cfg.RadarCooldown))

	hit := occupies(c.current, freqMHz)
	if c.sw != nil {
		sw := c.sw
		c.sw = nil
		hit = hit || occupies(sw.Target, freqMHz)
		c.events.SwitchFailed(sw.Target, fault.Regulatory("channel_switch", "%w on %d MHz", ErrRadar, freqMHz))
	}
	if c.cac != nil {
		hit = hit || occupies(c.cac.Params, freqMHz)
		c.stopCAC()
	}
	klog.Warningf("channel: radar on %d MHz (operating=%v), blacklisted for %v", freqMHz, hit, c.cfg.RadarCooldown)
	c.events.RadarDetected(freqMHz, hit)
	return hit
}

// occupies reports whether freq is the primary or secondary channel of p.
func occupies(p adapter.ChannelParams, freqMHz int) bool {
	if p.FrequencyMHz == 0 {
		return false
	}
	if p.FrequencyMHz == freqMHz {
		return true
	}
	return p.Width >= adapter.Width40 && p.SecondaryOffset != 0 && p.FrequencyMHz+p.SecondaryOffset*20 == freqMHz
}
