// Package sim provides an in-memory radio for development and demos.
//
// The radio keeps a regulatory channel plan, runs synthetic surveys and
// optional driver-side CAC, encodes every outbound frame with the frame
// codec and delivers notifications asynchronously like a kernel driver.
// Frames, radar and beacon ticks are injected through its API.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// Fault injection modes.
const (
	FaultNone         = ""
	FaultBusy         = "ReturnBusy"
	FaultUnavailable  = "ReturnUnavailable"
	FaultInvalidRange = "ReturnInvalidRange"
)

const eventQueueSize = 256

// Radio implements adapter.Driver in memory.
type Radio struct {
	name string

	mu          sync.RWMutex
	caps        adapter.Capabilities
	plan        []adapter.Channel
	country     string
	channel     adapter.ChannelParams
	survey      []adapter.Survey
	intolerant  bool
	cacDuration time.Duration
	cacTimer    *time.Timer
	bsses       map[frame.Addr]adapter.BSSParams
	stations    map[frame.Addr]map[frame.Addr]adapter.StationParams
	modes       map[frame.Addr]adapter.OperatingMode
	sent        [][]byte
	lastCommand time.Time
	faultMode   string
	sink        adapter.EventSink
	closed      bool

	events chan adapter.Event
	done   chan struct{}
	once   sync.Once
}

var _ adapter.Driver = (*Radio)(nil)

// Option configures a Radio.
type Option func(*Radio)

// WithChannelPlan replaces the default channel plan.
func WithChannelPlan(plan []adapter.Channel) Option {
	return func(r *Radio) { r.plan = append([]adapter.Channel(nil), plan...) }
}

// WithCACOffload makes the radio run CAC itself and report CACFinished
// after d.
func WithCACOffload(d time.Duration) Option {
	return func(r *Radio) {
		r.cacDuration = d
		r.caps.Features |= adapter.FeatureDFSOffload
	}
}

// WithSurvey fixes the survey results instead of the synthetic ones.
func WithSurvey(results []adapter.Survey) Option {
	return func(r *Radio) { r.survey = append([]adapter.Survey(nil), results...) }
}

// New creates a simulated dual band radio.
func New(name string, opts ...Option) *Radio {
	r := &Radio{
		name: name,
		caps: adapter.Capabilities{
			Modes:       adapter.ModeB | adapter.ModeG | adapter.ModeA | adapter.ModeN | adapter.ModeAC,
			Features:    adapter.FeatureCSA | adapter.FeatureHT40Scan,
			Rates:       []capability.Rate{2, 4, 11, 22, 12, 18, 24, 36, 48, 72, 96, 108},
			HT:          &capability.HTCapabilities{Info: capability.HTCapChannelWidth40 | capability.HTCapShortGI20 | capability.HTCapShortGI40 | capability.HTCapTxSTBC, MCS: [16]byte{0xff, 0xff}},
			VHT:         &capability.VHTCapabilities{Info: 0x1, RxMCSMap: 0xfffa, TxMCSMap: 0xfffa},
			ExtCapa:     []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40},
			MaxStations: 128,
		},
		plan:        DefaultChannelPlan(),
		bsses:       make(map[frame.Addr]adapter.BSSParams),
		stations:    make(map[frame.Addr]map[frame.Addr]adapter.StationParams),
		modes:       make(map[frame.Addr]adapter.OperatingMode),
		lastCommand: time.Now(),
		events:      make(chan adapter.Event, eventQueueSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.caps.Channels = r.plan
	go r.deliver()
	return r
}

// DefaultChannelPlan returns 2.4 GHz channels 1 to 13 and 5 GHz channels 36
// to 64. Channels 52 and up require radar detection.
func DefaultChannelPlan() []adapter.Channel {
	var plan []adapter.Channel
	for ch := uint8(1); ch <= 13; ch++ {
		c := adapter.Channel{Number: ch, FrequencyMHz: adapter.FrequencyOf(ch), MaxPowerDbm: 20}
		if ch <= 9 {
			c.Flags |= adapter.ChannelHT40Plus
		}
		if ch >= 5 {
			c.Flags |= adapter.ChannelHT40Minus
		}
		plan = append(plan, c)
	}
	for ch := uint8(36); ch <= 64; ch += 4 {
		c := adapter.Channel{Number: ch, FrequencyMHz: adapter.FrequencyOf(ch), MaxPowerDbm: 23}
		if (ch/4)%2 == 1 {
			c.Flags |= adapter.ChannelHT40Plus
		} else {
			c.Flags |= adapter.ChannelHT40Minus
		}
		if ch >= 52 {
			c.Flags |= adapter.ChannelRadar
		}
		plan = append(plan, c)
	}
	return plan
}

// deliver hands queued events to the sink outside any lock.
func (r *Radio) deliver() {
	for {
		select {
		case ev := <-r.events:
			r.mu.RLock()
			sink := r.sink
			r.mu.RUnlock()
			if sink != nil {
				sink.HandleDriverEvent(ev)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Radio) emit(ev adapter.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	default:
		klog.Warningf("sim %s: event queue full, dropping %s", r.name, ev.EventName())
	}
}

// begin checks cancellation, closure and the fault mode for operation.
func (r *Radio) begin(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := r.checkFaultMode(operation); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("UNAVAILABLE: %s is closed", r.name)
	}
	r.lastCommand = time.Now()
	return nil
}

func (r *Radio) Init(ctx context.Context) (adapter.Capabilities, error) {
	if err := r.begin(ctx, "Init"); err != nil {
		return adapter.Capabilities{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := r.caps
	caps.Channels = append([]adapter.Channel(nil), r.plan...)
	return caps, nil
}

func (r *Radio) SetCountry(ctx context.Context, country string) error {
	if err := r.begin(ctx, "SetCountry"); err != nil {
		return err
	}
	if len(country) != 2 {
		return fmt.Errorf("INVALID_PARAMETER: country %q", country)
	}
	r.mu.Lock()
	r.country = country
	plan := append([]adapter.Channel(nil), r.plan...)
	r.mu.Unlock()
	r.emit(adapter.RegulatoryUpdated{Country: country, Channels: plan})
	return nil
}

func (r *Radio) StartSurvey(ctx context.Context) error {
	if err := r.begin(ctx, "StartSurvey"); err != nil {
		return err
	}
	r.mu.RLock()
	results := append([]adapter.Survey(nil), r.survey...)
	if results == nil {
		results = syntheticSurvey(r.plan)
	}
	r.mu.RUnlock()
	r.emit(adapter.SurveyCompleted{Results: results})
	return nil
}

// syntheticSurvey derives stable busy times from the channel number so ACS
// picks the same channel on every run.
func syntheticSurvey(plan []adapter.Channel) []adapter.Survey {
	out := make([]adapter.Survey, 0, len(plan))
	for _, ch := range plan {
		busy := time.Duration(5+int(ch.Number)*7%40) * time.Millisecond
		out = append(out, adapter.Survey{
			FrequencyMHz: ch.FrequencyMHz,
			NoiseDbm:     -95 + int(ch.Number)%3,
			Active:       100 * time.Millisecond,
			Busy:         busy,
			Tx:           busy / 4,
		})
	}
	return out
}

func (r *Radio) StartHTScan(ctx context.Context, params adapter.ChannelParams) error {
	if err := r.begin(ctx, "StartHTScan"); err != nil {
		return err
	}
	r.mu.RLock()
	allow := !r.intolerant
	r.mu.RUnlock()
	r.emit(adapter.HTScanCompleted{Allow40: allow})
	return nil
}

// lookup returns the plan entry for params.
func (r *Radio) lookup(params adapter.ChannelParams) (adapter.Channel, error) {
	for _, ch := range r.plan {
		if ch.FrequencyMHz != params.FrequencyMHz {
			continue
		}
		if ch.Flags&adapter.ChannelDisabled != 0 {
			return ch, fmt.Errorf("INVALID_RANGE: channel %d is disabled", ch.Number)
		}
		if params.Width >= adapter.Width40 {
			if params.SecondaryOffset > 0 && ch.Flags&adapter.ChannelHT40Plus == 0 ||
				params.SecondaryOffset < 0 && ch.Flags&adapter.ChannelHT40Minus == 0 {
				return ch, fmt.Errorf("INVALID_RANGE: channel %d does not allow HT40 offset %d", ch.Number, params.SecondaryOffset)
			}
		}
		return ch, nil
	}
	return adapter.Channel{}, fmt.Errorf("INVALID_RANGE: %d MHz is not in the channel plan", params.FrequencyMHz)
}

func (r *Radio) SetChannel(ctx context.Context, params adapter.ChannelParams) error {
	if err := r.begin(ctx, "SetChannel"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.lookup(params); err != nil {
		return err
	}
	r.channel = params
	return nil
}

func (r *Radio) StartCAC(ctx context.Context, params adapter.ChannelParams) error {
	if err := r.begin(ctx, "StartCAC"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.lookup(params)
	if err != nil {
		return err
	}
	if ch.Flags&adapter.ChannelRadar == 0 {
		return fmt.Errorf("INVALID_PARAMETER: channel %d needs no CAC", ch.Number)
	}
	r.channel = params
	if r.cacDuration > 0 {
		if r.cacTimer != nil {
			r.cacTimer.Stop()
		}
		freq := params.FrequencyMHz
		r.cacTimer = time.AfterFunc(r.cacDuration, func() {
			r.emit(adapter.CACFinished{FrequencyMHz: freq})
		})
	}
	return nil
}

func (r *Radio) StartBSS(ctx context.Context, params adapter.BSSParams) error {
	if err := r.begin(ctx, "StartBSS"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bsses[params.BSSID] = params
	if r.stations[params.BSSID] == nil {
		r.stations[params.BSSID] = make(map[frame.Addr]adapter.StationParams)
	}
	return nil
}

func (r *Radio) StopBSS(ctx context.Context, bssid frame.Addr) error {
	if err := r.begin(ctx, "StopBSS"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bsses, bssid)
	delete(r.stations, bssid)
	delete(r.modes, bssid)
	return nil
}

func (r *Radio) SendFrame(ctx context.Context, req frame.Request) error {
	if err := r.begin(ctx, "SendFrame"); err != nil {
		return err
	}
	raw, err := frame.Encode(req)
	if err != nil {
		return fmt.Errorf("INVALID_PARAMETER: %v", err)
	}
	r.mu.Lock()
	r.sent = append(r.sent, raw)
	r.mu.Unlock()
	klog.V(4).Infof("sim %s: tx %s to %s (%d bytes)", r.name, req.Name(), req.Destination(), len(raw))
	return nil
}

func (r *Radio) AddStation(ctx context.Context, params adapter.StationParams) error {
	if err := r.begin(ctx, "AddStation"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bsses) == 0 {
		return fmt.Errorf("NOT_READY: no BSS started")
	}
	// Virtual BSSIDs of light virtual APs get their own table.
	table, ok := r.stations[params.BSSID]
	if !ok {
		table = make(map[frame.Addr]adapter.StationParams)
		r.stations[params.BSSID] = table
	}
	if _, exists := table[params.Addr]; !exists && r.stationCount() >= r.caps.MaxStations {
		return fmt.Errorf("QUEUE_FULL: station table full")
	}
	table[params.Addr] = params
	return nil
}

func (r *Radio) stationCount() int {
	n := 0
	for _, t := range r.stations {
		n += len(t)
	}
	return n
}

func (r *Radio) RemoveStation(ctx context.Context, bssid, addr frame.Addr) error {
	if err := r.begin(ctx, "RemoveStation"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stations[bssid], addr)
	return nil
}

func (r *Radio) SetStationAuthorized(ctx context.Context, bssid, addr frame.Addr, authorized bool) error {
	if err := r.begin(ctx, "SetStationAuthorized"); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.stations[bssid][addr]; !ok {
		return fmt.Errorf("INVALID_PARAMETER: unknown station %s", addr)
	}
	return nil
}

func (r *Radio) SetOperatingMode(ctx context.Context, bssid frame.Addr, mode adapter.OperatingMode) error {
	if err := r.begin(ctx, "SetOperatingMode"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[bssid] = mode
	return nil
}

func (r *Radio) Subscribe(sink adapter.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

func (r *Radio) Close() error {
	r.mu.Lock()
	r.closed = true
	if r.cacTimer != nil {
		r.cacTimer.Stop()
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
	return nil
}

// Injection API

// InjectFrame decodes raw as received on bssid and delivers it.
func (r *Radio) InjectFrame(bssid frame.Addr, raw []byte, signalDbm int) error {
	f, err := frame.Decode(raw)
	if err != nil {
		return err
	}
	r.emit(adapter.FrameReceived{BSSID: bssid, Frame: f, SignalDbm: signalDbm})
	return nil
}

// InjectRadar reports radar on freq and aborts a running driver-side CAC.
func (r *Radio) InjectRadar(freqMHz int) {
	r.mu.Lock()
	if r.cacTimer != nil {
		r.cacTimer.Stop()
		r.cacTimer = nil
	}
	r.mu.Unlock()
	r.emit(adapter.RadarDetected{FrequencyMHz: freqMHz})
}

// Tick reports one beacon interval.
func (r *Radio) Tick() {
	r.emit(adapter.BeaconTick{})
}

// Run ticks every interval until ctx is done.
func (r *Radio) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Tick()
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// LoseStation drops addr from the driver table and reports it lost.
func (r *Radio) LoseStation(bssid, addr frame.Addr) {
	r.mu.Lock()
	delete(r.stations[bssid], addr)
	r.mu.Unlock()
	r.emit(adapter.StationLost{BSSID: bssid, Addr: addr})
}

// ReportOLBC reports overlapping legacy BSS conditions.
func (r *Radio) ReportOLBC(legacy, ht bool) {
	r.emit(adapter.OverlappingLegacyBSS{Legacy: legacy, HT: ht})
}

// FailChannelSwitch reports a failed channel switch.
func (r *Radio) FailChannelSwitch(err error) {
	r.emit(adapter.ChannelSwitchFailed{Err: err})
}

// Fatal reports an unrecoverable driver error.
func (r *Radio) Fatal(err error) {
	r.emit(adapter.DriverFatal{Err: err})
}

// SetHT40Intolerant makes overlapping BSS scans forbid 40 MHz.
func (r *Radio) SetHT40Intolerant(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intolerant = on
}

// Fault injection methods

// SetFaultMode sets the fault injection mode.
func (r *Radio) SetFaultMode(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faultMode = mode
}

// ClearFaultMode clears the fault injection mode.
func (r *Radio) ClearFaultMode() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faultMode = FaultNone
}

// checkFaultMode returns the injected fault for operation, if any.
func (r *Radio) checkFaultMode(operation string) error {
	r.mu.RLock()
	mode := r.faultMode
	r.mu.RUnlock()

	switch mode {
	case FaultBusy:
		return fmt.Errorf("BUSY: simulated busy error for %s", operation)
	case FaultUnavailable:
		return fmt.Errorf("UNAVAILABLE: simulated unavailable error for %s", operation)
	case FaultInvalidRange:
		return fmt.Errorf("INVALID_RANGE: simulated invalid range error for %s", operation)
	default:
		return nil
	}
}

// Helper methods for tests and demos

// Sent returns the encoded frames transmitted so far.
func (r *Radio) Sent() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([][]byte(nil), r.sent...)
}

// CurrentChannel returns the channel last applied.
func (r *Radio) CurrentChannel() adapter.ChannelParams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Country returns the regulatory domain last applied.
func (r *Radio) Country() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.country
}

// Stations returns the driver table of bssid.
func (r *Radio) Stations(bssid frame.Addr) []adapter.StationParams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapter.StationParams, 0, len(r.stations[bssid]))
	for _, p := range r.stations[bssid] {
		out = append(out, p)
	}
	return out
}

// Beaconing reports whether bssid is started.
func (r *Radio) Beaconing(bssid frame.Addr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bsses[bssid]
	return ok
}

// LastCommandTime returns the time of the last driver call.
func (r *Radio) LastCommandTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCommand
}
