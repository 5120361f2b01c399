// Package fake provides a recording Driver for tests.
//
// Every call is recorded, any operation can be made to fail, and with Auto
// set the driver answers SetCountry, StartSurvey and StartHTScan with the
// matching notification like a real driver would.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// Operation names used by Call, FailOn and CallCount.
const (
	OpInit                 = "Init"
	OpSetCountry           = "SetCountry"
	OpStartSurvey          = "StartSurvey"
	OpStartHTScan          = "StartHTScan"
	OpSetChannel           = "SetChannel"
	OpStartCAC             = "StartCAC"
	OpStartBSS             = "StartBSS"
	OpStopBSS              = "StopBSS"
	OpSendFrame            = "SendFrame"
	OpAddStation           = "AddStation"
	OpRemoveStation        = "RemoveStation"
	OpSetStationAuthorized = "SetStationAuthorized"
	OpSetOperatingMode     = "SetOperatingMode"
	OpClose                = "Close"
)

// Call is one recorded driver call.
type Call struct {
	Op   string
	Args interface{}
}

type staKey struct {
	bssid, addr frame.Addr
}

// Driver implements adapter.Driver in memory.
type Driver struct {
	mu        sync.Mutex
	caps      adapter.Capabilities
	sink      adapter.EventSink
	calls     []Call
	frames    []frame.Request
	stations  map[staKey]adapter.StationParams
	channel   adapter.ChannelParams
	modes     map[frame.Addr]adapter.OperatingMode
	beaconing map[frame.Addr]bool
	failures  map[string]error
	closed    bool

	// Auto makes SetCountry, StartSurvey and StartHTScan emit their
	// completion events synchronously.
	Auto bool
	// Survey is returned by StartSurvey when Auto is set.
	Survey []adapter.Survey
	// Allow40 is returned by StartHTScan when Auto is set.
	Allow40 bool
}

var _ adapter.Driver = (*Driver)(nil)

// New creates a fake driver reporting caps from Init.
func New(caps adapter.Capabilities) *Driver {
	return &Driver{
		caps:      caps,
		stations:  make(map[staKey]adapter.StationParams),
		modes:     make(map[frame.Addr]adapter.OperatingMode),
		beaconing: make(map[frame.Addr]bool),
		failures:  make(map[string]error),
		Auto:      true,
		Allow40:   true,
	}
}

// DefaultCapabilities describes a dual band 802.11n/ac radio with a small
// channel plan. Channels 52 to 64 require radar detection.
func DefaultCapabilities() adapter.Capabilities {
	caps := adapter.Capabilities{
		Modes:       adapter.ModeB | adapter.ModeG | adapter.ModeA | adapter.ModeN | adapter.ModeAC,
		Features:    adapter.FeatureCSA,
		Rates:       []capability.Rate{2, 4, 11, 22, 12, 18, 24, 36, 48, 72, 96, 108},
		HT:          &capability.HTCapabilities{Info: capability.HTCapChannelWidth40 | capability.HTCapShortGI20 | capability.HTCapGreenfield, MCS: [16]byte{0xff, 0xff}},
		VHT:         &capability.VHTCapabilities{Info: 0x1, RxMCSMap: 0xfffa, TxMCSMap: 0xfffa},
		MaxStations: 2007,
	}
	for _, ch := range []uint8{1, 6, 11, 36, 40, 44, 48, 52, 56, 60, 64} {
		c := adapter.Channel{Number: ch, FrequencyMHz: adapter.FrequencyOf(ch), MaxPowerDbm: 20}
		if ch >= 52 {
			c.Flags |= adapter.ChannelRadar
		}
		caps.Channels = append(caps.Channels, c)
	}
	return caps
}

// FailOn makes op return err until ClearFailures. A nil err clears op.
func (d *Driver) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// ClearFailures removes every injected failure.
func (d *Driver) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = make(map[string]error)
}

// record logs the call and returns the injected failure for op.
func (d *Driver) record(ctx context.Context, op string, args interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: op, Args: args})
	if d.closed && op != OpClose {
		return fmt.Errorf("UNAVAILABLE: driver closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.failures[op]
}

// checkChannel rejects frequencies outside the channel plan.
func (d *Driver) checkChannel(params adapter.ChannelParams) error {
	for _, ch := range d.caps.Channels {
		if ch.FrequencyMHz == params.FrequencyMHz && ch.Flags&adapter.ChannelDisabled == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d MHz not in channel plan", adapter.ErrInvalidRange, params.FrequencyMHz)
}

// Emit delivers ev to the subscribed sink on the calling goroutine.
func (d *Driver) Emit(ev adapter.Event) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.HandleDriverEvent(ev)
	}
}

func (d *Driver) Init(ctx context.Context) (adapter.Capabilities, error) {
	if err := d.record(ctx, OpInit, nil); err != nil {
		return adapter.Capabilities{}, err
	}
	return d.caps, nil
}

func (d *Driver) SetCountry(ctx context.Context, country string) error {
	if err := d.record(ctx, OpSetCountry, country); err != nil {
		return err
	}
	if d.Auto {
		d.Emit(adapter.RegulatoryUpdated{Country: country, Channels: d.caps.Channels})
	}
	return nil
}

func (d *Driver) StartSurvey(ctx context.Context) error {
	if err := d.record(ctx, OpStartSurvey, nil); err != nil {
		return err
	}
	if d.Auto {
		d.Emit(adapter.SurveyCompleted{Results: d.Survey})
	}
	return nil
}

func (d *Driver) StartHTScan(ctx context.Context, params adapter.ChannelParams) error {
	if err := d.record(ctx, OpStartHTScan, params); err != nil {
		return err
	}
	if d.Auto {
		d.Emit(adapter.HTScanCompleted{Allow40: d.Allow40})
	}
	return nil
}

func (d *Driver) SetChannel(ctx context.Context, params adapter.ChannelParams) error {
	if err := d.record(ctx, OpSetChannel, params); err != nil {
		return err
	}
	if err := d.checkChannel(params); err != nil {
		return err
	}
	d.mu.Lock()
	d.channel = params
	d.mu.Unlock()
	return nil
}

func (d *Driver) StartCAC(ctx context.Context, params adapter.ChannelParams) error {
	if err := d.record(ctx, OpStartCAC, params); err != nil {
		return err
	}
	return d.checkChannel(params)
}

func (d *Driver) StartBSS(ctx context.Context, params adapter.BSSParams) error {
	if err := d.record(ctx, OpStartBSS, params); err != nil {
		return err
	}
	d.mu.Lock()
	d.beaconing[params.BSSID] = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) StopBSS(ctx context.Context, bssid frame.Addr) error {
	if err := d.record(ctx, OpStopBSS, bssid); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.beaconing, bssid)
	d.mu.Unlock()
	return nil
}

func (d *Driver) SendFrame(ctx context.Context, req frame.Request) error {
	if err := d.record(ctx, OpSendFrame, req); err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = append(d.frames, req)
	d.mu.Unlock()
	return nil
}

func (d *Driver) AddStation(ctx context.Context, params adapter.StationParams) error {
	if err := d.record(ctx, OpAddStation, params); err != nil {
		return err
	}
	d.mu.Lock()
	d.stations[staKey{params.BSSID, params.Addr}] = params
	d.mu.Unlock()
	return nil
}

func (d *Driver) RemoveStation(ctx context.Context, bssid, addr frame.Addr) error {
	if err := d.record(ctx, OpRemoveStation, addr); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.stations, staKey{bssid, addr})
	d.mu.Unlock()
	return nil
}

func (d *Driver) SetStationAuthorized(ctx context.Context, bssid, addr frame.Addr, authorized bool) error {
	return d.record(ctx, OpSetStationAuthorized, authorized)
}

func (d *Driver) SetOperatingMode(ctx context.Context, bssid frame.Addr, mode adapter.OperatingMode) error {
	if err := d.record(ctx, OpSetOperatingMode, mode); err != nil {
		return err
	}
	d.mu.Lock()
	d.modes[bssid] = mode
	d.mu.Unlock()
	return nil
}

func (d *Driver) Subscribe(sink adapter.EventSink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

func (d *Driver) Close() error {
	err := d.record(context.Background(), OpClose, nil)
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return err
}

// Calls returns a copy of the call log.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallCount returns how many times op was called.
func (d *Driver) CallCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Frames returns every frame sent.
func (d *Driver) Frames() []frame.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]frame.Request(nil), d.frames...)
}

// LastFrameTo returns the most recent frame sent to addr.
func (d *Driver) LastFrameTo(addr frame.Addr) (frame.Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.frames) - 1; i >= 0; i-- {
		if d.frames[i].Destination() == addr {
			return d.frames[i], true
		}
	}
	return nil, false
}

// ResetFrames clears the frame log.
func (d *Driver) ResetFrames() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = nil
}

// Station returns the driver table entry for addr on bssid.
func (d *Driver) Station(bssid, addr frame.Addr) (adapter.StationParams, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.stations[staKey{bssid, addr}]
	return p, ok
}

// StationCount returns the number of driver table entries.
func (d *Driver) StationCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stations)
}

// Channel returns the last channel set.
func (d *Driver) Channel() adapter.ChannelParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

// Beaconing reports whether bssid was started and not stopped.
func (d *Driver) Beaconing(bssid frame.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.beaconing[bssid]
}

// Mode returns the last operating mode pushed for bssid.
func (d *Driver) Mode(bssid frame.Addr) (adapter.OperatingMode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modes[bssid]
	return m, ok
}
