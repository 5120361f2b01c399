// Package admission drives stations through authentication and
// (re)association on one BSS.
//
// The Protocol consumes parsed frames, mutates the BSS station table, AID
// allocator and counters, and calls out to the driver and the delegated
// authenticator. It is not safe for concurrent use: every call, including
// timer callbacks handed to the Scheduler, must run on the interface event
// loop.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

// ErrUnknownStation is returned for operations on an address the BSS has no
// record of.
var ErrUnknownStation = errors.New("NOT_FOUND")

func unknownStation(b *bss.Context, addr frame.Addr) error {
	return fmt.Errorf("%w: station %s on bss %s", ErrUnknownStation, addr, b.BSSID())
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn on the event loop after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Events receives admission outcomes for telemetry and metrics.
type Events interface {
	StationJoined(b *bss.Context, sta *bss.Station)
	StationLeft(b *bss.Context, info bss.Info, reason frame.ReasonCode)
	Rejected(b *bss.Context, addr frame.Addr, status frame.StatusCode)
	DriverFailed(op string, err error)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) StationJoined(*bss.Context, *bss.Station)             {}
func (NopEvents) StationLeft(*bss.Context, bss.Info, frame.ReasonCode) {}
func (NopEvents) Rejected(*bss.Context, frame.Addr, frame.StatusCode)  {}
func (NopEvents) DriverFailed(string, error)                           {}

// Config tunes the protocol.
type Config struct {
	// AuthTimeout bounds each delegated authenticator round trip.
	AuthTimeout time.Duration
	// DriverFailureLimit is the number of consecutive driver failures
	// on one station that forces its removal. Zero disables escalation.
	DriverFailureLimit int
	// CallTimeout bounds each driver and collaborator call.
	CallTimeout time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:        5 * time.Second,
		DriverFailureLimit: 3,
		CallTimeout:        2 * time.Second,
	}
}

type timerKey struct {
	bssid, addr frame.Addr
}

// Protocol is the station admission state machine of one interface.
type Protocol struct {
	driver  adapter.Driver
	sched   Scheduler
	events  Events
	cfg     Config
	now     func() time.Time
	session func() string
	timers  map[timerKey]Timer
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// WithSessionIDs replaces the accounting session id generator.
func WithSessionIDs(gen func() string) Option {
	return func(p *Protocol) { p.session = gen }
}

// New creates a protocol bound to a driver. A nil events receiver is
// replaced by NopEvents.
func New(driver adapter.Driver, sched Scheduler, events Events, cfg Config, opts ...Option) *Protocol {
	if events == nil {
		events = NopEvents{}
	}
	p := &Protocol{
		driver:  driver,
		sched:   sched,
		events:  events,
		cfg:     cfg,
		now:     time.Now,
		session: uuid.NewString,
		timers:  make(map[timerKey]Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetConfig replaces the tuning. Running timers keep their deadline.
func (p *Protocol) SetConfig(cfg Config) { p.cfg = cfg }

// HandleFrame dispatches an inbound management frame.
func (p *Protocol) HandleFrame(ctx context.Context, b *bss.Context, f frame.Frame) error {
	switch f := f.(type) {
	case *frame.Auth:
		return p.HandleAuth(ctx, b, f)
	case *frame.AssocRequest:
		return p.HandleAssoc(ctx, b, f)
	case *frame.Deauth:
		return p.HandleDeauth(ctx, b, f)
	case *frame.Disassoc:
		return p.HandleDisassoc(ctx, b, f)
	default:
		klog.V(4).Infof("bss %s: ignoring %T from %s", b.BSSID(), f, f.Hdr().SA)
		return nil
	}
}

// call derives the context for one driver or collaborator call.
func (p *Protocol) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.CallTimeout)
}

func (p *Protocol) send(ctx context.Context, req frame.Request) error {
	cctx, cancel := p.call(ctx)
	defer cancel()
	return adapter.Normalize("send_frame", p.driver.SendFrame(cctx, req), nil)
}

// sendBestEffort sends a frame whose loss does not change the outcome.
func (p *Protocol) sendBestEffort(ctx context.Context, req frame.Request) {
	if err := p.send(ctx, req); err != nil {
		klog.Warningf("send %s to %s: %v", req.Name(), req.Destination(), err)
		p.events.DriverFailed("send_frame", err)
	}
}

// bssidFor is the BSSID used when answering sta: its own virtual BSSID on
// light virtual AP BSSes.
func (p *Protocol) bssidFor(b *bss.Context, sta *bss.Station) frame.Addr {
	if b.Config().LVAP && sta != nil && !sta.VBSSID.IsZero() {
		return sta.VBSSID
	}
	return b.BSSID()
}

// driverFailure records a failed driver call for sta and forces its
// removal once the failure limit is reached.
func (p *Protocol) driverFailure(ctx context.Context, b *bss.Context, sta *bss.Station, op string, err error) error {
	ferr := fault.Driver(op, sta.Addr.String(), err)
	p.events.DriverFailed(op, ferr)
	sta.DriverFailures++
	if p.cfg.DriverFailureLimit > 0 && sta.DriverFailures >= p.cfg.DriverFailureLimit {
		klog.Warningf("bss %s: station %s removed after %d driver failures", b.BSSID(), sta.Addr, sta.DriverFailures)
		p.sendBestEffort(ctx, frame.Deauthentication{To: sta.Addr, BSSID: p.bssidFor(b, sta), Reason: frame.ReasonUnspecified})
		p.release(ctx, b, sta, frame.ReasonUnspecified, true)
	}
	return ferr
}

// syncMode pushes the BSS operating mode to the driver when it changed.
func (p *Protocol) syncMode(ctx context.Context, b *bss.Context) {
	m, changed := b.ModeChanged()
	if !changed {
		return
	}
	cctx, cancel := p.call(ctx)
	defer cancel()
	if err := p.driver.SetOperatingMode(cctx, b.BSSID(), m); err != nil {
		err = adapter.Normalize("set_operating_mode", err, m)
		klog.Warningf("bss %s: set operating mode: %v", b.BSSID(), err)
		p.events.DriverFailed("set_operating_mode", err)
	}
}

// SyncMode pushes the current operating mode, used when a BSS starts or the
// overlapping BSS condition changes.
func (p *Protocol) SyncMode(ctx context.Context, b *bss.Context) {
	p.syncMode(ctx, b)
}

func (p *Protocol) arm(b *bss.Context, addr frame.Addr, phase bss.Phase) {
	key := timerKey{b.BSSID(), addr}
	if t, ok := p.timers[key]; ok {
		t.Stop()
	}
	if p.sched == nil || p.cfg.AuthTimeout <= 0 {
		delete(p.timers, key)
		return
	}
	var t Timer
	t = p.sched.AfterFunc(p.cfg.AuthTimeout, func() {
		// A stopped timer may still have its callback queued.
		if p.timers[key] != t {
			return
		}
		delete(p.timers, key)
		p.expire(b, addr, phase)
	})
	p.timers[key] = t
}

func (p *Protocol) disarm(b *bss.Context, addr frame.Addr) {
	key := timerKey{b.BSSID(), addr}
	if t, ok := p.timers[key]; ok {
		t.Stop()
		delete(p.timers, key)
	}
}

// Pending returns the number of armed authenticator timeouts.
func (p *Protocol) Pending() int { return len(p.timers) }

// expire handles an authenticator that did not answer in time.
func (p *Protocol) expire(b *bss.Context, addr frame.Addr, phase bss.Phase) {
	sta, ok := b.Table().Get(addr)
	if !ok || sta.Pending != phase {
		return
	}
	ctx := context.Background()
	klog.Infof("bss %s: %s exchange with %s timed out", b.BSSID(), phase, addr)
	switch phase {
	case bss.PhaseAuth:
		p.sendBestEffort(ctx, frame.AuthResponse{
			To:        addr,
			BSSID:     p.bssidFor(b, sta),
			Algorithm: sta.Algorithm,
			Sequence:  2,
			Status:    frame.StatusAuthTimeout,
		})
		p.events.Rejected(b, addr, frame.StatusAuthTimeout)
		p.release(ctx, b, sta, frame.ReasonUnspecified, true)
	case bss.PhaseKey:
		p.sendBestEffort(ctx, frame.Deauthentication{To: addr, BSSID: p.bssidFor(b, sta), Reason: frame.ReasonHandshakeTimeout})
		p.release(ctx, b, sta, frame.ReasonHandshakeTimeout, true)
	}
}
