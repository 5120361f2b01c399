package admission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/radio-control/apd/internal/adapter/fake"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

var apBSSID = frame.MustParseAddr("02:00:00:00:01:00")

func staAddr(i int) frame.Addr {
	return frame.Addr{0x02, 0xaa, 0, 0, byte(i >> 8), byte(i)}
}

var (
	allRates   = []capability.Rate{2, 4, 11, 22, 12, 18, 24, 36, 48, 72, 96, 108}
	dsssRates  = []capability.Rate{2, 4, 11, 22}
	stationHT  = &capability.HTCapabilities{Info: capability.HTCapChannelWidth40 | capability.HTCapShortGI20, MCS: [16]byte{0xff}}
	stationGF  = &capability.HTCapabilities{Info: capability.HTCapChannelWidth40 | capability.HTCapGreenfield, MCS: [16]byte{0xff}}
	shortCapab = frame.CapESS | frame.CapShortSlotTime | frame.CapShortPreamble
)

func testConfig() bss.Config {
	return bss.Config{
		BSSID:      apBSSID,
		SSID:       "apd-test",
		Algorithms: []frame.Algorithm{frame.AlgorithmOpen, frame.AlgorithmSAE},
		Profile: capability.BSSProfile{
			Band:              capability.Band2GHz,
			Rates:             allRates,
			BasicRates:        dsssRates,
			HT:                &capability.HTCapabilities{Info: capability.HTCapChannelWidth40 | capability.HTCapShortGI20 | capability.HTCapGreenfield, MCS: [16]byte{0xff, 0xff}},
			WMM:               true,
			MaxListenInterval: 100,
		},
		MaxAID: 32,
	}
}

// manualTimer and manualScheduler run timers when the test advances time.
type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type manualScheduler struct {
	elapsed time.Duration
	timers  []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{at: s.elapsed + d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.elapsed += d
	for _, t := range append([]*manualTimer(nil), s.timers...) {
		if !t.stopped && !t.fired && t.at <= s.elapsed {
			t.fired = true
			t.fn()
		}
	}
}

type recordingEvents struct {
	joined   []frame.Addr
	left     []frame.Addr
	reasons  []frame.ReasonCode
	rejected []frame.StatusCode
	failures []string
}

func (e *recordingEvents) StationJoined(_ *bss.Context, sta *bss.Station) {
	e.joined = append(e.joined, sta.Addr)
}

func (e *recordingEvents) StationLeft(_ *bss.Context, info bss.Info, reason frame.ReasonCode) {
	e.left = append(e.left, info.Addr)
	e.reasons = append(e.reasons, reason)
}

func (e *recordingEvents) Rejected(_ *bss.Context, _ frame.Addr, status frame.StatusCode) {
	e.rejected = append(e.rejected, status)
}

func (e *recordingEvents) DriverFailed(op string, _ error) {
	e.failures = append(e.failures, op)
}

// stubAuth is a hand-written Authenticator whose behavior is set per test.
type stubAuth struct {
	AuthenticateFunc func(bss.AuthRequest) error
	BeginSessionFunc func(bss.SessionRequest) error

	requests []bss.AuthRequest
	sessions []bss.SessionRequest
	ended    []frame.Addr
}

func (a *stubAuth) Authenticate(_ context.Context, req bss.AuthRequest) error {
	a.requests = append(a.requests, req)
	if a.AuthenticateFunc != nil {
		return a.AuthenticateFunc(req)
	}
	return nil
}

func (a *stubAuth) BeginSession(_ context.Context, req bss.SessionRequest) error {
	a.sessions = append(a.sessions, req)
	if a.BeginSessionFunc != nil {
		return a.BeginSessionFunc(req)
	}
	return nil
}

func (a *stubAuth) EndSession(_ context.Context, _, addr frame.Addr) error {
	a.ended = append(a.ended, addr)
	return nil
}

type recordingObserver struct {
	associated []bool
	authorized []bool
	removed    []frame.Addr
}

func (o *recordingObserver) StationAssociated(_, _ frame.Addr, reassoc bool) {
	o.associated = append(o.associated, reassoc)
}

func (o *recordingObserver) StationAuthorized(_, _ frame.Addr, authorized bool) {
	o.authorized = append(o.authorized, authorized)
}

func (o *recordingObserver) StationRemoved(_, addr frame.Addr) {
	o.removed = append(o.removed, addr)
}

type stubAccounting struct {
	started, failed, stopped []bss.Session
}

func (a *stubAccounting) SessionStarted(_ context.Context, s bss.Session) error {
	a.started = append(a.started, s)
	return nil
}

func (a *stubAccounting) SessionFailed(_ context.Context, s bss.Session) error {
	a.failed = append(a.failed, s)
	return nil
}

func (a *stubAccounting) SessionStopped(_ context.Context, s bss.Session) error {
	a.stopped = append(a.stopped, s)
	return fmt.Errorf("accounting backend down")
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	drv      *fake.Driver
	sched    *manualScheduler
	events   *recordingEvents
	auth     *stubAuth
	acct     *stubAccounting
	observer *recordingObserver
	bss      *bss.Context
	proto    *Protocol
	clock    time.Time
	ids      int
}

func newHarness(t *testing.T, mutate func(*bss.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		drv:      fake.New(fake.DefaultCapabilities()),
		sched:    &manualScheduler{},
		events:   &recordingEvents{},
		auth:     &stubAuth{},
		acct:     &stubAccounting{},
		observer: &recordingObserver{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	b, err := bss.New(cfg, bss.Collaborators{WPA: h.auth, IEEE8021X: h.auth, Accounting: h.acct, Observer: h.observer})
	require.NoError(t, err)
	h.bss = b
	h.proto = New(h.drv, h.sched, h.events, DefaultConfig(),
		WithClock(func() time.Time { return h.clock }),
		WithSessionIDs(func() string {
			h.ids++
			return fmt.Sprintf("session-%d", h.ids)
		}))
	return h
}

func hdr(sa frame.Addr) frame.Header {
	return frame.Header{DA: apBSSID, SA: sa, BSSID: apBSSID}
}

func (h *harness) openAuth(sa frame.Addr) error {
	return h.proto.HandleFrame(h.ctx, h.bss, &frame.Auth{Header: hdr(sa), Algorithm: frame.AlgorithmOpen, Sequence: 1})
}

func assocReq(sa frame.Addr, capInfo uint16, rates []capability.Rate, ht *capability.HTCapabilities) *frame.AssocRequest {
	raw := make([]byte, 0, len(rates))
	for _, r := range rates {
		raw = append(raw, byte(r))
	}
	els := []frame.Element{
		{ID: frame.ElementSSID, Info: []byte("apd-test")},
		{ID: frame.ElementSupportedRates, Info: raw},
	}
	if ht != nil {
		els = append(els, frame.Element{ID: frame.ElementHTCapabilities, Info: ht.Bytes()})
	}
	return &frame.AssocRequest{
		Header:         hdr(sa),
		CapabilityInfo: capInfo,
		ListenInterval: 10,
		Elements:       frame.Elements{All: els},
	}
}

func (h *harness) assoc(req *frame.AssocRequest) error {
	return h.proto.HandleFrame(h.ctx, h.bss, req)
}

// join authenticates and associates sa as an HT station.
func (h *harness) join(sa frame.Addr) *bss.Station {
	h.t.Helper()
	require.NoError(h.t, h.openAuth(sa))
	require.NoError(h.t, h.assoc(assocReq(sa, shortCapab, allRates, stationHT)))
	sta, ok := h.bss.Table().Get(sa)
	require.True(h.t, ok)
	require.Equal(h.t, bss.Associated, sta.Status)
	return sta
}

func (h *harness) lastFrame(to frame.Addr) frame.Request {
	h.t.Helper()
	req, ok := h.drv.LastFrameTo(to)
	require.True(h.t, ok, "no frame sent to %s", to)
	return req
}
