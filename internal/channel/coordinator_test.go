package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/adapter/fake"
	"github.com/radio-control/apd/internal/adapter/sim"
	"github.com/radio-control/apd/internal/admission"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

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

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) admission.Timer {
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
	completed []adapter.ChannelParams
	failed    []error
	cac       []adapter.ChannelParams
	radar     []int
}

func (e *recordingEvents) SwitchCompleted(_, to adapter.ChannelParams) {
	e.completed = append(e.completed, to)
}
func (e *recordingEvents) SwitchFailed(_ adapter.ChannelParams, err error) {
	e.failed = append(e.failed, err)
}
func (e *recordingEvents) CACCompleted(p adapter.ChannelParams) { e.cac = append(e.cac, p) }
func (e *recordingEvents) RadarDetected(freq int, _ bool)      { e.radar = append(e.radar, freq) }

var (
	ch1  = adapter.ChannelParams{Channel: 1, FrequencyMHz: 2412, Width: adapter.Width20}
	ch6  = adapter.ChannelParams{Channel: 6, FrequencyMHz: 2437, Width: adapter.Width20}
	ch36 = adapter.ChannelParams{Channel: 36, FrequencyMHz: 5180, Width: adapter.Width20}
	ch52 = adapter.ChannelParams{Channel: 52, FrequencyMHz: 5260, Width: adapter.Width20}
)

type harness struct {
	ctx    context.Context
	drv    *fake.Driver
	sched  *manualScheduler
	events *recordingEvents
	coord  *Coordinator
	clock  time.Time
}

func newHarness(t *testing.T, features adapter.Feature) *harness {
	t.Helper()
	caps := fake.DefaultCapabilities()
	caps.Channels = sim.DefaultChannelPlan()
	caps.Features |= features
	h := &harness{
		ctx:    context.Background(),
		drv:    fake.New(caps),
		sched:  &manualScheduler{},
		events: &recordingEvents{},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := DefaultConfig()
	cfg.CACDuration = time.Minute
	h.coord = New(h.drv, h.sched, h.events, cfg, WithClock(func() time.Time { return h.clock }))
	h.coord.SetCapabilities(caps)
	return h
}

// operating brings the coordinator up on params.
func (h *harness) operating(t *testing.T, params adapter.ChannelParams) {
	t.Helper()
	require.NoError(t, h.coord.Apply(h.ctx, params))
	h.coord.Activate()
}

// bssWith returns a BSS with n associated stations and one that is only
// authenticated.
func bssWith(t *testing.T, n int) *bss.Context {
	t.Helper()
	b, err := bss.New(bss.Config{
		BSSID:      frame.MustParseAddr("02:00:00:00:01:00"),
		SSID:       "lab",
		Algorithms: []frame.Algorithm{frame.AlgorithmOpen},
		Profile: capability.BSSProfile{
			Band:       capability.Band2GHz,
			Rates:      []capability.Rate{2, 4, 11, 22},
			BasicRates: []capability.Rate{2, 4},
		},
		MaxAID: 8,
	}, bss.Collaborators{})
	require.NoError(t, err)
	for i := 1; i <= n+1; i++ {
		sta, _ := b.Table().Add(frame.Addr{0x02, 0, 0, 0, 0, byte(i)})
		sta.Status = bss.Authenticated
		if i <= n {
			require.NoError(t, b.Associate(sta, capability.Set{Rates: []capability.Rate{2, 4}}))
		}
	}
	return b
}

func csaFrames(d *fake.Driver) []frame.ChannelSwitchAction {
	var out []frame.ChannelSwitchAction
	for _, f := range d.Frames() {
		if csa, ok := f.(frame.ChannelSwitchAction); ok {
			out = append(out, csa)
		}
	}
	return out
}

func TestSwitchCannotOverlap(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)

	_, err := h.coord.Initiate(ch6, 2, false)
	require.NoError(t, err)
	assert.True(t, h.coord.InProgress())

	_, err = h.coord.Initiate(ch1, 1, false)
	assert.ErrorIs(t, err, ErrSwitchInProgress)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.coord.Tick(h.ctx, nil))
	}
	assert.False(t, h.coord.InProgress())
	assert.Equal(t, []adapter.ChannelParams{ch6}, h.events.completed, "completion must be reported exactly once")
	assert.Equal(t, ch6, h.coord.Current())
	assert.Equal(t, ch6, h.drv.Channel())

	// With nothing in progress a new switch is accepted again.
	_, err = h.coord.Initiate(ch1, 1, false)
	assert.NoError(t, err)
}

func TestInitiateRequiresOperating(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.coord.Apply(h.ctx, ch1))

	_, err := h.coord.Initiate(ch6, 1, false)
	assert.ErrorIs(t, err, ErrNotOperating)

	h.coord.Activate()
	h.coord.Cancel()
	_, err = h.coord.Initiate(ch6, 1, false)
	assert.ErrorIs(t, err, ErrNotOperating)
}

func TestInitiateRegulatoryRejections(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch36)

	tests := []struct {
		name   string
		target adapter.ChannelParams
	}{
		{"requires CAC", ch52},
		{"not in plan", adapter.ChannelParams{Channel: 14, FrequencyMHz: 2484}},
		{"bad HT40 offset", adapter.ChannelParams{Channel: 13, Width: adapter.Width40, SecondaryOffset: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.coord.Initiate(tt.target, 1, false)
			assert.ErrorIs(t, err, fault.ErrRegulatory)
			assert.False(t, h.coord.InProgress())
		})
	}

	t.Run("blacklisted", func(t *testing.T) {
		h.coord.Blacklist().Add(2437, h.clock.Add(time.Minute))
		_, err := h.coord.Initiate(adapter.ChannelParams{Channel: 6}, 1, false)
		assert.ErrorIs(t, err, fault.ErrRegulatory)

		h.clock = h.clock.Add(time.Minute)
		target, err := h.coord.Initiate(adapter.ChannelParams{Channel: 6}, 1, false)
		require.NoError(t, err)
		assert.Equal(t, 2437, target.FrequencyMHz)
	})
}

func TestTickAnnouncesToAssociatedStations(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)
	b := bssWith(t, 2)

	_, err := h.coord.Initiate(ch6, 3, true)
	require.NoError(t, err)

	require.NoError(t, h.coord.Tick(h.ctx, []*bss.Context{b}))
	frames := csaFrames(h.drv)
	require.Len(t, frames, 2, "only associated stations are told")
	for _, f := range frames {
		assert.Equal(t, uint8(2), f.Count)
		assert.Equal(t, uint8(6), f.NewChannel)
		assert.True(t, f.BlockTx)
		assert.Equal(t, b.BSSID(), f.BSSID)
	}

	require.NoError(t, h.coord.Tick(h.ctx, []*bss.Context{b}))
	assert.Equal(t, 1, h.drv.CallCount(fake.OpSetChannel), "only the bring-up channel is applied")

	require.NoError(t, h.coord.Tick(h.ctx, []*bss.Context{b}))
	frames = csaFrames(h.drv)
	require.Len(t, frames, 6)
	assert.Equal(t, uint8(0), frames[5].Count)
	assert.Equal(t, 2, h.drv.CallCount(fake.OpSetChannel))
	assert.False(t, h.coord.InProgress())
}

func TestTickReportsAnnounceFailures(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)
	b := bssWith(t, 2)

	_, err := h.coord.Initiate(ch6, 2, false)
	require.NoError(t, err)

	h.drv.FailOn(fake.OpSendFrame, adapter.ErrBusy)
	err = h.coord.Tick(h.ctx, []*bss.Context{b})
	assert.ErrorIs(t, err, fault.ErrDriver)
	assert.ErrorIs(t, err, adapter.ErrBusy)
	assert.True(t, h.coord.InProgress(), "a lost announcement does not stop the countdown")

	err = h.coord.Tick(h.ctx, []*bss.Context{b})
	assert.ErrorIs(t, err, fault.ErrDriver)
	assert.False(t, h.coord.InProgress())
	assert.Equal(t, ch6, h.coord.Current())
	assert.Len(t, h.events.completed, 1)
	assert.Empty(t, h.events.failed)
}

func TestZeroCountSwitchesOnNextTick(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)
	b := bssWith(t, 1)

	_, err := h.coord.Initiate(ch6, 0, false)
	require.NoError(t, err)
	assert.Equal(t, ch1, h.coord.Current())

	require.NoError(t, h.coord.Tick(h.ctx, []*bss.Context{b}))
	assert.Equal(t, ch6, h.coord.Current())
	assert.Empty(t, csaFrames(h.drv))
	assert.Len(t, h.events.completed, 1)
}

func TestSetChannelFailureRestoresPrevious(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)

	_, err := h.coord.Initiate(ch6, 1, false)
	require.NoError(t, err)

	h.drv.FailOn(fake.OpSetChannel, adapter.ErrBusy)
	err = h.coord.Tick(h.ctx, nil)
	assert.ErrorIs(t, err, fault.ErrDriver)
	assert.ErrorIs(t, err, adapter.ErrBusy)
	assert.False(t, h.coord.InProgress())
	assert.Equal(t, ch1, h.coord.Current())
	require.Len(t, h.events.failed, 1)
	assert.Empty(t, h.events.completed)
}

func TestAbortRestoresPreviousChannel(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)

	assert.ErrorIs(t, h.coord.Abort(h.ctx, nil), ErrNoSwitch)

	_, err := h.coord.Initiate(ch6, 5, false)
	require.NoError(t, err)
	err = h.coord.Abort(h.ctx, adapter.ErrInternal)
	assert.ErrorIs(t, err, fault.ErrDriver)
	assert.False(t, h.coord.InProgress())
	assert.Equal(t, ch1, h.drv.Channel())
	assert.Len(t, h.events.failed, 1)
}

func TestCACTimerCompletes(t *testing.T) {
	h := newHarness(t, 0)

	require.NoError(t, h.coord.StartCAC(h.ctx, ch52, 0))
	st := h.coord.State()
	require.NotNil(t, st.CAC)
	assert.Equal(t, h.clock, st.CAC.Started)
	assert.Equal(t, time.Minute, st.CAC.Duration)

	h.sched.Advance(time.Minute - time.Second)
	assert.True(t, h.coord.CACRunning())
	h.sched.Advance(time.Second)
	assert.False(t, h.coord.CACRunning())
	assert.Equal(t, []adapter.ChannelParams{ch52}, h.events.cac)
	assert.Equal(t, ch52, h.coord.Current())
}

func TestStartCACDriverFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.drv.FailOn(fake.OpStartCAC, adapter.ErrUnavailable)

	err := h.coord.StartCAC(h.ctx, ch52, time.Second)
	assert.ErrorIs(t, err, fault.ErrDriver)
	assert.False(t, h.coord.CACRunning())
	assert.Empty(t, h.sched.timers)
}

func TestRadarDuringCACClearsStart(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.coord.StartCAC(h.ctx, ch52, 0))

	assert.True(t, h.coord.Radar(5260))
	st := h.coord.State()
	assert.Nil(t, st.CAC)
	require.Len(t, st.Blacklist, 1)
	assert.Equal(t, 5260, st.Blacklist[0].FrequencyMHz)
	assert.Equal(t, h.clock.Add(DefaultConfig().RadarCooldown), st.Blacklist[0].Until)
	assert.Equal(t, []int{5260}, h.events.radar)

	h.sched.Advance(2 * time.Minute)
	assert.Empty(t, h.events.cac, "a stopped CAC timer must not complete")
}

func TestRadarAbortsSwitch(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch36)

	target := adapter.ChannelParams{Channel: 40, Width: adapter.Width20}
	_, err := h.coord.Initiate(target, 3, false)
	require.NoError(t, err)

	assert.True(t, h.coord.Radar(5200), "radar on the switch target hits")
	assert.False(t, h.coord.InProgress())
	require.Len(t, h.events.failed, 1)
	assert.ErrorIs(t, h.events.failed[0], ErrRadar)

	assert.False(t, h.coord.Radar(5300), "radar off channel only blacklists")
	assert.True(t, h.coord.Blacklist().Contains(5300, h.clock))
}

func TestRadarOnSecondaryChannel(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, adapter.ChannelParams{Channel: 36, FrequencyMHz: 5180, Width: adapter.Width40, SecondaryOffset: 1})

	assert.True(t, h.coord.Radar(5200))
	_, _, err := h.coord.Validate(adapter.ChannelParams{Channel: 36, Width: adapter.Width40})
	assert.ErrorIs(t, err, fault.ErrRegulatory)
}

func TestOffloadedCAC(t *testing.T) {
	h := newHarness(t, adapter.FeatureDFSOffload)

	require.NoError(t, h.coord.StartCAC(h.ctx, ch52, 0))
	assert.Empty(t, h.sched.timers, "the driver times an offloaded CAC")
	assert.True(t, h.coord.State().CAC.Offloaded)

	handled, err := h.coord.CACFinished(5280, false)
	assert.False(t, handled)
	assert.NoError(t, err)
	assert.True(t, h.coord.CACRunning())

	handled, err = h.coord.CACFinished(5260, false)
	assert.True(t, handled)
	assert.NoError(t, err)
	assert.Equal(t, []adapter.ChannelParams{ch52}, h.events.cac)
}

func TestOffloadedCACAborted(t *testing.T) {
	h := newHarness(t, adapter.FeatureDFSOffload)
	require.NoError(t, h.coord.StartCAC(h.ctx, ch52, 0))

	handled, err := h.coord.CACFinished(5260, true)
	assert.True(t, handled)
	assert.ErrorIs(t, err, fault.ErrRegulatory)
	assert.False(t, h.coord.CACRunning())
	assert.Empty(t, h.events.cac)
}

func TestCancelDropsSwitchAndCAC(t *testing.T) {
	h := newHarness(t, 0)
	h.operating(t, ch1)
	_, err := h.coord.Initiate(ch6, 3, false)
	require.NoError(t, err)

	assert.True(t, h.coord.Cancel())
	assert.False(t, h.coord.InProgress())
	assert.False(t, h.coord.Cancel())

	require.NoError(t, h.coord.StartCAC(h.ctx, ch52, 0))
	assert.True(t, h.coord.Cancel())
	h.sched.Advance(time.Hour)
	assert.Empty(t, h.events.cac)
	assert.Empty(t, h.events.completed)
}

func TestBlacklistExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := NewBlacklist()
	l.Add(5260, now.Add(time.Minute))
	l.Add(5260, now.Add(time.Second))
	l.Add(5280, now.Add(time.Hour))

	assert.Len(t, l.Entries(now), 2)
	assert.True(t, l.Contains(5260, now.Add(30*time.Second)), "a shorter entry must not shorten the cooldown")
	assert.False(t, l.Contains(5260, now.Add(time.Minute)))
	entries := l.Entries(now.Add(time.Minute))
	require.Len(t, entries, 1)
	assert.Equal(t, 5280, entries[0].FrequencyMHz)
}
