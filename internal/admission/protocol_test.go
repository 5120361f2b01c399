package admission

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/adapter/fake"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

func TestOpenAuthCreatesAuthenticatedRecord(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)

	require.NoError(t, h.openAuth(a1))

	sta, ok := h.bss.Table().Get(a1)
	require.True(t, ok)
	assert.Equal(t, bss.Authenticated, sta.Status)
	assert.Equal(t, uint16(0), sta.AID)

	resp, ok := h.lastFrame(a1).(frame.AuthResponse)
	require.True(t, ok)
	assert.Equal(t, uint16(2), resp.Sequence)
	assert.Equal(t, frame.StatusSuccess, resp.Status)
	assert.Equal(t, apBSSID, resp.BSSID)
}

func TestAuthRefusals(t *testing.T) {
	banned := staAddr(7)
	denied := staAddr(8)

	tests := []struct {
		name string
		auth frame.Auth
		want frame.StatusCode
	}{
		{"banned", frame.Auth{Header: hdr(banned), Algorithm: frame.AlgorithmOpen, Sequence: 1}, frame.StatusUnspecifiedFailure},
		{"acl denied", frame.Auth{Header: hdr(denied), Algorithm: frame.AlgorithmOpen, Sequence: 1}, frame.StatusUnspecifiedFailure},
		{"algorithm disabled", frame.Auth{Header: hdr(staAddr(1)), Algorithm: frame.AlgorithmSharedKey, Sequence: 1}, frame.StatusAlgorithmUnsupported},
		{"open out of sequence", frame.Auth{Header: hdr(staAddr(1)), Algorithm: frame.AlgorithmOpen, Sequence: 3}, frame.StatusAuthSeqOutOfSequence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *bss.Config) { c.ACL.Deny = []frame.Addr{denied} })
			h.bss.Bans().Add(banned, time.Time{})

			auth := tt.auth
			err := h.proto.HandleFrame(h.ctx, h.bss, &auth)
			require.Error(t, err)
			assert.ErrorIs(t, err, fault.ErrProtocol)
			assert.Equal(t, uint16(tt.want), fault.StatusOf(err))

			resp, ok := h.lastFrame(auth.SA).(frame.AuthResponse)
			require.True(t, ok)
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, 0, h.bss.Table().Len())
			assert.Equal(t, []frame.StatusCode{tt.want}, h.events.rejected)
		})
	}
}

func TestEndToEndOpenAssociation(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	bitmap := h.bss.AIDs().Bitmap()
	counters := h.bss.Counters()

	require.NoError(t, h.openAuth(a1))
	sta, _ := h.bss.Table().Get(a1)
	require.Equal(t, bss.Authenticated, sta.Status)

	require.NoError(t, h.assoc(assocReq(a1, shortCapab, allRates, stationHT)))
	require.Equal(t, bss.Associated, sta.Status)
	aid := sta.AID
	assert.True(t, aid >= 1 && aid <= bss.MaxAID)
	assert.True(t, sta.Authorized, "open BSS authorizes on association")
	assert.Equal(t, 1, h.bss.Counters().NoGreenfield)
	assert.Equal(t, []frame.Addr{a1}, h.events.joined)
	require.Len(t, h.acct.started, 1)
	assert.Equal(t, "session-1", h.acct.started[0].ID)

	resp, ok := h.lastFrame(a1).(frame.AssocResponse)
	require.True(t, ok)
	assert.Equal(t, frame.StatusSuccess, resp.Status)
	assert.Equal(t, aid, resp.AID)
	assert.NotEmpty(t, resp.Extra, "HT capabilities echoed")

	params, ok := h.drv.Station(apBSSID, a1)
	require.True(t, ok)
	assert.Equal(t, aid, params.AID)

	// Identical reassociation changes nothing.
	afterJoin := h.bss.Counters()
	adds := h.drv.CallCount(fake.OpAddStation)
	retry := assocReq(a1, shortCapab, allRates, stationHT)
	retry.Reassoc = true
	require.NoError(t, h.assoc(retry))
	assert.Equal(t, aid, sta.AID)
	assert.Equal(t, afterJoin, h.bss.Counters())
	assert.Equal(t, adds, h.drv.CallCount(fake.OpAddStation))
	assert.Len(t, h.acct.started, 1)
	resp, ok = h.lastFrame(a1).(frame.AssocResponse)
	require.True(t, ok)
	assert.True(t, resp.Reassoc)
	assert.Equal(t, aid, resp.AID)

	require.NoError(t, h.proto.HandleFrame(h.ctx, h.bss, &frame.Disassoc{Header: hdr(a1), Reason: frame.ReasonDisassocLeaving}))
	_, ok = h.bss.Table().Get(a1)
	assert.False(t, ok)
	assert.Equal(t, bitmap, h.bss.AIDs().Bitmap())
	assert.Equal(t, counters, h.bss.Counters())
	assert.Equal(t, 0, h.drv.StationCount())
	assert.Equal(t, []frame.Addr{a1}, h.events.left)
	require.Len(t, h.acct.stopped, 1)
	assert.Equal(t, frame.ReasonDisassocLeaving, h.acct.stopped[0].Reason)
	require.NoError(t, h.bss.Verify())
}

func TestAssocMissingBasicRateIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	require.NoError(t, h.openAuth(a1))
	bitmap := h.bss.AIDs().Bitmap()

	err := h.assoc(assocReq(a1, shortCapab, []capability.Rate{12, 24, 48}, stationHT))
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrProtocol)

	resp, ok := h.lastFrame(a1).(frame.AssocResponse)
	require.True(t, ok)
	assert.Equal(t, frame.StatusRatesUnsupported, resp.Status)
	assert.Equal(t, uint16(0), resp.AID)

	sta, ok := h.bss.Table().Get(a1)
	require.True(t, ok)
	assert.Equal(t, bss.Authenticated, sta.Status)
	assert.Equal(t, bitmap, h.bss.AIDs().Bitmap())
	assert.Equal(t, bss.Counters{}, h.bss.Counters())
	assert.Equal(t, 0, h.drv.StationCount())
	assert.Len(t, h.acct.failed, 1)
}

func TestAssocWithoutAuthSendsDeauth(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)

	err := h.assoc(assocReq(a1, shortCapab, allRates, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrProtocol)
	assert.Equal(t, 0, h.bss.Table().Len())

	deauth, ok := h.lastFrame(a1).(frame.Deauthentication)
	require.True(t, ok)
	assert.Equal(t, frame.ReasonClass2FromNonAuth, deauth.Reason)
}

func TestRepeatedCyclesLeakNoAIDs(t *testing.T) {
	h := newHarness(t, nil)
	bitmap := h.bss.AIDs().Bitmap()

	for i := 0; i < 50; i++ {
		sa := staAddr(i % 5)
		h.join(sa)
		if i%2 == 0 {
			require.NoError(t, h.proto.HandleFrame(h.ctx, h.bss, &frame.Deauth{Header: hdr(sa), Reason: frame.ReasonDeauthLeaving}))
		} else {
			require.NoError(t, h.proto.HandleFrame(h.ctx, h.bss, &frame.Disassoc{Header: hdr(sa), Reason: frame.ReasonDisassocLeaving}))
		}
		require.Equal(t, bitmap, h.bss.AIDs().Bitmap(), "cycle %d", i)
	}
	assert.Equal(t, bss.Counters{}, h.bss.Counters())
}

func TestRandomAdmissionKeepsInvariants(t *testing.T) {
	h := newHarness(t, nil)
	rng := rand.New(rand.NewSource(7))

	adverts := []func(frame.Addr) *frame.AssocRequest{
		func(a frame.Addr) *frame.AssocRequest { return assocReq(a, frame.CapESS, dsssRates, nil) },
		func(a frame.Addr) *frame.AssocRequest { return assocReq(a, shortCapab, allRates, nil) },
		func(a frame.Addr) *frame.AssocRequest { return assocReq(a, shortCapab, allRates, stationHT) },
		func(a frame.Addr) *frame.AssocRequest { return assocReq(a, shortCapab, allRates, stationGF) },
		func(a frame.Addr) *frame.AssocRequest { return assocReq(a, shortCapab, []capability.Rate{12, 24}, nil) },
	}

	for step := 0; step < 1500; step++ {
		sa := staAddr(rng.Intn(10))
		switch rng.Intn(6) {
		case 0, 1:
			_ = h.openAuth(sa)
		case 2, 3:
			req := adverts[rng.Intn(len(adverts))](sa)
			req.Reassoc = rng.Intn(2) == 0
			_ = h.assoc(req)
		case 4:
			_ = h.proto.HandleFrame(h.ctx, h.bss, &frame.Deauth{Header: hdr(sa), Reason: frame.ReasonDeauthLeaving})
		case 5:
			_ = h.proto.Kick(h.ctx, h.bss, sa, frame.ReasonUnspecified, false, 0)
		}

		require.NoError(t, h.bss.Verify(), "step %d", step)
		seen := make(map[uint16]frame.Addr)
		for _, sta := range h.bss.Table().Stations() {
			if sta.AID == 0 {
				continue
			}
			other, dup := seen[sta.AID]
			require.False(t, dup, "step %d: aid %d held by %s and %s", step, sta.AID, other, sta.Addr)
			seen[sta.AID] = sta.Addr
		}
	}
}

func TestChangedCapabilitiesKeepAID(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	sta := h.join(a1)
	aid := sta.AID
	require.Equal(t, 0, h.bss.Counters().NoHT)

	require.NoError(t, h.assoc(assocReq(a1, shortCapab, allRates, nil)))
	assert.Equal(t, aid, sta.AID)
	assert.Equal(t, 1, h.bss.Counters().NoHT)
	assert.Equal(t, 0, h.bss.Counters().NoGreenfield)
	assert.Len(t, h.events.joined, 1, "renegotiation is not a new join")
	assert.Equal(t, 2, h.drv.CallCount(fake.OpAddStation))
	require.NoError(t, h.bss.Verify())

	// Without key management the port is opened again right away.
	assert.True(t, sta.Reassoc)
	assert.True(t, sta.Authorized)
	assert.Equal(t, []bool{false, true}, h.observer.associated)
	assert.Equal(t, 2, h.drv.CallCount(fake.OpSetStationAuthorized))

	mode, ok := h.drv.Mode(apBSSID)
	require.True(t, ok)
	assert.Equal(t, adapter.HTProtNonHTMixed, mode.HTOpMode&adapter.HTOpModeProtectionMask)
}

func TestReauthenticationDemotes(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	sta := h.join(a1)

	require.NoError(t, h.openAuth(a1))
	again, ok := h.bss.Table().Get(a1)
	require.True(t, ok)
	assert.Same(t, sta, again)
	assert.Equal(t, bss.Authenticated, sta.Status)
	assert.Equal(t, uint16(0), sta.AID)
	assert.Equal(t, 0, h.bss.AIDs().Count())
	assert.Equal(t, []frame.Addr{a1}, h.events.left)
	assert.Equal(t, 0, h.drv.StationCount())
}

func TestAIDExhaustionRejects(t *testing.T) {
	h := newHarness(t, func(c *bss.Config) { c.MaxAID = 2 })
	h.join(staAddr(1))
	h.join(staAddr(2))

	a3 := staAddr(3)
	require.NoError(t, h.openAuth(a3))
	err := h.assoc(assocReq(a3, shortCapab, allRates, stationHT))
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrExhausted)
	assert.ErrorIs(t, err, bss.ErrAIDSpaceFull)

	resp, ok := h.lastFrame(a3).(frame.AssocResponse)
	require.True(t, ok)
	assert.Equal(t, frame.StatusAPUnableToHandle, resp.Status)
	sta, _ := h.bss.Table().Get(a3)
	assert.Equal(t, bss.Authenticated, sta.Status)
	require.NoError(t, h.bss.Verify())
}

func TestStationLimitRejects(t *testing.T) {
	h := newHarness(t, func(c *bss.Config) { c.MaxStations = 1 })
	h.join(staAddr(1))

	a2 := staAddr(2)
	require.NoError(t, h.openAuth(a2))
	err := h.assoc(assocReq(a2, shortCapab, allRates, nil))
	assert.ErrorIs(t, err, fault.ErrExhausted)
	assert.ErrorIs(t, err, ErrStationLimit)
	assert.Equal(t, uint16(frame.StatusAPUnableToHandle), fault.StatusOf(err))
}

func TestAddStationFailureRevertsAndEscalates(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	require.NoError(t, h.openAuth(a1))
	h.drv.FailOn(fake.OpAddStation, adapter.ErrBusy)

	for i := 1; i <= 2; i++ {
		err := h.assoc(assocReq(a1, shortCapab, allRates, stationHT))
		require.Error(t, err)
		assert.ErrorIs(t, err, fault.ErrDriver)
		assert.ErrorIs(t, err, adapter.ErrBusy)

		sta, ok := h.bss.Table().Get(a1)
		require.True(t, ok)
		assert.Equal(t, bss.Authenticated, sta.Status)
		assert.Equal(t, i, sta.DriverFailures)
		assert.Equal(t, 0, h.bss.AIDs().Count())
		assert.Equal(t, bss.Counters{}, h.bss.Counters())
	}

	err := h.assoc(assocReq(a1, shortCapab, allRates, stationHT))
	assert.ErrorIs(t, err, fault.ErrDriver)
	_, ok := h.bss.Table().Get(a1)
	assert.False(t, ok, "third failure removes the station")
	deauth, ok := h.lastFrame(a1).(frame.Deauthentication)
	require.True(t, ok)
	assert.Equal(t, frame.ReasonUnspecified, deauth.Reason)
	assert.Equal(t, []string{"add_station", "add_station", "add_station"}, h.events.failures)
}

func TestKickBans(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	h.join(a1)

	require.NoError(t, h.proto.Kick(h.ctx, h.bss, a1, frame.ReasonAPBusy, true, time.Minute))
	deauth, ok := h.lastFrame(a1).(frame.Deauthentication)
	require.True(t, ok)
	assert.Equal(t, frame.ReasonAPBusy, deauth.Reason)
	assert.Equal(t, 0, h.bss.Table().Len())

	err := h.openAuth(a1)
	assert.ErrorIs(t, err, fault.ErrProtocol)

	h.clock = h.clock.Add(2 * time.Minute)
	assert.NoError(t, h.openAuth(a1))

	assert.ErrorIs(t, h.proto.Kick(h.ctx, h.bss, staAddr(9), 0, true, 0), ErrUnknownStation)
}

func TestLostStation(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	h.join(a1)

	require.NoError(t, h.proto.HandleLost(h.ctx, h.bss, a1))
	assert.Equal(t, 0, h.bss.Table().Len())
	assert.Equal(t, []frame.ReasonCode{frame.ReasonDisassocLowAck}, h.events.reasons)
	assert.ErrorIs(t, h.proto.HandleLost(h.ctx, h.bss, a1), ErrUnknownStation)
}

func TestLVAPAnswersFromAddressedBSSID(t *testing.T) {
	h := newHarness(t, func(c *bss.Config) { c.LVAP = true })
	a1 := staAddr(1)
	vbssid := frame.MustParseAddr("02:00:00:00:77:01")

	auth := &frame.Auth{Header: frame.Header{DA: vbssid, SA: a1, BSSID: vbssid}, Algorithm: frame.AlgorithmOpen, Sequence: 1}
	require.NoError(t, h.proto.HandleFrame(h.ctx, h.bss, auth))
	resp, ok := h.lastFrame(a1).(frame.AuthResponse)
	require.True(t, ok)
	assert.Equal(t, vbssid, resp.BSSID)

	req := assocReq(a1, shortCapab, allRates, nil)
	req.Header = frame.Header{DA: vbssid, SA: a1, BSSID: vbssid}
	require.NoError(t, h.assoc(req))
	_, ok = h.drv.Station(vbssid, a1)
	assert.True(t, ok)

	sta, _ := h.bss.Table().Get(a1)
	info := sta.Info()
	require.NotNil(t, info.VBSSID)
	assert.Equal(t, vbssid, *info.VBSSID)
}

func TestDemoteAllKeepsAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	h.join(staAddr(1))
	h.join(staAddr(2))
	require.NoError(t, h.openAuth(staAddr(3)))
	frames := len(h.drv.Frames())

	h.proto.DemoteAll(h.ctx, h.bss, frame.ReasonDeauthLeaving)

	assert.Equal(t, 3, h.bss.Table().Len())
	for _, sta := range h.bss.Table().Stations() {
		assert.Equal(t, bss.Authenticated, sta.Status)
		assert.Equal(t, uint16(0), sta.AID)
	}
	assert.Equal(t, 0, h.bss.AIDs().Count())
	assert.Equal(t, frames, len(h.drv.Frames()), "no frames while off channel")
	assert.Len(t, h.events.left, 2)
	require.NoError(t, h.bss.Verify())
}

func TestTeardownRemovesEveryone(t *testing.T) {
	h := newHarness(t, nil)
	h.join(staAddr(1))
	require.NoError(t, h.openAuth(staAddr(2)))

	h.proto.Teardown(h.ctx, h.bss)
	assert.Equal(t, 0, h.bss.Table().Len())
	assert.Equal(t, 0, h.drv.StationCount())
	for _, a := range []frame.Addr{staAddr(1), staAddr(2)} {
		deauth, ok := h.lastFrame(a).(frame.Deauthentication)
		require.True(t, ok)
		assert.Equal(t, frame.ReasonDeauthLeaving, deauth.Reason)
	}
}

func TestRevalidateAfterReload(t *testing.T) {
	h := newHarness(t, nil)
	legacy := staAddr(1)
	modern := staAddr(2)
	denied := staAddr(3)

	require.NoError(t, h.openAuth(legacy))
	require.NoError(t, h.assoc(assocReq(legacy, frame.CapESS, dsssRates, nil)))
	h.join(modern)
	h.join(denied)
	require.Equal(t, 1, h.bss.Counters().NonERP)

	cfg := h.bss.Config()
	cfg.Profile.BasicRates = []capability.Rate{2, 4, 11, 22, 12}
	cfg.Profile.HT = nil
	cfg.ACL.Deny = []frame.Addr{denied}
	require.NoError(t, h.bss.SetConfig(cfg))

	removed, updated := h.proto.Revalidate(h.ctx, h.bss)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, updated)

	_, ok := h.bss.Table().Get(legacy)
	assert.False(t, ok, "legacy station lacks the new basic rate")
	_, ok = h.bss.Table().Get(denied)
	assert.False(t, ok)
	sta, ok := h.bss.Table().Get(modern)
	require.True(t, ok)
	assert.Nil(t, sta.Caps.HT)
	assert.Equal(t, bss.Counters{}, h.bss.Counters(), "no HT on the BSS means no HT counters")
	require.NoError(t, h.bss.Verify())
}

func TestAssocResponseSendFailureEscalates(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	require.NoError(t, h.openAuth(a1))
	h.drv.FailOn(fake.OpSendFrame, adapter.ErrBusy)

	limit := DefaultConfig().DriverFailureLimit
	for n := 1; n <= limit; n++ {
		err := h.assoc(assocReq(a1, shortCapab, allRates, stationHT))
		require.Error(t, err, "attempt %d", n)
		assert.ErrorIs(t, err, fault.ErrDriver)
		assert.ErrorIs(t, err, adapter.ErrBusy)
		assert.Equal(t, 0, h.bss.AIDs().Count(), "attempt %d keeps no AID", n)
		assert.Equal(t, 0, h.drv.StationCount())
		require.NoError(t, h.bss.Verify())
		if n < limit {
			sta, ok := h.bss.Table().Get(a1)
			require.True(t, ok)
			assert.Equal(t, bss.Authenticated, sta.Status)
			assert.Equal(t, n, sta.DriverFailures)
		}
	}

	_, ok := h.bss.Table().Get(a1)
	assert.False(t, ok, "station removed after %d failures", limit)
	assert.Empty(t, h.events.joined)
	assert.Empty(t, h.acct.started)
	assert.Contains(t, h.events.failures, "send_frame")
}

func TestDuplicateAssocSendFailureCounts(t *testing.T) {
	h := newHarness(t, nil)
	a1 := staAddr(1)
	sta := h.join(a1)
	aid := sta.AID

	h.drv.FailOn(fake.OpSendFrame, adapter.ErrUnavailable)
	err := h.assoc(assocReq(a1, shortCapab, allRates, stationHT))
	assert.ErrorIs(t, err, fault.ErrDriver)
	assert.Equal(t, 1, sta.DriverFailures)
	assert.Equal(t, bss.Associated, sta.Status)
	assert.Equal(t, aid, sta.AID)

	h.drv.ClearFailures()
	require.NoError(t, h.assoc(assocReq(a1, shortCapab, allRates, stationHT)))
	assert.Equal(t, 0, sta.DriverFailures)
	assert.Len(t, h.events.joined, 1)
}
