package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/adaptertest"
	"github.com/radio-control/apd/internal/frame"
)

var (
	testBSSID = frame.MustParseAddr("02:00:00:00:01:00")
	testSta   = frame.MustParseAddr("02:00:00:00:00:01")
)

// TestSimConformance runs the conformance suite on the simulated radio.
func TestSimConformance(t *testing.T) {
	adaptertest.RunConformance(t, "sim", func() adapter.Driver {
		return New("sim0")
	}, adaptertest.Expectations{
		Valid: []adapter.ChannelParams{
			{Channel: 1, FrequencyMHz: 2412, Width: adapter.Width20},
			{Channel: 6, FrequencyMHz: 2437, Width: adapter.Width20},
			{Channel: 36, FrequencyMHz: 5180, Width: adapter.Width40, SecondaryOffset: 1},
		},
		InvalidFrequencies: []int{0, 2484, 100000},
	})
}

// collect returns a sink that forwards events to a channel.
func collect(r *Radio) <-chan adapter.Event {
	ch := make(chan adapter.Event, 16)
	r.Subscribe(adapter.SinkFunc(func(ev adapter.Event) { ch <- ev }))
	return ch
}

func waitFor(t *testing.T, events <-chan adapter.Event, name string) adapter.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.EventName() == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s event", name)
			return nil
		}
	}
}

func TestDefaultChannelPlan(t *testing.T) {
	plan := DefaultChannelPlan()
	if len(plan) != 13+8 {
		t.Fatalf("Expected 21 channels, got %d", len(plan))
	}
	byNumber := make(map[uint8]adapter.Channel)
	for _, ch := range plan {
		byNumber[ch.Number] = ch
	}
	if byNumber[1].Flags&adapter.ChannelHT40Minus != 0 {
		t.Error("Expected channel 1 to forbid HT40-")
	}
	if byNumber[13].Flags&adapter.ChannelHT40Plus != 0 {
		t.Error("Expected channel 13 to forbid HT40+")
	}
	if byNumber[40].Flags&adapter.ChannelHT40Minus == 0 {
		t.Error("Expected channel 40 to allow HT40-")
	}
	if byNumber[48].Flags&adapter.ChannelRadar != 0 {
		t.Error("Expected channel 48 to need no radar detection")
	}
	if byNumber[52].Flags&adapter.ChannelRadar == 0 {
		t.Error("Expected channel 52 to need radar detection")
	}
}

func TestSetChannelRejectsBadOffset(t *testing.T) {
	r := New("sim0")
	defer r.Close()

	err := r.SetChannel(context.Background(), adapter.ChannelParams{Channel: 13, FrequencyMHz: 2472, Width: adapter.Width40, SecondaryOffset: 1})
	if !errors.Is(adapter.Normalize("sim", err, nil), adapter.ErrInvalidRange) {
		t.Errorf("Expected INVALID_RANGE, got %v", err)
	}
	if r.CurrentChannel().FrequencyMHz != 0 {
		t.Errorf("Expected no channel applied, got %+v", r.CurrentChannel())
	}
}

func TestInjectFrameDecodes(t *testing.T) {
	r := New("sim0")
	defer r.Close()
	events := collect(r)

	// Frames the radio encodes decode back into inbound frames.
	raw, err := frame.Encode(frame.Deauthentication{To: testBSSID, BSSID: testBSSID, Reason: frame.ReasonDeauthLeaving})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := r.InjectFrame(testBSSID, raw, -42); err != nil {
		t.Fatalf("InjectFrame failed: %v", err)
	}

	ev := waitFor(t, events, "frame").(adapter.FrameReceived)
	if ev.BSSID != testBSSID || ev.SignalDbm != -42 {
		t.Errorf("Expected frame on %s at -42 dBm, got %+v", testBSSID, ev)
	}
	deauth, ok := ev.Frame.(*frame.Deauth)
	if !ok {
		t.Fatalf("Expected *frame.Deauth, got %T", ev.Frame)
	}
	if deauth.Reason != frame.ReasonDeauthLeaving {
		t.Errorf("Expected reason %d, got %d", frame.ReasonDeauthLeaving, deauth.Reason)
	}

	if err := r.InjectFrame(testBSSID, []byte{0x01}, 0); err == nil {
		t.Error("Expected truncated frame to be rejected")
	}
}

func TestSendFrameEncodes(t *testing.T) {
	r := New("sim0")
	defer r.Close()
	ctx := context.Background()

	err := r.SendFrame(ctx, frame.AuthResponse{To: testSta, BSSID: testBSSID, Algorithm: frame.AlgorithmOpen, Sequence: 2})
	if err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}
	sent := r.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 sent frame, got %d", len(sent))
	}
	f, err := frame.Decode(sent[0])
	if err != nil {
		t.Fatalf("Decode of sent frame failed: %v", err)
	}
	auth, ok := f.(*frame.Auth)
	if !ok || auth.Sequence != 2 || auth.Hdr().DA != testSta {
		t.Errorf("Expected auth seq 2 to %s, got %+v", testSta, f)
	}
}

func TestCACOffloadReportsFinished(t *testing.T) {
	r := New("sim0", WithCACOffload(10*time.Millisecond))
	defer r.Close()
	events := collect(r)
	ctx := context.Background()

	caps, err := r.Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !caps.HasFeature(adapter.FeatureDFSOffload) {
		t.Error("Expected DFS offload feature")
	}

	if err := r.StartCAC(ctx, adapter.ChannelParams{Channel: 36, FrequencyMHz: 5180, Width: adapter.Width20}); err == nil {
		t.Error("Expected CAC on a non-radar channel to fail")
	}

	params := adapter.ChannelParams{Channel: 52, FrequencyMHz: 5260, Width: adapter.Width20}
	if err := r.StartCAC(ctx, params); err != nil {
		t.Fatalf("StartCAC failed: %v", err)
	}
	done := waitFor(t, events, "cacFinished").(adapter.CACFinished)
	if done.FrequencyMHz != 5260 {
		t.Errorf("Expected CAC on 5260 MHz, got %d", done.FrequencyMHz)
	}
}

func TestInjectRadarStopsCAC(t *testing.T) {
	r := New("sim0", WithCACOffload(50*time.Millisecond))
	defer r.Close()
	events := collect(r)

	if err := r.StartCAC(context.Background(), adapter.ChannelParams{Channel: 56, FrequencyMHz: 5280, Width: adapter.Width20}); err != nil {
		t.Fatalf("StartCAC failed: %v", err)
	}
	r.InjectRadar(5280)

	radar := waitFor(t, events, "radar").(adapter.RadarDetected)
	if radar.FrequencyMHz != 5280 {
		t.Errorf("Expected radar on 5280 MHz, got %d", radar.FrequencyMHz)
	}
	select {
	case ev := <-events:
		t.Errorf("Expected no further events after radar, got %s", ev.EventName())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHT40Intolerance(t *testing.T) {
	r := New("sim0")
	defer r.Close()
	events := collect(r)
	params := adapter.ChannelParams{Channel: 1, FrequencyMHz: 2412, Width: adapter.Width40, SecondaryOffset: 1}

	r.SetHT40Intolerant(true)
	if err := r.StartHTScan(context.Background(), params); err != nil {
		t.Fatalf("StartHTScan failed: %v", err)
	}
	if ev := waitFor(t, events, "htScan").(adapter.HTScanCompleted); ev.Allow40 {
		t.Error("Expected intolerant neighbours to forbid 40 MHz")
	}
}

func TestSyntheticSurveyIsStable(t *testing.T) {
	a := syntheticSurvey(DefaultChannelPlan())
	b := syntheticSurvey(DefaultChannelPlan())
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("Expected equal non-empty surveys, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Expected survey entry %d to be stable, got %+v and %+v", i, a[i], b[i])
		}
		if a[i].Busy > a[i].Active {
			t.Errorf("Expected busy <= active for %d MHz", a[i].FrequencyMHz)
		}
	}
}

func TestStationTableLimits(t *testing.T) {
	r := New("sim0")
	defer r.Close()
	ctx := context.Background()

	err := r.AddStation(ctx, adapter.StationParams{BSSID: testBSSID, Addr: testSta, AID: 1})
	if !errors.Is(adapter.Normalize("sim", err, nil), adapter.ErrUnavailable) {
		t.Errorf("Expected UNAVAILABLE before any BSS is started, got %v", err)
	}
	if err := r.StartBSS(ctx, adapter.BSSParams{BSSID: testBSSID, SSID: "lab"}); err != nil {
		t.Fatalf("StartBSS failed: %v", err)
	}
	if err := r.AddStation(ctx, adapter.StationParams{BSSID: testBSSID, Addr: testSta, AID: 1}); err != nil {
		t.Fatalf("AddStation failed: %v", err)
	}
	if got := len(r.Stations(testBSSID)); got != 1 {
		t.Errorf("Expected 1 station, got %d", got)
	}
	r.LoseStation(testBSSID, testSta)
	if got := len(r.Stations(testBSSID)); got != 0 {
		t.Errorf("Expected lost station to leave the table, got %d", got)
	}
	if err := r.SetStationAuthorized(ctx, testBSSID, testSta, true); err == nil {
		t.Error("Expected authorizing an unknown station to fail")
	}
}

func TestFaultModes(t *testing.T) {
	r := New("sim0")
	defer r.Close()
	ctx := context.Background()

	tests := []struct {
		mode string
		want error
	}{
		{FaultBusy, adapter.ErrBusy},
		{FaultUnavailable, adapter.ErrUnavailable},
		{FaultInvalidRange, adapter.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			r.SetFaultMode(tt.mode)
			err := r.SetCountry(ctx, "DE")
			if !errors.Is(adapter.Normalize("sim", err, nil), tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	r.ClearFaultMode()
	if err := r.SetCountry(ctx, "DE"); err != nil {
		t.Errorf("Expected success after ClearFaultMode, got %v", err)
	}
	if r.Country() != "DE" {
		t.Errorf("Expected country DE, got %q", r.Country())
	}
}
