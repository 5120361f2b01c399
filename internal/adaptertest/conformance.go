// Package adaptertest provides a driver-agnostic conformance suite for
// adapter.Driver implementations.
//
// Every driver must report a channel plan consistent with FrequencyOf, reject
// frequencies outside it with INVALID_RANGE, answer SetCountry and
// StartSurvey with their notifications, manage BSS and station entries
// without error, honor cancelled contexts and report UNAVAILABLE once closed.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// Expectations describes what the suite checks for one driver.
type Expectations struct {
	// Valid channels must be accepted by SetChannel.
	Valid []adapter.ChannelParams
	// InvalidFrequencies must be rejected with INVALID_RANGE.
	InvalidFrequencies []int
	// Country is applied by the regulatory test.
	Country string
	// EventTimeout bounds the wait for asynchronous notifications.
	EventTimeout time.Duration
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	DriverName    string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

var (
	testBSSID   = frame.MustParseAddr("02:00:00:00:c0:01")
	testStation = frame.MustParseAddr("02:00:00:00:c0:99")
)

// RunConformance runs the complete conformance suite. newDriver must return
// a fresh driver for every call.
func RunConformance(t *testing.T, name string, newDriver func() adapter.Driver, exp Expectations) {
	startTime := time.Now()
	if exp.EventTimeout <= 0 {
		exp.EventTimeout = time.Second
	}
	if exp.Country == "" {
		exp.Country = "US"
	}

	report := &ConformanceReport{
		DriverName:    name,
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	runInitTests(newDriver, report)
	runSetChannelTests(newDriver, exp, report)
	runEventTests(newDriver, exp, report)
	runStationTests(newDriver, exp, report)
	runIdempotencyTests(newDriver, exp, report)
	runCancellationTests(newDriver, report)
	runCloseTests(newDriver, exp, report)
	runTimingTests(newDriver, report)

	report.Duration = time.Since(startTime)

	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Driver conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

// start runs op and records its duration and outcome.
func start(report *ConformanceReport, name string, op func(r *ConformanceResult) error) {
	result := ConformanceResult{TestName: name, Details: make(map[string]interface{})}
	begin := time.Now()
	err := op(&result)
	result.Duration = time.Since(begin)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Passed = true
	}
	report.addResult(result)
}

func initDriver(newDriver func() adapter.Driver) (adapter.Driver, adapter.Capabilities, error) {
	d := newDriver()
	caps, err := d.Init(context.Background())
	return d, caps, err
}

func runInitTests(newDriver func() adapter.Driver, report *ConformanceReport) {
	start(report, "Init_Capabilities", func(r *ConformanceResult) error {
		d, caps, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()
		if caps.Modes == 0 {
			return fmt.Errorf("Init reported no hardware modes")
		}
		if len(caps.Channels) == 0 {
			return fmt.Errorf("Init reported an empty channel plan")
		}
		for _, ch := range caps.Channels {
			if ch.FrequencyMHz != adapter.FrequencyOf(ch.Number) {
				return fmt.Errorf("channel %d reported at %d MHz, expected %d", ch.Number, ch.FrequencyMHz, adapter.FrequencyOf(ch.Number))
			}
		}
		r.Details["modes"] = caps.Modes.String()
		r.Details["channels"] = len(caps.Channels)
		return nil
	})
}

func runSetChannelTests(newDriver func() adapter.Driver, exp Expectations, report *ConformanceReport) {
	for _, params := range exp.Valid {
		start(report, fmt.Sprintf("SetChannel_Valid_%d", params.Channel), func(r *ConformanceResult) error {
			d, _, err := initDriver(newDriver)
			if err != nil {
				return fmt.Errorf("Init failed: %v", err)
			}
			defer d.Close()
			if err := d.SetChannel(context.Background(), params); err != nil {
				return fmt.Errorf("SetChannel(%d) failed: %v", params.Channel, err)
			}
			r.Details["frequency"] = params.FrequencyMHz
			return nil
		})
	}

	for _, freq := range exp.InvalidFrequencies {
		start(report, fmt.Sprintf("SetChannel_Invalid_%d", freq), func(r *ConformanceResult) error {
			d, _, err := initDriver(newDriver)
			if err != nil {
				return fmt.Errorf("Init failed: %v", err)
			}
			defer d.Close()
			err = d.SetChannel(context.Background(), adapter.ChannelParams{FrequencyMHz: freq, Width: adapter.Width20})
			if err == nil {
				return fmt.Errorf("SetChannel(%d MHz) should have failed but succeeded", freq)
			}
			if !isCode(err, adapter.ErrInvalidRange) {
				return fmt.Errorf("SetChannel(%d MHz) should return INVALID_RANGE, got: %v", freq, err)
			}
			r.Details["expectedError"] = "INVALID_RANGE"
			r.Details["actualError"] = err.Error()
			return nil
		})
	}
}

// eventRecorder collects notifications from any goroutine.
type eventRecorder chan adapter.Event

func (e eventRecorder) HandleDriverEvent(ev adapter.Event) {
	select {
	case e <- ev:
	default:
	}
}

func (e eventRecorder) wait(name string, timeout time.Duration) (adapter.Event, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-e:
			if ev.EventName() == name {
				return ev, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("no %s within %v", name, timeout)
		}
	}
}

func runEventTests(newDriver func() adapter.Driver, exp Expectations, report *ConformanceReport) {
	start(report, "Events_RegulatoryUpdated", func(r *ConformanceResult) error {
		d, _, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()
		events := make(eventRecorder, 16)
		d.Subscribe(events)

		if err := d.SetCountry(context.Background(), exp.Country); err != nil {
			return fmt.Errorf("SetCountry(%s) failed: %v", exp.Country, err)
		}
		ev, err := events.wait(adapter.RegulatoryUpdated{}.EventName(), exp.EventTimeout)
		if err != nil {
			return err
		}
		upd := ev.(adapter.RegulatoryUpdated)
		if len(upd.Channels) == 0 {
			return fmt.Errorf("RegulatoryUpdated carried no channels")
		}
		r.Details["country"] = upd.Country
		return nil
	})

	start(report, "Events_SurveyCompleted", func(r *ConformanceResult) error {
		d, _, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()
		events := make(eventRecorder, 16)
		d.Subscribe(events)

		if err := d.StartSurvey(context.Background()); err != nil {
			return fmt.Errorf("StartSurvey failed: %v", err)
		}
		ev, err := events.wait(adapter.SurveyCompleted{}.EventName(), exp.EventTimeout)
		if err != nil {
			return err
		}
		r.Details["results"] = len(ev.(adapter.SurveyCompleted).Results)
		return nil
	})
}

func runStationTests(newDriver func() adapter.Driver, exp Expectations, report *ConformanceReport) {
	start(report, "Station_Lifecycle", func(r *ConformanceResult) error {
		d, caps, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()
		ctx := context.Background()

		var ch adapter.ChannelParams
		if len(exp.Valid) > 0 {
			ch = exp.Valid[0]
		}
		steps := []struct {
			name string
			call func() error
		}{
			{"StartBSS", func() error {
				return d.StartBSS(ctx, adapter.BSSParams{BSSID: testBSSID, SSID: "conformance", Channel: ch, BeaconInterval: 100, Rates: caps.Rates})
			}},
			{"SendFrame", func() error {
				return d.SendFrame(ctx, frame.AuthResponse{To: testStation, BSSID: testBSSID, Sequence: 2})
			}},
			{"AddStation", func() error {
				return d.AddStation(ctx, adapter.StationParams{BSSID: testBSSID, Addr: testStation, AID: 1, ListenInterval: 10,
					Caps: capability.Set{Rates: caps.Rates}})
			}},
			{"SetStationAuthorized", func() error { return d.SetStationAuthorized(ctx, testBSSID, testStation, true) }},
			{"SetOperatingMode", func() error {
				return d.SetOperatingMode(ctx, testBSSID, adapter.OperatingMode{ShortSlotTime: true})
			}},
			{"RemoveStation", func() error { return d.RemoveStation(ctx, testBSSID, testStation) }},
			{"StopBSS", func() error { return d.StopBSS(ctx, testBSSID) }},
		}
		for _, step := range steps {
			if err := step.call(); err != nil {
				return fmt.Errorf("%s failed: %v", step.name, err)
			}
		}
		r.Details["steps"] = len(steps)
		return nil
	})
}

func runIdempotencyTests(newDriver func() adapter.Driver, exp Expectations, report *ConformanceReport) {
	if len(exp.Valid) == 0 {
		return
	}
	params := exp.Valid[0]
	start(report, "Idempotency_SetSameChannel", func(r *ConformanceResult) error {
		d, _, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()
		if err := d.SetChannel(context.Background(), params); err != nil {
			return fmt.Errorf("first SetChannel(%d) failed: %v", params.Channel, err)
		}
		if err := d.SetChannel(context.Background(), params); err != nil {
			return fmt.Errorf("second SetChannel(%d) failed: %v", params.Channel, err)
		}
		r.Details["channel"] = params.Channel
		return nil
	})
}

func runCancellationTests(newDriver func() adapter.Driver, report *ConformanceReport) {
	start(report, "FailureMapping_ContextCancellation", func(r *ConformanceResult) error {
		d, _, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = d.StartSurvey(ctx)
		if err == nil {
			return fmt.Errorf("StartSurvey with cancelled context should have failed")
		}
		r.Details["error"] = err.Error()
		return nil
	})
}

func runCloseTests(newDriver func() adapter.Driver, exp Expectations, report *ConformanceReport) {
	start(report, "FailureMapping_Closed", func(r *ConformanceResult) error {
		d, _, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		if err := d.Close(); err != nil {
			return fmt.Errorf("Close failed: %v", err)
		}
		var params adapter.ChannelParams
		if len(exp.Valid) > 0 {
			params = exp.Valid[0]
		}
		err = d.SetChannel(context.Background(), params)
		if err == nil {
			return fmt.Errorf("SetChannel after Close should have failed")
		}
		if !isCode(err, adapter.ErrUnavailable) {
			return fmt.Errorf("SetChannel after Close should return UNAVAILABLE, got: %v", err)
		}
		r.Details["actualError"] = err.Error()
		return nil
	})
}

// runTimingTests checks that calls return promptly; drivers report
// completion through events instead of blocking.
func runTimingTests(newDriver func() adapter.Driver, report *ConformanceReport) {
	start(report, "Timing_NoBlockingCalls", func(r *ConformanceResult) error {
		d, _, err := initDriver(newDriver)
		if err != nil {
			return fmt.Errorf("Init failed: %v", err)
		}
		defer d.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		begin := time.Now()
		err = d.StartSurvey(ctx)
		elapsed := time.Since(begin)

		if elapsed > 50*time.Millisecond {
			return fmt.Errorf("StartSurvey took too long: %v", elapsed)
		}
		if err != nil && !strings.Contains(err.Error(), "context deadline exceeded") {
			return fmt.Errorf("unexpected error: %v", err)
		}
		r.Details["duration"] = elapsed.String()
		return nil
	})
}

// isCode reports whether err normalizes to code.
func isCode(err, code error) bool {
	return errors.Is(adapter.Normalize("conformance", err, nil), code)
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("DRIVER CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Driver: %s", report.DriverName)
	t.Logf("Total Tests: %d", report.TotalTests)
	t.Logf("Passed: %d", report.PassedTests)
	t.Logf("Failed: %d", report.FailedTests)
	overall := "PASS"
	if !report.OverallPassed {
		overall = "FAIL"
	}
	t.Logf("Overall: %s", overall)
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	t.Logf("%-36s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := result.Error
		if details == "" && len(result.Details) > 0 {
			var parts []string
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}

		t.Logf("%-36s %-8s %-12s %-s", result.TestName, status, result.Duration.String(), details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
