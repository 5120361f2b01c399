package adapter

import "github.com/radio-control/apd/internal/frame"

// Event is an asynchronous driver notification.
type Event interface {
	EventName() string
}

// EventSink receives driver notifications.
type EventSink interface {
	HandleDriverEvent(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// HandleDriverEvent calls f(ev).
func (f SinkFunc) HandleDriverEvent(ev Event) { f(ev) }

// FrameReceived carries a parsed management frame addressed to a BSS.
type FrameReceived struct {
	BSSID     frame.Addr
	Frame     frame.Frame
	SignalDbm int
}

// RegulatoryUpdated reports the channel list after SetCountry.
type RegulatoryUpdated struct {
	Country  string
	Channels []Channel
}

// SurveyCompleted reports survey results.
type SurveyCompleted struct {
	Results []Survey
}

// HTScanCompleted reports whether 40 MHz operation is allowed.
type HTScanCompleted struct {
	Allow40 bool
}

// RadarDetected reports radar on a frequency.
type RadarDetected struct {
	FrequencyMHz int
}

// CACFinished reports the end of a driver-run CAC.
type CACFinished struct {
	FrequencyMHz int
	Aborted      bool
}

// ChannelSwitchFailed reports that the driver could not complete a channel
// switch.
type ChannelSwitchFailed struct {
	Err error
}

// StationLost reports a station the driver stopped hearing from.
type StationLost struct {
	BSSID frame.Addr
	Addr  frame.Addr
}

// BeaconTick fires once per beacon interval.
type BeaconTick struct{}

// OverlappingLegacyBSS reports an overlapping legacy (non-ERP) or non-HT BSS.
type OverlappingLegacyBSS struct {
	Legacy bool
	HT     bool
}

// DriverFatal reports an unrecoverable driver condition.
type DriverFatal struct {
	Err error
}

func (FrameReceived) EventName() string        { return "frame" }
func (RegulatoryUpdated) EventName() string    { return "regulatory" }
func (SurveyCompleted) EventName() string      { return "survey" }
func (HTScanCompleted) EventName() string      { return "htScan" }
func (RadarDetected) EventName() string        { return "radar" }
func (CACFinished) EventName() string          { return "cacFinished" }
func (ChannelSwitchFailed) EventName() string  { return "csaFailed" }
func (StationLost) EventName() string          { return "stationLost" }
func (BeaconTick) EventName() string           { return "beacon" }
func (OverlappingLegacyBSS) EventName() string { return "olbc" }
func (DriverFatal) EventName() string          { return "fatal" }
