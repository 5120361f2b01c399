package radio

import (
	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/frame"
)

// Events is the per-interface event stream exposed upward. Methods are
// called from the interface event loop and must not block.
type Events interface {
	InterfaceStateChanged(iface string, from, to State)
	StationJoined(iface string, bssid frame.Addr, sta bss.Info)
	StationLeft(iface string, bssid frame.Addr, sta bss.Info, reason frame.ReasonCode)
	StationRejected(iface string, bssid, addr frame.Addr, status frame.StatusCode)
	ChannelSwitchCompleted(iface string, from, to adapter.ChannelParams)
	ChannelSwitchFailed(iface string, target adapter.ChannelParams, err error)
	RadarDetected(iface string, freqMHz int, operating bool)
	DriverFailed(iface, op string, err error)
	Fault(iface string, err error)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) InterfaceStateChanged(string, State, State)                                  {}
func (NopEvents) StationJoined(string, frame.Addr, bss.Info)                                  {}
func (NopEvents) StationLeft(string, frame.Addr, bss.Info, frame.ReasonCode)                  {}
func (NopEvents) StationRejected(string, frame.Addr, frame.Addr, frame.StatusCode)            {}
func (NopEvents) ChannelSwitchCompleted(string, adapter.ChannelParams, adapter.ChannelParams) {}
func (NopEvents) ChannelSwitchFailed(string, adapter.ChannelParams, error)                    {}
func (NopEvents) RadarDetected(string, int, bool)                                             {}
func (NopEvents) DriverFailed(string, string, error)                                          {}
func (NopEvents) Fault(string, error)                                                         {}

// FanOut delivers every event to each sink in order.
type FanOut []Events

func (f FanOut) InterfaceStateChanged(iface string, from, to State) {
	for _, e := range f {
		e.InterfaceStateChanged(iface, from, to)
	}
}

func (f FanOut) StationJoined(iface string, bssid frame.Addr, sta bss.Info) {
	for _, e := range f {
		e.StationJoined(iface, bssid, sta)
	}
}

func (f FanOut) StationLeft(iface string, bssid frame.Addr, sta bss.Info, reason frame.ReasonCode) {
	for _, e := range f {
		e.StationLeft(iface, bssid, sta, reason)
	}
}

func (f FanOut) StationRejected(iface string, bssid, addr frame.Addr, status frame.StatusCode) {
	for _, e := range f {
		e.StationRejected(iface, bssid, addr, status)
	}
}

func (f FanOut) ChannelSwitchCompleted(iface string, from, to adapter.ChannelParams) {
	for _, e := range f {
		e.ChannelSwitchCompleted(iface, from, to)
	}
}

func (f FanOut) ChannelSwitchFailed(iface string, target adapter.ChannelParams, err error) {
	for _, e := range f {
		e.ChannelSwitchFailed(iface, target, err)
	}
}

func (f FanOut) RadarDetected(iface string, freqMHz int, operating bool) {
	for _, e := range f {
		e.RadarDetected(iface, freqMHz, operating)
	}
}

func (f FanOut) DriverFailed(iface, op string, err error) {
	for _, e := range f {
		e.DriverFailed(iface, op, err)
	}
}

func (f FanOut) Fault(iface string, err error) {
	for _, e := range f {
		e.Fault(iface, err)
	}
}
