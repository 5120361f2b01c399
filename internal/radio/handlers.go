package radio

import (
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

// handleEvent dispatches one driver notification on the event loop.
func (i *Interface) handleEvent(ev adapter.Event) {
	switch e := ev.(type) {
	case adapter.FrameReceived:
		i.onFrame(e)
	case adapter.RegulatoryUpdated:
		i.coord.SetPlan(e.Channels)
		klog.Infof("%s: regulatory domain %s, %d channels", i.name, e.Country, len(e.Channels))
		if i.state == CountryUpdate {
			_ = i.selectChannel()
		}
	case adapter.SurveyCompleted:
		i.onSurvey(e.Results)
	case adapter.HTScanCompleted:
		i.onHTScan(e.Allow40)
	case adapter.RadarDetected:
		i.radar(e.FrequencyMHz)
	case adapter.CACFinished:
		handled, err := i.coord.CACFinished(e.FrequencyMHz, e.Aborted)
		if !handled {
			klog.V(2).Infof("%s: ignoring CAC result for %d MHz", i.name, e.FrequencyMHz)
			return
		}
		if err != nil && i.state == DFS {
			i.events.Fault(i.name, err)
			i.reselect()
		}
	case adapter.ChannelSwitchFailed:
		if i.coord.InProgress() {
			_ = i.coord.Abort(i.ctx, e.Err)
		}
	case adapter.StationLost:
		if b := i.bssFor(e.BSSID, e.Addr); b != nil {
			if err := i.proto.HandleLost(i.ctx, b, e.Addr); err != nil {
				klog.V(2).Infof("%s: lost station %s: %v", i.name, e.Addr, err)
			}
		}
	case adapter.BeaconTick:
		if i.state != Enabled {
			return
		}
		if err := i.coord.Tick(i.ctx, i.bsses); err != nil {
			klog.Warningf("%s: channel switch: %v", i.name, err)
			i.events.DriverFailed(i.name, "channel_switch", err)
		}
	case adapter.OverlappingLegacyBSS:
		for _, b := range i.bsses {
			b.SetOLBC(bss.OLBC{Legacy: e.Legacy, HT: e.HT})
			if i.state == Enabled {
				i.proto.SyncMode(i.ctx, b)
			}
		}
	case adapter.DriverFatal:
		i.fail(fault.Driver("driver", "", adapter.Normalize("Driver", e.Err, nil)))
	default:
		klog.V(2).Infof("%s: unhandled driver event %s", i.name, ev.EventName())
	}
}

func (i *Interface) onFrame(e adapter.FrameReceived) {
	if i.state != Enabled {
		klog.V(4).Infof("%s: dropping %T in state %s", i.name, e.Frame, i.state)
		return
	}
	b := i.route(e.BSSID, e.Frame)
	if b == nil {
		klog.V(4).Infof("%s: no bss for frame from %s", i.name, e.Frame.Hdr().SA)
		return
	}
	if err := i.proto.HandleFrame(i.ctx, b, e.Frame); err != nil {
		klog.V(2).Infof("%s: %s: %T from %s: %v", i.name, b.BSSID(), e.Frame, e.Frame.Hdr().SA, err)
	}
}

// route picks the BSS a frame is addressed to. Frames to a virtual BSSID
// land on the first light virtual AP BSS.
func (i *Interface) route(bssid frame.Addr, f frame.Frame) *bss.Context {
	if bssid.IsZero() {
		bssid = f.Hdr().BSSID
	}
	for _, b := range i.bsses {
		if b.BSSID() == bssid {
			return b
		}
	}
	for _, b := range i.bsses {
		if b.Config().LVAP {
			return b
		}
	}
	return nil
}

// bssFor finds a BSS by BSSID or by the station it holds.
func (i *Interface) bssFor(bssid, addr frame.Addr) *bss.Context {
	for _, b := range i.bsses {
		if b.BSSID() == bssid {
			return b
		}
	}
	for _, b := range i.bsses {
		if _, ok := b.Table().Get(addr); ok {
			return b
		}
	}
	return nil
}
