package telemetry

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
	"github.com/radio-control/apd/internal/radio"
)

// Event types on the stream.
const (
	TypeStationJoined          = "stationJoined"
	TypeStationLeft            = "stationLeft"
	TypeStationRejected        = "stationRejected"
	TypeStationAuthorized      = "stationAuthorized"
	TypeInterfaceStateChanged  = "interfaceStateChanged"
	TypeChannelSwitchCompleted = "channelSwitchCompleted"
	TypeChannelSwitchFailed    = "channelSwitchFailed"
	TypeRadarDetected          = "radarDetected"
	TypeDriverFailed           = "driverFailed"
	TypeFault                  = "fault"
	TypeStationBanned          = "stationBanned"
	TypeStationUnbanned        = "stationUnbanned"
	TypeConfigReloaded         = "configReloaded"
	TypeHeartbeat              = "heartbeat"
	TypeReady                  = "ready"
)

// Publisher turns interface events into hub events. Events are queued so
// the interface loop never waits on slow clients; a full queue drops the
// event.
type Publisher struct {
	hub   *Hub
	queue chan Event
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

var _ radio.Events = (*Publisher)(nil)

// NewPublisher starts a publisher feeding hub through a queue of size
// events.
func NewPublisher(hub *Hub, size int) *Publisher {
	if size <= 0 {
		size = 256
	}
	p := &Publisher{
		hub:   hub,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			_ = p.hub.Publish(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					_ = p.hub.Publish(ev)
				default:
					return
				}
			}
		}
	}
}

// Close flushes queued events and stops the publisher.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Publisher) post(iface, typ string, data map[string]interface{}) {
	ev := Event{Type: typ, Interface: iface, Data: data}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		klog.Warningf("telemetry: queue full, dropped %s event for %s", typ, iface)
	}
}

func channelData(c adapter.ChannelParams) map[string]interface{} {
	return map[string]interface{}{
		"channel":         c.Channel,
		"frequencyMhz":    c.FrequencyMHz,
		"width":           int(c.Width),
		"secondaryOffset": c.SecondaryOffset,
	}
}

func (p *Publisher) InterfaceStateChanged(iface string, from, to radio.State) {
	p.post(iface, TypeInterfaceStateChanged, map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (p *Publisher) StationJoined(iface string, bssid frame.Addr, sta bss.Info) {
	p.post(iface, TypeStationJoined, map[string]interface{}{
		"bssid":      bssid.String(),
		"station":    sta.Addr.String(),
		"aid":        sta.AID,
		"reassoc":    sta.Reassoc,
		"authorized": sta.Authorized,
		"algorithm":  sta.Algorithm,
		"ht":         sta.HT,
		"vht":        sta.VHT,
	})
}

func (p *Publisher) StationLeft(iface string, bssid frame.Addr, sta bss.Info, reason frame.ReasonCode) {
	p.post(iface, TypeStationLeft, map[string]interface{}{
		"bssid":   bssid.String(),
		"station": sta.Addr.String(),
		"aid":     sta.AID,
		"reason":  reason.String(),
	})
}

func (p *Publisher) StationRejected(iface string, bssid, addr frame.Addr, status frame.StatusCode) {
	p.post(iface, TypeStationRejected, map[string]interface{}{
		"bssid":   bssid.String(),
		"station": addr.String(),
		"status":  status.String(),
	})
}

func (p *Publisher) ChannelSwitchCompleted(iface string, from, to adapter.ChannelParams) {
	p.post(iface, TypeChannelSwitchCompleted, map[string]interface{}{
		"from": channelData(from),
		"to":   channelData(to),
	})
}

func (p *Publisher) ChannelSwitchFailed(iface string, target adapter.ChannelParams, err error) {
	p.post(iface, TypeChannelSwitchFailed, map[string]interface{}{
		"target": channelData(target),
		"error":  err.Error(),
	})
}

func (p *Publisher) RadarDetected(iface string, freqMHz int, operating bool) {
	p.post(iface, TypeRadarDetected, map[string]interface{}{
		"frequencyMhz": freqMHz,
		"operating":    operating,
	})
}

func (p *Publisher) DriverFailed(iface, op string, err error) {
	p.post(iface, TypeDriverFailed, map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
}

func (p *Publisher) Fault(iface string, err error) {
	p.post(iface, TypeFault, map[string]interface{}{
		"kind":  fault.KindOf(err).String(),
		"error": err.Error(),
	})
}

// Observer returns a station lifecycle observer publishing the
// authorization changes of iface. Joins and departures already arrive
// through the interface events.
func (p *Publisher) Observer(iface string) bss.LifecycleObserver {
	return observer{p: p, iface: iface}
}

type observer struct {
	p     *Publisher
	iface string
}

func (o observer) StationAssociated(bssid, addr frame.Addr, reassoc bool) {
	klog.V(4).Infof("telemetry: %s %s associated to %s (reassoc=%t)", o.iface, addr, bssid, reassoc)
}

func (o observer) StationAuthorized(bssid, addr frame.Addr, authorized bool) {
	o.p.post(o.iface, TypeStationAuthorized, map[string]interface{}{
		"bssid":      bssid.String(),
		"station":    addr.String(),
		"authorized": authorized,
	})
}

func (o observer) StationRemoved(bssid, addr frame.Addr) {
	klog.V(4).Infof("telemetry: %s %s removed from %s", o.iface, addr, bssid)
}
