package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter/sim"
	"github.com/radio-control/apd/internal/frame"
)

// demoOptions drive synthetic stations against the simulated radios.
type demoOptions struct {
	Interval time.Duration
	// Stations is the number of stations kept associated per BSS.
	Stations int
}

// demoRates is the 802.11b/g rate set a demo station offers, in 500 kb/s.
var demoRates = []byte{2, 4, 11, 22, 12, 18, 24, 36, 48, 72, 96, 108}

// demoTarget is the first BSS of one simulated radio.
type demoTarget struct {
	iface  string
	radio  *sim.Radio
	bssid  frame.Addr
	ssid   string
	joined []frame.Addr
	next   uint16
	index  byte
}

// runDemo associates a new station to every target each interval and, once
// a target holds opts.Stations stations, deauthenticates the oldest.
func runDemo(ctx context.Context, d *daemon, opts demoOptions) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("demo: interval must be positive, got %v", opts.Interval)
	}
	var targets []*demoTarget
	var index byte
	for _, ic := range d.cfg.Interfaces {
		r, ok := d.radios[ic.Name]
		if !ok || len(ic.BSS) == 0 {
			continue
		}
		bssid, err := frame.ParseAddr(ic.BSS[0].BSSID)
		if err != nil {
			return fmt.Errorf("demo: interface %s: %w", ic.Name, err)
		}
		index++
		targets = append(targets, &demoTarget{iface: ic.Name, radio: r, bssid: bssid, ssid: ic.BSS[0].SSID, index: index})
	}
	if len(targets) == 0 {
		klog.Warning("demo: no simulated BSS to drive")
		return nil
	}
	klog.Infof("demo: driving %d BSS(es) every %v", len(targets), opts.Interval)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, t := range targets {
				if err := t.step(opts.Stations); err != nil {
					klog.Warningf("demo: %s: %v", t.iface, err)
				}
			}
		}
	}
}

func (t *demoTarget) step(keep int) error {
	if keep > 0 && len(t.joined) >= keep {
		sta := t.joined[0]
		t.joined = t.joined[1:]
		raw, err := stationDeauth(t.bssid, sta, frame.ReasonDeauthLeaving)
		if err != nil {
			return err
		}
		if err := t.radio.InjectFrame(t.bssid, raw, -60); err != nil {
			return err
		}
	}

	t.next++
	sta := frame.Addr{0x02, 0xde, t.index, 0x00, byte(t.next >> 8), byte(t.next)}
	auth, err := stationAuth(t.bssid, sta)
	if err != nil {
		return err
	}
	assoc, err := stationAssoc(t.bssid, sta, t.ssid)
	if err != nil {
		return err
	}
	// The interface loop handles driver events in order, so the
	// association request follows the authentication exchange.
	if err := t.radio.InjectFrame(t.bssid, auth, -55); err != nil {
		return err
	}
	if err := t.radio.InjectFrame(t.bssid, assoc, -55); err != nil {
		return err
	}
	t.joined = append(t.joined, sta)
	return nil
}

// stationHeader addresses a frame from sta to bssid.
func stationHeader(subtype layers.Dot11Type, bssid, sta frame.Addr) *layers.Dot11 {
	return &layers.Dot11{
		Type:     subtype,
		Address1: bssid.HardwareAddr(),
		Address2: sta.HardwareAddr(),
		Address3: bssid.HardwareAddr(),
	}
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, ls...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stationAuth(bssid, sta frame.Addr) ([]byte, error) {
	return serialize(
		stationHeader(layers.Dot11TypeMgmtAuthentication, bssid, sta),
		&layers.Dot11MgmtAuthentication{
			Algorithm: layers.Dot11AlgorithmOpen,
			Sequence:  1,
		},
	)
}

func stationAssoc(bssid, sta frame.Addr, ssid string) ([]byte, error) {
	fixed := make([]byte, 4)
	binary.LittleEndian.PutUint16(fixed[0:2], frame.CapESS|frame.CapShortSlotTime)
	binary.LittleEndian.PutUint16(fixed[2:4], 10)
	body := frame.AppendElement(fixed, frame.ElementSSID, []byte(ssid))
	body = frame.AppendRates(body, demoRates)
	return serialize(
		stationHeader(layers.Dot11TypeMgmtAssociationReq, bssid, sta),
		gopacket.Payload(body),
	)
}

func stationDeauth(bssid, sta frame.Addr, reason frame.ReasonCode) ([]byte, error) {
	return serialize(
		stationHeader(layers.Dot11TypeMgmtDeauthentication, bssid, sta),
		&layers.Dot11MgmtDeauthentication{Reason: layers.Dot11Reason(reason)},
	)
}
