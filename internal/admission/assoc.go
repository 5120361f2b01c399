package admission

import (
	"context"
	"errors"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

// ErrStationLimit is wrapped by the ResourceExhausted error returned when a
// BSS already holds its configured number of stations.
var ErrStationLimit = errors.New("station limit reached")

// HandleAssoc processes an association or reassociation request.
func (p *Protocol) HandleAssoc(ctx context.Context, b *bss.Context, f *frame.AssocRequest) error {
	op := "assoc"
	if f.Reassoc {
		op = "reassoc"
	}
	addr := f.SA

	sta, ok := b.Table().Get(addr)
	if !ok || sta.Status < bss.Authenticated {
		p.sendBestEffort(ctx, frame.Deauthentication{To: addr, BSSID: f.BSSID, Reason: frame.ReasonClass2FromNonAuth})
		return fault.Protocol(op, addr.String(), uint16(frame.ReasonClass2FromNonAuth), "station is not authenticated")
	}
	if !b.Admissible(addr, p.now()) {
		return p.rejectAssoc(ctx, b, sta, f, fault.Protocol(op, addr.String(), uint16(frame.StatusUnspecifiedFailure), "station denied by ACL or ban"))
	}

	adv, err := capability.ParseAdvertisement(f)
	if err != nil {
		return p.rejectAssoc(ctx, b, sta, f, fault.Protocol(op, addr.String(), uint16(frame.StatusUnspecifiedFailure), "%v", err))
	}

	// A retransmitted request gets the same answer without side effects.
	if sta.Status == bss.Associated && sta.Advertised.Equal(adv) {
		klog.V(3).Infof("bss %s: duplicate %s from %s, aid %d", b.BSSID(), op, addr, sta.AID)
		if err := p.send(ctx, p.assocResponse(b, sta, f.Reassoc, frame.StatusSuccess)); err != nil {
			return p.driverFailure(ctx, b, sta, "send_frame", err)
		}
		sta.DriverFailures = 0
		return nil
	}

	set, err := capability.Negotiate(b.Profile(), adv, b.Env())
	if err != nil {
		return p.rejectAssoc(ctx, b, sta, f, err)
	}

	fresh := sta.Status != bss.Associated
	if fresh && b.Full() {
		return p.rejectAssoc(ctx, b, sta, f, fault.Exhausted(op, addr.String(), uint16(frame.StatusAPUnableToHandle), ErrStationLimit))
	}

	prev := sta.Caps
	if err := b.Associate(sta, set); err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) && fe.Station == "" {
			fe.Station = addr.String()
		}
		return p.rejectAssoc(ctx, b, sta, f, err)
	}

	cctx, cancel := p.call(ctx)
	err = p.driver.AddStation(cctx, adapter.StationParams{
		BSSID:          p.bssidFor(b, sta),
		Addr:           addr,
		AID:            sta.AID,
		ListenInterval: set.ListenInterval,
		Caps:           set,
	})
	cancel()
	if err != nil {
		err = adapter.Normalize("add_station", err, nil)
		if fresh {
			b.Disassociate(sta)
		} else {
			b.Refresh(sta, prev)
		}
		p.sendBestEffort(ctx, p.assocResponse(b, sta, f.Reassoc, frame.StatusUnspecifiedFailure))
		p.events.Rejected(b, addr, frame.StatusUnspecifiedFailure)
		return p.driverFailure(ctx, b, sta, "add_station", err)
	}

	if err := p.send(ctx, p.assocResponse(b, sta, f.Reassoc, frame.StatusSuccess)); err != nil {
		// The station never heard the answer, so its retry must not be
		// taken for a duplicate.
		sta.Advertised = capability.Advertisement{}
		if fresh {
			p.unwind(ctx, b, sta)
		}
		return p.driverFailure(ctx, b, sta, "send_frame", err)
	}

	sta.Advertised = adv
	sta.Reassoc = f.Reassoc || !fresh
	sta.DriverFailures = 0
	if fresh {
		sta.AssociatedAt = p.now()
		sta.SessionID = p.session()
	}
	p.syncMode(ctx, b)

	if !fresh {
		klog.V(2).Infof("bss %s: %s renegotiated, aid %d", b.BSSID(), addr, sta.AID)
		return p.rekey(ctx, b, sta)
	}
	klog.Infof("bss %s: %s joined (%s), aid %d", b.BSSID(), addr, op, sta.AID)
	p.events.StationJoined(b, sta)
	if err := b.Collaborators().Accounting.SessionStarted(ctx, p.sessionOf(b, sta)); err != nil {
		klog.Warningf("bss %s: accounting start for %s: %v", b.BSSID(), addr, err)
	}
	b.Collaborators().Observer.StationAssociated(b.BSSID(), addr, f.Reassoc)

	return p.startKeys(ctx, b, sta)
}

// unwind takes a station whose association response was lost back to
// Authenticated.
func (p *Protocol) unwind(ctx context.Context, b *bss.Context, sta *bss.Station) {
	cctx, cancel := p.call(ctx)
	defer cancel()
	if err := p.driver.RemoveStation(cctx, p.bssidFor(b, sta), sta.Addr); err != nil {
		err = adapter.Normalize("remove_station", err, nil)
		klog.Warningf("bss %s: remove station %s: %v", b.BSSID(), sta.Addr, err)
		p.events.DriverFailed("remove_station", err)
	}
	b.Disassociate(sta)
}

// rekey restarts key establishment for a station that renegotiated while
// associated. Its port stays closed until the new session completes.
func (p *Protocol) rekey(ctx context.Context, b *bss.Context, sta *bss.Station) error {
	p.disarm(b, sta.Addr)
	sta.Pending = bss.PhaseNone
	if b.Config().KeyMgmt != bss.KeyMgmtNone {
		if sta.Authorized {
			cctx, cancel := p.call(ctx)
			err := p.driver.SetStationAuthorized(cctx, p.bssidFor(b, sta), sta.Addr, false)
			cancel()
			if err != nil {
				return p.driverFailure(ctx, b, sta, "set_station_authorized", adapter.Normalize("set_station_authorized", err, nil))
			}
			sta.Authorized = false
			b.Collaborators().Observer.StationAuthorized(b.BSSID(), sta.Addr, false)
		}
		cctx, cancel := p.call(ctx)
		if err := b.Authenticator().EndSession(cctx, b.BSSID(), sta.Addr); err != nil {
			klog.Warningf("bss %s: end key session for %s: %v", b.BSSID(), sta.Addr, err)
		}
		cancel()
	}
	b.Collaborators().Observer.StationAssociated(b.BSSID(), sta.Addr, true)
	return p.startKeys(ctx, b, sta)
}

// startKeys begins key establishment, or opens the port directly when the
// BSS runs without key management.
func (p *Protocol) startKeys(ctx context.Context, b *bss.Context, sta *bss.Station) error {
	if b.Config().KeyMgmt == bss.KeyMgmtNone {
		return p.authorize(ctx, b, sta)
	}
	cctx, cancel := p.call(ctx)
	err := b.Authenticator().BeginSession(cctx, bss.SessionRequest{
		BSSID:   b.BSSID(),
		Addr:    sta.Addr,
		Caps:    sta.Caps,
		Reassoc: sta.Reassoc,
	})
	cancel()
	if err != nil {
		klog.Warningf("bss %s: %s key session for %s: %v", b.BSSID(), b.Config().KeyMgmt, sta.Addr, err)
		p.sendBestEffort(ctx, frame.Deauthentication{To: sta.Addr, BSSID: p.bssidFor(b, sta), Reason: frame.ReasonIEEE8021XFailed})
		p.release(ctx, b, sta, frame.ReasonIEEE8021XFailed, true)
		return fault.Protocol("begin_session", sta.Addr.String(), uint16(frame.ReasonIEEE8021XFailed), "%v", err)
	}
	sta.Pending = bss.PhaseKey
	p.arm(b, sta.Addr, bss.PhaseKey)
	return nil
}

// rejectAssoc answers with the status carried by cause. The station keeps
// the state it had before the request.
func (p *Protocol) rejectAssoc(ctx context.Context, b *bss.Context, sta *bss.Station, f *frame.AssocRequest, cause error) error {
	status := frame.StatusCode(fault.StatusOf(cause))
	if status == frame.StatusSuccess {
		status = frame.StatusUnspecifiedFailure
	}
	if err := p.send(ctx, p.assocResponse(b, sta, f.Reassoc, status)); err != nil {
		cause = errors.Join(cause, p.driverFailure(ctx, b, sta, "send_frame", err))
	}
	p.events.Rejected(b, sta.Addr, status)
	s := p.sessionOf(b, sta)
	s.Status = status
	if err := b.Collaborators().Accounting.SessionFailed(ctx, s); err != nil {
		klog.Warningf("bss %s: accounting failure for %s: %v", b.BSSID(), sta.Addr, err)
	}
	klog.V(2).Infof("bss %s: rejected %s: %v", b.BSSID(), sta.Addr, cause)
	return cause
}

func (p *Protocol) assocResponse(b *bss.Context, sta *bss.Station, reassoc bool, status frame.StatusCode) frame.AssocResponse {
	profile := b.Profile()
	mode := b.OperatingMode()

	info := frame.CapESS
	if !mode.BarkerPreamble {
		info |= frame.CapShortPreamble
	}
	if mode.ShortSlotTime {
		info |= frame.CapShortSlotTime
	}
	if b.Config().KeyMgmt != bss.KeyMgmtNone {
		info |= frame.CapPrivacy
	}

	resp := frame.AssocResponse{
		To:             sta.Addr,
		BSSID:          p.bssidFor(b, sta),
		Reassoc:        reassoc,
		CapabilityInfo: info,
		Status:         status,
		Rates:          capability.EncodeRates(profile.Rates, profile.BasicRates),
	}
	if status != frame.StatusSuccess {
		return resp
	}
	resp.AID = sta.AID
	if sta.Caps.HT != nil && profile.HT != nil {
		resp.Extra = frame.AppendElement(resp.Extra, frame.ElementHTCapabilities, profile.HT.Bytes())
	}
	if sta.Caps.VHT != nil && profile.VHT != nil {
		resp.Extra = frame.AppendElement(resp.Extra, frame.ElementVHTCapabilities, profile.VHT.Bytes())
	}
	return resp
}

func (p *Protocol) sessionOf(b *bss.Context, sta *bss.Station) bss.Session {
	s := bss.Session{
		ID:      sta.SessionID,
		BSSID:   b.BSSID(),
		SSID:    b.SSID(),
		Station: sta.Addr,
		Started: sta.AssociatedAt,
	}
	if !sta.AssociatedAt.IsZero() {
		s.Duration = p.now().Sub(sta.AssociatedAt)
	}
	return s
}
