package admission

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// HandleDeauth removes a station that deauthenticated.
func (p *Protocol) HandleDeauth(ctx context.Context, b *bss.Context, f *frame.Deauth) error {
	sta, ok := b.Table().Get(f.SA)
	if !ok {
		return nil
	}
	klog.V(2).Infof("bss %s: %s deauthenticated: %s", b.BSSID(), f.SA, f.Reason)
	p.release(ctx, b, sta, f.Reason, true)
	return nil
}

// HandleDisassoc removes a station that disassociated. The record is
// destroyed, so the station must authenticate again.
func (p *Protocol) HandleDisassoc(ctx context.Context, b *bss.Context, f *frame.Disassoc) error {
	sta, ok := b.Table().Get(f.SA)
	if !ok {
		return nil
	}
	klog.V(2).Infof("bss %s: %s disassociated: %s", b.BSSID(), f.SA, f.Reason)
	p.release(ctx, b, sta, f.Reason, true)
	return nil
}

// HandleLost removes a station the driver reported unreachable.
func (p *Protocol) HandleLost(ctx context.Context, b *bss.Context, addr frame.Addr) error {
	sta, ok := b.Table().Get(addr)
	if !ok {
		return unknownStation(b, addr)
	}
	klog.Infof("bss %s: lost contact with %s", b.BSSID(), addr)
	p.sendBestEffort(ctx, frame.Deauthentication{To: addr, BSSID: p.bssidFor(b, sta), Reason: frame.ReasonDisassocLowAck})
	p.release(ctx, b, sta, frame.ReasonDisassocLowAck, true)
	return nil
}

// Kick removes addr on operator request, optionally banning it for ban.
func (p *Protocol) Kick(ctx context.Context, b *bss.Context, addr frame.Addr, reason frame.ReasonCode, deauth bool, ban time.Duration) error {
	sta, ok := b.Table().Get(addr)
	if !ok {
		return unknownStation(b, addr)
	}
	if reason == 0 {
		reason = frame.ReasonUnspecified
	}
	if deauth {
		p.sendBestEffort(ctx, frame.Deauthentication{To: addr, BSSID: p.bssidFor(b, sta), Reason: reason})
	} else {
		p.sendBestEffort(ctx, frame.Disassociation{To: addr, BSSID: p.bssidFor(b, sta), Reason: reason})
	}
	if ban > 0 {
		b.Bans().Add(addr, p.now().Add(ban))
	}
	p.release(ctx, b, sta, reason, true)
	return nil
}

// DemoteAll drops every association without signalling the stations, for
// when the BSS stops serving on its channel. Authenticated records survive;
// stations halfway through authentication are removed.
func (p *Protocol) DemoteAll(ctx context.Context, b *bss.Context, reason frame.ReasonCode) {
	for _, sta := range b.Table().Stations() {
		switch {
		case sta.Status == bss.Associated:
			p.release(ctx, b, sta, reason, false)
		case sta.Pending != bss.PhaseNone:
			p.release(ctx, b, sta, reason, true)
		}
	}
}

// Teardown deauthenticates and removes every station.
func (p *Protocol) Teardown(ctx context.Context, b *bss.Context) {
	for _, sta := range b.Table().Stations() {
		p.sendBestEffort(ctx, frame.Deauthentication{To: sta.Addr, BSSID: p.bssidFor(b, sta), Reason: frame.ReasonDeauthLeaving})
		p.release(ctx, b, sta, frame.ReasonDeauthLeaving, true)
	}
}

// Revalidate checks every station against the current BSS configuration
// after a reload. Stations that no longer qualify are removed; associated
// stations whose negotiated set changed are updated in place.
func (p *Protocol) Revalidate(ctx context.Context, b *bss.Context) (removed, updated int) {
	now := p.now()
	for _, sta := range b.Table().Stations() {
		switch {
		case !b.Admissible(sta.Addr, now):
			p.kickQuietly(ctx, b, sta, frame.ReasonUnspecified)
			removed++
			continue
		case !b.AlgorithmAllowed(sta.Algorithm):
			p.kickQuietly(ctx, b, sta, frame.ReasonPrevAuthNotValid)
			removed++
			continue
		}
		if sta.Status != bss.Associated {
			continue
		}

		set, err := capability.Negotiate(b.Profile(), sta.Advertised, b.Env())
		if err != nil {
			klog.Infof("bss %s: %s no longer admissible: %v", b.BSSID(), sta.Addr, err)
			p.kickQuietly(ctx, b, sta, frame.ReasonPrevAuthNotValid)
			removed++
			continue
		}
		if set.Equal(sta.Caps) {
			continue
		}
		b.Refresh(sta, set)
		cctx, cancel := p.call(ctx)
		err = p.driver.AddStation(cctx, adapter.StationParams{
			BSSID:          p.bssidFor(b, sta),
			Addr:           sta.Addr,
			AID:            sta.AID,
			ListenInterval: set.ListenInterval,
			Caps:           set,
		})
		cancel()
		if err != nil {
			_ = p.driverFailure(ctx, b, sta, "add_station", adapter.Normalize("add_station", err, nil))
			continue
		}
		updated++
	}
	p.syncMode(ctx, b)
	return removed, updated
}

func (p *Protocol) kickQuietly(ctx context.Context, b *bss.Context, sta *bss.Station, reason frame.ReasonCode) {
	p.sendBestEffort(ctx, frame.Deauthentication{To: sta.Addr, BSSID: p.bssidFor(b, sta), Reason: reason})
	p.release(ctx, b, sta, reason, true)
}

// release undoes everything sta holds. With destroy the record goes away,
// otherwise an associated station is demoted to Authenticated.
func (p *Protocol) release(ctx context.Context, b *bss.Context, sta *bss.Station, reason frame.ReasonCode, destroy bool) {
	p.disarm(b, sta.Addr)
	collab := b.Collaborators()
	wasAssoc := sta.Status == bss.Associated
	info := sta.Info()
	session := p.sessionOf(b, sta)
	session.Reason = reason

	if wasAssoc {
		cctx, cancel := p.call(ctx)
		if err := p.driver.RemoveStation(cctx, p.bssidFor(b, sta), sta.Addr); err != nil {
			err = adapter.Normalize("remove_station", err, nil)
			klog.Warningf("bss %s: remove station %s: %v", b.BSSID(), sta.Addr, err)
			p.events.DriverFailed("remove_station", err)
		}
		cancel()
		if b.Config().KeyMgmt != bss.KeyMgmtNone {
			cctx, cancel := p.call(ctx)
			if err := b.Authenticator().EndSession(cctx, b.BSSID(), sta.Addr); err != nil {
				klog.Warningf("bss %s: end key session for %s: %v", b.BSSID(), sta.Addr, err)
			}
			cancel()
		}
	}

	if destroy {
		b.Remove(sta)
	} else {
		b.Disassociate(sta)
		sta.SessionID = ""
		sta.AssociatedAt = time.Time{}
		sta.Advertised = capability.Advertisement{}
		sta.Caps = capability.Set{}
		sta.DriverFailures = 0
	}

	if wasAssoc {
		if err := collab.Accounting.SessionStopped(ctx, session); err != nil {
			klog.Warningf("bss %s: accounting stop for %s: %v", b.BSSID(), sta.Addr, err)
		}
		if info.Authorized {
			collab.Observer.StationAuthorized(b.BSSID(), sta.Addr, false)
		}
		p.events.StationLeft(b, info, reason)
		p.syncMode(ctx, b)
	}
	if destroy {
		collab.Preauth.StationGone(b.BSSID(), sta.Addr)
		collab.Observer.StationRemoved(b.BSSID(), sta.Addr)
	}
}
