package admission

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

// HandleAuth processes an authentication frame.
func (p *Protocol) HandleAuth(ctx context.Context, b *bss.Context, f *frame.Auth) error {
	const op = "auth"
	addr := f.SA

	refuse := func(status frame.StatusCode, format string, args ...interface{}) error {
		p.sendBestEffort(ctx, frame.AuthResponse{
			To:        addr,
			BSSID:     f.BSSID,
			Algorithm: f.Algorithm,
			Sequence:  f.Sequence + 1,
			Status:    status,
		})
		p.events.Rejected(b, addr, status)
		return fault.Protocol(op, addr.String(), uint16(status), format, args...)
	}

	if addr.IsGroup() {
		return fault.Protocol(op, addr.String(), 0, "group source address")
	}
	if !b.Admissible(addr, p.now()) {
		return refuse(frame.StatusUnspecifiedFailure, "station denied by ACL or ban")
	}
	if !b.AlgorithmAllowed(f.Algorithm) {
		return refuse(frame.StatusAlgorithmUnsupported, "algorithm %s not enabled", f.Algorithm)
	}

	sta, exists := b.Table().Get(addr)
	if exists && sta.Pending == bss.PhaseAuth && sta.Algorithm == f.Algorithm && f.Sequence > 1 {
		// Later frames of a delegated exchange.
		return p.delegate(ctx, b, sta, f)
	}

	switch f.Algorithm {
	case frame.AlgorithmOpen:
		if f.Sequence != 1 {
			return refuse(frame.StatusAuthSeqOutOfSequence, "open auth sequence %d", f.Sequence)
		}
		sta, created := p.prepareAuth(ctx, b, f)
		sta.Status = bss.Authenticated
		sta.AuthAt = p.now()

		err := p.send(ctx, frame.AuthResponse{
			To:        addr,
			BSSID:     p.bssidFor(b, sta),
			Algorithm: frame.AlgorithmOpen,
			Sequence:  2,
			Status:    frame.StatusSuccess,
		})
		if err != nil {
			if created {
				b.Remove(sta)
				return fault.Driver("send_frame", addr.String(), err)
			}
			return p.driverFailure(ctx, b, sta, "send_frame", err)
		}
		klog.V(2).Infof("bss %s: %s authenticated (open)", b.BSSID(), addr)
		return nil

	default:
		sta, created := p.prepareAuth(ctx, b, f)
		sta.Status = bss.Unauthenticated
		sta.Pending = bss.PhaseAuth
		if err := p.delegate(ctx, b, sta, f); err != nil {
			if created {
				p.release(ctx, b, sta, frame.ReasonUnspecified, true)
			}
			return err
		}
		return nil
	}
}

// prepareAuth creates or resets the record for a new authentication. An
// associated station is disassociated first.
func (p *Protocol) prepareAuth(ctx context.Context, b *bss.Context, f *frame.Auth) (*bss.Station, bool) {
	sta, created := b.Table().Add(f.SA)
	if !created && sta.Status == bss.Associated {
		klog.Infof("bss %s: %s re-authenticating while associated", b.BSSID(), f.SA)
		p.release(ctx, b, sta, frame.ReasonPrevAuthNotValid, false)
	}
	p.disarm(b, f.SA)
	sta.Algorithm = f.Algorithm
	sta.Pending = bss.PhaseNone
	sta.Reassoc = false
	if b.Config().LVAP {
		sta.VBSSID = f.BSSID
	}
	return sta, created
}

// delegate hands a shared key or SAE frame to the authenticator and waits
// for DeliverAuthResult.
func (p *Protocol) delegate(ctx context.Context, b *bss.Context, sta *bss.Station, f *frame.Auth) error {
	cctx, cancel := p.call(ctx)
	defer cancel()
	err := b.Collaborators().WPA.Authenticate(cctx, bss.AuthRequest{
		BSSID:     b.BSSID(),
		Addr:      sta.Addr,
		Algorithm: f.Algorithm,
		Sequence:  f.Sequence,
		Status:    f.Status,
		Body:      f.Body,
	})
	if err != nil {
		p.disarm(b, sta.Addr)
		sta.Pending = bss.PhaseNone
		p.sendBestEffort(ctx, frame.AuthResponse{
			To:        sta.Addr,
			BSSID:     p.bssidFor(b, sta),
			Algorithm: f.Algorithm,
			Sequence:  f.Sequence + 1,
			Status:    frame.StatusAlgorithmUnsupported,
		})
		p.events.Rejected(b, sta.Addr, frame.StatusAlgorithmUnsupported)
		return fault.Protocol("auth", sta.Addr.String(), uint16(frame.StatusAlgorithmUnsupported),
			"authenticator refused %s: %v", f.Algorithm, err)
	}
	p.arm(b, sta.Addr, bss.PhaseAuth)
	return nil
}

// DeliverAuthResult resumes a station suspended on the authenticator.
func (p *Protocol) DeliverAuthResult(ctx context.Context, b *bss.Context, res bss.AuthResult) error {
	sta, ok := b.Table().Get(res.Addr)
	if !ok {
		return unknownStation(b, res.Addr)
	}
	if sta.Pending != res.Phase {
		return fault.Protocol("auth result", res.Addr.String(), 0, "no pending %s exchange (pending %s)", res.Phase, sta.Pending)
	}
	p.disarm(b, sta.Addr)

	switch res.Phase {
	case bss.PhaseAuth:
		return p.authResult(ctx, b, sta, res)
	case bss.PhaseKey:
		return p.keyResult(ctx, b, sta, res)
	}
	return nil
}

func (p *Protocol) authResult(ctx context.Context, b *bss.Context, sta *bss.Station, res bss.AuthResult) error {
	resp := frame.AuthResponse{
		To:        sta.Addr,
		BSSID:     p.bssidFor(b, sta),
		Algorithm: sta.Algorithm,
		Sequence:  res.Sequence,
		Status:    res.Status,
		Body:      res.Body,
	}

	switch res.Verdict {
	case bss.Continue:
		if err := p.send(ctx, resp); err != nil {
			p.release(ctx, b, sta, frame.ReasonUnspecified, true)
			return fault.Driver("send_frame", sta.Addr.String(), err)
		}
		p.arm(b, sta.Addr, bss.PhaseAuth)
		return nil

	case bss.Accept:
		resp.Status = frame.StatusSuccess
		if err := p.send(ctx, resp); err != nil {
			p.release(ctx, b, sta, frame.ReasonUnspecified, true)
			return fault.Driver("send_frame", sta.Addr.String(), err)
		}
		sta.Pending = bss.PhaseNone
		sta.Status = bss.Authenticated
		sta.AuthAt = p.now()
		klog.V(2).Infof("bss %s: %s authenticated (%s)", b.BSSID(), sta.Addr, sta.Algorithm)
		return nil

	default:
		if resp.Status == frame.StatusSuccess {
			resp.Status = frame.StatusUnspecifiedFailure
		}
		p.sendBestEffort(ctx, resp)
		p.events.Rejected(b, sta.Addr, resp.Status)
		p.release(ctx, b, sta, frame.ReasonUnspecified, true)
		return nil
	}
}

func (p *Protocol) keyResult(ctx context.Context, b *bss.Context, sta *bss.Station, res bss.AuthResult) error {
	switch res.Verdict {
	case bss.Continue:
		p.arm(b, sta.Addr, bss.PhaseKey)
		return nil

	case bss.Accept:
		sta.Pending = bss.PhaseNone
		return p.authorize(ctx, b, sta)

	default:
		reason := res.Reason
		if reason == 0 {
			reason = frame.ReasonIEEE8021XFailed
		}
		p.sendBestEffort(ctx, frame.Deauthentication{To: sta.Addr, BSSID: p.bssidFor(b, sta), Reason: reason})
		p.release(ctx, b, sta, reason, true)
		return nil
	}
}

// authorize opens the data port for an associated station.
func (p *Protocol) authorize(ctx context.Context, b *bss.Context, sta *bss.Station) error {
	cctx, cancel := p.call(ctx)
	defer cancel()
	if err := p.driver.SetStationAuthorized(cctx, p.bssidFor(b, sta), sta.Addr, true); err != nil {
		return p.driverFailure(ctx, b, sta, "set_station_authorized", err)
	}
	sta.Authorized = true
	b.Collaborators().Observer.StationAuthorized(b.BSSID(), sta.Addr, true)
	klog.V(2).Infof("bss %s: %s authorized", b.BSSID(), sta.Addr)
	return nil
}
