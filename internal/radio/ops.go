package radio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/channel"
	"github.com/radio-control/apd/internal/frame"
)

// Snapshot is a point in time view of an interface.
type Snapshot struct {
	Name        string            `json:"name"`
	State       State             `json:"state"`
	InitFailed  bool              `json:"initFailed,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	Country     string            `json:"country,omitempty"`
	Modes       string            `json:"modes"`
	Channel     channel.State     `json:"channel"`
	ACSFailures int               `json:"acsFailures"`
	Surveys     int               `json:"surveys"`
	PendingAuth int               `json:"pendingAuth"`
	BSS         []bss.Snapshot    `json:"bss"`
	Channels    []adapter.Channel `json:"channels,omitempty"`
}

// StationView is a station together with the BSS holding it.
type StationView struct {
	Interface string     `json:"interface"`
	BSSID     frame.Addr `json:"bssid"`
	bss.Info
}

// ReloadReport summarizes what a reload changed.
type ReloadReport struct {
	Added   []frame.Addr `json:"added"`
	Removed []frame.Addr `json:"removed"`
	Kicked  int          `json:"kicked"`
	Updated int          `json:"updated"`
}

// Snapshot returns the current interface view.
func (i *Interface) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := i.Do(ctx, func() error {
		s = i.snapshot()
		return nil
	})
	return s, err
}

func (i *Interface) snapshot() Snapshot {
	now := i.now()
	s := Snapshot{
		Name:        i.name,
		State:       i.state,
		InitFailed:  i.initFailed,
		Country:     i.cfg.Country,
		Modes:       i.caps.Modes.String(),
		Channel:     i.coord.State(),
		ACSFailures: i.acsFailures,
		Surveys:     i.surveys,
		PendingAuth: i.proto.Pending(),
		Channels:    slices.Clone(i.coord.Plan()),
	}
	if i.lastErr != nil {
		s.LastError = i.lastErr.Error()
	}
	for _, b := range i.bsses {
		s.BSS = append(s.BSS, b.Snapshot(now))
	}
	return s
}

// Stations lists every station on every BSS of the interface.
func (i *Interface) Stations(ctx context.Context) ([]StationView, error) {
	var out []StationView
	err := i.Do(ctx, func() error {
		for _, b := range i.bsses {
			for _, sta := range b.Table().Stations() {
				out = append(out, StationView{Interface: i.name, BSSID: b.BSSID(), Info: sta.Info()})
			}
		}
		return nil
	})
	return out, err
}

// Enable starts bringing the interface up. It returns once the state
// machine has left Disabled; reaching Enabled may take a CAC.
func (i *Interface) Enable(ctx context.Context) error {
	return i.Do(ctx, i.enable)
}

// Disable takes the interface down, demoting every associated station.
func (i *Interface) Disable(ctx context.Context) error {
	return i.Do(ctx, func() error {
		if i.state == Disabled || i.state == Uninitialized {
			return nil
		}
		i.shutdown()
		return nil
	})
}

// Reload applies a new configuration. BSSes are matched by BSSID: new ones
// are created, removed ones torn down and kept ones revalidated in place.
// Interface level settings take effect on the next channel selection.
func (i *Interface) Reload(ctx context.Context, cfg Config) (ReloadReport, error) {
	if cfg.Name != i.name {
		return ReloadReport{}, fmt.Errorf("reload of %s with configuration for %s", i.name, cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return ReloadReport{}, err
	}
	var report ReloadReport
	err := i.Do(ctx, func() error {
		report = i.reload(cfg)
		return nil
	})
	return report, err
}

func (i *Interface) reload(cfg Config) ReloadReport {
	var report ReloadReport
	existing := make(map[frame.Addr]*bss.Context, len(i.bsses))
	for _, b := range i.bsses {
		existing[b.BSSID()] = b
	}

	next := make([]*bss.Context, 0, len(cfg.BSS))
	for _, bc := range cfg.BSS {
		if b, ok := existing[bc.BSSID]; ok {
			delete(existing, bc.BSSID)
			if err := b.SetConfig(bc); err != nil {
				i.events.Fault(i.name, err)
			}
			removed, updated := i.proto.Revalidate(i.ctx, b)
			report.Kicked += removed
			report.Updated += updated
			if i.state == Enabled {
				i.proto.SyncMode(i.ctx, b)
			}
			next = append(next, b)
			continue
		}
		b, err := bss.New(bc, i.collab(bc))
		if err != nil {
			i.events.Fault(i.name, err)
			continue
		}
		if i.state == Enabled {
			if err := i.startBSS(b); err != nil {
				i.events.Fault(i.name, err)
			}
		}
		next = append(next, b)
		report.Added = append(report.Added, bc.BSSID)
	}

	for _, b := range i.bsses {
		if _, gone := existing[b.BSSID()]; !gone {
			continue
		}
		i.proto.Teardown(i.ctx, b)
		if i.state == Enabled {
			i.stopBSS(b)
		}
		report.Removed = append(report.Removed, b.BSSID())
	}

	i.bsses = next
	i.cfg = cfg
	if len(i.bsses) == 0 && i.state != Disabled && i.state != Uninitialized {
		i.shutdown()
	}
	return report
}

// lookupBSS resolves bssid. A zero bssid names the only BSS of the interface.
func (i *Interface) lookupBSS(bssid frame.Addr) (*bss.Context, error) {
	if bssid.IsZero() && len(i.bsses) == 1 {
		return i.bsses[0], nil
	}
	for _, b := range i.bsses {
		if b.BSSID() == bssid {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: bss %s on %s", ErrNotFound, bssid, i.name)
}

// DeliverAuthResult hands an authenticator verdict to the BSS holding the
// station.
func (i *Interface) DeliverAuthResult(ctx context.Context, res bss.AuthResult) error {
	return i.Do(ctx, func() error {
		b := i.bssFor(res.BSSID, res.Addr)
		if b == nil {
			return fmt.Errorf("%w: station %s on %s", ErrNotFound, res.Addr, i.name)
		}
		return i.proto.DeliverAuthResult(i.ctx, b, res)
	})
}

// Kick deauthenticates a station, banning it for ban when positive.
func (i *Interface) Kick(ctx context.Context, bssid, addr frame.Addr, reason frame.ReasonCode, ban time.Duration) error {
	return i.Do(ctx, func() error {
		b, err := i.lookupBSS(bssid)
		if err != nil {
			return err
		}
		return i.proto.Kick(i.ctx, b, addr, reason, true, ban)
	})
}

// Ban refuses addr until d elapses, or permanently when d is zero. A
// station already present is deauthenticated.
func (i *Interface) Ban(ctx context.Context, bssid, addr frame.Addr, d time.Duration) error {
	return i.Do(ctx, func() error {
		b, err := i.lookupBSS(bssid)
		if err != nil {
			return err
		}
		var until time.Time
		if d > 0 {
			until = i.now().Add(d)
		}
		b.Bans().Add(addr, until)
		if _, ok := b.Table().Get(addr); ok {
			return i.proto.Kick(i.ctx, b, addr, frame.ReasonUnspecified, true, 0)
		}
		return nil
	})
}

// Unban lifts a ban.
func (i *Interface) Unban(ctx context.Context, bssid, addr frame.Addr) error {
	return i.Do(ctx, func() error {
		b, err := i.lookupBSS(bssid)
		if err != nil {
			return err
		}
		if !b.Bans().Remove(addr) {
			return fmt.Errorf("%w: %s is not banned on %s", ErrNotFound, addr, bssid)
		}
		return nil
	})
}

// ForceChannelSwitch announces a switch to target over count beacons.
func (i *Interface) ForceChannelSwitch(ctx context.Context, target adapter.ChannelParams, count uint8, blockTx bool) (adapter.ChannelParams, error) {
	var resolved adapter.ChannelParams
	err := i.Do(ctx, func() error {
		var err error
		resolved, err = i.coord.Initiate(target, count, blockTx)
		return err
	})
	return resolved, err
}

// Verify checks the table invariants of every BSS.
func (i *Interface) Verify(ctx context.Context) error {
	return i.Do(ctx, func() error {
		for _, b := range i.bsses {
			if err := b.Verify(); err != nil {
				return fmt.Errorf("%s: %w", i.name, err)
			}
		}
		return nil
	})
}

// Close disables the interface, stops the event loop and closes the
// driver.
func (i *Interface) Close(ctx context.Context) error {
	var err error
	if i.running.Load() {
		err = i.Disable(ctx)
	}
	i.stop.Do(func() { close(i.done) })
	if i.running.Load() {
		select {
		case <-i.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// The loop is gone; nothing else touches the retry timer.
	i.stopRetry()
	i.cancel()
	if cerr := i.driver.Close(); cerr != nil && err == nil {
		err = adapter.Normalize("Close", cerr, nil)
	}
	if errors.Is(err, adapter.ErrUnavailable) {
		err = nil
	}
	return err
}

// CSACount is the countdown used when a switch request names none.
func (i *Interface) CSACount() uint8 { return i.timing.CSACount }
