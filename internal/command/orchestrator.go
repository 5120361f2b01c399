package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/docker/go-units"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/admission"
	"github.com/radio-control/apd/internal/channel"
	"github.com/radio-control/apd/internal/config"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
	"github.com/radio-control/apd/internal/radio"
	"github.com/radio-control/apd/internal/telemetry"
)

// StationRef names a station on one BSS.
type StationRef struct {
	BSSID   string `json:"bssid"`
	Station string `json:"station"`
}

// BanRequest bans a station. Seconds zero bans permanently.
type BanRequest struct {
	StationRef
	Seconds int `json:"seconds"`
}

// KickRequest deauthenticates a station, optionally banning it for
// BanSeconds.
type KickRequest struct {
	StationRef
	Reason     uint16 `json:"reason,omitempty"`
	BanSeconds int    `json:"banSeconds,omitempty"`
}

// ChannelSwitchRequest moves an operating interface to another channel.
// Either Channel or FrequencyMHz selects the target; Count nil uses the
// configured countdown.
type ChannelSwitchRequest struct {
	Channel      int  `json:"channel,omitempty"`
	FrequencyMHz int  `json:"frequencyMhz,omitempty"`
	Width        int  `json:"width,omitempty"`
	Count        *int `json:"count,omitempty"`
	BlockTx      bool `json:"blockTx,omitempty"`
}

// StationSummary is one row of a station listing.
type StationSummary struct {
	Interface    string `json:"interface"`
	BSSID        string `json:"bssid"`
	VBSSID       string `json:"vbssid,omitempty"`
	Station      string `json:"station"`
	AID          uint16 `json:"aid"`
	Status       string `json:"status"`
	Algorithm    string `json:"algorithm"`
	Authorized   bool   `json:"authorized"`
	Reassoc      bool   `json:"reassoc"`
	HT           bool   `json:"ht"`
	VHT          bool   `json:"vht"`
	QoS          bool   `json:"qos"`
	SessionID    string `json:"sessionId,omitempty"`
	Connected    string `json:"connected,omitempty"`
	ConnectedSec int64  `json:"connectedSeconds"`
}

// ReloadResult reports a configuration reload per interface.
type ReloadResult struct {
	Interfaces map[string]radio.ReloadReport `json:"interfaces"`
	// RestartRequired lists interfaces added to or dropped from the file;
	// binding or releasing a driver takes a restart.
	RestartRequired []string `json:"restartRequired,omitempty"`
	// Failed maps interfaces whose reload was refused to the reason.
	Failed map[string]string `json:"failed,omitempty"`
}

// Orchestrator routes validated management intents to the interfaces.
type Orchestrator struct {
	registry Registry

	// Telemetry hub for command events
	telemetryHub *telemetry.Hub

	config *config.TimingConfig

	auditLogger AuditLogger

	now func() time.Time
}

// Compile-time assertion that Orchestrator implements OrchestratorPort
var _ OrchestratorPort = (*Orchestrator)(nil)

// NewOrchestrator creates a command orchestrator over registry. hub may
// be nil.
func NewOrchestrator(registry Registry, hub *telemetry.Hub, timingConfig *config.TimingConfig) *Orchestrator {
	if timingConfig == nil {
		timingConfig = config.LoadTimingBaseline()
	}
	return &Orchestrator{
		registry:     registry,
		telemetryHub: hub,
		config:       timingConfig,
		now:          time.Now,
	}
}

// SetAuditLogger sets the audit logger.
func (o *Orchestrator) SetAuditLogger(logger AuditLogger) {
	o.auditLogger = logger
}

// lookup resolves name, the empty name meaning the default interface.
func (o *Orchestrator) lookup(name string) (Controller, string, error) {
	if o.registry == nil {
		return nil, name, adapter.ErrUnavailable
	}
	if name == "" {
		name = o.registry.Default()
		if name == "" {
			return nil, name, fmt.Errorf("%w: no interfaces", ErrNotFound)
		}
	}
	ctl, err := o.registry.Lookup(name)
	if err != nil {
		return nil, name, fmt.Errorf("%w: interface %s", ErrNotFound, name)
	}
	return ctl, name, nil
}

// ListInterfaces returns a snapshot of every interface.
func (o *Orchestrator) ListInterfaces(ctx context.Context) (*radio.InterfaceList, error) {
	if o.registry == nil {
		return nil, adapter.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutRead)
	defer cancel()
	return o.registry.List(ctx)
}

// GetInterface returns the snapshot of one interface.
func (o *Orchestrator) GetInterface(ctx context.Context, name string) (*radio.Snapshot, error) {
	ctl, _, err := o.lookup(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutRead)
	defer cancel()
	s, err := ctl.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStations returns every station of an interface, ordered by BSSID
// then address.
func (o *Orchestrator) ListStations(ctx context.Context, name string) ([]StationSummary, error) {
	ctl, _, err := o.lookup(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutRead)
	defer cancel()
	views, err := ctl.Stations(ctx)
	if err != nil {
		return nil, err
	}

	now := o.now()
	out := make([]StationSummary, 0, len(views))
	for _, v := range views {
		s := StationSummary{
			Interface:  v.Interface,
			BSSID:      v.BSSID.String(),
			Station:    v.Addr.String(),
			AID:        v.AID,
			Status:     v.Status,
			Algorithm:  v.Algorithm,
			Authorized: v.Authorized,
			Reassoc:    v.Reassoc,
			HT:         v.HT,
			VHT:        v.VHT,
			QoS:        v.QoS,
			SessionID:  v.SessionID,
		}
		if v.VBSSID != nil && *v.VBSSID != v.BSSID {
			s.VBSSID = v.VBSSID.String()
		}
		if !v.AssociatedAt.IsZero() {
			d := now.Sub(v.AssociatedAt)
			s.Connected = units.HumanDuration(d)
			s.ConnectedSec = int64(d / time.Second)
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].BSSID != out[b].BSSID {
			return out[a].BSSID < out[b].BSSID
		}
		return out[a].Station < out[b].Station
	})
	return out, nil
}

func parseRef(ref StationRef) (bssid, addr frame.Addr, err error) {
	if bssid, err = frame.ParseAddr(ref.BSSID); err != nil {
		return bssid, addr, fmt.Errorf("%w: bssid: %v", ErrInvalidParameter, err)
	}
	if addr, err = frame.ParseAddr(ref.Station); err != nil {
		return bssid, addr, fmt.Errorf("%w: station: %v", ErrInvalidParameter, err)
	}
	if addr.IsGroup() || addr.IsZero() {
		return bssid, addr, fmt.Errorf("%w: station %s is not an individual address", ErrInvalidParameter, addr)
	}
	return bssid, addr, nil
}

func seconds(n int) (time.Duration, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative duration %d", adapter.ErrInvalidRange, n)
	}
	return time.Duration(n) * time.Second, nil
}

// Ban refuses a station on one BSS.
func (o *Orchestrator) Ban(ctx context.Context, name string, req BanRequest) error {
	params := map[string]interface{}{"bssid": req.BSSID, "station": req.Station, "seconds": req.Seconds}
	err := o.control(ctx, "ban", name, params, func(ctx context.Context, ctl Controller) error {
		bssid, addr, err := parseRef(req.StationRef)
		if err != nil {
			return err
		}
		d, err := seconds(req.Seconds)
		if err != nil {
			return err
		}
		return ctl.Ban(ctx, bssid, addr, d)
	})
	if err == nil {
		o.publish(o.resolve(name), telemetry.TypeStationBanned, params)
	}
	return err
}

// Unban lifts a ban.
func (o *Orchestrator) Unban(ctx context.Context, name string, req StationRef) error {
	params := map[string]interface{}{"bssid": req.BSSID, "station": req.Station}
	err := o.control(ctx, "unban", name, params, func(ctx context.Context, ctl Controller) error {
		bssid, addr, err := parseRef(req)
		if err != nil {
			return err
		}
		return ctl.Unban(ctx, bssid, addr)
	})
	if err == nil {
		o.publish(o.resolve(name), telemetry.TypeStationUnbanned, params)
	}
	return err
}

// KickStation deauthenticates a station.
func (o *Orchestrator) KickStation(ctx context.Context, name string, req KickRequest) error {
	params := map[string]interface{}{
		"bssid":      req.BSSID,
		"station":    req.Station,
		"reason":     req.Reason,
		"banSeconds": req.BanSeconds,
	}
	return o.control(ctx, "kick", name, params, func(ctx context.Context, ctl Controller) error {
		bssid, addr, err := parseRef(req.StationRef)
		if err != nil {
			return err
		}
		ban, err := seconds(req.BanSeconds)
		if err != nil {
			return err
		}
		reason := frame.ReasonCode(req.Reason)
		if reason == 0 {
			reason = frame.ReasonDeauthLeaving
		}
		return ctl.Kick(ctx, bssid, addr, reason, ban)
	})
}

// ForceChannelSwitch starts a channel switch announcement and returns the
// resolved target.
func (o *Orchestrator) ForceChannelSwitch(ctx context.Context, name string, req ChannelSwitchRequest) (adapter.ChannelParams, error) {
	params := map[string]interface{}{
		"channel":      req.Channel,
		"frequencyMhz": req.FrequencyMHz,
		"width":        req.Width,
		"blockTx":      req.BlockTx,
	}
	if req.Count != nil {
		params["count"] = *req.Count
	}

	var resolved adapter.ChannelParams
	err := o.runControl(ctx, o.config.CommandTimeoutChannel, "channelSwitch", name, params, func(ctx context.Context, ctl Controller) error {
		target, err := switchTarget(req)
		if err != nil {
			return err
		}
		count := ctl.CSACount()
		if req.Count != nil {
			if *req.Count < 0 || *req.Count > 255 {
				return fmt.Errorf("%w: count %d", adapter.ErrInvalidRange, *req.Count)
			}
			count = uint8(*req.Count)
		}
		resolved, err = ctl.ForceChannelSwitch(ctx, target, count, req.BlockTx)
		return err
	})
	return resolved, err
}

func switchTarget(req ChannelSwitchRequest) (adapter.ChannelParams, error) {
	ch := req.Channel
	if ch == 0 && req.FrequencyMHz != 0 {
		ch = channelOfFrequency(req.FrequencyMHz)
		if ch == 0 {
			return adapter.ChannelParams{}, fmt.Errorf("%w: frequency %d MHz", adapter.ErrInvalidRange, req.FrequencyMHz)
		}
	}
	if ch < 1 || ch > 196 {
		return adapter.ChannelParams{}, fmt.Errorf("%w: channel %d", adapter.ErrInvalidRange, ch)
	}
	switch req.Width {
	case 0, int(adapter.Width20), int(adapter.Width40), int(adapter.Width80):
	default:
		return adapter.ChannelParams{}, fmt.Errorf("%w: width %d", adapter.ErrInvalidRange, req.Width)
	}
	p := ChannelParams(ch, req.Width)
	if req.FrequencyMHz != 0 && p.FrequencyMHz != req.FrequencyMHz {
		return adapter.ChannelParams{}, fmt.Errorf("%w: channel %d is not %d MHz", adapter.ErrInvalidRange, ch, req.FrequencyMHz)
	}
	return p, nil
}

func channelOfFrequency(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472 && (mhz-2407)%5 == 0:
		return (mhz - 2407) / 5
	case mhz >= 5160 && mhz <= 5980 && (mhz-5000)%5 == 0:
		return (mhz - 5000) / 5
	}
	return 0
}

// EnableInterface brings an interface up.
func (o *Orchestrator) EnableInterface(ctx context.Context, name string) error {
	return o.control(ctx, "enable", name, nil, func(ctx context.Context, ctl Controller) error {
		return ctl.Enable(ctx)
	})
}

// DisableInterface takes an interface down.
func (o *Orchestrator) DisableInterface(ctx context.Context, name string) error {
	return o.control(ctx, "disable", name, nil, func(ctx context.Context, ctl Controller) error {
		return ctl.Disable(ctx)
	})
}

// Reload parses a configuration document and applies its interface
// sections to the running interfaces. Timing and server settings are read
// only at startup.
func (o *Orchestrator) Reload(ctx context.Context, data []byte) (*ReloadResult, error) {
	start := o.now()
	cfg, err := config.Parse(data)
	if err != nil {
		if !errors.Is(err, config.ErrInvalid) {
			err = fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		o.audit(ctx, "reload", "", nil, err)
		return nil, err
	}
	if o.registry == nil {
		o.audit(ctx, "reload", "", nil, adapter.ErrUnavailable)
		return nil, adapter.ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutReload)
	defer cancel()

	result := &ReloadResult{
		Interfaces: make(map[string]radio.ReloadReport),
		Failed:     make(map[string]string),
	}
	seen := make(map[string]bool)
	var errs []error
	for _, ic := range cfg.Interfaces {
		seen[ic.Name] = true
		ctl, err := o.registry.Lookup(ic.Name)
		if err != nil {
			result.RestartRequired = append(result.RestartRequired, ic.Name)
			continue
		}
		rc, err := BuildInterface(ic)
		if err == nil {
			var report radio.ReloadReport
			report, err = ctl.Reload(ctx, rc)
			if err == nil {
				result.Interfaces[ic.Name] = report
				continue
			}
		}
		result.Failed[ic.Name] = err.Error()
		errs = append(errs, fmt.Errorf("%s: %w", ic.Name, err))
	}
	for _, name := range o.registry.Names() {
		if !seen[name] {
			result.RestartRequired = append(result.RestartRequired, name)
		}
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}

	err = errors.Join(errs...)
	params := map[string]interface{}{
		"interfaces":      len(cfg.Interfaces),
		"restartRequired": result.RestartRequired,
		"latencyMs":       o.now().Sub(start).Milliseconds(),
	}
	o.audit(ctx, "reload", "", params, err)
	if err != nil && len(result.Interfaces) == 0 {
		o.publishFault("", err, "Failed to reload configuration")
		return nil, err
	}
	for name, report := range result.Interfaces {
		o.publish(name, telemetry.TypeConfigReloaded, map[string]interface{}{
			"added":   len(report.Added),
			"removed": len(report.Removed),
			"kicked":  report.Kicked,
			"updated": report.Updated,
		})
	}
	if err != nil {
		klog.Warningf("command: partial reload: %v", err)
	}
	return result, nil
}

// control runs an administrative operation under the control timeout.
func (o *Orchestrator) control(ctx context.Context, action, name string, params map[string]interface{}, fn func(context.Context, Controller) error) error {
	return o.runControl(ctx, o.config.CommandTimeoutControl, action, name, params, fn)
}

// runControl resolves the interface, runs fn under timeout, audits the
// outcome and publishes a fault event on failure.
func (o *Orchestrator) runControl(ctx context.Context, timeout time.Duration, action, name string, params map[string]interface{}, fn func(context.Context, Controller) error) error {
	ctl, name, err := o.lookup(name)
	if err != nil {
		o.audit(ctx, action, name, params, err)
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = fn(cctx, ctl)
	o.audit(ctx, action, name, params, err)
	if err != nil {
		klog.V(2).Infof("command: %s on %s failed: %v", action, name, err)
		o.publishFault(name, err, fmt.Sprintf("Failed to %s", action))
	}
	return err
}

// resolve returns the interface name an empty name stands for.
func (o *Orchestrator) resolve(name string) string {
	if name == "" && o.registry != nil {
		return o.registry.Default()
	}
	return name
}

func (o *Orchestrator) audit(ctx context.Context, action, iface string, params map[string]interface{}, err error) {
	if o.auditLogger == nil {
		return
	}
	if params == nil {
		o.auditLogger.LogAction(ctx, action, iface, err)
		return
	}
	o.auditLogger.LogControlAction(ctx, action, iface, params, err)
}

// publish publishes a command event on the stream of iface.
func (o *Orchestrator) publish(iface, typ string, data map[string]interface{}) {
	if o.telemetryHub == nil {
		return
	}
	event := telemetry.Event{Type: typ, Data: data}
	if err := o.telemetryHub.PublishInterface(iface, event); err != nil {
		klog.Warningf("command: publish %s: %v", typ, err)
	}
}

// publishFault publishes a fault event for a failed command. Validation
// failures are the caller's mistake and are not published.
func (o *Orchestrator) publishFault(iface string, err error, message string) {
	if errors.Is(err, ErrInvalidParameter) || notFound(err) {
		return
	}
	o.publish(iface, telemetry.TypeFault, map[string]interface{}{
		"code":    CodeOf(err),
		"message": message,
		"error":   err.Error(),
	})
}

// notFound reports a missing interface, BSS or station.
func notFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, radio.ErrNotFound) || errors.Is(err, admission.ErrUnknownStation)
}

// CodeOf maps an error to the code reported to management clients.
func CodeOf(err error) string {
	var fe *fault.Error
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrInvalidParameter):
		return "BAD_REQUEST"
	case notFound(err):
		return "NOT_FOUND"
	case errors.Is(err, config.ErrInvalid):
		return "INVALID_CONFIG"
	case errors.Is(err, channel.ErrSwitchInProgress), errors.Is(err, adapter.ErrBusy):
		return "BUSY"
	case errors.Is(err, channel.ErrNotOperating), errors.Is(err, channel.ErrNoSwitch), errors.Is(err, radio.ErrNoBSS):
		return "UNAVAILABLE"
	case errors.As(err, &fe):
		return fe.Kind.String()
	case errors.Is(err, adapter.ErrInvalidRange), errors.Is(err, channel.ErrChannelInvalid):
		return "INVALID_RANGE"
	case errors.Is(err, adapter.ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	}
	return "INTERNAL"
}
