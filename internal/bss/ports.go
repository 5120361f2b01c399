package bss

import (
	"context"
	"errors"
	"time"

	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// ErrNoAuthenticator is returned by NopAuthenticator.Authenticate.
var ErrNoAuthenticator = errors.New("no authenticator configured")

// AuthRequest hands a shared key or SAE authentication frame to the
// delegated authenticator.
type AuthRequest struct {
	BSSID     frame.Addr
	Addr      frame.Addr
	Algorithm frame.Algorithm
	Sequence  uint16
	Status    frame.StatusCode
	Body      []byte
}

// SessionRequest starts key establishment for an associated station.
type SessionRequest struct {
	BSSID   frame.Addr
	Addr    frame.Addr
	Caps    capability.Set
	Reassoc bool
}

// Verdict is the outcome of a delegated authenticator step.
type Verdict int

const (
	Accept Verdict = iota
	Reject
	Continue
)

func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Continue:
		return "continue"
	default:
		return "accept"
	}
}

// AuthResult is delivered back from the authenticator. For PhaseAuth,
// Sequence, Status and Body describe the authentication response to send;
// for PhaseKey a rejection deauthenticates with Reason.
type AuthResult struct {
	BSSID    frame.Addr
	Addr     frame.Addr
	Phase    Phase
	Verdict  Verdict
	Sequence uint16
	Status   frame.StatusCode
	Reason   frame.ReasonCode
	Body     []byte
}

// Authenticator is the WPA or 802.1X authenticator. Results come back
// asynchronously through the interface DeliverAuthResult operation. Key
// material never crosses this boundary.
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) error
	BeginSession(ctx context.Context, req SessionRequest) error
	EndSession(ctx context.Context, bssid, addr frame.Addr) error
}

// Session is an accounting session.
type Session struct {
	ID       string           `json:"sessionId"`
	BSSID    frame.Addr       `json:"bssid"`
	SSID     string           `json:"ssid"`
	Station  frame.Addr       `json:"station"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration,omitempty"`
	Status   frame.StatusCode `json:"status,omitempty"`
	Reason   frame.ReasonCode `json:"reason,omitempty"`
}

// Accounting is notified of association outcomes. Errors are logged by the
// caller and never affect admission.
type Accounting interface {
	SessionStarted(ctx context.Context, s Session) error
	SessionFailed(ctx context.Context, s Session) error
	SessionStopped(ctx context.Context, s Session) error
}

// PreauthRelay drops cached state for stations that left.
type PreauthRelay interface {
	StationGone(bssid, addr frame.Addr)
}

// LifecycleObserver is told about station lifecycle changes.
type LifecycleObserver interface {
	StationAssociated(bssid, addr frame.Addr, reassoc bool)
	StationAuthorized(bssid, addr frame.Addr, authorized bool)
	StationRemoved(bssid, addr frame.Addr)
}

// Collaborators are the handles a BSS holds but does not own.
type Collaborators struct {
	WPA        Authenticator
	IEEE8021X  Authenticator
	Accounting Accounting
	Preauth    PreauthRelay
	Observer   LifecycleObserver
}

func (c Collaborators) withDefaults() Collaborators {
	if c.WPA == nil {
		c.WPA = NopAuthenticator{}
	}
	if c.IEEE8021X == nil {
		c.IEEE8021X = NopAuthenticator{}
	}
	if c.Accounting == nil {
		c.Accounting = NopAccounting{}
	}
	if c.Preauth == nil {
		c.Preauth = NopPreauth{}
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return c
}

// NopAuthenticator refuses delegated authentication and accepts sessions
// without doing anything.
type NopAuthenticator struct{}

func (NopAuthenticator) Authenticate(context.Context, AuthRequest) error          { return ErrNoAuthenticator }
func (NopAuthenticator) BeginSession(context.Context, SessionRequest) error       { return nil }
func (NopAuthenticator) EndSession(context.Context, frame.Addr, frame.Addr) error { return nil }

// NopAccounting discards accounting records.
type NopAccounting struct{}

func (NopAccounting) SessionStarted(context.Context, Session) error { return nil }
func (NopAccounting) SessionFailed(context.Context, Session) error  { return nil }
func (NopAccounting) SessionStopped(context.Context, Session) error { return nil }

// NopPreauth does nothing.
type NopPreauth struct{}

func (NopPreauth) StationGone(frame.Addr, frame.Addr) {}

// NopObserver does nothing.
type NopObserver struct{}

func (NopObserver) StationAssociated(frame.Addr, frame.Addr, bool) {}
func (NopObserver) StationAuthorized(frame.Addr, frame.Addr, bool) {}
func (NopObserver) StationRemoved(frame.Addr, frame.Addr)          {}
