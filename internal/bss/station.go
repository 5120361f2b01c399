package bss

import (
	"time"

	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// Status is the authentication/association state of a station.
type Status int

const (
	Unauthenticated Status = iota
	Authenticated
	Associated
)

func (s Status) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Associated:
		return "associated"
	default:
		return "unauthenticated"
	}
}

// Phase is the delegated authenticator exchange a station is suspended on.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseAuth
	PhaseKey
)

func (p Phase) String() string {
	switch p {
	case PhaseAuth:
		return "auth"
	case PhaseKey:
		return "key"
	default:
		return "none"
	}
}

// Station is a station record. It is owned by the Table of one BSS and only
// touched on the interface event loop.
type Station struct {
	Addr       frame.Addr
	AID        uint16
	Status     Status
	Reassoc    bool
	Authorized bool
	Algorithm  frame.Algorithm
	Pending    Phase

	// Advertised is the last accepted (re)association advertisement; it
	// is kept so a reload can renegotiate.
	Advertised capability.Advertisement
	Caps       capability.Set

	DriverFailures int
	SessionID      string
	AuthAt         time.Time
	AssociatedAt   time.Time

	// VBSSID is the BSSID the station addressed, for light virtual AP
	// BSSes. Zero otherwise.
	VBSSID frame.Addr

	// contribution is what this station currently adds to the BSS
	// counters; counted is false until the station is associated.
	contribution capability.Flags
	counted      bool
}

// Info is a read-only copy of a station record.
type Info struct {
	Addr         frame.Addr       `json:"addr"`
	AID          uint16           `json:"aid"`
	Status       string           `json:"status"`
	Reassoc      bool             `json:"reassoc"`
	Authorized   bool             `json:"authorized"`
	Algorithm    string           `json:"algorithm"`
	Rates        []float64        `json:"rates"`
	HT           bool             `json:"ht"`
	VHT          bool             `json:"vht"`
	QoS          bool             `json:"qos"`
	Flags        capability.Flags `json:"flags"`
	SessionID    string           `json:"sessionId,omitempty"`
	AssociatedAt time.Time        `json:"associatedAt,omitempty"`
	VBSSID       *frame.Addr      `json:"vbssid,omitempty"`
}

// Info returns a copy of the record.
func (s *Station) Info() Info {
	info := Info{
		Addr:         s.Addr,
		AID:          s.AID,
		Status:       s.Status.String(),
		Reassoc:      s.Reassoc,
		Authorized:   s.Authorized,
		Algorithm:    s.Algorithm.String(),
		HT:           s.Caps.HT != nil,
		VHT:          s.Caps.VHT != nil,
		QoS:          s.Caps.QoS,
		Flags:        s.Caps.Flags,
		SessionID:    s.SessionID,
		AssociatedAt: s.AssociatedAt,
	}
	for _, r := range s.Caps.Rates {
		info.Rates = append(info.Rates, r.Mbps())
	}
	if !s.VBSSID.IsZero() {
		v := s.VBSSID
		info.VBSSID = &v
	}
	return info
}
