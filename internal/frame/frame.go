// Package frame holds parsed 802.11 management frame fields consumed by the
// control plane and the build requests it emits.
//
// The control plane never touches wire bytes. Drivers that speak raw frames
// use Decode and Encode at their boundary.
package frame

// Header carries the addressing of a management frame.
type Header struct {
	DA    Addr // Address1
	SA    Addr // Address2
	BSSID Addr // Address3
	Seq   uint16
}

// Frame is an inbound management frame.
type Frame interface {
	Hdr() Header
}

// Auth is an inbound authentication frame.
type Auth struct {
	Header
	Algorithm Algorithm
	Sequence  uint16
	Status    StatusCode
	// Body is everything after the fixed fields (challenge text, SAE
	// commit/confirm). It is passed to the authenticator untouched.
	Body []byte
}

// AssocRequest is an inbound association or reassociation request.
type AssocRequest struct {
	Header
	Reassoc        bool
	CurrentAP      Addr
	CapabilityInfo uint16
	ListenInterval uint16
	Elements       Elements
}

// Deauth is an inbound deauthentication frame.
type Deauth struct {
	Header
	Reason ReasonCode
}

// Disassoc is an inbound disassociation frame.
type Disassoc struct {
	Header
	Reason ReasonCode
}

// Action is an inbound action frame.
type Action struct {
	Header
	Category uint8
	Code     uint8
	Body     []byte
}

func (h Header) Hdr() Header { return h }

// Request is an outbound frame build request.
type Request interface {
	Destination() Addr
	Source() Addr
	Name() string
}

// AuthResponse answers an authentication frame.
type AuthResponse struct {
	To        Addr
	BSSID     Addr
	Algorithm Algorithm
	Sequence  uint16
	Status    StatusCode
	Body      []byte
}

// AssocResponse answers a (re)association request. Rates carry the BSS
// supported rates with the basic bit set on basic rates.
type AssocResponse struct {
	To             Addr
	BSSID          Addr
	Reassoc        bool
	CapabilityInfo uint16
	Status         StatusCode
	AID            uint16
	Rates          []byte
	Extra          []byte
}

// Deauthentication is an outbound deauthentication frame.
type Deauthentication struct {
	To     Addr
	BSSID  Addr
	Reason ReasonCode
}

// Disassociation is an outbound disassociation frame.
type Disassociation struct {
	To     Addr
	BSSID  Addr
	Reason ReasonCode
}

// ChannelSwitchAction is the spectrum management channel switch announcement
// sent to each associated station while a switch counts down.
type ChannelSwitchAction struct {
	To         Addr
	BSSID      Addr
	BlockTx    bool
	NewChannel uint8
	Count      uint8
}

func (r AuthResponse) Destination() Addr        { return r.To }
func (r AuthResponse) Source() Addr             { return r.BSSID }
func (r AuthResponse) Name() string             { return "auth" }
func (r AssocResponse) Destination() Addr       { return r.To }
func (r AssocResponse) Source() Addr            { return r.BSSID }
func (r Deauthentication) Destination() Addr    { return r.To }
func (r Deauthentication) Source() Addr         { return r.BSSID }
func (r Deauthentication) Name() string         { return "deauth" }
func (r Disassociation) Destination() Addr      { return r.To }
func (r Disassociation) Source() Addr           { return r.BSSID }
func (r Disassociation) Name() string           { return "disassoc" }
func (r ChannelSwitchAction) Destination() Addr { return r.To }
func (r ChannelSwitchAction) Source() Addr      { return r.BSSID }
func (r ChannelSwitchAction) Name() string      { return "csa-action" }

func (r AssocResponse) Name() string {
	if r.Reassoc {
		return "reassoc-resp"
	}
	return "assoc-resp"
}

// Spectrum management action constants.
const (
	CategorySpectrumManagement uint8 = 0
	ActionChannelSwitch        uint8 = 4
)
