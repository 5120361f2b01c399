// Package capability negotiates the capability set a station is admitted
// with: rates, HT and VHT parameters, and QoS. Negotiation is a pure
// function of the BSS profile, the station's advertisement and BSS-wide
// conditions.
package capability

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/radio-control/apd/internal/frame"
)

// Rate is a data rate in 500 kbps units, basic-rate bit cleared.
type Rate uint8

// Mbps returns the rate in megabits per second.
func (r Rate) Mbps() float64 {
	return float64(r) / 2
}

// RateFromMbps converts a configured rate such as 5.5 to a Rate.
func RateFromMbps(mbps float64) Rate {
	return Rate(mbps*2 + 0.5)
}

// RatesFromElement masks the basic-rate bit off each octet.
func RatesFromElement(b []byte) []Rate {
	out := make([]Rate, 0, len(b))
	for _, v := range b {
		out = append(out, Rate(v&0x7f))
	}
	return out
}

// EncodeRates returns the octets for a supported rates element, setting the
// basic bit on members of basic.
func EncodeRates(supported, basic []Rate) []byte {
	out := make([]byte, 0, len(supported))
	for _, r := range supported {
		v := uint8(r)
		if slices.Contains(basic, r) {
			v |= 0x80
		}
		out = append(out, v)
	}
	return out
}

// Band is the frequency band of the BSS.
type Band int

const (
	Band2GHz Band = iota
	Band5GHz
)

func (b Band) String() string {
	if b == Band5GHz {
		return "5GHz"
	}
	return "2.4GHz"
}

// HT capability information bits.
const (
	HTCapLDPC            uint16 = 1 << 0
	HTCapChannelWidth40  uint16 = 1 << 1
	HTCapSMPSMask        uint16 = 3 << 2
	HTCapGreenfield      uint16 = 1 << 4
	HTCapShortGI20       uint16 = 1 << 5
	HTCapShortGI40       uint16 = 1 << 6
	HTCapTxSTBC          uint16 = 1 << 7
	HTCapRxSTBCMask      uint16 = 3 << 8
	HTCapDelayedBA       uint16 = 1 << 10
	HTCapMaxAMSDU        uint16 = 1 << 11
	HTCapDSSSCCK40       uint16 = 1 << 12
	HTCap40MHzIntolerant uint16 = 1 << 14
	HTCapLSIGTXOP        uint16 = 1 << 15
)

const (
	htCapLen  = 26
	vhtCapLen = 12
)

// HTCapabilities is the HT capabilities element.
type HTCapabilities struct {
	Info        uint16
	AMPDUParams uint8
	MCS         [16]byte
	ExtCap      uint16
	TxBF        uint32
	ASEL        uint8
}

// ParseHT decodes a 26 byte HT capabilities element body.
func ParseHT(b []byte) (*HTCapabilities, error) {
	if len(b) != htCapLen {
		return nil, fmt.Errorf("HT capabilities length %d, want %d", len(b), htCapLen)
	}
	ht := &HTCapabilities{
		Info:        binary.LittleEndian.Uint16(b[0:2]),
		AMPDUParams: b[2],
		ExtCap:      binary.LittleEndian.Uint16(b[19:21]),
		TxBF:        binary.LittleEndian.Uint32(b[21:25]),
		ASEL:        b[25],
	}
	copy(ht.MCS[:], b[3:19])
	return ht, nil
}

// Bytes encodes the element body.
func (h *HTCapabilities) Bytes() []byte {
	b := make([]byte, htCapLen)
	binary.LittleEndian.PutUint16(b[0:2], h.Info)
	b[2] = h.AMPDUParams
	copy(b[3:19], h.MCS[:])
	binary.LittleEndian.PutUint16(b[19:21], h.ExtCap)
	binary.LittleEndian.PutUint32(b[21:25], h.TxBF)
	b[25] = h.ASEL
	return b
}

// VHT MCS map value for a spatial stream that is not supported.
const vhtMCSNotSupported = 3

// VHTCapabilities is the VHT capabilities element.
type VHTCapabilities struct {
	Info      uint32
	RxMCSMap  uint16
	RxHighest uint16
	TxMCSMap  uint16
	TxHighest uint16
}

// ParseVHT decodes a 12 byte VHT capabilities element body.
func ParseVHT(b []byte) (*VHTCapabilities, error) {
	if len(b) != vhtCapLen {
		return nil, fmt.Errorf("VHT capabilities length %d, want %d", len(b), vhtCapLen)
	}
	return &VHTCapabilities{
		Info:      binary.LittleEndian.Uint32(b[0:4]),
		RxMCSMap:  binary.LittleEndian.Uint16(b[4:6]),
		RxHighest: binary.LittleEndian.Uint16(b[6:8]),
		TxMCSMap:  binary.LittleEndian.Uint16(b[8:10]),
		TxHighest: binary.LittleEndian.Uint16(b[10:12]),
	}, nil
}

// Bytes encodes the element body.
func (v *VHTCapabilities) Bytes() []byte {
	b := make([]byte, vhtCapLen)
	binary.LittleEndian.PutUint32(b[0:4], v.Info)
	binary.LittleEndian.PutUint16(b[4:6], v.RxMCSMap)
	binary.LittleEndian.PutUint16(b[6:8], v.RxHighest)
	binary.LittleEndian.PutUint16(b[8:10], v.TxMCSMap)
	binary.LittleEndian.PutUint16(b[10:12], v.TxHighest)
	return b
}

// Advertisement is what a station declared in its (re)association request.
// It is kept on the station record so a configuration reload can renegotiate.
type Advertisement struct {
	CapabilityInfo uint16
	ListenInterval uint16
	SSID           []byte
	HasSSID        bool
	Rates          []Rate
	HasRates       bool
	HT             *HTCapabilities
	VHT            *VHTCapabilities
	WMM            bool
}

// ParseAdvertisement extracts the advertisement from a parsed request.
// Malformed HT or VHT elements are reported so the request can be refused.
func ParseAdvertisement(req *frame.AssocRequest) (Advertisement, error) {
	adv := Advertisement{
		CapabilityInfo: req.CapabilityInfo,
		ListenInterval: req.ListenInterval,
		WMM:            req.Elements.WMM(),
	}
	if ssid, ok := req.Elements.SSID(); ok {
		adv.SSID = append([]byte(nil), ssid...)
		adv.HasSSID = true
	}
	if rates, ok := req.Elements.Rates(); ok {
		adv.Rates = RatesFromElement(rates)
		adv.HasRates = true
	}
	if b, ok := req.Elements.HTCapabilities(); ok {
		ht, err := ParseHT(b)
		if err != nil {
			return adv, err
		}
		adv.HT = ht
	}
	if b, ok := req.Elements.VHTCapabilities(); ok {
		vht, err := ParseVHT(b)
		if err != nil {
			return adv, err
		}
		adv.VHT = vht
	}
	return adv, nil
}

// Equal reports whether two advertisements are identical.
func (a Advertisement) Equal(b Advertisement) bool {
	if a.CapabilityInfo != b.CapabilityInfo || a.ListenInterval != b.ListenInterval ||
		a.HasSSID != b.HasSSID || a.HasRates != b.HasRates || a.WMM != b.WMM {
		return false
	}
	if !bytes.Equal(a.SSID, b.SSID) || !slices.Equal(a.Rates, b.Rates) {
		return false
	}
	if (a.HT == nil) != (b.HT == nil) || (a.HT != nil && *a.HT != *b.HT) {
		return false
	}
	if (a.VHT == nil) != (b.VHT == nil) || (a.VHT != nil && *a.VHT != *b.VHT) {
		return false
	}
	return true
}

// BSSProfile is the capability side of a BSS configuration.
type BSSProfile struct {
	SSID              []byte
	Band              Band
	Rates             []Rate
	BasicRates        []Rate
	HT                *HTCapabilities // nil disables HT
	VHT               *VHTCapabilities
	RequireHT         bool
	RequireVHT        bool
	WMM               bool
	MaxListenInterval uint16
}

// Env carries BSS-wide conditions that influence negotiation.
type Env struct {
	// LegacyPresent is set when non-HT or non-greenfield stations are
	// associated, or an overlapping legacy HT BSS was reported.
	LegacyPresent bool
}

// Flags are the per-station contributions to the BSS counters.
type Flags uint32

const (
	FlagNonERP Flags = 1 << iota
	FlagNoShortSlot
	FlagNoShortPreamble
	FlagNoHT
	FlagHT20
	FlagHT40Intolerant
	FlagNoGreenfield
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Set is the negotiated capability set a station is admitted with.
type Set struct {
	Rates          []Rate
	CapabilityInfo uint16
	ListenInterval uint16
	HT             *HTCapabilities
	VHT            *VHTCapabilities
	QoS            bool
	Flags          Flags
}

// Contribution returns the counter bits this station adds to its BSS.
func (s Set) Contribution() Flags {
	return s.Flags
}

// Equal reports whether two negotiated sets are identical.
func (s Set) Equal(o Set) bool {
	if s.CapabilityInfo != o.CapabilityInfo || s.ListenInterval != o.ListenInterval ||
		s.QoS != o.QoS || s.Flags != o.Flags || !slices.Equal(s.Rates, o.Rates) {
		return false
	}
	if (s.HT == nil) != (o.HT == nil) || (s.HT != nil && *s.HT != *o.HT) {
		return false
	}
	return (s.VHT == nil) == (o.VHT == nil) && (s.VHT == nil || *s.VHT == *o.VHT)
}
