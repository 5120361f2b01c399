package frame

import (
	"github.com/pkg/errors"
)

// Information element IDs used by the control plane.
const (
	ElementSSID            uint8 = 0
	ElementSupportedRates  uint8 = 1
	ElementDSParameter     uint8 = 3
	ElementChallengeText   uint8 = 16
	ElementChannelSwitch   uint8 = 37
	ElementHTCapabilities  uint8 = 45
	ElementExtendedRates   uint8 = 50
	ElementHTOperation     uint8 = 61
	ElementExtCapabilities uint8 = 127
	ElementVHTCapabilities uint8 = 191
	ElementVHTOperation    uint8 = 192
	ElementVendorSpecific  uint8 = 221
)

const maxSupportedRatesInElem = 8

var wmmOUI = [3]byte{0x00, 0x50, 0xf2}

const wmmOUIType = 2

// Element is one information element.
type Element struct {
	ID   uint8
	Info []byte
}

// Elements is the ordered list of information elements in a frame body.
type Elements struct {
	All []Element
}

// ParseElements walks a TLV encoded information element list. A truncated
// trailing element is an error. Duplicate IDs are kept in order; lookups
// return the first.
func ParseElements(b []byte) (Elements, error) {
	var out Elements
	for len(b) > 0 {
		if len(b) < 2 {
			return out, errors.Errorf("truncated element header (%d bytes left)", len(b))
		}
		id, n := b[0], int(b[1])
		if len(b) < 2+n {
			return out, errors.Errorf("element %d length %d exceeds remaining %d bytes", id, n, len(b)-2)
		}
		out.All = append(out.All, Element{ID: id, Info: b[2 : 2+n]})
		b = b[2+n:]
	}
	return out, nil
}

// Get returns the first element with the given ID.
func (e Elements) Get(id uint8) ([]byte, bool) {
	for _, el := range e.All {
		if el.ID == id {
			return el.Info, true
		}
	}
	return nil, false
}

// SSID returns the SSID element.
func (e Elements) SSID() ([]byte, bool) {
	return e.Get(ElementSSID)
}

// Rates returns supported rates followed by extended supported rates, in
// 500 kbps units with the basic-rate bit preserved. ok is false when the
// supported rates element is absent.
func (e Elements) Rates() (rates []byte, ok bool) {
	supp, ok := e.Get(ElementSupportedRates)
	if !ok {
		return nil, false
	}
	rates = append(rates, supp...)
	if ext, found := e.Get(ElementExtendedRates); found {
		rates = append(rates, ext...)
	}
	return rates, true
}

// HTCapabilities returns the raw HT capabilities element body.
func (e Elements) HTCapabilities() ([]byte, bool) {
	return e.Get(ElementHTCapabilities)
}

// VHTCapabilities returns the raw VHT capabilities element body.
func (e Elements) VHTCapabilities() ([]byte, bool) {
	return e.Get(ElementVHTCapabilities)
}

// WMM reports whether a WMM information or parameter element is present.
func (e Elements) WMM() bool {
	for _, el := range e.All {
		if el.ID != ElementVendorSpecific || len(el.Info) < 4 {
			continue
		}
		if el.Info[0] == wmmOUI[0] && el.Info[1] == wmmOUI[1] && el.Info[2] == wmmOUI[2] && el.Info[3] == wmmOUIType {
			return true
		}
	}
	return false
}

// AppendElement appends one TLV encoded element to dst.
func AppendElement(dst []byte, id uint8, info []byte) []byte {
	dst = append(dst, id, uint8(len(info)))
	return append(dst, info...)
}

// AppendRates appends a supported rates element and, when more than eight
// rates are given, an extended supported rates element.
func AppendRates(dst []byte, rates []byte) []byte {
	if len(rates) == 0 {
		return dst
	}
	n := len(rates)
	if n > maxSupportedRatesInElem {
		n = maxSupportedRatesInElem
	}
	dst = AppendElement(dst, ElementSupportedRates, rates[:n])
	if len(rates) > n {
		dst = AppendElement(dst, ElementExtendedRates, rates[n:])
	}
	return dst
}
