package bss

import (
	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/capability"
)

// Counters are the station population counts that drive BSS-wide
// protection. Only associated stations are counted.
type Counters struct {
	NonERP          int `json:"nonErp"`
	NoShortSlot     int `json:"noShortSlot"`
	NoShortPreamble int `json:"noShortPreamble"`
	NoHT            int `json:"noHt"`
	HT20            int `json:"ht20"`
	HT40Intolerant  int `json:"ht40Intolerant"`
	NoGreenfield    int `json:"noGreenfield"`
}

func (c *Counters) apply(f capability.Flags, delta int) {
	if f.Has(capability.FlagNonERP) {
		c.NonERP += delta
	}
	if f.Has(capability.FlagNoShortSlot) {
		c.NoShortSlot += delta
	}
	if f.Has(capability.FlagNoShortPreamble) {
		c.NoShortPreamble += delta
	}
	if f.Has(capability.FlagNoHT) {
		c.NoHT += delta
	}
	if f.Has(capability.FlagHT20) {
		c.HT20 += delta
	}
	if f.Has(capability.FlagHT40Intolerant) {
		c.HT40Intolerant += delta
	}
	if f.Has(capability.FlagNoGreenfield) {
		c.NoGreenfield += delta
	}
}

// LegacyPresent reports whether non-HT or non-greenfield stations are
// associated.
func (c Counters) LegacyPresent() bool {
	return c.NoHT > 0 || c.NoGreenfield > 0
}

// OLBC is the overlapping legacy BSS condition reported by the driver.
type OLBC struct {
	Legacy bool `json:"legacy"`
	HT     bool `json:"ht"`
}

// deriveOperatingMode computes ERP and HT protection from the counters.
func deriveOperatingMode(c Counters, olbc OLBC, band capability.Band, ht, width40 bool) adapter.OperatingMode {
	var m adapter.OperatingMode
	if band == capability.Band2GHz {
		if c.NonERP > 0 {
			m.NonERPPresent = true
			m.ERPProtection = true
		}
		if olbc.Legacy {
			m.ERPProtection = true
		}
		if c.NoShortPreamble > 0 {
			m.BarkerPreamble = true
		}
		m.ShortSlotTime = c.NoShortSlot == 0
	} else {
		m.ShortSlotTime = true
	}

	if !ht {
		return m
	}
	if c.NoGreenfield > 0 {
		m.HTOpMode |= adapter.HTOpModeNonGFPresent
	}
	if olbc.HT {
		m.HTOpMode |= adapter.HTOpModeNonHTSTAsPresent
	}
	switch {
	case c.NoHT > 0:
		m.HTOpMode |= adapter.HTProtNonHTMixed
	case olbc.HT:
		m.HTOpMode |= adapter.HTProtNonMember
	case width40 && c.HT20 > 0:
		m.HTOpMode |= adapter.HTProt20MHz
	default:
		m.HTOpMode |= adapter.HTProtNone
	}
	return m
}
