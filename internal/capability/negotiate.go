package capability

import (
	"bytes"
	"slices"

	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

// dsssRates are the 802.11b rates; a station with nothing else is non-ERP.
var dsssRates = []Rate{2, 4, 11, 22}

// Negotiate computes the capability set for a station or rejects it. A
// rejection is a *fault.Error of kind ProtocolViolation whose Status is the
// 802.11 status code for the response.
func Negotiate(bss BSSProfile, adv Advertisement, env Env) (Set, error) {
	const op = "negotiate"

	if len(bss.SSID) > 0 && (!adv.HasSSID || !bytes.Equal(bss.SSID, adv.SSID)) {
		return Set{}, fault.Protocol(op, "", uint16(frame.StatusUnspecifiedFailure), "SSID mismatch")
	}
	if bss.MaxListenInterval > 0 && adv.ListenInterval > bss.MaxListenInterval {
		return Set{}, fault.Protocol(op, "", uint16(frame.StatusListenIntervalTooLarge),
			"listen interval %d exceeds %d", adv.ListenInterval, bss.MaxListenInterval)
	}
	if !adv.HasRates || len(adv.Rates) == 0 {
		return Set{}, fault.Protocol(op, "", uint16(frame.StatusUnspecifiedFailure), "no supported rates element")
	}
	for _, basic := range bss.BasicRates {
		if !slices.Contains(adv.Rates, basic) {
			return Set{}, fault.Protocol(op, "", uint16(frame.StatusRatesUnsupported),
				"basic rate %.1f Mbps not supported", basic.Mbps())
		}
	}

	set := Set{
		CapabilityInfo: adv.CapabilityInfo,
		ListenInterval: adv.ListenInterval,
	}
	for _, r := range adv.Rates {
		if slices.Contains(bss.Rates, r) && !slices.Contains(set.Rates, r) {
			set.Rates = append(set.Rates, r)
		}
	}
	if len(set.Rates) == 0 {
		return Set{}, fault.Protocol(op, "", uint16(frame.StatusRatesUnsupported), "no common rates")
	}

	if bss.HT != nil && adv.HT != nil {
		set.HT = negotiateHT(bss.HT, adv.HT, env)
	}
	if bss.RequireHT && set.HT == nil {
		return Set{}, fault.Protocol(op, "", uint16(frame.StatusNoHT), "HT required")
	}
	if set.HT != nil && bss.VHT != nil && adv.VHT != nil {
		set.VHT = negotiateVHT(bss.VHT, adv.VHT)
	}
	if bss.RequireVHT && set.VHT == nil {
		return Set{}, fault.Protocol(op, "", uint16(frame.StatusNoVHT), "VHT required")
	}
	set.QoS = bss.WMM && adv.WMM

	set.Flags = contribution(bss, adv, set)
	return set, nil
}

func negotiateHT(ap, sta *HTCapabilities, env Env) *HTCapabilities {
	out := *sta

	info := sta.Info & ap.Info
	// SM power save and 40 MHz intolerance describe the station itself.
	info = (info &^ HTCapSMPSMask) | (sta.Info & HTCapSMPSMask)
	info = (info &^ HTCap40MHzIntolerant) | (sta.Info & HTCap40MHzIntolerant)
	// STBC is directional: the station may receive as many streams as the AP
	// can transmit, and transmit only if the AP can receive.
	info &^= HTCapTxSTBC | HTCapRxSTBCMask
	if ap.Info&HTCapTxSTBC != 0 {
		info |= sta.Info & HTCapRxSTBCMask
	}
	if ap.Info&HTCapRxSTBCMask != 0 {
		info |= sta.Info & HTCapTxSTBC
	}
	if env.LegacyPresent {
		info &^= HTCapGreenfield
	}
	out.Info = info

	for i := range out.MCS {
		out.MCS[i] = sta.MCS[i] & ap.MCS[i]
	}
	return &out
}

func negotiateVHT(ap, sta *VHTCapabilities) *VHTCapabilities {
	const fieldMask = 0x3 | 0x3<<2
	info := (sta.Info & ap.Info) &^ fieldMask
	// Maximum MPDU length and supported channel width are values, not flags.
	info |= min(sta.Info&0x3, ap.Info&0x3)
	info |= min(sta.Info&(0x3<<2), ap.Info&(0x3<<2))

	return &VHTCapabilities{
		Info:      info,
		RxMCSMap:  minMCSMap(sta.RxMCSMap, ap.TxMCSMap),
		RxHighest: sta.RxHighest,
		TxMCSMap:  minMCSMap(sta.TxMCSMap, ap.RxMCSMap),
		TxHighest: sta.TxHighest,
	}
}

// minMCSMap takes the per spatial stream minimum of two VHT MCS maps, where
// the value 3 means the stream is not supported.
func minMCSMap(a, b uint16) uint16 {
	var out uint16
	for nss := 0; nss < 8; nss++ {
		shift := uint(nss * 2)
		x, y := (a>>shift)&0x3, (b>>shift)&0x3
		v := min(x, y)
		if x == vhtMCSNotSupported || y == vhtMCSNotSupported {
			v = vhtMCSNotSupported
		}
		out |= v << shift
	}
	return out
}

func contribution(bss BSSProfile, adv Advertisement, set Set) Flags {
	var f Flags
	if bss.Band == Band2GHz {
		erp := false
		for _, r := range adv.Rates {
			if !slices.Contains(dsssRates, r) {
				erp = true
				break
			}
		}
		if !erp {
			f |= FlagNonERP
		}
		if adv.CapabilityInfo&frame.CapShortSlotTime == 0 {
			f |= FlagNoShortSlot
		}
		if adv.CapabilityInfo&frame.CapShortPreamble == 0 {
			f |= FlagNoShortPreamble
		}
	}
	if bss.HT != nil {
		if set.HT == nil {
			f |= FlagNoHT
		} else {
			if set.HT.Info&HTCapChannelWidth40 == 0 {
				f |= FlagHT20
			}
			if adv.HT.Info&HTCapGreenfield == 0 {
				f |= FlagNoGreenfield
			}
		}
	}
	if adv.HT != nil && adv.HT.Info&HTCap40MHzIntolerant != 0 {
		f |= FlagHT40Intolerant
	}
	return f
}
