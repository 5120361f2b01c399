package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/config"
	"github.com/radio-control/apd/internal/frame"
	"github.com/radio-control/apd/internal/radio"
)

// Rate sets used when a BSS names none.
var (
	defaultRates2GHz      = []float64{1, 2, 5.5, 11, 6, 9, 12, 18, 24, 36, 48, 54}
	defaultBasicRates2GHz = []float64{1, 2, 5.5, 11}
	defaultRates5GHz      = []float64{6, 9, 12, 18, 24, 36, 48, 54}
	defaultBasicRates5GHz = []float64{6, 12, 24}
)

// BuildTiming converts the timing file section to interface timing.
func BuildTiming(t *config.TimingConfig) radio.Timing {
	return radio.Timing{
		QueueSize:          t.LoopQueueSize,
		CallTimeout:        t.DriverCallTimeout,
		AuthTimeout:        t.AuthTimeout,
		DriverFailureLimit: t.DriverFailureLimit,
		CACDuration:        t.CACDuration,
		RadarCooldown:      t.RadarCooldown,
		ACSRetryInterval:   t.ACSRetryInterval,
		ACSMaxRetries:      t.ACSMaxRetries,
		HTScanRetryDelay:   t.HTScanRetryDelay,
		HT40ScanMaxTries:   t.HT40ScanMaxTries,
		CSACount:           uint8(t.CSACount),
	}
}

// ParseBand maps the configured band; an empty band follows the channel.
func ParseBand(band string, channel int) (capability.Band, error) {
	switch strings.ToLower(band) {
	case "2.4", "2.4ghz":
		return capability.Band2GHz, nil
	case "5", "5ghz":
		return capability.Band5GHz, nil
	case "":
		if channel > 14 {
			return capability.Band5GHz, nil
		}
		return capability.Band2GHz, nil
	}
	return 0, fmt.Errorf("%w: unknown band %q", ErrInvalidParameter, band)
}

// ChannelParams builds the operating channel for a channel number and
// width, placing the secondary channel the way the band plan pairs them.
func ChannelParams(ch, width int) adapter.ChannelParams {
	if width == 0 {
		width = int(adapter.Width20)
	}
	p := adapter.ChannelParams{
		Channel:      uint8(ch),
		FrequencyMHz: adapter.FrequencyOf(uint8(ch)),
		Width:        adapter.Width(width),
	}
	if p.Width >= adapter.Width40 && ch != 0 {
		switch {
		case ch <= 7:
			p.SecondaryOffset = 1
		case ch <= 14:
			p.SecondaryOffset = -1
		case (ch/4)%2 == 1:
			p.SecondaryOffset = 1
		default:
			p.SecondaryOffset = -1
		}
	}
	return p
}

// BuildInterface converts one interface section to an interface
// configuration.
func BuildInterface(ic config.InterfaceConfig) (radio.Config, error) {
	band, err := ParseBand(ic.Band, ic.Channel)
	if err != nil {
		return radio.Config{}, fmt.Errorf("interface %s: %w", ic.Name, err)
	}
	cfg := radio.Config{
		Name:     ic.Name,
		Country:  strings.ToUpper(ic.Country),
		Channel:  ChannelParams(ic.Channel, ic.Width),
		Band:     band,
		NoDFS:    ic.NoDFS,
		Disabled: ic.Disabled,
	}
	var errs []error
	for n, bc := range ic.BSS {
		b, err := buildBSS(bc, band)
		if err != nil {
			errs = append(errs, fmt.Errorf("interface %s bss[%d]: %w", ic.Name, n, err))
			continue
		}
		cfg.BSS = append(cfg.BSS, b)
	}
	if err := errors.Join(errs...); err != nil {
		return radio.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return radio.Config{}, err
	}
	return cfg, nil
}

func buildBSS(bc config.BSSConfig, band capability.Band) (bss.Config, error) {
	bssid, err := frame.ParseAddr(bc.BSSID)
	if err != nil {
		return bss.Config{}, fmt.Errorf("bssid %q: %w", bc.BSSID, err)
	}

	algs := bc.Auth
	if len(algs) == 0 {
		algs = []string{"open"}
	}
	var algorithms []frame.Algorithm
	for _, name := range algs {
		a, err := frame.ParseAlgorithm(strings.ToLower(name))
		if err != nil {
			return bss.Config{}, err
		}
		algorithms = append(algorithms, a)
	}

	keyMgmt := bss.KeyMgmtNone
	switch strings.ToLower(bc.KeyMgmt) {
	case "", "none":
	case "wpa":
		keyMgmt = bss.KeyMgmtWPA
	case "8021x":
		keyMgmt = bss.KeyMgmt8021X
	default:
		return bss.Config{}, fmt.Errorf("unknown keyMgmt %q", bc.KeyMgmt)
	}

	rates, basic := bc.Rates, bc.BasicRates
	if len(rates) == 0 {
		rates, basic = defaultRates2GHz, defaultBasicRates2GHz
		if band == capability.Band5GHz {
			rates, basic = defaultRates5GHz, defaultBasicRates5GHz
		}
	}

	profile := capability.BSSProfile{
		SSID:              []byte(bc.SSID),
		Band:              band,
		Rates:             toRates(rates),
		BasicRates:        toRates(basic),
		RequireHT:         bc.RequireHT,
		WMM:               bc.WMM,
		MaxListenInterval: uint16(bc.MaxListenInterval),
	}
	if bc.HT || bc.HT40 || bc.RequireHT {
		info := capability.HTCapShortGI20
		if bc.HT40 {
			info |= capability.HTCapChannelWidth40 | capability.HTCapShortGI40
		}
		if bc.Greenfield {
			info |= capability.HTCapGreenfield
		}
		ht := &capability.HTCapabilities{Info: info}
		// MCS 0-7, one spatial stream.
		ht.MCS[0] = 0xff
		profile.HT = ht
	}
	if bc.VHT {
		// MCS 0-9 on one stream, others not supported.
		profile.VHT = &capability.VHTCapabilities{RxMCSMap: 0xfffe, TxMCSMap: 0xfffe}
	}

	acl := bss.ACL{}
	switch strings.ToLower(bc.ACL.Policy) {
	case "", "accept":
		acl.Policy = bss.AcceptUnlessDenied
	case "deny":
		acl.Policy = bss.DenyUnlessAccepted
	default:
		return bss.Config{}, fmt.Errorf("unknown acl policy %q", bc.ACL.Policy)
	}
	if acl.Accept, err = parseAddrs(bc.ACL.Accept); err != nil {
		return bss.Config{}, fmt.Errorf("acl.accept: %w", err)
	}
	if acl.Deny, err = parseAddrs(bc.ACL.Deny); err != nil {
		return bss.Config{}, fmt.Errorf("acl.deny: %w", err)
	}

	beacon := bc.BeaconInterval
	if beacon == 0 {
		beacon = 100
	}
	return bss.Config{
		BSSID:          bssid,
		SSID:           bc.SSID,
		Profile:        profile,
		Algorithms:     algorithms,
		KeyMgmt:        keyMgmt,
		MaxStations:    bc.MaxStations,
		MaxAID:         bc.MaxAID,
		BeaconInterval: uint16(beacon),
		ACL:            acl,
		LVAP:           bc.LVAP,
	}, nil
}

func toRates(mbps []float64) []capability.Rate {
	out := make([]capability.Rate, 0, len(mbps))
	for _, r := range mbps {
		out = append(out, capability.RateFromMbps(r))
	}
	return out
}

func parseAddrs(in []string) ([]frame.Addr, error) {
	var out []frame.Addr
	for _, s := range in {
		a, err := frame.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}
