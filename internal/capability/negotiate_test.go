package capability

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/frame"
)

func gProfile() BSSProfile {
	return BSSProfile{
		SSID:       []byte("lab"),
		Band:       Band2GHz,
		Rates:      []Rate{2, 4, 11, 22, 12, 18, 24, 36, 48, 72, 96, 108},
		BasicRates: []Rate{2, 4, 11, 22},
		HT: &HTCapabilities{
			Info: HTCapChannelWidth40 | HTCapGreenfield | HTCapShortGI20 | HTCapTxSTBC | HTCapSMPSMask,
			MCS:  [16]byte{0xff, 0xff},
		},
		WMM:               true,
		MaxListenInterval: 20,
	}
}

func gAdvert() Advertisement {
	return Advertisement{
		CapabilityInfo: frame.CapESS | frame.CapShortSlotTime | frame.CapShortPreamble,
		ListenInterval: 10,
		SSID:           []byte("lab"),
		HasSSID:        true,
		Rates:          []Rate{2, 4, 11, 22, 12, 18, 24, 36},
		HasRates:       true,
		WMM:            true,
	}
}

func statusOf(t *testing.T, err error) frame.StatusCode {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, fault.ProtocolViolation, fault.KindOf(err))
	return frame.StatusCode(fault.StatusOf(err))
}

func TestNegotiateLegacyStation(t *testing.T) {
	set, err := Negotiate(gProfile(), gAdvert(), Env{})
	require.NoError(t, err)

	if diff := cmp.Diff([]Rate{2, 4, 11, 22, 12, 18, 24, 36}, set.Rates); diff != "" {
		t.Errorf("rates mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, set.HT)
	assert.True(t, set.QoS)
	assert.True(t, set.Flags.Has(FlagNoHT))
	assert.False(t, set.Flags.Has(FlagNonERP))
	assert.False(t, set.Flags.Has(FlagNoShortSlot))
}

func TestNegotiateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BSSProfile, *Advertisement)
		want   frame.StatusCode
	}{
		{"missing basic rate", func(_ *BSSProfile, a *Advertisement) { a.Rates = []Rate{12, 18, 24} }, frame.StatusRatesUnsupported},
		{"no rates element", func(_ *BSSProfile, a *Advertisement) { a.Rates = nil; a.HasRates = false }, frame.StatusUnspecifiedFailure},
		{"ssid mismatch", func(_ *BSSProfile, a *Advertisement) { a.SSID = []byte("other") }, frame.StatusUnspecifiedFailure},
		{"listen interval", func(_ *BSSProfile, a *Advertisement) { a.ListenInterval = 21 }, frame.StatusListenIntervalTooLarge},
		{"ht required", func(b *BSSProfile, _ *Advertisement) { b.RequireHT = true }, frame.StatusNoHT},
		{"vht required", func(b *BSSProfile, a *Advertisement) {
			b.RequireVHT = true
			b.VHT = &VHTCapabilities{}
			a.HT = &HTCapabilities{}
		}, frame.StatusNoVHT},
		{"no common rate", func(b *BSSProfile, a *Advertisement) {
			b.BasicRates = nil
			b.Rates = []Rate{108}
			a.Rates = []Rate{2}
		}, frame.StatusRatesUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bss, adv := gProfile(), gAdvert()
			tt.mutate(&bss, &adv)
			_, err := Negotiate(bss, adv, Env{})
			assert.Equal(t, tt.want, statusOf(t, err))
		})
	}
}

func TestNegotiateHTBitwiseAnd(t *testing.T) {
	adv := gAdvert()
	adv.HT = &HTCapabilities{
		Info: HTCapChannelWidth40 | HTCapShortGI20 | HTCapShortGI40 | HTCapRxSTBCMask&(1<<8) | HTCap40MHzIntolerant,
		MCS:  [16]byte{0xff, 0x00, 0xff},
	}

	set, err := Negotiate(gProfile(), adv, Env{})
	require.NoError(t, err)
	require.NotNil(t, set.HT)

	assert.NotZero(t, set.HT.Info&HTCapChannelWidth40)
	assert.NotZero(t, set.HT.Info&HTCapShortGI20)
	assert.Zero(t, set.HT.Info&HTCapShortGI40, "SGI40 not advertised by the AP")
	assert.Zero(t, set.HT.Info&HTCapSMPSMask, "SMPS must come from the station")
	assert.NotZero(t, set.HT.Info&HTCap40MHzIntolerant)
	assert.Equal(t, uint16(1<<8), set.HT.Info&HTCapRxSTBCMask)
	assert.Equal(t, [16]byte{0xff, 0x00, 0x00}, set.HT.MCS)

	assert.True(t, set.Flags.Has(FlagHT40Intolerant))
	assert.True(t, set.Flags.Has(FlagNoGreenfield))
	assert.False(t, set.Flags.Has(FlagHT20))
	assert.False(t, set.Flags.Has(FlagNoHT))
}

func TestNegotiateGreenfieldNeedsNoLegacy(t *testing.T) {
	adv := gAdvert()
	adv.HT = &HTCapabilities{Info: HTCapGreenfield}

	set, err := Negotiate(gProfile(), adv, Env{})
	require.NoError(t, err)
	assert.NotZero(t, set.HT.Info&HTCapGreenfield)

	set, err = Negotiate(gProfile(), adv, Env{LegacyPresent: true})
	require.NoError(t, err)
	assert.Zero(t, set.HT.Info&HTCapGreenfield)
	assert.True(t, set.Flags.Has(FlagHT20))
	assert.False(t, set.Flags.Has(FlagNoGreenfield))
}

func TestNegotiateVHTMCSMinimum(t *testing.T) {
	bss := gProfile()
	bss.Band = Band5GHz
	bss.BasicRates = []Rate{12, 24, 48}
	bss.Rates = []Rate{12, 18, 24, 36, 48, 72, 96, 108}
	// AP: 2 streams MCS 0-9 on tx and rx
	bss.VHT = &VHTCapabilities{Info: 0x2 | 1<<2, RxMCSMap: 0xfffa, TxMCSMap: 0xfffa}

	adv := gAdvert()
	adv.Rates = []Rate{12, 18, 24, 36, 48, 72, 96, 108}
	adv.HT = &HTCapabilities{Info: HTCapChannelWidth40}
	// Station: 3 streams, MCS 0-7 on the first
	adv.VHT = &VHTCapabilities{Info: 0x1, RxMCSMap: 0xffe8, TxMCSMap: 0xffe8}

	set, err := Negotiate(bss, adv, Env{})
	require.NoError(t, err)
	require.NotNil(t, set.VHT)

	assert.Equal(t, uint16(0xfff8), set.VHT.RxMCSMap)
	assert.Equal(t, uint16(0xfff8), set.VHT.TxMCSMap)
	assert.Equal(t, uint32(0x1), set.VHT.Info)
	assert.False(t, set.Flags.Has(FlagNonERP), "5 GHz stations never count as non-ERP")
}

func TestNegotiateNonERPStation(t *testing.T) {
	adv := gAdvert()
	adv.Rates = []Rate{2, 4, 11, 22}
	adv.CapabilityInfo = frame.CapESS

	set, err := Negotiate(gProfile(), adv, Env{})
	require.NoError(t, err)
	assert.True(t, set.Flags.Has(FlagNonERP|FlagNoShortSlot|FlagNoShortPreamble))
}

func TestMinMCSMap(t *testing.T) {
	assert.Equal(t, uint16(0xffff), minMCSMap(0xffff, 0xfffe))
	assert.Equal(t, uint16(0xfffc), minMCSMap(0xfffe, 0xfffc))
	assert.Equal(t, uint16(0xfff5), minMCSMap(0xfff6, 0xfff9))
}

func TestEncodeRates(t *testing.T) {
	got := EncodeRates([]Rate{2, 4, 11, 12}, []Rate{2, 4})
	assert.Equal(t, []byte{0x82, 0x84, 0x0b, 0x0c}, got)
	assert.Equal(t, Rate(11), RateFromMbps(5.5))
	assert.Equal(t, 5.5, Rate(11).Mbps())
}

func TestAdvertisementEqual(t *testing.T) {
	a, b := gAdvert(), gAdvert()
	assert.True(t, a.Equal(b))

	b.HT = &HTCapabilities{Info: 1}
	assert.False(t, a.Equal(b))

	a.HT = &HTCapabilities{Info: 1}
	assert.True(t, a.Equal(b))

	b.Rates = append([]Rate(nil), b.Rates[:3]...)
	assert.False(t, a.Equal(b))
}

func TestParseAdvertisementRejectsMalformedHT(t *testing.T) {
	var ies []byte
	ies = frame.AppendElement(ies, frame.ElementSupportedRates, []byte{0x82})
	ies = frame.AppendElement(ies, frame.ElementHTCapabilities, []byte{0x01, 0x02})
	elems, err := frame.ParseElements(ies)
	require.NoError(t, err)

	_, err = ParseAdvertisement(&frame.AssocRequest{Elements: elems})
	assert.Error(t, err)
}

func TestHTBytesRoundTrip(t *testing.T) {
	ht := &HTCapabilities{Info: 0x1234, AMPDUParams: 0x17, MCS: [16]byte{0xff, 0xff}, ExtCap: 0x0400, TxBF: 0xdeadbeef, ASEL: 1}
	parsed, err := ParseHT(ht.Bytes())
	require.NoError(t, err)
	assert.Equal(t, *ht, *parsed)

	vht := &VHTCapabilities{Info: 0x33800031, RxMCSMap: 0xfffa, TxMCSMap: 0xfffa}
	pv, err := ParseVHT(vht.Bytes())
	require.NoError(t, err)
	assert.Equal(t, *vht, *pv)
}
