package frame

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSTA   = MustParseAddr("02:00:00:00:00:01")
	testBSSID = MustParseAddr("02:00:00:00:aa:01")
)

// mgmtHeader builds a 24 byte management header for subtype.
func mgmtHeader(subtype uint8, da, sa, bssid Addr) []byte {
	h := make([]byte, 24)
	h[0] = subtype << 4
	copy(h[4:10], da[:])
	copy(h[10:16], sa[:])
	copy(h[16:22], bssid[:])
	binary.LittleEndian.PutUint16(h[22:24], 7<<4)
	return h
}

func TestDecodeAuthentication(t *testing.T) {
	raw := mgmtHeader(0xb, testBSSID, testSTA, testBSSID)
	raw = append(raw, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00)

	f, err := Decode(raw)
	require.NoError(t, err)

	auth, ok := f.(*Auth)
	require.True(t, ok, "expected *Auth, got %T", f)
	assert.Equal(t, AlgorithmOpen, auth.Algorithm)
	assert.Equal(t, uint16(1), auth.Sequence)
	assert.Equal(t, testSTA, auth.SA)
	assert.Equal(t, testBSSID, auth.Hdr().BSSID)
	assert.Equal(t, uint16(7), auth.Seq)
	assert.Empty(t, auth.Body)
}

func TestDecodeAssociationRequest(t *testing.T) {
	raw := mgmtHeader(0x0, testBSSID, testSTA, testBSSID)
	fixed := make([]byte, 4)
	binary.LittleEndian.PutUint16(fixed[0:2], CapESS|CapShortSlotTime)
	binary.LittleEndian.PutUint16(fixed[2:4], 10)
	raw = append(raw, fixed...)
	raw = AppendElement(raw, ElementSSID, []byte("lab"))
	raw = AppendElement(raw, ElementSupportedRates, []byte{0x82, 0x84, 0x8b, 0x96, 0x0c, 0x12, 0x18, 0x24})
	raw = AppendElement(raw, ElementExtendedRates, []byte{0x30, 0x48, 0x60, 0x6c})
	raw = AppendElement(raw, ElementVendorSpecific, []byte{0x00, 0x50, 0xf2, 0x02, 0x00, 0x01, 0x00})

	f, err := Decode(raw)
	require.NoError(t, err)

	req, ok := f.(*AssocRequest)
	require.True(t, ok, "expected *AssocRequest, got %T", f)
	assert.False(t, req.Reassoc)
	assert.Equal(t, uint16(10), req.ListenInterval)
	assert.Equal(t, CapESS|CapShortSlotTime, req.CapabilityInfo)

	ssid, ok := req.Elements.SSID()
	require.True(t, ok)
	assert.Equal(t, "lab", string(ssid))

	rates, ok := req.Elements.Rates()
	require.True(t, ok)
	assert.Len(t, rates, 12)
	assert.True(t, req.Elements.WMM())
}

func TestDecodeReassociationRequest(t *testing.T) {
	oldAP := MustParseAddr("02:00:00:00:bb:01")
	raw := mgmtHeader(0x2, testBSSID, testSTA, testBSSID)
	fixed := make([]byte, 10)
	binary.LittleEndian.PutUint16(fixed[2:4], 3)
	copy(fixed[4:10], oldAP[:])
	raw = append(raw, fixed...)
	raw = AppendElement(raw, ElementSupportedRates, []byte{0x82})

	f, err := Decode(raw)
	require.NoError(t, err)

	req := f.(*AssocRequest)
	assert.True(t, req.Reassoc)
	assert.Equal(t, oldAP, req.CurrentAP)
	assert.Equal(t, uint16(3), req.ListenInterval)
}

func TestDecodeShortTrailingElement(t *testing.T) {
	raw := mgmtHeader(0x0, testBSSID, testSTA, testBSSID)
	raw = append(raw, 0, 0, 0, 0)
	raw = AppendElement(raw, ElementSSID, nil)
	raw = AppendElement(raw, ElementSupportedRates, []byte{0x82})

	f, err := Decode(raw)
	require.NoError(t, err)
	req := f.(*AssocRequest)
	ssid, ok := req.Elements.SSID()
	assert.True(t, ok)
	assert.Empty(t, ssid)
}

func TestDecodeTruncatedElement(t *testing.T) {
	raw := mgmtHeader(0x0, testBSSID, testSTA, testBSSID)
	raw = append(raw, 0, 0, 0, 0)
	raw = append(raw, ElementSupportedRates, 8, 0x82)

	_, err := Decode(raw)
	assert.Error(t, err)
}

func TestDecodeDeauthAndDisassoc(t *testing.T) {
	deauth := append(mgmtHeader(0xc, testBSSID, testSTA, testBSSID), 0x03, 0x00)
	f, err := Decode(deauth)
	require.NoError(t, err)
	assert.Equal(t, ReasonDeauthLeaving, f.(*Deauth).Reason)

	disassoc := append(mgmtHeader(0xa, testBSSID, testSTA, testBSSID), 0x08, 0x00)
	f, err = Decode(disassoc)
	require.NoError(t, err)
	assert.Equal(t, ReasonDisassocLeaving, f.(*Disassoc).Reason)
}

func TestDecodeRejectsUnsupported(t *testing.T) {
	beacon := append(mgmtHeader(0x8, Broadcast, testBSSID, testBSSID), make([]byte, 12)...)
	_, err := Decode(beacon)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode([]byte{0x00, 0x00})
	assert.Error(t, err)
}

func TestEncodeAuthResponse(t *testing.T) {
	raw, err := Encode(AuthResponse{
		To:        testSTA,
		BSSID:     testBSSID,
		Algorithm: AlgorithmOpen,
		Sequence:  2,
		Status:    StatusSuccess,
	})
	require.NoError(t, err)
	require.Len(t, raw, 30)

	assert.Equal(t, uint8(0xb0), raw[0])
	assert.Equal(t, testSTA[:], raw[4:10])
	assert.Equal(t, testBSSID[:], raw[10:16])
	assert.Equal(t, testBSSID[:], raw[16:22])
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[26:28]))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(raw[28:30]))
}

func TestEncodeAssocResponse(t *testing.T) {
	rates := []byte{0x82, 0x84, 0x8b, 0x96, 0x0c, 0x12, 0x18, 0x24, 0x30, 0x48}
	raw, err := Encode(AssocResponse{
		To:             testSTA,
		BSSID:          testBSSID,
		CapabilityInfo: CapESS,
		Status:         StatusSuccess,
		AID:            5,
		Rates:          rates,
	})
	require.NoError(t, err)

	assert.Equal(t, uint8(0x10), raw[0])
	assert.Equal(t, CapESS, binary.LittleEndian.Uint16(raw[24:26]))
	assert.Equal(t, uint16(0xc005), binary.LittleEndian.Uint16(raw[28:30]))

	elems, err := ParseElements(raw[30:])
	require.NoError(t, err)
	got, ok := elems.Rates()
	require.True(t, ok)
	if diff := cmp.Diff(rates, got); diff != "" {
		t.Errorf("rates mismatch (-want +got):\n%s", diff)
	}
	supp, _ := elems.Get(ElementSupportedRates)
	assert.Len(t, supp, 8)
}

func TestEncodeReassocResponseSubtype(t *testing.T) {
	raw, err := Encode(AssocResponse{To: testSTA, BSSID: testBSSID, Reassoc: true, Status: StatusRatesUnsupported})
	require.NoError(t, err)
	assert.Equal(t, uint8(0x30), raw[0])
	assert.Equal(t, uint16(StatusRatesUnsupported), binary.LittleEndian.Uint16(raw[26:28]))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(raw[28:30]))
}

func TestEncodeDeauthRoundTrip(t *testing.T) {
	raw, err := Encode(Deauthentication{To: testSTA, BSSID: testBSSID, Reason: ReasonClass2FromNonAuth})
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	d := f.(*Deauth)
	assert.Equal(t, ReasonClass2FromNonAuth, d.Reason)
	assert.Equal(t, testSTA, d.DA)
	assert.Equal(t, testBSSID, d.SA)
}

func TestEncodeChannelSwitchAction(t *testing.T) {
	raw, err := Encode(ChannelSwitchAction{To: testSTA, BSSID: testBSSID, BlockTx: true, NewChannel: 44, Count: 3})
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	act, ok := f.(*Action)
	require.True(t, ok, "expected *Action, got %T", f)
	assert.Equal(t, CategorySpectrumManagement, act.Category)
	assert.Equal(t, ActionChannelSwitch, act.Code)

	elems, err := ParseElements(act.Body)
	require.NoError(t, err)
	csa, ok := elems.Get(ElementChannelSwitch)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 44, 3}, csa)
}

func TestAddrText(t *testing.T) {
	a := MustParseAddr("02:AB:00:00:00:01")
	assert.Equal(t, "02:ab:00:00:00:01", a.String())

	var b Addr
	require.NoError(t, b.UnmarshalText([]byte("02:ab:00:00:00:01")))
	assert.Equal(t, a, b)

	_, err := ParseAddr("not-a-mac")
	assert.Error(t, err)
	assert.True(t, Broadcast.IsGroup())
	assert.True(t, Addr{}.IsZero())
}
