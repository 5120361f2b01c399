//
//
package frame

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// ErrUnsupported is returned by Decode for management subtypes the control
// plane does not consume and by Encode for unknown request types.
var ErrUnsupported = errors.New("unsupported management frame")

// fcsLen is the length of the frame check sequence. Drivers hand frames over
// with the FCS stripped, while the Dot11 layer decoder expects one.
const fcsLen = 4

// Decode parses a raw management frame (no FCS, no radiotap header).
func Decode(raw []byte) (Frame, error) {
	padded := make([]byte, len(raw)+fcsLen)
	copy(padded, raw)

	var dot11 layers.Dot11
	if err := dot11.DecodeFromBytes(padded, gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(err, "decode 802.11 header")
	}
	if dot11.Type.MainType() != layers.Dot11TypeMgmt {
		return nil, errors.Wrapf(ErrUnsupported, "frame type %v", dot11.Type)
	}

	hdr := Header{
		DA:    AddrFrom(dot11.Address1),
		SA:    AddrFrom(dot11.Address2),
		BSSID: AddrFrom(dot11.Address3),
		Seq:   dot11.SequenceNumber,
	}
	body := dot11.Payload

	switch dot11.Type {
	case layers.Dot11TypeMgmtAuthentication:
		var m layers.Dot11MgmtAuthentication
		if err := m.DecodeFromBytes(body, gopacket.NilDecodeFeedback); err != nil {
			return nil, errors.Wrap(err, "decode authentication")
		}
		return &Auth{
			Header:    hdr,
			Algorithm: Algorithm(m.Algorithm),
			Sequence:  m.Sequence,
			Status:    StatusCode(m.Status),
			Body:      append([]byte(nil), m.Payload...),
		}, nil

	case layers.Dot11TypeMgmtAssociationReq:
		var m layers.Dot11MgmtAssociationReq
		if err := m.DecodeFromBytes(body, gopacket.NilDecodeFeedback); err != nil {
			return nil, errors.Wrap(err, "decode association request")
		}
		elems, err := ParseElements(append([]byte(nil), m.Payload...))
		if err != nil {
			return nil, errors.Wrap(err, "association request elements")
		}
		return &AssocRequest{
			Header:         hdr,
			CapabilityInfo: m.CapabilityInfo,
			ListenInterval: m.ListenInterval,
			Elements:       elems,
		}, nil

	case layers.Dot11TypeMgmtReassociationReq:
		var m layers.Dot11MgmtReassociationReq
		if err := m.DecodeFromBytes(body, gopacket.NilDecodeFeedback); err != nil {
			return nil, errors.Wrap(err, "decode reassociation request")
		}
		elems, err := ParseElements(append([]byte(nil), m.Payload...))
		if err != nil {
			return nil, errors.Wrap(err, "reassociation request elements")
		}
		return &AssocRequest{
			Header:         hdr,
			Reassoc:        true,
			CurrentAP:      AddrFrom(m.CurrentApAddress),
			CapabilityInfo: m.CapabilityInfo,
			ListenInterval: m.ListenInterval,
			Elements:       elems,
		}, nil

	case layers.Dot11TypeMgmtDeauthentication:
		var m layers.Dot11MgmtDeauthentication
		if err := m.DecodeFromBytes(body, gopacket.NilDecodeFeedback); err != nil {
			return nil, errors.Wrap(err, "decode deauthentication")
		}
		return &Deauth{Header: hdr, Reason: ReasonCode(m.Reason)}, nil

	case layers.Dot11TypeMgmtDisassociation:
		var m layers.Dot11MgmtDisassociation
		if err := m.DecodeFromBytes(body, gopacket.NilDecodeFeedback); err != nil {
			return nil, errors.Wrap(err, "decode disassociation")
		}
		return &Disassoc{Header: hdr, Reason: ReasonCode(m.Reason)}, nil

	case layers.Dot11TypeMgmtAction:
		if len(body) < 2 {
			return nil, errors.Errorf("action frame body too short (%d bytes)", len(body))
		}
		return &Action{
			Header:   hdr,
			Category: body[0],
			Code:     body[1],
			Body:     append([]byte(nil), body[2:]...),
		}, nil
	}

	return nil, errors.Wrapf(ErrUnsupported, "subtype %v", dot11.Type)
}

// Encode serializes a build request into a raw management frame without FCS.
func Encode(req Request) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}

	var err error
	switch r := req.(type) {
	case AuthResponse:
		err = gopacket.SerializeLayers(buf, opts,
			header(layers.Dot11TypeMgmtAuthentication, r.To, r.BSSID),
			&layers.Dot11MgmtAuthentication{
				Algorithm: layers.Dot11Algorithm(r.Algorithm),
				Sequence:  r.Sequence,
				Status:    layers.Dot11Status(r.Status),
			},
			gopacket.Payload(r.Body),
		)

	case AssocResponse:
		subtype := layers.Dot11TypeMgmtAssociationResp
		if r.Reassoc {
			subtype = layers.Dot11TypeMgmtReassociationResp
		}
		ies := AppendRates(nil, r.Rates)
		ies = append(ies, r.Extra...)
		// AID is sent with the two most significant bits set.
		aid := r.AID
		if aid != 0 {
			aid |= 0xc000
		}
		err = gopacket.SerializeLayers(buf, opts,
			header(subtype, r.To, r.BSSID),
			&layers.Dot11MgmtAssociationResp{
				CapabilityInfo: r.CapabilityInfo,
				Status:         layers.Dot11Status(r.Status),
				AID:            aid,
			},
			gopacket.Payload(ies),
		)

	case Deauthentication:
		err = gopacket.SerializeLayers(buf, opts,
			header(layers.Dot11TypeMgmtDeauthentication, r.To, r.BSSID),
			&layers.Dot11MgmtDeauthentication{Reason: layers.Dot11Reason(r.Reason)},
		)

	case Disassociation:
		err = gopacket.SerializeLayers(buf, opts,
			header(layers.Dot11TypeMgmtDisassociation, r.To, r.BSSID),
			&layers.Dot11MgmtDisassociation{Reason: layers.Dot11Reason(r.Reason)},
		)

	case ChannelSwitchAction:
		var mode uint8
		if r.BlockTx {
			mode = 1
		}
		body := []byte{CategorySpectrumManagement, ActionChannelSwitch}
		body = AppendElement(body, ElementChannelSwitch, []byte{mode, r.NewChannel, r.Count})
		err = gopacket.SerializeLayers(buf, opts,
			header(layers.Dot11TypeMgmtAction, r.To, r.BSSID),
			gopacket.Payload(body),
		)

	default:
		return nil, errors.Wrapf(ErrUnsupported, "request %T", req)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "serialize %s", req.Name())
	}
	return buf.Bytes(), nil
}

func header(t layers.Dot11Type, to, bssid Addr) *layers.Dot11 {
	return &layers.Dot11{
		Type:     t,
		Address1: to.HardwareAddr(),
		Address2: bssid.HardwareAddr(),
		Address3: bssid.HardwareAddr(),
	}
}
