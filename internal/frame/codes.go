//
//
package frame

import "fmt"

// StatusCode is the 802.11 status code carried in authentication and
// association responses.
type StatusCode uint16

const (
	StatusSuccess                StatusCode = 0
	StatusUnspecifiedFailure     StatusCode = 1
	StatusCapsUnsupported        StatusCode = 10
	StatusReassocNoAssoc         StatusCode = 11
	StatusAssocDeniedUnspec      StatusCode = 12
	StatusAlgorithmUnsupported   StatusCode = 13
	StatusAuthSeqOutOfSequence   StatusCode = 14
	StatusChallengeFailure       StatusCode = 15
	StatusAuthTimeout            StatusCode = 16
	StatusAPUnableToHandle       StatusCode = 17
	StatusRatesUnsupported       StatusCode = 18
	StatusNoShortPreamble        StatusCode = 19
	StatusNoHT                   StatusCode = 27
	StatusRejectedTemporarily    StatusCode = 30
	StatusListenIntervalTooLarge StatusCode = 51
	StatusNoVHT                  StatusCode = 104
)

var statusNames = map[StatusCode]string{
	StatusSuccess:                "SUCCESS",
	StatusUnspecifiedFailure:     "UNSPECIFIED_FAILURE",
	StatusCapsUnsupported:        "CAPS_UNSUPPORTED",
	StatusReassocNoAssoc:         "REASSOC_NO_ASSOC",
	StatusAssocDeniedUnspec:      "ASSOC_DENIED_UNSPEC",
	StatusAlgorithmUnsupported:   "NOT_SUPPORTED_AUTH_ALG",
	StatusAuthSeqOutOfSequence:   "UNKNOWN_AUTH_TRANSACTION",
	StatusChallengeFailure:       "CHALLENGE_FAIL",
	StatusAuthTimeout:            "AUTH_TIMEOUT",
	StatusAPUnableToHandle:       "AP_UNABLE_TO_HANDLE_NEW_STA",
	StatusRatesUnsupported:       "ASSOC_DENIED_RATES",
	StatusNoShortPreamble:        "ASSOC_DENIED_NOSHORT",
	StatusNoHT:                   "ASSOC_DENIED_NO_HT",
	StatusRejectedTemporarily:    "ASSOC_REJECTED_TEMPORARILY",
	StatusListenIntervalTooLarge: "DENIED_LISTEN_INT_TOO_LARGE",
	StatusNoVHT:                  "DENIED_VHT_NOT_SUPPORTED",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", uint16(s))
}

// ReasonCode is the 802.11 reason code carried in deauthentication and
// disassociation frames.
type ReasonCode uint16

const (
	ReasonUnspecified            ReasonCode = 1
	ReasonPrevAuthNotValid       ReasonCode = 2
	ReasonDeauthLeaving          ReasonCode = 3
	ReasonInactivity             ReasonCode = 4
	ReasonAPBusy                 ReasonCode = 5
	ReasonClass2FromNonAuth      ReasonCode = 6
	ReasonClass3FromNonAssoc     ReasonCode = 7
	ReasonDisassocLeaving        ReasonCode = 8
	ReasonNotAuthenticated       ReasonCode = 9
	ReasonInvalidIE              ReasonCode = 13
	ReasonHandshakeTimeout       ReasonCode = 15
	ReasonIEEE8021XFailed        ReasonCode = 23
	ReasonDisassocLowAck         ReasonCode = 34
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonUnspecified:
		return "UNSPECIFIED"
	case ReasonPrevAuthNotValid:
		return "PREV_AUTH_NOT_VALID"
	case ReasonDeauthLeaving:
		return "DEAUTH_LEAVING"
	case ReasonInactivity:
		return "DISASSOC_DUE_TO_INACTIVITY"
	case ReasonAPBusy:
		return "DISASSOC_AP_BUSY"
	case ReasonClass2FromNonAuth:
		return "CLASS2_FRAME_FROM_NONAUTH_STA"
	case ReasonClass3FromNonAssoc:
		return "CLASS3_FRAME_FROM_NONASSOC_STA"
	case ReasonDisassocLeaving:
		return "DISASSOC_STA_HAS_LEFT"
	case ReasonNotAuthenticated:
		return "STA_REQ_ASSOC_WITHOUT_AUTH"
	case ReasonInvalidIE:
		return "INVALID_IE"
	case ReasonHandshakeTimeout:
		return "4WAY_HANDSHAKE_TIMEOUT"
	case ReasonIEEE8021XFailed:
		return "IEEE_802_1X_AUTH_FAILED"
	case ReasonDisassocLowAck:
		return "DISASSOC_LOW_ACK"
	default:
		return fmt.Sprintf("REASON_%d", uint16(r))
	}
}

// Algorithm is the authentication algorithm number.
type Algorithm uint16

const (
	AlgorithmOpen      Algorithm = 0
	AlgorithmSharedKey Algorithm = 1
	AlgorithmFT        Algorithm = 2
	AlgorithmSAE       Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmOpen:
		return "open"
	case AlgorithmSharedKey:
		return "shared"
	case AlgorithmFT:
		return "ft"
	case AlgorithmSAE:
		return "sae"
	default:
		return fmt.Sprintf("alg-%d", uint16(a))
	}
}

// ParseAlgorithm maps a configuration token to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "open":
		return AlgorithmOpen, nil
	case "shared":
		return AlgorithmSharedKey, nil
	case "ft":
		return AlgorithmFT, nil
	case "sae":
		return AlgorithmSAE, nil
	}
	return 0, fmt.Errorf("unknown authentication algorithm %q", s)
}

// Capability information bits used by the control plane.
const (
	CapESS           uint16 = 1 << 0
	CapPrivacy       uint16 = 1 << 4
	CapShortPreamble uint16 = 1 << 5
	CapShortSlotTime uint16 = 1 << 10
)
