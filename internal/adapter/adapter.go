package adapter

import (
	"context"
	"time"

	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/frame"
)

// Mode is a bit set of supported PHY modes.
type Mode uint8

const (
	ModeB Mode = 1 << iota
	ModeG
	ModeA
	ModeN
	ModeAC
)

// Has reports whether every mode in m2 is supported.
func (m Mode) Has(m2 Mode) bool { return m&m2 == m2 }

func (m Mode) String() string {
	names := []struct {
		bit  Mode
		name string
	}{{ModeB, "b"}, {ModeG, "g"}, {ModeA, "a"}, {ModeN, "n"}, {ModeAC, "ac"}}
	s := ""
	for _, n := range names {
		if m&n.bit != 0 {
			if s != "" {
				s += "/"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Feature is a driver feature flag.
type Feature uint32

const (
	// FeatureDFSOffload means the driver runs CAC itself and reports
	// CACFinished.
	FeatureDFSOffload Feature = 1 << iota
	FeatureCSA
	FeatureSAE
	FeatureHT40Scan
)

// ChannelFlags describe regulatory properties of a channel.
type ChannelFlags uint16

const (
	ChannelDisabled ChannelFlags = 1 << iota
	ChannelRadar
	ChannelNoIR
	ChannelHT40Plus
	ChannelHT40Minus
)

// Channel is one entry of the regulatory channel list.
type Channel struct {
	Number       uint8        `json:"number"`
	FrequencyMHz int          `json:"frequencyMhz"`
	Flags        ChannelFlags `json:"flags"`
	MaxPowerDbm  int          `json:"maxPowerDbm"`
}

// Band returns the band the channel belongs to.
func (c Channel) Band() capability.Band {
	return BandOf(c.FrequencyMHz)
}

// BandOf maps a center frequency to its band.
func BandOf(freqMHz int) capability.Band {
	if freqMHz >= 5000 {
		return capability.Band5GHz
	}
	return capability.Band2GHz
}

// FrequencyOf returns the center frequency of a channel number.
func FrequencyOf(ch uint8) int {
	switch {
	case ch == 14:
		return 2484
	case ch >= 1 && ch <= 13:
		return 2407 + int(ch)*5
	case ch >= 32:
		return 5000 + int(ch)*5
	}
	return 0
}

// Width is an operating channel width.
type Width int

const (
	Width20 Width = 20
	Width40 Width = 40
	Width80 Width = 80
)

// ChannelParams selects an operating channel.
type ChannelParams struct {
	Channel      uint8 `json:"channel"`
	FrequencyMHz int   `json:"frequencyMhz"`
	Width        Width `json:"width"`
	// SecondaryOffset is +1 or -1 for 40 MHz operation, 0 otherwise.
	SecondaryOffset int `json:"secondaryOffset"`
}

// Capabilities is the hardware capability snapshot returned by Init.
type Capabilities struct {
	Modes       Mode                        `json:"modes"`
	Features    Feature                     `json:"features"`
	Channels    []Channel                   `json:"channels"`
	Rates       []capability.Rate           `json:"rates"`
	HT          *capability.HTCapabilities  `json:"ht,omitempty"`
	VHT         *capability.VHTCapabilities `json:"vht,omitempty"`
	ExtCapa     []byte                      `json:"extCapa,omitempty"`
	MaxStations int                         `json:"maxStations"`
}

// HasFeature reports whether the driver advertises f.
func (c Capabilities) HasFeature(f Feature) bool { return c.Features&f == f }

// Survey is the channel survey result for one frequency.
type Survey struct {
	FrequencyMHz int           `json:"frequencyMhz"`
	NoiseDbm     int           `json:"noiseDbm"`
	Active       time.Duration `json:"active"`
	Busy         time.Duration `json:"busy"`
	Tx           time.Duration `json:"tx"`
}

// BSSParams configures beaconing for one BSS.
type BSSParams struct {
	BSSID          frame.Addr
	SSID           string
	Channel        ChannelParams
	BeaconInterval uint16
	Rates          []capability.Rate
	BasicRates     []capability.Rate
}

// StationParams describes a station entry in the driver association table.
type StationParams struct {
	BSSID          frame.Addr
	Addr           frame.Addr
	AID            uint16
	ListenInterval uint16
	Caps           capability.Set
}

// HT operation mode bits of the HT operation element.
const (
	HTOpModeProtectionMask   uint16 = 0x0003
	HTOpModeNonGFPresent     uint16 = 0x0004
	HTOpModeNonHTSTAsPresent uint16 = 0x0010
)

// HT protection modes.
const (
	HTProtNone       uint16 = 0
	HTProtNonMember  uint16 = 1
	HTProt20MHz      uint16 = 2
	HTProtNonHTMixed uint16 = 3
)

// OperatingMode is the BSS-wide protection state derived from the station
// population.
type OperatingMode struct {
	ERPProtection  bool   `json:"erpProtection"`
	NonERPPresent  bool   `json:"nonErpPresent"`
	BarkerPreamble bool   `json:"barkerPreamble"`
	ShortSlotTime  bool   `json:"shortSlotTime"`
	HTOpMode       uint16 `json:"htOpMode"`
}

// Driver is the southbound contract to a radio driver. Calls are made from
// the interface event loop. Notifications are delivered to the EventSink
// registered with Subscribe and may arrive on any goroutine.
type Driver interface {
	// Init brings the radio up and returns its capability snapshot.
	Init(ctx context.Context) (Capabilities, error)

	// SetCountry applies a regulatory domain. Completion is reported with
	// RegulatoryUpdated.
	SetCountry(ctx context.Context, country string) error

	// StartSurvey starts an off-channel survey. Results are reported with
	// SurveyCompleted.
	StartSurvey(ctx context.Context) error

	// StartHTScan scans for overlapping BSSes before 40 MHz operation.
	// Results are reported with HTScanCompleted.
	StartHTScan(ctx context.Context, params ChannelParams) error

	SetChannel(ctx context.Context, params ChannelParams) error

	// StartCAC starts radar monitoring on params.
	StartCAC(ctx context.Context, params ChannelParams) error

	StartBSS(ctx context.Context, params BSSParams) error
	StopBSS(ctx context.Context, bssid frame.Addr) error

	// SendFrame encodes and transmits a management frame.
	SendFrame(ctx context.Context, req frame.Request) error

	AddStation(ctx context.Context, params StationParams) error
	RemoveStation(ctx context.Context, bssid, addr frame.Addr) error
	SetStationAuthorized(ctx context.Context, bssid, addr frame.Addr, authorized bool) error
	SetOperatingMode(ctx context.Context, bssid frame.Addr, mode OperatingMode) error

	// Subscribe registers the sink for asynchronous notifications,
	// replacing any previous sink.
	Subscribe(sink EventSink)

	Close() error
}
