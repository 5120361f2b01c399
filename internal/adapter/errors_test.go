package adapter

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		driverErr    error
		payload      interface{}
		expectedCode error
		expectedMsg  string
	}{
		{
			name:         "nil error returns nil",
			driverErr:    nil,
			expectedCode: nil,
		},
		{
			name:         "unknown error maps to INTERNAL",
			driverErr:    errors.New("UNKNOWN_ERROR"),
			payload:      map[string]interface{}{"details": "test"},
			expectedCode: ErrInternal,
			expectedMsg:  "set_channel: INTERNAL (driver: UNKNOWN_ERROR)",
		},
		{
			name:         "generic range error maps to INVALID_RANGE",
			driverErr:    errors.New("OUT_OF_RANGE"),
			expectedCode: ErrInvalidRange,
			expectedMsg:  "set_channel: INVALID_RANGE (driver: OUT_OF_RANGE)",
		},
		{
			name:         "generic busy error maps to BUSY",
			driverErr:    errors.New("queue_full"),
			expectedCode: ErrBusy,
			expectedMsg:  "set_channel: BUSY (driver: queue_full)",
		},
		{
			name:         "wrapped normalized code is kept",
			driverErr:    fmt.Errorf("radio reset: %w", ErrUnavailable),
			expectedCode: ErrUnavailable,
			expectedMsg:  "set_channel: UNAVAILABLE (driver: radio reset: UNAVAILABLE)",
		},
		{
			name:         "errno maps through errno table",
			driverErr:    fmt.Errorf("netlink: %w", syscall.EBUSY),
			expectedCode: ErrBusy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize("set_channel", tt.driverErr, tt.payload)

			if tt.expectedCode == nil {
				if result != nil {
					t.Errorf("Expected nil, got %v", result)
				}
				return
			}

			driverErr, ok := result.(*DriverError)
			if !ok {
				t.Fatalf("Expected DriverError, got %T", result)
			}
			if driverErr.Code != tt.expectedCode {
				t.Errorf("Expected code %v, got %v", tt.expectedCode, driverErr.Code)
			}
			if tt.expectedMsg != "" && driverErr.Error() != tt.expectedMsg {
				t.Errorf("Expected message %q, got %q", tt.expectedMsg, driverErr.Error())
			}
			if !errors.Is(result, tt.expectedCode) {
				t.Errorf("Expected errors.Is(%v, %v)", result, tt.expectedCode)
			}
			if fmt.Sprintf("%v", driverErr.Details) != fmt.Sprintf("%v", tt.payload) {
				t.Errorf("Expected payload %v, got %v", tt.payload, driverErr.Details)
			}
		})
	}
}

func TestNormalizeWithFamily(t *testing.T) {
	tests := []struct {
		name         string
		driverErr    error
		family       string
		expectedCode error
	}{
		{"nl80211 EINVAL", errors.New("nl80211: EINVAL (-22)"), "nl80211", ErrInvalidRange},
		{"nl80211 extack text", errors.New("Device or resource busy"), "nl80211", ErrBusy},
		{"nl80211 no device", errors.New("No such device"), "nl80211", ErrUnavailable},
		{"nl80211 unknown", errors.New("EPERM"), "nl80211", ErrInternal},
		{"unknown family falls back to generic", errors.New("OUT_OF_RANGE"), "madwifi", ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeWithFamily("add_station", tt.driverErr, nil, tt.family)
			if !errors.Is(result, tt.expectedCode) {
				t.Errorf("Expected code %v, got %v", tt.expectedCode, result)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first := Normalize("send_frame", errors.New("BUSY"), nil)
	second := Normalize("remove_station", first, nil)
	if first != second {
		t.Errorf("Expected already normalized error to pass through, got %v", second)
	}
}

func TestDriverErrorUnwrap(t *testing.T) {
	driverErr := &DriverError{
		Op:       "start_cac",
		Code:     ErrInvalidRange,
		Original: errors.New("ORIGINAL_ERROR"),
	}
	if driverErr.Unwrap() != ErrInvalidRange {
		t.Errorf("Expected unwrapped error %v, got %v", ErrInvalidRange, driverErr.Unwrap())
	}
}

func TestDriverErrorMappings(t *testing.T) {
	for _, family := range []string{"nl80211", "generic"} {
		m, exists := DriverErrorMappings[family]
		if !exists {
			t.Fatalf("Expected mapping for %s to exist", family)
		}
		if len(m.Range) == 0 || len(m.Busy) == 0 || len(m.Unavailable) == 0 {
			t.Errorf("Expected %s mapping to have tokens in every category", family)
		}
	}
}

func TestFrequencyOf(t *testing.T) {
	tests := []struct {
		ch   uint8
		want int
	}{
		{1, 2412}, {6, 2437}, {13, 2472}, {14, 2484}, {36, 5180}, {64, 5320}, {0, 0},
	}
	for _, tt := range tests {
		if got := FrequencyOf(tt.ch); got != tt.want {
			t.Errorf("FrequencyOf(%d): expected %d, got %d", tt.ch, tt.want, got)
		}
	}
}

func TestModeString(t *testing.T) {
	if got := (ModeB | ModeG | ModeN).String(); got != "b/g/n" {
		t.Errorf("Expected b/g/n, got %s", got)
	}
	if got := Mode(0).String(); got != "none" {
		t.Errorf("Expected none, got %s", got)
	}
}
