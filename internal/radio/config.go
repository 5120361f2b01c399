package radio

import (
	"errors"
	"fmt"
	"time"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/admission"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/capability"
	"github.com/radio-control/apd/internal/channel"
	"github.com/radio-control/apd/internal/frame"
)

// Config describes one radio interface and its BSSes.
type Config struct {
	Name    string
	Country string
	// Channel is the fixed operating channel. A zero Channel and
	// FrequencyMHz select the channel automatically; Width still applies.
	Channel adapter.ChannelParams
	Band    capability.Band
	// NoDFS keeps automatic selection off channels that need CAC.
	NoDFS bool
	// Disabled keeps the interface down after initialization.
	Disabled bool
	BSS      []bss.Config
}

// ACS reports whether the channel is selected automatically.
func (c Config) ACS() bool {
	return c.Channel.Channel == 0 && c.Channel.FrequencyMHz == 0
}

// Validate reports every configuration error.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("interface name is required"))
	}
	if c.Country != "" && len(c.Country) != 2 {
		errs = append(errs, fmt.Errorf("interface %s: country %q must be two letters", c.Name, c.Country))
	}
	switch c.Channel.Width {
	case 0, adapter.Width20, adapter.Width40, adapter.Width80:
	default:
		errs = append(errs, fmt.Errorf("interface %s: unsupported width %d", c.Name, c.Channel.Width))
	}
	// Automatic selection places at most a 40 MHz pair.
	if c.ACS() && c.Channel.Width > adapter.Width40 {
		errs = append(errs, fmt.Errorf("interface %s: automatic channel selection supports up to %d MHz, got %d",
			c.Name, adapter.Width40, c.Channel.Width))
	}
	seen := make(map[frame.Addr]bool, len(c.BSS))
	for _, b := range c.BSS {
		if seen[b.BSSID] {
			errs = append(errs, fmt.Errorf("interface %s: duplicate bssid %s", c.Name, b.BSSID))
		}
		seen[b.BSSID] = true
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("interface %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Timing holds the timeouts and retry bounds of an interface.
type Timing struct {
	// QueueSize bounds the command queue; a full queue answers BUSY.
	QueueSize   int
	CallTimeout time.Duration
	AuthTimeout time.Duration
	// DriverFailureLimit consecutive failures on one station force its
	// removal.
	DriverFailureLimit int
	CACDuration        time.Duration
	RadarCooldown      time.Duration
	ACSRetryInterval   time.Duration
	ACSMaxRetries      int
	HTScanRetryDelay   time.Duration
	HT40ScanMaxTries   int
	// CSACount is the countdown used when a switch request names none.
	CSACount uint8
}

// DefaultTiming returns the interface defaults.
func DefaultTiming() Timing {
	return Timing{
		QueueSize:          64,
		CallTimeout:        2 * time.Second,
		AuthTimeout:        5 * time.Second,
		DriverFailureLimit: 3,
		CACDuration:        60 * time.Second,
		RadarCooldown:      30 * time.Minute,
		ACSRetryInterval:   10 * time.Second,
		ACSMaxRetries:      5,
		HTScanRetryDelay:   time.Second,
		HT40ScanMaxTries:   3,
		CSACount:           5,
	}
}

func (t Timing) admission() admission.Config {
	return admission.Config{
		AuthTimeout:        t.AuthTimeout,
		DriverFailureLimit: t.DriverFailureLimit,
		CallTimeout:        t.CallTimeout,
	}
}

func (t Timing) channel() channel.Config {
	return channel.Config{
		RadarCooldown: t.RadarCooldown,
		CACDuration:   t.CACDuration,
		CallTimeout:   t.CallTimeout,
	}
}
