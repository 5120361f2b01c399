package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks every configuration violation.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate reports every violation in cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return invalid("config cannot be nil")
	}
	var errs []error
	if err := ValidateTiming(&cfg.Timing); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.Addr == "" {
		errs = append(errs, invalid("server.addr is required"))
	}
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateAccounting(&cfg.Accounting)...)

	names := make(map[string]bool, len(cfg.Interfaces))
	for n, ifc := range cfg.Interfaces {
		if ifc.Name == "" {
			errs = append(errs, invalid("interfaces[%d]: name is required", n))
		} else if names[ifc.Name] {
			errs = append(errs, invalid("interfaces[%d]: duplicate name %q", n, ifc.Name))
		}
		names[ifc.Name] = true
		errs = append(errs, validateInterface(&ifc)...)
	}
	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	if a.Disabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.Secret == "" {
			return []error{invalid("auth.secret is required for HS256")}
		}
	case "RS256":
		if a.PublicKeyFile == "" {
			return []error{invalid("auth.publicKeyFile is required for RS256")}
		}
	default:
		return []error{invalid("auth.algorithm %q must be HS256 or RS256", a.Algorithm)}
	}
	return nil
}

func validateAccounting(a *AccountingConfig) []error {
	switch a.Sink {
	case "", "none", "log":
		return nil
	case "kafka":
		var errs []error
		if len(a.Brokers) == 0 {
			errs = append(errs, invalid("accounting.brokers is required for the kafka sink"))
		}
		if a.Topic == "" {
			errs = append(errs, invalid("accounting.topic is required for the kafka sink"))
		}
		if a.DialAttempts < 1 {
			errs = append(errs, invalid("accounting.dialAttempts must be at least 1, got %d", a.DialAttempts))
		}
		return errs
	default:
		return []error{invalid("accounting.sink %q must be none, log or kafka", a.Sink)}
	}
}

func validateInterface(ifc *InterfaceConfig) []error {
	var errs []error
	where := "interface " + ifc.Name
	switch ifc.Driver {
	case "", "sim":
	default:
		errs = append(errs, invalid("%s: unknown driver %q", where, ifc.Driver))
	}
	switch strings.ToLower(ifc.Band) {
	case "", "2.4", "2.4ghz", "5", "5ghz":
	default:
		errs = append(errs, invalid("%s: band %q must be 2.4 or 5", where, ifc.Band))
	}
	switch ifc.Width {
	case 0, 20, 40, 80:
	default:
		errs = append(errs, invalid("%s: width %d must be 20, 40 or 80", where, ifc.Width))
	}
	if ifc.Channel == 0 && ifc.Width > 40 {
		errs = append(errs, invalid("%s: automatic channel selection supports up to 40 MHz", where))
	}
	if ifc.Channel < 0 || ifc.Channel > 196 {
		errs = append(errs, invalid("%s: channel %d out of range", where, ifc.Channel))
	}
	if len(ifc.BSS) == 0 {
		errs = append(errs, invalid("%s: at least one bss is required", where))
	}
	seen := make(map[string]bool, len(ifc.BSS))
	for n, b := range ifc.BSS {
		at := fmt.Sprintf("%s bss[%d]", where, n)
		if b.BSSID == "" {
			errs = append(errs, invalid("%s: bssid is required", at))
		} else if seen[strings.ToLower(b.BSSID)] {
			errs = append(errs, invalid("%s: duplicate bssid %s", at, b.BSSID))
		}
		seen[strings.ToLower(b.BSSID)] = true
		if b.SSID == "" || len(b.SSID) > 32 {
			errs = append(errs, invalid("%s: ssid must be 1-32 bytes", at))
		}
		switch b.KeyMgmt {
		case "", "none", "wpa", "8021x":
		default:
			errs = append(errs, invalid("%s: keyMgmt %q must be none, wpa or 8021x", at, b.KeyMgmt))
		}
		switch b.ACL.Policy {
		case "", "accept", "deny":
		default:
			errs = append(errs, invalid("%s: acl.policy %q must be accept or deny", at, b.ACL.Policy))
		}
		if b.MaxAID < 0 || b.MaxAID > 2007 {
			errs = append(errs, invalid("%s: maxAid %d outside 0..2007", at, b.MaxAID))
		}
	}
	return errs
}

// ValidateTiming enforces the timing rules.
func ValidateTiming(config *TimingConfig) error {
	if config == nil {
		return invalid("timing config cannot be nil")
	}

	if err := validateHeartbeat(config); err != nil {
		return fmt.Errorf("heartbeat validation failed: %w", err)
	}
	if err := validateCommandTimeouts(config); err != nil {
		return fmt.Errorf("command timeout validation failed: %w", err)
	}
	if err := validateEventBuffer(config); err != nil {
		return fmt.Errorf("event buffer validation failed: %w", err)
	}
	if err := validateRadio(config); err != nil {
		return fmt.Errorf("radio timing validation failed: %w", err)
	}
	return nil
}

// validateHeartbeat validates heartbeat timing parameters.
func validateHeartbeat(config *TimingConfig) error {
	if config.HeartbeatInterval <= 0 {
		return invalid("heartbeat interval must be positive, got %v", config.HeartbeatInterval)
	}

	// Jitter must stay within 50% of the interval.
	maxJitter := config.HeartbeatInterval / 2
	if config.HeartbeatJitter < 0 {
		return invalid("heartbeat jitter must be non-negative, got %v", config.HeartbeatJitter)
	}
	if config.HeartbeatJitter > maxJitter {
		return invalid("heartbeat jitter %v exceeds 50%% of interval %v", config.HeartbeatJitter, config.HeartbeatInterval)
	}

	if config.HeartbeatTimeout < config.HeartbeatInterval {
		return invalid("heartbeat timeout %v must be >= interval %v", config.HeartbeatTimeout, config.HeartbeatInterval)
	}
	return nil
}

// validateCommandTimeouts keeps every command timeout within [100ms, 5m].
func validateCommandTimeouts(config *TimingConfig) error {
	const (
		minTimeout = 100 * time.Millisecond
		maxTimeout = 5 * time.Minute
	)
	for _, c := range []struct {
		name string
		d    time.Duration
	}{
		{"read", config.CommandTimeoutRead},
		{"control", config.CommandTimeoutControl},
		{"channel", config.CommandTimeoutChannel},
		{"reload", config.CommandTimeoutReload},
	} {
		if c.d < minTimeout || c.d > maxTimeout {
			return invalid("command timeout %s %v is outside [%v, %v]", c.name, c.d, minTimeout, maxTimeout)
		}
	}
	return nil
}

// validateEventBuffer validates event buffer parameters.
func validateEventBuffer(config *TimingConfig) error {
	if config.EventBufferSize <= 0 {
		return invalid("event buffer size must be positive, got %d", config.EventBufferSize)
	}
	if config.EventBufferRetention <= 0 {
		return invalid("event buffer retention must be positive, got %v", config.EventBufferRetention)
	}
	return nil
}

// validateRadio validates the interface loop, admission and DFS bounds.
func validateRadio(config *TimingConfig) error {
	if config.LoopQueueSize <= 0 {
		return invalid("loop queue size must be positive, got %d", config.LoopQueueSize)
	}
	if config.DriverCallTimeout <= 0 {
		return invalid("driver call timeout must be positive, got %v", config.DriverCallTimeout)
	}
	if config.AuthTimeout <= 0 {
		return invalid("authenticator timeout must be positive, got %v", config.AuthTimeout)
	}
	if config.DriverFailureLimit < 1 {
		return invalid("driver failure limit must be at least 1, got %d", config.DriverFailureLimit)
	}
	if config.CACDuration < time.Second {
		return invalid("CAC duration %v is shorter than 1s", config.CACDuration)
	}
	if config.RadarCooldown <= 0 {
		return invalid("radar cooldown must be positive, got %v", config.RadarCooldown)
	}
	if config.ACSRetryInterval <= 0 || config.ACSMaxRetries < 1 {
		return invalid("ACS retry interval %v and limit %d must be positive", config.ACSRetryInterval, config.ACSMaxRetries)
	}
	if config.HTScanRetryDelay <= 0 || config.HT40ScanMaxTries < 1 {
		return invalid("HT40 scan delay %v and tries %d must be positive", config.HTScanRetryDelay, config.HT40ScanMaxTries)
	}
	if config.CSACount < 0 || config.CSACount > 255 {
		return invalid("CSA count %d outside 0..255", config.CSACount)
	}
	return nil
}
