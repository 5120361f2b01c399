package config

import (
	"time"
)

// TimingConfig holds every timeout, cadence and retry bound of the daemon.
type TimingConfig struct {
	// Telemetry heartbeat
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout"`

	// Management bus command timeout classes
	CommandTimeoutRead    time.Duration `yaml:"commandTimeoutRead"`
	CommandTimeoutControl time.Duration `yaml:"commandTimeoutControl"`
	CommandTimeoutChannel time.Duration `yaml:"commandTimeoutChannel"`
	CommandTimeoutReload  time.Duration `yaml:"commandTimeoutReload"`

	// Telemetry replay buffer
	EventBufferSize      int           `yaml:"eventBufferSize"`
	EventBufferRetention time.Duration `yaml:"eventBufferRetention"`

	// Interface event loop
	LoopQueueSize      int           `yaml:"loopQueueSize"`
	DriverCallTimeout  time.Duration `yaml:"driverCallTimeout"`
	AuthTimeout        time.Duration `yaml:"authTimeout"`
	DriverFailureLimit int           `yaml:"driverFailureLimit"`

	// Channel selection and DFS
	CACDuration      time.Duration `yaml:"cacDuration"`
	RadarCooldown    time.Duration `yaml:"radarCooldown"`
	ACSRetryInterval time.Duration `yaml:"acsRetryInterval"`
	ACSMaxRetries    int           `yaml:"acsMaxRetries"`
	HTScanRetryDelay time.Duration `yaml:"htScanRetryDelay"`
	HT40ScanMaxTries int           `yaml:"ht40ScanMaxTries"`
	CSACount         int           `yaml:"csaCount"`
}

// LoadTimingBaseline returns the default timing values.
func LoadTimingBaseline() *TimingConfig {
	return &TimingConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatJitter:   2 * time.Second,
		HeartbeatTimeout:  45 * time.Second,

		CommandTimeoutRead:    2 * time.Second,
		CommandTimeoutControl: 5 * time.Second,
		CommandTimeoutChannel: 10 * time.Second,
		CommandTimeoutReload:  15 * time.Second,

		EventBufferSize:      50,
		EventBufferRetention: 1 * time.Hour,

		LoopQueueSize:      64,
		DriverCallTimeout:  2 * time.Second,
		AuthTimeout:        5 * time.Second,
		DriverFailureLimit: 3,

		// 60s is the minimum CAC for non weather radar channels.
		CACDuration:      60 * time.Second,
		RadarCooldown:    30 * time.Minute,
		ACSRetryInterval: 10 * time.Second,
		ACSMaxRetries:    5,
		HTScanRetryDelay: 1 * time.Second,
		HT40ScanMaxTries: 3,
		CSACount:         5,
	}
}
