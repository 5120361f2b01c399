package config

import (
	"time"
)

// Config is the daemon configuration file.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Auth       AuthConfig        `yaml:"auth"`
	Audit      AuditConfig       `yaml:"audit"`
	Accounting AccountingConfig  `yaml:"accounting"`
	Timing     TimingConfig      `yaml:"timing"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
}

// ServerConfig holds the management HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig selects how bearer tokens are verified.
type AuthConfig struct {
	// Algorithm is HS256 or RS256.
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
	// Disabled accepts every request as an operator. Development only.
	Disabled bool `yaml:"disabled"`
}

// AuditConfig holds the audit log location and rotation.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// AccountingConfig selects the accounting sink.
type AccountingConfig struct {
	// Sink is none, log or kafka.
	Sink         string        `yaml:"sink"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	DialAttempts int           `yaml:"dialAttempts"`
	DialBackoff  time.Duration `yaml:"dialBackoff"`
}

// InterfaceConfig describes one radio.
type InterfaceConfig struct {
	Name string `yaml:"name"`
	// Driver is the driver backend; only the simulator ships with apd.
	Driver  string `yaml:"driver"`
	Country string `yaml:"country"`
	// Channel 0 selects the channel automatically.
	Channel  int         `yaml:"channel"`
	Width    int         `yaml:"width"`
	Band     string      `yaml:"band"`
	NoDFS    bool        `yaml:"noDfs"`
	Disabled bool        `yaml:"disabled"`
	BSS      []BSSConfig `yaml:"bss"`
}

// BSSConfig describes one BSS of an interface.
type BSSConfig struct {
	BSSID             string    `yaml:"bssid"`
	SSID              string    `yaml:"ssid"`
	Auth              []string  `yaml:"auth"`
	KeyMgmt           string    `yaml:"keyMgmt"`
	Rates             []float64 `yaml:"rates"`
	BasicRates        []float64 `yaml:"basicRates"`
	HT                bool      `yaml:"ht"`
	HT40              bool      `yaml:"ht40"`
	Greenfield        bool      `yaml:"greenfield"`
	VHT               bool      `yaml:"vht"`
	RequireHT         bool      `yaml:"requireHt"`
	WMM               bool      `yaml:"wmm"`
	MaxStations       int       `yaml:"maxStations"`
	MaxAID            int       `yaml:"maxAid"`
	MaxListenInterval int       `yaml:"maxListenInterval"`
	BeaconInterval    int       `yaml:"beaconInterval"`
	ACL               ACLConfig `yaml:"acl"`
	LVAP              bool      `yaml:"lvap"`
}

// ACLConfig is the static MAC access list of a BSS.
type ACLConfig struct {
	// Policy is accept (accept unless denied) or deny (deny unless
	// accepted).
	Policy string   `yaml:"policy"`
	Accept []string `yaml:"accept"`
	Deny   []string `yaml:"deny"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  60 * time.Second,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		Audit: AuditConfig{
			Dir:        "/var/log/apd",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Accounting: AccountingConfig{
			Sink:         "log",
			Topic:        "apd-accounting",
			DialAttempts: 5,
			DialBackoff:  500 * time.Millisecond,
		},
		Timing: *LoadTimingBaseline(),
	}
}
