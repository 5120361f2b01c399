package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// DefaultPath is read when APD_CONFIG is unset.
const DefaultPath = "apd.yaml"

// Load merges Default() + the YAML file named by APD_CONFIG (or apd.yaml
// when present) + APD_* environment overrides, then validates the result.
func Load() (*Config, error) {
	path := GetEnvVar("APD_CONFIG", "")
	required := path != ""
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path, required)
}

// LoadFile loads path over the defaults. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := Default()

	if err := loadFromFile(cfg, path); err != nil {
		if required || !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "failed to load %s", path)
		}
		klog.V(2).Infof("config: %s not found, using defaults", path)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to apply environment overrides")
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults without environment
// overrides. Used for reload requests.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies APD_* environment variables to the config.
func applyEnvOverrides(cfg *Config) error {
	cfg.Server.Addr = GetEnvVar("APD_LISTEN_ADDR", cfg.Server.Addr)
	cfg.Auth.Secret = GetEnvVar("APD_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.PublicKeyFile = GetEnvVar("APD_AUTH_PUBLIC_KEY", cfg.Auth.PublicKeyFile)
	cfg.Audit.Dir = GetEnvVar("APD_AUDIT_DIR", cfg.Audit.Dir)
	cfg.Accounting.Sink = GetEnvVar("APD_ACCOUNTING_SINK", cfg.Accounting.Sink)
	cfg.Accounting.Topic = GetEnvVar("APD_KAFKA_TOPIC", cfg.Accounting.Topic)
	if val := os.Getenv("APD_KAFKA_BROKERS"); val != "" {
		cfg.Accounting.Brokers = strings.Split(val, ",")
	}
	if val := os.Getenv("APD_AUTH_DISABLED"); val != "" {
		disabled, err := strconv.ParseBool(val)
		if err != nil {
			return errors.Wrapf(err, "APD_AUTH_DISABLED=%q", val)
		}
		cfg.Auth.Disabled = disabled
	}

	t := &cfg.Timing
	t.HeartbeatInterval = GetEnvDuration("APD_TIMING_HEARTBEAT_INTERVAL", t.HeartbeatInterval)
	t.HeartbeatJitter = GetEnvDuration("APD_TIMING_HEARTBEAT_JITTER", t.HeartbeatJitter)
	t.HeartbeatTimeout = GetEnvDuration("APD_TIMING_HEARTBEAT_TIMEOUT", t.HeartbeatTimeout)
	t.CommandTimeoutRead = GetEnvDuration("APD_TIMING_COMMAND_READ", t.CommandTimeoutRead)
	t.CommandTimeoutControl = GetEnvDuration("APD_TIMING_COMMAND_CONTROL", t.CommandTimeoutControl)
	t.CommandTimeoutChannel = GetEnvDuration("APD_TIMING_COMMAND_CHANNEL", t.CommandTimeoutChannel)
	t.CommandTimeoutReload = GetEnvDuration("APD_TIMING_COMMAND_RELOAD", t.CommandTimeoutReload)
	t.EventBufferSize = GetEnvInt("APD_TIMING_EVENT_BUFFER_SIZE", t.EventBufferSize)
	t.EventBufferRetention = GetEnvDuration("APD_TIMING_EVENT_BUFFER_RETENTION", t.EventBufferRetention)
	t.LoopQueueSize = GetEnvInt("APD_TIMING_LOOP_QUEUE_SIZE", t.LoopQueueSize)
	t.DriverCallTimeout = GetEnvDuration("APD_TIMING_DRIVER_CALL", t.DriverCallTimeout)
	t.AuthTimeout = GetEnvDuration("APD_TIMING_AUTH", t.AuthTimeout)
	t.CACDuration = GetEnvDuration("APD_TIMING_CAC", t.CACDuration)
	t.RadarCooldown = GetEnvDuration("APD_TIMING_RADAR_COOLDOWN", t.RadarCooldown)
	t.ACSRetryInterval = GetEnvDuration("APD_TIMING_ACS_RETRY_INTERVAL", t.ACSRetryInterval)
	t.ACSMaxRetries = GetEnvInt("APD_TIMING_ACS_MAX_RETRIES", t.ACSMaxRetries)
	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		klog.Warningf("config: ignoring %s=%q: not a duration", key, value)
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		klog.Warningf("config: ignoring %s=%q: not an integer", key, value)
	}
	return defaultValue
}
