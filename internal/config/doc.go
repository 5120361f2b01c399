// Package config loads the daemon configuration.
//
// Values are merged in order: built-in defaults, the YAML file named by
// APD_CONFIG (apd.yaml when unset), then APD_* environment overrides. The
// timing section carries every timeout and retry bound used by the
// interface event loops, the management bus and the telemetry hub.
package config
