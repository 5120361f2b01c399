// Package command implements the management command orchestrator of apd.
//
// The orchestrator resolves the target interface (the empty name is the
// default interface), validates request parameters, runs the operation on
// the interface event loop under its command timeout class, writes an audit
// record and publishes the command outcome on the telemetry stream.
//
// Timeout classes:
//   - read: ListInterfaces, GetInterface, ListStations
//   - control: Ban, Unban, KickStation, EnableInterface, DisableInterface
//   - channel: ForceChannelSwitch
//   - reload: Reload
//
// BuildInterface and BuildTiming translate configuration file sections
// into interface configuration; cmd/apd uses them at startup and Reload
// uses them at runtime.
package command
