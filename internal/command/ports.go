// Package command defines ports (interfaces) for orchestrator operations.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/frame"
	"github.com/radio-control/apd/internal/radio"
)

// OrchestratorPort defines what the management API needs from the
// orchestrator.
type OrchestratorPort interface {
	ListInterfaces(ctx context.Context) (*radio.InterfaceList, error)
	GetInterface(ctx context.Context, name string) (*radio.Snapshot, error)
	ListStations(ctx context.Context, name string) ([]StationSummary, error)
	Ban(ctx context.Context, name string, req BanRequest) error
	Unban(ctx context.Context, name string, req StationRef) error
	KickStation(ctx context.Context, name string, req KickRequest) error
	ForceChannelSwitch(ctx context.Context, name string, req ChannelSwitchRequest) (adapter.ChannelParams, error)
	EnableInterface(ctx context.Context, name string) error
	DisableInterface(ctx context.Context, name string) error
	Reload(ctx context.Context, data []byte) (*ReloadResult, error)
}

// Controller is one managed interface.
type Controller interface {
	Name() string
	Snapshot(ctx context.Context) (radio.Snapshot, error)
	Stations(ctx context.Context) ([]radio.StationView, error)
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Reload(ctx context.Context, cfg radio.Config) (radio.ReloadReport, error)
	Kick(ctx context.Context, bssid, addr frame.Addr, reason frame.ReasonCode, ban time.Duration) error
	Ban(ctx context.Context, bssid, addr frame.Addr, d time.Duration) error
	Unban(ctx context.Context, bssid, addr frame.Addr) error
	ForceChannelSwitch(ctx context.Context, target adapter.ChannelParams, count uint8, blockTx bool) (adapter.ChannelParams, error)
	CSACount() uint8
}

var _ Controller = (*radio.Interface)(nil)

// Registry resolves interface names.
type Registry interface {
	Lookup(name string) (Controller, error)
	List(ctx context.Context) (*radio.InterfaceList, error)
	Default() string
	Names() []string
}

// ManagerRegistry exposes a radio.Manager as a Registry.
type ManagerRegistry struct {
	Manager *radio.Manager
}

var _ Registry = ManagerRegistry{}

func (r ManagerRegistry) Lookup(name string) (Controller, error) {
	i, err := r.Manager.Get(name)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r ManagerRegistry) List(ctx context.Context) (*radio.InterfaceList, error) {
	return r.Manager.List(ctx)
}

func (r ManagerRegistry) Default() string { return r.Manager.Default() }
func (r ManagerRegistry) Names() []string { return r.Manager.Names() }

// AuditLogger writes audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, action, iface string, err error)
	LogControlAction(ctx context.Context, action, iface string, params map[string]interface{}, err error)
}

// ErrNotFound indicates a requested interface was not found.
var ErrNotFound = errors.New("NOT_FOUND")

// ErrInvalidParameter indicates a required parameter is missing or structurally invalid.
var ErrInvalidParameter = errors.New("BAD_REQUEST")
