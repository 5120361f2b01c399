// Package api defines ports (interfaces) for API server dependencies.
package api

import (
	"context"
	"net/http"

	"github.com/radio-control/apd/internal/command"
	"github.com/radio-control/apd/internal/telemetry"
)

// OrchestratorPort defines what the API needs from the orchestrator.
type OrchestratorPort = command.OrchestratorPort

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Compile-time assertions for port conformance
var _ OrchestratorPort = (*command.Orchestrator)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
