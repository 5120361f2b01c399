//
//
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radio-control/apd/internal/auth"
	"github.com/radio-control/apd/internal/command"
)

// maxReloadBytes bounds the configuration document accepted by /reload.
const maxReloadBytes = 1 << 20

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// API v1 base path
	apiV1 := "/api/v1"

	// Health endpoint (no auth required)
	mux.HandleFunc("GET "+apiV1+"/health", s.handleHealth)

	// Interfaces (viewer access)
	mux.HandleFunc("GET "+apiV1+"/interfaces", s.protect(s.handleListInterfaces, auth.ScopeRead))
	mux.HandleFunc("GET "+apiV1+"/interfaces/{if}", s.protect(s.handleGetInterface, auth.ScopeRead))
	mux.HandleFunc("GET "+apiV1+"/interfaces/{if}/stations", s.protect(s.handleListStations, auth.ScopeRead))

	// Interface control (operator access)
	mux.HandleFunc("POST "+apiV1+"/interfaces/{if}/enable", s.protect(s.handleEnable, auth.ScopeControl))
	mux.HandleFunc("POST "+apiV1+"/interfaces/{if}/disable", s.protect(s.handleDisable, auth.ScopeControl))
	mux.HandleFunc("POST "+apiV1+"/interfaces/{if}/channel", s.protect(s.handleChannelSwitch, auth.ScopeControl))

	// Station control (operator access)
	mux.HandleFunc("POST "+apiV1+"/interfaces/{if}/bss/{bssid}/ban", s.protect(s.handleBan, auth.ScopeControl))
	mux.HandleFunc("POST "+apiV1+"/interfaces/{if}/bss/{bssid}/unban", s.protect(s.handleUnban, auth.ScopeControl))
	mux.HandleFunc("POST "+apiV1+"/interfaces/{if}/bss/{bssid}/stations/{mac}/kick", s.protect(s.handleKick, auth.ScopeControl))

	// Configuration reload (operator access)
	mux.HandleFunc("POST "+apiV1+"/reload", s.protect(s.handleReload, auth.ScopeControl))

	// Telemetry endpoint (viewer access)
	mux.HandleFunc("GET "+apiV1+"/telemetry", s.protect(s.handleTelemetry, auth.ScopeTelemetry))

	// Prometheus scrape endpoint
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// protect wraps h with authentication and the required scopes. Without
// auth middleware routes are served unprotected.
func (s *Server) protect(h http.HandlerFunc, scopes ...string) http.HandlerFunc {
	if s.authMiddleware == nil {
		return h
	}
	return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(scopes...)(h))
}

// available writes 503 and reports false when no orchestrator is wired.
func (s *Server) available(w http.ResponseWriter) bool {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return false
	}
	return true
}

// handleListInterfaces handles GET /interfaces
func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	list, err := s.orchestrator.ListInterfaces(r.Context())
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, list)
}

// handleGetInterface handles GET /interfaces/{if}
func (s *Server) handleGetInterface(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	snap, err := s.orchestrator.GetInterface(r.Context(), r.PathValue("if"))
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, snap)
}

// handleListStations handles GET /interfaces/{if}/stations
func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	stations, err := s.orchestrator.ListStations(r.Context(), r.PathValue("if"))
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"interface": r.PathValue("if"), "stations": stations})
}

// handleEnable handles POST /interfaces/{if}/enable
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	name := r.PathValue("if")
	if err := s.orchestrator.EnableInterface(r.Context(), name); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"interface": name, "enabled": true})
}

// handleDisable handles POST /interfaces/{if}/disable
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	name := r.PathValue("if")
	if err := s.orchestrator.DisableInterface(r.Context(), name); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"interface": name, "enabled": false})
}

// handleChannelSwitch handles POST /interfaces/{if}/channel
func (s *Server) handleChannelSwitch(w http.ResponseWriter, r *http.Request) {
	var req command.ChannelSwitchRequest
	if err := decodeStrict(r, &req, false); err != nil {
		WriteAPIError(w, err)
		return
	}

	// Validate that at least one target is provided (structural)
	if req.Channel == 0 && req.FrequencyMHz == 0 {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Either channel or frequencyMhz must be provided", nil)
		return
	}

	if !s.available(w) {
		return
	}
	target, err := s.orchestrator.ForceChannelSwitch(r.Context(), r.PathValue("if"), req)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, target)
}

// handleBan handles POST /interfaces/{if}/bss/{bssid}/ban
func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Station string `json:"station"`
		Seconds int    `json:"seconds"`
	}
	if err := decodeStrict(r, &body, false); err != nil {
		WriteAPIError(w, err)
		return
	}
	if !s.available(w) {
		return
	}

	req := command.BanRequest{
		StationRef: command.StationRef{BSSID: r.PathValue("bssid"), Station: body.Station},
		Seconds:    body.Seconds,
	}
	if err := s.orchestrator.Ban(r.Context(), r.PathValue("if"), req); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, req)
}

// handleUnban handles POST /interfaces/{if}/bss/{bssid}/unban
func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Station string `json:"station"`
	}
	if err := decodeStrict(r, &body, false); err != nil {
		WriteAPIError(w, err)
		return
	}
	if !s.available(w) {
		return
	}

	ref := command.StationRef{BSSID: r.PathValue("bssid"), Station: body.Station}
	if err := s.orchestrator.Unban(r.Context(), r.PathValue("if"), ref); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, ref)
}

// handleKick handles POST /interfaces/{if}/bss/{bssid}/stations/{mac}/kick.
// The body is optional.
func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason     uint16 `json:"reason"`
		BanSeconds int    `json:"banSeconds"`
	}
	if err := decodeStrict(r, &body, true); err != nil {
		WriteAPIError(w, err)
		return
	}
	if !s.available(w) {
		return
	}

	req := command.KickRequest{
		StationRef: command.StationRef{BSSID: r.PathValue("bssid"), Station: r.PathValue("mac")},
		Reason:     body.Reason,
		BanSeconds: body.BanSeconds,
	}
	if err := s.orchestrator.KickStation(r.Context(), r.PathValue("if"), req); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, req)
}

// handleReload handles POST /reload. The body is the YAML configuration
// document.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "BAD_REQUEST", "Configuration document too large", nil)
			return
		}
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Failed to read request body", nil)
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Configuration document required", nil)
		return
	}
	if !s.available(w) {
		return
	}

	result, err := s.orchestrator.Reload(r.Context(), data)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, result)
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Failed to subscribe to telemetry stream", nil)
		return
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := 0.0
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Seconds()
	}

	subsystems := s.checkSubsystemHealth(r.Context())

	overallStatus := "ok"
	for _, up := range subsystems {
		if !up {
			overallStatus = "degraded"
		}
	}

	health := map[string]interface{}{
		"status":     overallStatus,
		"uptimeSec":  uptime,
		"version":    Version,
		"subsystems": subsystems,
	}

	if overallStatus == "ok" {
		WriteSuccess(w, health)
	} else {
		// Health data is carried in details of the 503.
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"One or more subsystems are unavailable", health)
	}
}

// checkSubsystemHealth checks the health of all subsystems.
func (s *Server) checkSubsystemHealth(ctx context.Context) map[string]bool {
	subsystems := map[string]bool{
		"telemetry":    s.telemetryHub != nil,
		"orchestrator": s.orchestrator != nil,
	}
	if s.orchestrator != nil {
		list, err := s.orchestrator.ListInterfaces(ctx)
		subsystems["interfaces"] = err == nil && list != nil && len(list.Items) > 0
	}
	return subsystems
}
