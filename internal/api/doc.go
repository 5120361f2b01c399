// Package api implements the management HTTP API of the access point daemon.
//
// Every response uses the envelope {result, data, code, message, details,
// correlationId}. Routes under /api/v1 require a bearer token with the
// read, control or telemetry scope, except /api/v1/health. Interface and
// station commands are delegated to the orchestrator; /api/v1/telemetry
// streams events as Server-Sent Events; /metrics serves the Prometheus
// registry.
package api
