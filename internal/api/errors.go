//
//
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/radio-control/apd/internal/command"
	"github.com/radio-control/apd/internal/fault"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// errorClass is the status and client message of one result code.
type errorClass struct {
	status  int
	message string
}

// errorClasses maps the codes of command.CodeOf to HTTP.
var errorClasses = map[string]errorClass{
	"BAD_REQUEST":        {http.StatusBadRequest, "Malformed or missing required parameter"},
	"INVALID_RANGE":      {http.StatusBadRequest, "Parameter value is outside the allowed range"},
	"INVALID_CONFIG":     {http.StatusBadRequest, "Configuration document is invalid"},
	"NOT_FOUND":          {http.StatusNotFound, "Resource not found"},
	"BUSY":               {http.StatusServiceUnavailable, "Service is busy, please retry with backoff"},
	"UNAVAILABLE":        {http.StatusServiceUnavailable, "Service is temporarily unavailable"},
	"TIMEOUT":            {http.StatusGatewayTimeout, "Operation timed out"},
	"PROTOCOL_VIOLATION": {http.StatusBadRequest, "Request violates the station protocol"},
	"RESOURCE_EXHAUSTED": {http.StatusServiceUnavailable, "Resource exhausted"},
	"DRIVER_FAILURE":     {http.StatusBadGateway, "Driver refused the operation"},
	"REGULATORY_FAILURE": {http.StatusConflict, "Channel not permitted"},
	"INTERNAL":           {http.StatusInternalServerError, "Internal server error"},
}

// ToAPIError converts an error to an API error with HTTP status code and JSON body.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	code := command.CodeOf(err)
	class, ok := errorClasses[code]
	if !ok {
		code = "INTERNAL"
		class = errorClasses[code]
	}
	return class.status, marshalErrorResponse(code, class.message, errorDetails(err))
}

// errorDetails exposes the underlying reason and, for classified faults,
// the failing operation and station.
func errorDetails(err error) map[string]interface{} {
	details := map[string]interface{}{"reason": err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		if fe.Op != "" {
			details["op"] = fe.Op
		}
		if fe.Station != "" {
			details["station"] = fe.Station
		}
		if fe.Status != 0 {
			details["status"] = fe.Status
		}
	}
	return details
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details interface{}) []byte {
	response := Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: uuid.NewString(),
	}

	jsonBytes, err := json.Marshal(response)
	if err != nil {
		// Fallback error response if marshaling fails
		fallback := map[string]interface{}{
			"result":        "error",
			"code":          "INTERNAL",
			"message":       "Failed to marshal error response",
			"correlationId": response.CorrelationID,
		}
		jsonBytes, _ := json.Marshal(fallback)
		return jsonBytes
	}

	return jsonBytes
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
