//
//
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Response represents the unified envelope format.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// SuccessResponse creates a success response.
func SuccessResponse(data interface{}) *Response {
	return &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: uuid.NewString(),
	}
}

// ErrorResponse creates an error response.
func ErrorResponse(code, message string, details interface{}) *Response {
	return &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: uuid.NewString(),
	}
}

// WriteSuccess writes a success response to the HTTP response writer.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	writeResponse(w, http.StatusOK, SuccessResponse(data))
}

// WriteError writes an error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, ErrorResponse(code, message, details))
}

// WriteAPIError writes the envelope ToAPIError produces for err.
func WriteAPIError(w http.ResponseWriter, err error) {
	status, body := ToAPIError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeResponse writes a JSON response to the HTTP response writer.
func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	body, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Internal server error: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// decodeStrict decodes a single JSON object into v, rejecting unknown
// fields and trailing data. An empty body leaves v untouched when
// allowEmpty is set.
func decodeStrict(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF && allowEmpty {
			return nil
		}
		return NewAPIError("BAD_REQUEST", "Malformed JSON or unknown fields", http.StatusBadRequest, nil)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return NewAPIError("BAD_REQUEST", "Trailing data after JSON object", http.StatusBadRequest, nil)
	}
	return nil
}
