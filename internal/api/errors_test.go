package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/channel"
	"github.com/radio-control/apd/internal/command"
	"github.com/radio-control/apd/internal/config"
	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/radio"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad request", fmt.Errorf("%w: station", command.ErrInvalidParameter), http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", fmt.Errorf("wlan9: %w", radio.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"invalid config", fmt.Errorf("%w: heartbeatInterval", config.ErrInvalid), http.StatusBadRequest, "INVALID_CONFIG"},
		{"invalid range", adapter.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE"},
		{"busy", channel.ErrSwitchInProgress, http.StatusServiceUnavailable, "BUSY"},
		{"not operating", channel.ErrNotOperating, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"driver failure", fault.Driver("set_channel", "", adapter.ErrUnavailable), http.StatusBadGateway, "DRIVER_FAILURE"},
		{"regulatory", fault.Regulatory("switch", "channel %d not permitted", 52), http.StatusConflict, "REGULATORY_FAILURE"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
		{"api error", NewAPIError("FORBIDDEN", "no", http.StatusForbidden, nil), http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToAPIError(tt.err)
			assert.Equal(t, tt.status, status)

			var resp Response
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Equal(t, "error", resp.Result)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.Len(t, resp.CorrelationID, 36)
		})
	}
}

func TestToAPIErrorNil(t *testing.T) {
	status, body := ToAPIError(nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, body)
}

func TestToAPIErrorFaultDetails(t *testing.T) {
	err := &fault.Error{Kind: fault.ResourceExhausted, Op: "assoc", Station: "02:00:00:00:00:01", Status: 17}
	status, body := ToAPIError(err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	var resp struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "RESOURCE_EXHAUSTED", resp.Code)
	assert.Equal(t, "assoc", resp.Details["op"])
	assert.Equal(t, "02:00:00:00:00:01", resp.Details["station"])
	assert.Equal(t, float64(17), resp.Details["status"])
	assert.NotEmpty(t, resp.Details["reason"])
}

func TestEveryCodeHasAClass(t *testing.T) {
	for _, k := range []fault.Kind{fault.ProtocolViolation, fault.ResourceExhausted, fault.DriverFailure, fault.RegulatoryFailure} {
		_, ok := errorClasses[k.String()]
		assert.True(t, ok, "missing class for %s", k)
	}
}
