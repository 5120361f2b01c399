package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/apd/internal/api"
	"github.com/radio-control/apd/internal/config"
	"github.com/radio-control/apd/internal/frame"
)

const testBSSID = "02:00:00:00:01:00"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	doc := fmt.Sprintf(`
server:
  addr: 127.0.0.1:0
auth:
  disabled: true
audit:
  dir: %s
accounting:
  sink: none
interfaces:
  - name: wlan0
    driver: sim
    country: DE
    channel: 6
    bss:
      - bssid: %s
        ssid: lab
`, t.TempDir(), testBSSID)
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func get(t *testing.T, h http.Handler, path string) map[string]interface{} {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, _ := resp.Data.(map[string]interface{})
	return data
}

func TestDaemonEndToEnd(t *testing.T) {
	ctx := context.Background()
	d, err := newDaemon(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, d.shutdown()) }()

	d.manager.Start()
	h := d.server.Handler()

	require.Eventually(t, func() bool {
		return get(t, h, "/api/v1/interfaces/wlan0")["state"] == "enabled"
	}, 5*time.Second, 20*time.Millisecond)

	// One synthetic station joins the BSS.
	target := &demoTarget{iface: "wlan0", radio: d.radios["wlan0"], bssid: frame.MustParseAddr(testBSSID), ssid: "lab", index: 1}
	require.NoError(t, target.step(0))

	var stations []interface{}
	require.Eventually(t, func() bool {
		stations, _ = get(t, h, "/api/v1/interfaces/wlan0/stations")["stations"].([]interface{})
		return len(stations) == 1
	}, 5*time.Second, 20*time.Millisecond)
	sta := stations[0].(map[string]interface{})
	assert.Equal(t, target.joined[0].String(), sta["station"])
	assert.Equal(t, float64(1), sta["aid"])

	// Kick through the API removes it.
	w := httptest.NewRecorder()
	path := "/api/v1/interfaces/wlan0/bss/" + testBSSID + "/stations/" + target.joined[0].String() + "/kick"
	h.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Eventually(t, func() bool {
		stations, _ = get(t, h, "/api/v1/interfaces/wlan0/stations")["stations"].([]interface{})
		return len(stations) == 0
	}, 5*time.Second, 20*time.Millisecond)

	// The scrape carries the recorder and the snapshot gauges.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "apd_interface_state"), "missing interface gauge")
}

func TestDaemonRejectsBadInterface(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interfaces[0].BSS[0].BSSID = "not-a-mac"

	_, err := newDaemon(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewAuthMiddleware(t *testing.T) {
	_, err := newAuthMiddleware(config.AuthConfig{Algorithm: "HS256"})
	assert.Error(t, err, "HS256 without secret")

	mw, err := newAuthMiddleware(config.AuthConfig{Algorithm: "HS256", Secret: "s3cret"})
	require.NoError(t, err)
	assert.NotNil(t, mw)
}

func TestDemoFramesDecode(t *testing.T) {
	bssid := frame.MustParseAddr(testBSSID)
	sta := frame.MustParseAddr("02:de:01:00:00:01")

	raw, err := stationAuth(bssid, sta)
	require.NoError(t, err)
	f, err := frame.Decode(raw)
	require.NoError(t, err)
	auth, ok := f.(*frame.Auth)
	require.True(t, ok, "got %T", f)
	assert.Equal(t, sta, auth.SA)
	assert.Equal(t, uint16(1), auth.Sequence)

	raw, err = stationAssoc(bssid, sta, "lab")
	require.NoError(t, err)
	f, err = frame.Decode(raw)
	require.NoError(t, err)
	req, ok := f.(*frame.AssocRequest)
	require.True(t, ok, "got %T", f)
	ssid, _ := req.Elements.SSID()
	assert.Equal(t, "lab", string(ssid))
	rates, _ := req.Elements.Rates()
	assert.Len(t, rates, len(demoRates))

	raw, err = stationDeauth(bssid, sta, frame.ReasonDeauthLeaving)
	require.NoError(t, err)
	f, err = frame.Decode(raw)
	require.NoError(t, err)
	_, ok = f.(*frame.Deauth)
	assert.True(t, ok, "got %T", f)
}
