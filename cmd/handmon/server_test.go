package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuji-technology/wujihand-go/wujihand"
)

type staticSource struct {
	version   uint64
	positions wujihand.JointGrid
	efforts   wujihand.JointGrid
}

func (s *staticSource) GetJointActualPositions() (wujihand.JointGrid, error) {
	return s.positions, nil
}

func (s *staticSource) GetJointActualEfforts() (wujihand.JointGrid, error) {
	return s.efforts, nil
}

func (s *staticSource) UpstreamVersion() (uint64, error) {
	return s.version, nil
}

func testMonitor() *monitor {
	gin.SetMode(gin.TestMode)
	return newMonitor(deviceInfo{
		SerialNumber: "WJH-0042",
		Firmware:     "3.2.1B",
		Handedness:   "right",
	}, &staticSource{
		version:   7,
		positions: wujihand.UniformGrid(0.5),
		efforts:   wujihand.UniformGrid(0.1),
	})
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestStatusEndpoint(t *testing.T) {
	m := testMonitor()
	router := buildRouter(m, nil)

	w, body := get(t, router, "/api/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["live"])

	m.sample()
	w, body = get(t, router, "/api/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["live"])
	assert.Equal(t, float64(7), body["upstream_version"])
	assert.Equal(t, float64(1), body["samples"])
}

func TestJointsEndpoint(t *testing.T) {
	m := testMonitor()
	router := buildRouter(m, nil)

	w, _ := get(t, router, "/api/joints")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	m.sample()
	w, body := get(t, router, "/api/joints")
	require.Equal(t, http.StatusOK, w.Code)

	positions, ok := body["positions_rad"].([]any)
	require.True(t, ok)
	require.Len(t, positions, wujihand.NumFingers)
	row := positions[0].([]any)
	require.Len(t, row, wujihand.NumJoints)
	assert.Equal(t, 0.5, row[0])

	efforts := body["efforts_a"].([]any)
	assert.Equal(t, 0.1, efforts[4].([]any)[3])
}

func TestDeviceEndpoint(t *testing.T) {
	m := testMonitor()
	router := buildRouter(m, nil)

	w, body := get(t, router, "/api/device")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "WJH-0042", body["serial_number"])
	assert.Equal(t, "3.2.1B", body["firmware"])
	assert.Equal(t, "right", body["handedness"])
}

func TestCORSHeaders(t *testing.T) {
	m := testMonitor()
	router := buildRouter(m, []string{"http://localhost:3000"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/device", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
