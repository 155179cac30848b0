package main

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wuji-technology/wujihand-go/telemetry"
	"github.com/wuji-technology/wujihand-go/wujihand"
)

// deviceInfo is the static identity read once at startup.
type deviceInfo struct {
	SerialNumber      string  `json:"serial_number"`
	Firmware          string  `json:"firmware"`
	FullSystem        string  `json:"full_system,omitempty"`
	Handedness        string  `json:"handedness"`
	Temperature       float32 `json:"temperature_c"`
	InputVoltage      float32 `json:"input_voltage_v"`
	EffortFeedback    bool    `json:"effort_feedback"`
	ConnectedAtMillis int64   `json:"connected_at_ms"`
}

// monitor caches the latest telemetry snapshot for the HTTP handlers.
type monitor struct {
	device deviceInfo
	source telemetry.Source

	latest  atomic.Pointer[telemetry.Sample]
	samples atomic.Uint64
	started time.Time
}

func newMonitor(device deviceInfo, source telemetry.Source) *monitor {
	return &monitor{device: device, source: source, started: time.Now()}
}

// sample captures one snapshot. Missing telemetry is not an error; the
// stream may not have produced a frame yet.
func (m *monitor) sample() {
	s, err := telemetry.Capture(m.source)
	if err != nil {
		return
	}
	m.latest.Store(&s)
	m.samples.Add(1)
}

func (m *monitor) run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func buildRouter(m *monitor, allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(allowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowOrigins
	}
	r.Use(cors.New(corsCfg))

	api := r.Group("/api")
	api.GET("/status", m.handleStatus)
	api.GET("/joints", m.handleJoints)
	api.GET("/device", m.handleDevice)
	return r
}

func (m *monitor) handleStatus(c *gin.Context) {
	resp := gin.H{
		"uptime_s": time.Since(m.started).Seconds(),
		"samples":  m.samples.Load(),
		"live":     false,
	}
	if s := m.latest.Load(); s != nil {
		resp["live"] = true
		resp["upstream_version"] = s.Version
		resp["last_sample"] = s.Time.Format(time.RFC3339Nano)
	}
	c.JSON(http.StatusOK, resp)
}

func (m *monitor) handleJoints(c *gin.Context) {
	s := m.latest.Load()
	if s == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no telemetry received yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":       s.Version,
		"positions_rad": gridRows(s.Position),
		"efforts_a":     gridRows(s.Effort),
	})
}

func (m *monitor) handleDevice(c *gin.Context) {
	c.JSON(http.StatusOK, m.device)
}

func gridRows(g wujihand.JointGrid) [][]float64 {
	rows := make([][]float64, wujihand.NumFingers)
	for f := 0; f < wujihand.NumFingers; f++ {
		row := make([]float64, wujihand.NumJoints)
		copy(row, g[f][:])
		rows[f] = row
	}
	return rows
}
