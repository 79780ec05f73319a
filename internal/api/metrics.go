package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
	"github.com/nerrad567/gray-logic-scripts/internal/engine"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Engine        EngineMetrics   `json:"engine"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics is zero when the service runs without a broker.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// EngineMetrics is engine.Stats with the oldest slot age in milliseconds.
type EngineMetrics struct {
	LiveSlots     int   `json:"live_slots"`
	RunningSlots  int   `json:"running_slots"`
	MaxSlots      int   `json:"max_slots"`
	SoftThreshold int   `json:"soft_threshold"`
	Listeners     int   `json:"listeners"`
	OldestMS      int64 `json:"oldest_ms"`
	ShuttingDown  bool  `json:"shutting_down"`
}

// DeviceMetrics counts catalog entries per family. Devices without a
// family count as "unknown".
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByFamily map[string]int `json:"by_family"`
}

type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       readRuntimeMetrics(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Engine:        engineMetrics(s.engine.Stats()),
		Devices:       deviceMetrics(s.devices.ListDevices()),
	}
	if s.mqtt != nil {
		m.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.HealthCheck(r.Context()) == nil}
	}
	if s.db != nil {
		m.Database = databaseMetrics(s.db.Stats())
	}
	writeJSON(w, http.StatusOK, m)
}

func readRuntimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(ms.Alloc) / bytesPerMB,
		MemoryTotalMB: float64(ms.TotalAlloc) / bytesPerMB,
		NumGC:         ms.NumGC,
	}
}

func engineMetrics(st engine.Stats) EngineMetrics {
	return EngineMetrics{
		LiveSlots:     st.Live,
		RunningSlots:  st.Running,
		MaxSlots:      st.Max,
		SoftThreshold: st.SoftThreshold,
		Listeners:     st.Listeners,
		OldestMS:      st.Oldest.Milliseconds(),
		ShuttingDown:  st.ShuttingDown,
	}
}

func deviceMetrics(devices []device.Device) DeviceMetrics {
	m := DeviceMetrics{Total: len(devices), ByFamily: make(map[string]int)}
	for _, d := range devices {
		family := d.Family
		if family == "" {
			family = "unknown"
		}
		m.ByFamily[family]++
	}
	return m
}

func databaseMetrics(st sql.DBStats) DatabaseMetrics {
	return DatabaseMetrics{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}
