package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Stopping      bool            `json:"stopping"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Sessions      SessionMetrics  `json:"sessions"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// SessionMetrics counts registry entries by status.
type SessionMetrics struct {
	Tracked int `json:"tracked"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled       bool   `json:"enabled"`
	Connected     bool   `json:"connected"`
	EventsDropped uint64 `json:"events_dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns a JSON snapshot of runtime, registry, database
// and MQTT state for operators.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	counts := s.registry.Snapshot()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Stopping:      s.coordinator.IsStopping(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Sessions: SessionMetrics{
			Tracked: s.registry.Len(),
			Active:  counts.Active,
			Expired: counts.Expired,
		},
		MQTT: MQTTMetrics{
			Enabled:       s.mqtt != nil,
			Connected:     s.mqtt.IsConnected(),
			EventsDropped: s.events.Dropped(),
		},
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
