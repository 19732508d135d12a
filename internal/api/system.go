package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/adbmux/internal/adb"
	"github.com/nerrad567/adbmux/internal/device"
)

// SystemStats is the /stats response.
type SystemStats struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Devices       device.Stats     `json:"devices"`
	ADBServer     *adb.ServerStats `json:"adb_server,omitempty"`
	Runtime       RuntimeStats     `json:"runtime"`
	WebSocket     WSStats          `json:"websocket"`
	MQTT          *BackendStats    `json:"mqtt,omitempty"`
	InfluxDB      *BackendStats    `json:"influxdb,omitempty"`
	History       bool             `json:"history_enabled"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStats contains WebSocket hub statistics.
type WSStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// BackendStats describes an optional backend connection.
type BackendStats struct {
	Connected bool `json:"connected"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStats returns registry, backend and runtime statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Devices:       s.devices.Stats(),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSStats{ConnectedClients: s.hub.ClientCount()},
		History:   s.history != nil,
	}

	if s.adbServer != nil {
		adbStats := s.adbServer.Stats()
		stats.ADBServer = &adbStats
	}
	if s.mqtt != nil {
		stats.MQTT = &BackendStats{Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		stats.InfluxDB = &BackendStats{Connected: s.influx.IsConnected()}
	}

	writeJSON(w, http.StatusOK, stats)
}
