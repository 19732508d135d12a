package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/runner"
)

// handleListDevices returns the current devices in report order.
//
// Query parameters:
//   - status: "online", "offline", or an exact adb status such as
//     "unauthorized"
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Record

	switch status := r.URL.Query().Get("status"); status {
	case "":
		devices = s.devices.All()
	case "online":
		devices = s.devices.Online()
	case "offline":
		devices = s.devices.Offline()
	default:
		want := device.Status(status)
		if !want.IsKnown() {
			writeBadRequest(w, "unknown status filter: "+status)
			return
		}
		for _, rec := range s.devices.All() {
			if rec.Status == want {
				devices = append(devices, rec)
			}
		}
	}

	if devices == nil {
		devices = []device.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by serial.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.devices.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeviceEvents returns recorded changes for a device, newest first.
// Devices that have since disconnected still have their history.
//
// Query parameters:
//   - limit: maximum events (default 50, max 500)
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "device history is disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	events, err := s.history.DeviceEvents(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to query device events", "device_id", id, "error", err)
		writeInternalError(w, "failed to query device events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "events": events, "count": len(events)})
}

// handleListRuns returns the most recent command runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "device history is disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := s.history.Runs(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to query command runs", "error", err)
		writeInternalError(w, "failed to query command runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns every device result of one batch in the order they
// were recorded.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "device history is disabled")
		return
	}

	runID := chi.URLParam(r, "run_id")
	runs, err := s.history.RunResults(r.Context(), runID)
	if err != nil {
		s.logger.Error("failed to query run results", "run_id", runID, "error", err)
		writeInternalError(w, "failed to query run results")
		return
	}
	if len(runs) == 0 {
		writeNotFound(w, "run not found: "+runID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "results": runs, "count": len(runs)})
}

// parseLimit reads the optional limit query parameter. It writes a 400 and
// returns false when the value is malformed. Zero selects the store default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

// changesetPayload is the WebSocket body for "devices.changed".
func changesetPayload(cs device.Changeset) map[string]any {
	return map[string]any{
		"added":   orEmpty(cs.Added),
		"removed": orEmpty(cs.Removed),
		"changed": orEmpty(cs.Changed),
	}
}

// resultPayload is the WebSocket body for "commands.result". Output is
// included; clients watching a run want to see it.
func resultPayload(res runner.Result) map[string]any {
	payload := map[string]any{
		"run_id":      res.RunID,
		"device":      res.Device,
		"command":     res.Command,
		"ok":          res.OK(),
		"output":      res.Output,
		"duration_ms": res.Duration.Milliseconds(),
		"started_at":  res.Started.UTC().Format(time.RFC3339Nano),
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	return payload
}

func orEmpty(records []device.Record) []device.Record {
	if records == nil {
		return []device.Record{}
	}
	return records
}
