package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/adbmux/internal/adb"
	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/history"
	"github.com/nerrad567/adbmux/internal/infrastructure/config"
	"github.com/nerrad567/adbmux/internal/infrastructure/logging"
	"github.com/nerrad567/adbmux/internal/runner"
)

var (
	pixel        = device.Record{ID: "abcde12345", Status: device.StatusDevice, Product: "panther", Model: "Pixel_7", Device: "panther"}
	emulator     = device.Record{ID: "emulator-5554", Status: device.StatusEmulator, Model: "sdk_gphone64"}
	unauthorized = device.Record{ID: "001991674c709e", Status: device.StatusUnauthorized}
)

// fakeDevices serves a fixed snapshot.
type fakeDevices struct {
	snap device.Snapshot
}

func (f *fakeDevices) All() []device.Record { return f.snap.Records() }
func (f *fakeDevices) Online() []device.Record {
	return f.snap.Filter(device.Record.IsOnline)
}
func (f *fakeDevices) Offline() []device.Record {
	return f.snap.Filter(func(r device.Record) bool { return !r.IsOnline() })
}
func (f *fakeDevices) Get(id string) (device.Record, error) {
	rec, ok := f.snap.Get(id)
	if !ok {
		return device.Record{}, device.ErrDeviceNotFound
	}
	return rec, nil
}
func (f *fakeDevices) Stats() device.Stats {
	return device.Stats{Total: f.snap.Len()}
}

type fakeHistory struct {
	events []history.Event
	runs   []history.Run
	err    error
	limit  int
}

func (f *fakeHistory) DeviceEvents(_ context.Context, deviceID string, limit int) ([]history.Event, error) {
	f.limit = limit
	var out []history.Event
	for _, e := range f.events {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, f.err
}

func (f *fakeHistory) Runs(_ context.Context, limit int) ([]history.Run, error) {
	f.limit = limit
	return f.runs, f.err
}

func (f *fakeHistory) RunResults(_ context.Context, runID string) ([]history.Run, error) {
	var out []history.Run
	for _, r := range f.runs {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, f.err
}

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

type fakeADBServer struct{}

func (fakeADBServer) Stats() adb.ServerStats {
	return adb.ServerStats{Managed: true, Status: "running", Address: "127.0.0.1:5037"}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	if deps.Devices == nil {
		deps.Devices = &fakeDevices{snap: device.NewSnapshot(pixel, unauthorized, emulator)}
	}
	if deps.Version == "" {
		deps.Version = "test"
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Devices: &fakeDevices{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without device source should fail")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := get(t, srv, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	srv := testServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}
}

func TestRequestID_GeneratedIsUUID(t *testing.T) {
	srv := testServer(t, Deps{})

	id := get(t, srv, "/api/v1/health").Header().Get("X-Request-ID")
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("X-Request-ID = %q is not a UUID: %v", id, err)
	}
}

func TestRouting_TrailingSlashAndHead(t *testing.T) {
	srv := testServer(t, Deps{})

	if rec := get(t, srv, "/api/v1/devices/"); rec.Code != http.StatusOK {
		t.Errorf("GET /api/v1/devices/ status = %d, want 200", rec.Code)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD /api/v1/health status = %d, want 200", rec.Code)
	}
}

func TestListDevices(t *testing.T) {
	srv := testServer(t, Deps{})

	tests := []struct {
		query   string
		wantIDs []string
	}{
		{"", []string{pixel.ID, unauthorized.ID, emulator.ID}},
		{"?status=online", []string{pixel.ID, emulator.ID}},
		{"?status=offline", []string{unauthorized.ID}},
		{"?status=emulator", []string{emulator.ID}},
		{"?status=no%20device", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(t, srv, "/api/v1/devices"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var body struct {
				Devices []device.Record `json:"devices"`
				Count   int             `json:"count"`
			}
			decode(t, rec, &body)
			if body.Count != len(tt.wantIDs) || len(body.Devices) != len(tt.wantIDs) {
				t.Fatalf("count = %d, devices = %v, want %v", body.Count, body.Devices, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if body.Devices[i].ID != id {
					t.Errorf("devices[%d] = %s, want %s", i, body.Devices[i].ID, id)
				}
			}
		})
	}
}

func TestListDevices_EmptyIsArray(t *testing.T) {
	srv := testServer(t, Deps{Devices: &fakeDevices{}})

	rec := get(t, srv, "/api/v1/devices")
	if !strings.Contains(rec.Body.String(), `"devices":[]`) {
		t.Errorf("body = %s, want an empty devices array", rec.Body.String())
	}
}

func TestListDevices_BadStatus(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := get(t, srv, "/api/v1/devices?status=sleeping")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body Error
	decode(t, rec, &body)
	if body.Code != ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeBadRequest)
	}
}

func TestGetDevice(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := get(t, srv, "/api/v1/devices/"+emulator.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got device.Record
	decode(t, rec, &got)
	if !got.Equal(emulator) {
		t.Errorf("device = %+v, want %+v", got, emulator)
	}

	if rec := get(t, srv, "/api/v1/devices/missing99"); rec.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", rec.Code)
	}
}

func TestDeviceEvents(t *testing.T) {
	hist := &fakeHistory{events: []history.Event{
		{ID: 2, DeviceID: "gone12345", Kind: history.EventRemoved, Status: device.StatusDevice},
		{ID: 1, DeviceID: "gone12345", Kind: history.EventAdded, Status: device.StatusDevice},
		{ID: 3, DeviceID: pixel.ID, Kind: history.EventAdded},
	}}
	srv := testServer(t, Deps{History: hist})

	rec := get(t, srv, "/api/v1/devices/gone12345/events?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		DeviceID string          `json:"device_id"`
		Events   []history.Event `json:"events"`
		Count    int             `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 2 || body.Events[0].Kind != history.EventRemoved {
		t.Errorf("body = %+v", body)
	}
	if hist.limit != 5 {
		t.Errorf("limit passed = %d, want 5", hist.limit)
	}
}

func TestHistoryEndpoints_Errors(t *testing.T) {
	tests := []struct {
		name    string
		history HistoryReader
		path    string
		want    int
	}{
		{"events disabled", nil, "/api/v1/devices/abcde12345/events", http.StatusServiceUnavailable},
		{"runs disabled", nil, "/api/v1/runs", http.StatusServiceUnavailable},
		{"bad limit", &fakeHistory{}, "/api/v1/runs?limit=zero", http.StatusBadRequest},
		{"negative limit", &fakeHistory{}, "/api/v1/devices/abcde12345/events?limit=-1", http.StatusBadRequest},
		{"store failure", &fakeHistory{err: errors.New("disk I/O error")}, "/api/v1/runs", http.StatusInternalServerError},
		{"run disabled", nil, "/api/v1/runs/run-1", http.StatusServiceUnavailable},
		{"unknown run", &fakeHistory{}, "/api/v1/runs/run-404", http.StatusNotFound},
		{"run store failure", &fakeHistory{err: errors.New("disk I/O error")}, "/api/v1/runs/run-1", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, Deps{History: tt.history})
			if rec := get(t, srv, tt.path); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	hist := &fakeHistory{runs: []history.Run{
		{ID: 1, RunID: "run-1", DeviceID: pixel.ID, Command: "shell id", OK: true},
	}}
	srv := testServer(t, Deps{History: hist})

	rec := get(t, srv, "/api/v1/runs")
	var body struct {
		Runs  []history.Run `json:"runs"`
		Count int           `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || body.Runs[0].RunID != "run-1" {
		t.Errorf("body = %+v", body)
	}
	if hist.limit != 0 {
		t.Errorf("limit passed = %d, want 0 for the store default", hist.limit)
	}
}

func TestGetRun(t *testing.T) {
	hist := &fakeHistory{runs: []history.Run{
		{ID: 1, RunID: "run-1", DeviceID: pixel.ID, Command: "install app.apk", OK: true},
		{ID: 2, RunID: "run-2", DeviceID: pixel.ID, Command: "shell id", OK: true},
		{ID: 3, RunID: "run-1", DeviceID: emulator.ID, Command: "install app.apk", Error: "exit status 1"},
	}}
	srv := testServer(t, Deps{History: hist})

	rec := get(t, srv, "/api/v1/runs/run-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		RunID   string        `json:"run_id"`
		Results []history.Run `json:"results"`
		Count   int           `json:"count"`
	}
	decode(t, rec, &body)
	if body.RunID != "run-1" || body.Count != 2 {
		t.Fatalf("body = %+v, want run-1 with 2 results", body)
	}
	if body.Results[0].DeviceID != pixel.ID || body.Results[1].DeviceID != emulator.ID {
		t.Errorf("results = %+v, want recording order", body.Results)
	}
	if body.Results[1].OK || body.Results[1].Error == "" {
		t.Errorf("second result = %+v, want the failure", body.Results[1])
	}
}

func TestStats(t *testing.T) {
	srv := testServer(t, Deps{
		MQTT:      fakeConn(true),
		ADBServer: fakeADBServer{},
	})

	rec := get(t, srv, "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats SystemStats
	decode(t, rec, &stats)

	if stats.Devices.Total != 3 {
		t.Errorf("Devices.Total = %d, want 3", stats.Devices.Total)
	}
	if stats.MQTT == nil || !stats.MQTT.Connected {
		t.Errorf("MQTT = %+v, want connected", stats.MQTT)
	}
	if stats.InfluxDB != nil {
		t.Errorf("InfluxDB = %+v, want omitted", stats.InfluxDB)
	}
	if stats.ADBServer == nil || stats.ADBServer.Status != "running" {
		t.Errorf("ADBServer = %+v", stats.ADBServer)
	}
	if stats.History {
		t.Error("History = true without a history store")
	}
	if stats.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

func TestReadOnly(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := get(t, srv, "/api/v1/scenes")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStartClose(t *testing.T) {
	srv := testServer(t, Deps{Config: config.APIConfig{Host: "127.0.0.1", Port: 0}})

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStart_PortInUse(t *testing.T) {
	first := testServer(t, Deps{Config: config.APIConfig{Host: "127.0.0.1", Port: 0}})
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Close()

	cfg := config.APIConfig{Host: "127.0.0.1", Port: first.Addr().(*net.TCPAddr).Port}

	second := testServer(t, Deps{Config: cfg})
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start() on a used port should fail")
	}
}

// connectWebSocket dials the test server's WebSocket endpoint.
func connectWebSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + defaultWSPath
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_DevicesChanged(t *testing.T) {
	srv := testServer(t, Deps{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	subscribe(t, ws, ChannelDevicesChanged)

	srv.Listener()(device.Changeset{Added: []device.Record{pixel}})

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDevicesChanged {
		t.Fatalf("message = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any) //nolint:errcheck // checked below
	added, _ := payload["added"].([]any)       //nolint:errcheck // checked below
	removed, _ := payload["removed"].([]any)   //nolint:errcheck // checked below
	if len(added) != 1 || removed == nil || len(removed) != 0 {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestWebSocket_OnlySubscribedChannels(t *testing.T) {
	srv := testServer(t, Deps{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws := connectWebSocket(t, ts)
	subscribe(t, ws, ChannelCommandResult)

	srv.Listener()(device.Changeset{Added: []device.Record{pixel}})
	srv.Reporter()(runner.Result{RunID: "run-1", Device: emulator, Command: "shell id", Output: "uid=0"})

	msg := readMessage(t, ws)
	if msg.EventType != ChannelCommandResult {
		t.Fatalf("first event = %q, want %q", msg.EventType, ChannelCommandResult)
	}
	payload, _ := msg.Payload.(map[string]any) //nolint:errcheck // checked below
	if payload["output"] != "uid=0" || payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	srv := testServer(t, Deps{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws := connectWebSocket(t, ts)

	tests := []struct {
		name     string
		send     any
		wantType string
	}{
		{"ping", WSMessage{Type: WSTypePing, ID: "p1"}, WSTypePong},
		{"unknown type", WSMessage{Type: "shout", ID: "u1"}, WSTypeError},
		{"subscribe without channels", WSMessage{Type: WSTypeSubscribe, ID: "s1"}, WSTypeError},
		{"subscribe to unknown channel", WSMessage{
			Type:    WSTypeSubscribe,
			ID:      "s2",
			Payload: WSSubscribePayload{Channels: []string{"devices.changed", "weather"}},
		}, WSTypeError},
		{"unsubscribe", WSMessage{
			Type:    WSTypeUnsubscribe,
			ID:      "s3",
			Payload: WSSubscribePayload{Channels: []string{ChannelCommandResult}},
		}, WSTypeResponse},
		{"not an object", "hello", WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteJSON(tt.send); err != nil {
				t.Fatalf("WriteJSON() error = %v", err)
			}
			if msg := readMessage(t, ws); msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestHub_CloseAllOnCancel(t *testing.T) {
	srv := testServer(t, Deps{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(done)
	}()

	connectWebSocket(t, ts)
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := srv.Hub().ClientCount(); n != 1 {
		t.Fatalf("ClientCount() = %d, want 1", n)
	}

	cancel()
	<-done
	if n := srv.Hub().ClientCount(); n != 0 {
		t.Errorf("ClientCount() after cancel = %d, want 0", n)
	}
}
