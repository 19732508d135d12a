package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/adbmux/internal/adb"
	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/history"
	"github.com/nerrad567/adbmux/internal/infrastructure/config"
	"github.com/nerrad567/adbmux/internal/infrastructure/logging"
	"github.com/nerrad567/adbmux/internal/runner"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket event channels.
const (
	ChannelDevicesChanged = "devices.changed"
	ChannelCommandResult  = "commands.result"
)

// DeviceSource is the registry view the API reads. *device.Registry
// satisfies it.
type DeviceSource interface {
	All() []device.Record
	Online() []device.Record
	Offline() []device.Record
	Get(id string) (device.Record, error)
	Stats() device.Stats
}

// HistoryReader is the part of the history store the API exposes.
// *history.Store satisfies it.
type HistoryReader interface {
	DeviceEvents(ctx context.Context, deviceID string, limit int) ([]history.Event, error)
	Runs(ctx context.Context, limit int) ([]history.Run, error)
	RunResults(ctx context.Context, runID string) ([]history.Run, error)
}

// ConnectionChecker reports whether an optional backend is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// ServerStatter reports the state of the adb server. *adb.Server satisfies it.
type ServerStatter interface {
	Stats() adb.ServerStats
}

// Deps holds the dependencies required by the API server.
// Devices and Logger are required; the rest are optional.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Devices   DeviceSource
	History   HistoryReader
	MQTT      ConnectionChecker
	InfluxDB  ConnectionChecker
	ADBServer ServerStatter
	Version   string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	devices   DeviceSource
	history   HistoryReader
	mqtt      ConnectionChecker
	influx    ConnectionChecker
	adbServer ServerStatter
	version   string
	startTime time.Time
	hub       *Hub

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but Handler, Listener
// and Reporter are usable immediately.
//
// Parameters:
//   - deps: Required dependencies (logger, device source) plus optional ones
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		history:   deps.History,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		adbServer: deps.ADBServer,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so a port already in use is
// reported here rather than logged later.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}
	s.addr = ln.Addr()

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.addr.String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Closing the hub ends every WebSocket, which Shutdown does not track.
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listener returns a change listener that broadcasts every changeset to
// WebSocket clients subscribed to "devices.changed".
func (s *Server) Listener() func(device.Changeset) {
	return func(cs device.Changeset) {
		s.hub.Broadcast(ChannelDevicesChanged, changesetPayload(cs))
	}
}

// Reporter returns a runner reporter that broadcasts each result to
// clients subscribed to "commands.result".
func (s *Server) Reporter() runner.Reporter {
	return func(res runner.Result) {
		s.hub.Broadcast(ChannelCommandResult, resultPayload(res))
	}
}
