package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/adbmux/internal/infrastructure/config"
	"github.com/nerrad567/adbmux/internal/infrastructure/logging"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// outboxSize is how many frames may queue for one slow client before
	// further events to it are dropped.
	outboxSize = 256

	defaultMaxMessageSize = 8192
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
)

// channels lists what clients may subscribe to.
var channels = map[string]struct{}{
	ChannelDevicesChanged: {},
	ChannelCommandResult:  {},
}

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// subscriber is one connected WebSocket client.
type subscriber struct {
	conn   *websocket.Conn
	outbox chan []byte
	closed bool // guarded by Hub.mu; outbox is closed once this is set
}

// Hub fans device and command events out to WebSocket subscribers.
//
// Subscriptions are indexed by channel so a broadcast only visits the
// clients that asked for it. Frames are queued without blocking; a client
// whose outbox is full misses the event.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	members map[*subscriber]struct{}
	byChan  map[string]map[*subscriber]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API serves no credentials, so cross-origin dashboards may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero config values get defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		members: make(map[*subscriber]struct{}),
		byChan:  make(map[string]map[*subscriber]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.members {
		h.dropLocked(sub)
		sub.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast sends payload as an event on channel to its subscribers.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeFrame(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var sent, dropped int
	for sub := range h.byChan[channel] {
		if h.enqueueLocked(sub, frame) {
			sent++
		} else {
			dropped++
		}
	}
	if sent+dropped > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", sent, "dropped", dropped)
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.members[sub] = struct{}{}
	n := len(h.members)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	h.dropLocked(sub)
	n := len(h.members)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// dropLocked forgets sub and closes its outbox exactly once.
func (h *Hub) dropLocked(sub *subscriber) {
	delete(h.members, sub)
	for ch, subs := range h.byChan {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.byChan, ch)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.outbox)
	}
}

// enqueueLocked queues frame for sub without blocking. The caller holds
// h.mu in either mode, which keeps the outbox open for the send.
func (h *Hub) enqueueLocked(sub *subscriber, frame []byte) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.outbox <- frame:
		return true
	default:
		return false
	}
}

// reply queues a direct response to one client.
func (h *Hub) reply(sub *subscriber, msg WSMessage) {
	frame, err := encodeFrame(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	h.enqueueLocked(sub, frame)
	h.mu.RUnlock()
}

// setChannels subscribes or unsubscribes sub.
func (h *Hub) setChannels(sub *subscriber, names []string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[sub]; !ok {
		return
	}
	for _, name := range names {
		if !on {
			delete(h.byChan[name], sub)
			continue
		}
		if h.byChan[name] == nil {
			h.byChan[name] = make(map[*subscriber]struct{})
		}
		h.byChan[name][sub] = struct{}{}
	}
}

// handleWebSocket upgrades the request and serves the client until it
// disconnects or the hub shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, outbox: make(chan []byte, outboxSize)}
	s.hub.add(sub)

	go s.hub.writeLoop(sub)
	go s.hub.readLoop(sub)
}

// readLoop handles client requests. Any frame from the client, not only a
// pong, extends the read deadline.
func (h *Hub) readLoop(sub *subscriber) {
	defer func() {
		h.remove(sub)
		sub.conn.Close()
	}()

	idle := h.cfg.PingInterval + h.cfg.PongTimeout
	sub.conn.SetReadLimit(h.cfg.MaxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(idle)) //nolint:errcheck // a failed deadline surfaces as a read error
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(idle)) //nolint:errcheck // a failed deadline surfaces as a read error
		h.handleRequest(sub, data)
	}
}

// writeLoop drains the outbox and keeps the connection alive with pings.
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.PongTimeout)) //nolint:errcheck // a failed deadline surfaces as a write error
		return sub.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-sub.outbox:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest answers one client frame.
func (h *Hub) handleRequest(sub *subscriber, data []byte) {
	var req struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(sub, errorMessage("", "invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		h.reply(sub, WSMessage{Type: WSTypePong, ID: req.ID})
	case WSTypeSubscribe, WSTypeUnsubscribe:
		if err := validateChannels(req.Payload.Channels); err != nil {
			h.reply(sub, errorMessage(req.ID, err.Error()))
			return
		}
		on := req.Type == WSTypeSubscribe
		h.setChannels(sub, req.Payload.Channels, on)

		key := "unsubscribed"
		if on {
			key = "subscribed"
		}
		h.reply(sub, WSMessage{
			Type:    WSTypeResponse,
			ID:      req.ID,
			Payload: map[string][]string{key: req.Payload.Channels},
		})
	default:
		h.reply(sub, errorMessage(req.ID, "unknown message type: "+req.Type))
	}
}

func validateChannels(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("payload must list channels")
	}
	for _, name := range names {
		if _, ok := channels[name]; !ok {
			return fmt.Errorf("unknown channel: %s", name)
		}
	}
	return nil
}

func errorMessage(id, text string) WSMessage {
	return WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": text}}
}

// encodeFrame stamps msg with the current time and encodes it.
func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}
