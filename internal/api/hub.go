package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/supervisor"
)

// Hub fans supervisor events out to WebSocket sessions and remembers the
// last connection state so new subscribers start from a snapshot.
//
// Hub implements http.Handler for the stream endpoint and
// supervisor.Observer for the event source.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*session]struct{}

	// stateMu orders state updates against subscriptions: a subscriber sees
	// either the snapshot or the event, never a stale snapshot after it.
	stateMu sync.RWMutex
	state   connectionState
}

// connectionState is the payload of ChannelConnection events.
type connectionState struct {
	State supervisor.State `json:"state"`
	Error string           `json:"error,omitempty"`
}

// NewHub creates a hub. The node starts disconnected.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Read-only status stream on a node-local port.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
		state:    connectionState{State: supervisor.StateDisconnected},
	}
}

// Run blocks until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[*session]struct{})
	h.mu.Unlock()

	for s := range sessions {
		s.close()
	}
}

// ServeHTTP upgrades the request and runs a session until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(h, conn)
	h.add(s)

	go s.writeLoop()
	go s.readLoop()
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()

	s.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// snapshot returns the last connection state.
func (h *Hub) snapshot() connectionState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// setState records a connection transition and broadcasts it.
func (h *Hub) setState(st connectionState) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state = st
	h.broadcast(ChannelConnection, st)
}

// subscribe adds channels to s. A ChannelConnection subscriber is sent the
// ack followed by the current state.
func (h *Hub) subscribe(s *session, id string, channels []string) {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()

	s.subscribe(channels)
	s.reply(id, FrameResponse, map[string]any{"subscribed": channels})

	for _, ch := range channels {
		if ch == ChannelConnection {
			s.enqueue(eventFrame(ChannelConnection, h.state))
			break
		}
	}
}

// broadcast queues an event for every session subscribed to channel.
// Slow sessions drop events rather than stall the supervisor.
func (h *Hub) broadcast(channel string, payload any) {
	data := eventFrame(channel, payload)
	if data == nil {
		h.logger.Error("failed to encode event", "channel", channel)
		return
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		if s.subscribed(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(data)
	}
}

func eventFrame(channel string, payload any) []byte {
	data, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return nil
	}
	return data
}
