package api

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameResponse    = "response"
	FrameError       = "error"

	sessionQueueSize = 256
)

// Frame is a single WebSocket message in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ChannelsPayload is the payload of subscribe and unsubscribe frames.
type ChannelsPayload struct {
	Channels []string `json:"channels"`
}

// request is an inbound frame with its payload left undecoded.
type request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// session is one WebSocket client. Outbound frames go through a bounded
// queue drained by writeLoop; the queue is closed exactly once.
type session struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	out      chan []byte
	closed   bool
	channels map[string]struct{}
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		hub:      h,
		conn:     conn,
		out:      make(chan []byte, sessionQueueSize),
		channels: make(map[string]struct{}),
	}
}

// enqueue queues data unless the session is closed or its queue is full.
func (s *session) enqueue(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- data:
	default:
	}
}

func (s *session) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
}

func (s *session) subscribe(channels []string) {
	s.mu.Lock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *session) unsubscribe(channels []string) {
	s.mu.Lock()
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	s.mu.Unlock()
}

func (s *session) subscribed(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *session) reply(id, frameType string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	s.enqueue(data)
}

func (s *session) fail(id, message string) {
	s.reply(id, FrameError, map[string]string{"message": message})
}

func (s *session) deadline() time.Time {
	cfg := s.hub.cfg
	return time.Now().Add(time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second)
}

// readLoop dispatches inbound frames until the connection fails, then
// removes the session from the hub.
func (s *session) readLoop() {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	if s.hub.cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(int64(s.hub.cfg.MaxMessageSize))
	}
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(s.deadline())
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.deadline())
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(s.deadline())
		s.dispatch(data)
	}
}

// writeLoop drains the queue and pings on PingInterval. It exits when the
// queue is closed or a write fails.
func (s *session) writeLoop() {
	cfg := s.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-s.out:
			if !ok {
				//nolint:errcheck // Best-effort close frame
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) dispatch(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case FrameSubscribe:
		channels, ok := s.channelsOf(req)
		if !ok {
			return
		}
		if unknown := unknownChannels(channels); len(unknown) > 0 {
			s.fail(req.ID, "unknown channels: "+strings.Join(unknown, ", "))
			return
		}
		s.hub.subscribe(s, req.ID, channels)
		s.hub.logger.Debug("websocket client subscribed", "channels", channels)
	case FrameUnsubscribe:
		channels, ok := s.channelsOf(req)
		if !ok {
			return
		}
		s.unsubscribe(channels)
		s.reply(req.ID, FrameResponse, map[string]any{"unsubscribed": channels})
	case FramePing:
		s.reply(req.ID, FramePong, nil)
	default:
		s.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// channelsOf decodes a non-empty channel list, replying with an error
// frame when it cannot.
func (s *session) channelsOf(req request) ([]string, bool) {
	var p ChannelsPayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &p) != nil {
		s.fail(req.ID, "invalid "+req.Type+" payload")
		return nil, false
	}
	if len(p.Channels) == 0 {
		s.fail(req.ID, "no channels given")
		return nil, false
	}
	return p.Channels, true
}
