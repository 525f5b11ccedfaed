package api

import (
	"time"

	"github.com/nerrad567/gray-logic-node/internal/supervisor"
)

// WebSocket event channels.
const (
	ChannelConnection = "connection.state_changed"
	ChannelAttempt    = "connection.attempt"
	ChannelPublish    = "message.published"
	ChannelPublishErr = "message.failed"
)

var knownChannels = map[string]struct{}{
	ChannelConnection: {},
	ChannelAttempt:    {},
	ChannelPublish:    {},
	ChannelPublishErr: {},
}

// unknownChannels returns the entries of channels the hub never emits.
func unknownChannels(channels []string) []string {
	var unknown []string
	for _, ch := range channels {
		if _, ok := knownChannels[ch]; !ok {
			unknown = append(unknown, ch)
		}
	}
	return unknown
}

var _ supervisor.Observer = (*Hub)(nil)

// ConnectAttempt broadcasts a reconnect attempt and the window that now applies.
func (h *Hub) ConnectAttempt(next time.Duration) {
	h.broadcast(ChannelAttempt, map[string]any{
		"next_delay_ms": next.Milliseconds(),
	})
}

// Connected records and broadcasts the transition to connected.
func (h *Hub) Connected() {
	h.setState(connectionState{State: supervisor.StateConnected})
}

// Disconnected records and broadcasts the transition to disconnected with its cause.
func (h *Hub) Disconnected(err error) {
	st := connectionState{State: supervisor.StateDisconnected}
	if err != nil {
		st.Error = err.Error()
	}
	h.setState(st)
}

// Published broadcasts a successful publish.
func (h *Hub) Published(topic string) {
	h.broadcast(ChannelPublish, map[string]any{"topic": topic})
}

// PublishFailed broadcasts a rejected publish.
func (h *Hub) PublishFailed(topic string, err error) {
	h.broadcast(ChannelPublishErr, map[string]any{
		"topic": topic,
		"error": err.Error(),
	})
}
