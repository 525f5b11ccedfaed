package influxdb

import (
	"time"

	"github.com/nerrad567/gray-logic-node/internal/supervisor"
)

// Measurements and tags written by the observer.
const (
	measurementConnection = "mqtt_connection"
	measurementPublish    = "mqtt_publish"

	tagNode   = "node"
	tagEvent  = "event"
	tagTopic  = "topic"
	tagResult = "result"

	eventAttempt      = "attempt"
	eventConnected    = "connected"
	eventDisconnected = "disconnected"
)

var _ supervisor.Observer = (*Client)(nil)

// ConnectAttempt records a reconnect attempt and the window that now applies.
func (c *Client) ConnectAttempt(next time.Duration) {
	c.write(measurementConnection,
		map[string]string{tagEvent: eventAttempt},
		map[string]any{"next_delay_ms": next.Milliseconds()},
	)
}

// Connected records a successful connection.
func (c *Client) Connected() {
	c.write(measurementConnection,
		map[string]string{tagEvent: eventConnected},
		map[string]any{"connected": 1},
	)
}

// Disconnected records a failed attempt or lost session.
func (c *Client) Disconnected(err error) {
	fields := map[string]any{"connected": 0}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.write(measurementConnection,
		map[string]string{tagEvent: eventDisconnected},
		fields,
	)
}

// Published records a successful publish.
func (c *Client) Published(topic string) {
	c.write(measurementPublish,
		map[string]string{tagTopic: topic, tagResult: "success"},
		map[string]any{"count": 1},
	)
}

// PublishFailed records a rejected publish.
func (c *Client) PublishFailed(topic string, err error) {
	c.write(measurementPublish,
		map[string]string{tagTopic: topic, tagResult: "failed"},
		map[string]any{"count": 1, "error": err.Error()},
	)
}
