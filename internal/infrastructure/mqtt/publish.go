package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// validatePublish checks publish arguments shared by both transports.
func validatePublish(topic string, qos byte, payload string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish queues a message for the specified MQTT topic without blocking.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "dev/status")
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//   - payload: The message payload (max 1MB)
//
// Retained Messages:
//   - When true, broker stores the last message for each topic
//   - New subscribers immediately receive the retained message
//   - Use for state topics (device status, system status)
//
// Returns:
//   - error: validation errors, ErrNotConnected, or a wrapped ErrPublishFailed
//     if paho has already failed the publish. Failures reported later are
//     logged.
func (c *Client) Publish(topic string, qos byte, retained bool, payload string) error {
	if err := validatePublish(topic, qos, payload); err != nil {
		return err
	}

	client, ok := c.currentClient()
	if !ok {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
	default:
		go c.awaitPublish(topic, token)
	}

	return nil
}

// awaitPublish logs the outcome of a publish that was still pending when
// Publish returned.
func (c *Client) awaitPublish(topic string, token pahomqtt.Token) {
	logger := c.getLogger()
	if !token.WaitTimeout(defaultPublishTimeout) {
		if logger != nil {
			logger.Warn("MQTT publish timed out", "topic", topic, "timeout", defaultPublishTimeout)
		}
		return
	}
	if err := token.Error(); err != nil && logger != nil {
		logger.Error("MQTT publish failed", "topic", topic, "error", err)
	}
}
