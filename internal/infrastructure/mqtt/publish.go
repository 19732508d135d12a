package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single message at 1MB, a common broker limit.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic.
//
// Parameters:
//   - topic: Topic to publish to (e.g., "adbmux/devices/changes")
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for new subscribers.
//     Use it for state topics, not for events.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or a
//     wrapped ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}
