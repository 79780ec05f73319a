package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down. Publish and Subscribe
	// fail fast with it rather than queueing inside paho.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed covers both subscribe and unsubscribe failures.
	ErrSubscribeFailed = errors.New("mqtt: subscription failed")

	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
