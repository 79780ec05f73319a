package bridge

import "errors"

var (
	// ErrInvalidMessage is returned when a payload cannot be decoded or
	// fails validation.
	ErrInvalidMessage = errors.New("bridge: invalid message")

	// ErrUnexpectedTopic is returned for messages on topics the bridge does
	// not handle.
	ErrUnexpectedTopic = errors.New("bridge: unexpected topic")
)
