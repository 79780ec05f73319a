package session

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID does not exist.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrInvalidID is returned for an empty or malformed session ID.
	ErrInvalidID = errors.New("session: invalid id")
)
