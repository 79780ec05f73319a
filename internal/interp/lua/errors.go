package lua

import "errors"

var (
	// ErrInterpreterClosed is returned by NewContext after Close.
	ErrInterpreterClosed = errors.New("lua: interpreter closed")

	// ErrRequestActive is returned by BeginRequest while a request is open.
	ErrRequestActive = errors.New("lua: request already active")

	// ErrCompile is returned when a script does not parse.
	ErrCompile = errors.New("lua: compile error")

	// ErrScript is returned when a script raises a runtime error.
	ErrScript = errors.New("lua: runtime error")

	// ErrRunTimeExceeded is returned when a run outlives the configured limit.
	ErrRunTimeExceeded = errors.New("lua: run time exceeded")
)
