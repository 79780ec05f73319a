package interp

import "errors"

var (
	// ErrContextClosed is returned when a closed context is used.
	ErrContextClosed = errors.New("interp: context closed")

	// ErrNoRequest is returned when RunScript or StartSession is called
	// outside BeginRequest/EndRequest.
	ErrNoRequest = errors.New("interp: no active request")

	// ErrUnsupportedScript is returned when no interpreter handles a file extension.
	ErrUnsupportedScript = errors.New("interp: unsupported script type")

	// ErrStartFailed wraps failures that happen before any script code ran,
	// such as a missing binary or a process that could not be spawned.
	ErrStartFailed = errors.New("interp: script not started")

	// ErrNoHTTPRequest is returned by StartSession when the environment
	// carries no HTTP request.
	ErrNoHTTPRequest = errors.New("interp: session requires an HTTP request")
)
