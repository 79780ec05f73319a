package execbin

import "errors"

var (
	// ErrNoBinary is returned for a script whose extension has no binary.
	ErrNoBinary = errors.New("execbin: no binary for script type")

	// ErrInlineSource is returned for inline scripts, which need a file.
	ErrInlineSource = errors.New("execbin: inline source not supported")

	// ErrSessionsUnsupported is returned by StartSession.
	ErrSessionsUnsupported = errors.New("execbin: sessions not supported")

	// ErrKilled is returned when a run was cancelled and its process group
	// signalled.
	ErrKilled = errors.New("execbin: script killed")
)
