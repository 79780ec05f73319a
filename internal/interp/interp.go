// Package interp defines the boundary between the script engine and the
// interpreters that actually run scripts.
//
// An Interpreter is process-wide. Each execution asks it for a fresh Context,
// which is used by exactly one goroutine and never shared. A Context serves
// one or more requests, each bracketed by BeginRequest and EndRequest.
package interp

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

// Interpreter creates per-execution contexts.
type Interpreter interface {
	NewContext() (Context, error)
	Close() error
}

// Context is one execution's private interpreter state. Not safe for
// concurrent use.
type Context interface {
	// BeginRequest prepares the context for a run with the given environment.
	BeginRequest(env Environment) error

	// RunScript executes s with argv. The returned code is the script's exit
	// status. A non-nil error means the script failed at runtime; the code
	// is still meaningful.
	RunScript(ctx context.Context, s Script, argv []string) (int, error)

	// StartSession loads the session named by the request's session cookie
	// and returns its data. Requires an HTTP request in the environment.
	StartSession() (map[string]any, error)

	// EndRequest flushes request state (session data, output).
	EndRequest()

	Close() error
}

// SessionCookie is the cookie carrying the session ID.
const SessionCookie = "GLSESSID"

// Script identifies what to run: a file, or inline source when Path is empty.
type Script struct {
	Path   string
	Source string
}

// Inline reports whether the script is inline source.
func (s Script) Inline() bool {
	return s.Path == ""
}

// Ext returns the lower-case file extension, or ".lua" for inline source.
func (s Script) Ext() string {
	if s.Inline() {
		return ".lua"
	}
	return strings.ToLower(filepath.Ext(s.Path))
}

// Name is a short label for logs and metrics.
func (s Script) Name() string {
	if s.Inline() {
		return "<inline>"
	}
	return filepath.Base(s.Path)
}

// Environment describes the request a context is about to serve.
type Environment struct {
	// CommandLine is set for runs started from the CLI.
	CommandLine bool

	// DeviceID is the device the run is bound to, 0 for none.
	DeviceID uint64

	// ListenerID is the name under which the script may subscribe to events.
	ListenerID string

	// Output receives everything the script prints.
	Output io.Writer

	// Request and Response are set for web-request runs and session checks.
	Request  *http.Request
	Response http.ResponseWriter

	// WebRoot is the directory web scripts are served from.
	WebRoot string
}
