package engine

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// webErrorMessage is written to the client when a web script cannot run.
const webErrorMessage = "Error executing script. Check log for more details."

// ExecuteWebRequest runs the web script at path on the caller's goroutine,
// writing its output to w. It does not occupy an execution slot.
//
// Returns:
//   - -1 if path does not exist or resolves outside the web root (the
//     interpreter is not touched)
//   - 1 if the script could not be run (an error message and a 500 are
//     written to w)
//   - otherwise the script's exit status
func (e *Engine) ExecuteWebRequest(ctx context.Context, path string, w http.ResponseWriter, r *http.Request) (code int) {
	rel, err := filepath.Rel(e.opts.WebRoot, path)
	if err != nil || !filepath.IsLocal(rel) {
		return -1
	}
	info, err := statWithin(e.opts.WebRoot, rel)
	if err != nil || info.IsDir() {
		return -1
	}
	if e.ShuttingDown() {
		http.Error(w, webErrorMessage, http.StatusServiceUnavailable)
		return 1
	}

	script := interp.Script{Path: path}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("web script failed unexpectedly", "path", path, "panic", rec)
			http.Error(w, webErrorMessage, http.StatusInternalServerError)
			code = 1
		}
	}()

	ictx, err := e.interp.NewContext()
	if err != nil {
		e.critical("could not create interpreter context", "script", script.Name(), "error", err)
		http.Error(w, webErrorMessage, http.StatusInternalServerError)
		return 1
	}
	defer e.closeContext(ictx)

	listener := "web-" + uuid.NewString()
	defer e.router.Unsubscribe(listener)

	env := interp.Environment{
		ListenerID: listener,
		Output:     w,
		Request:    r,
		Response:   w,
		WebRoot:    e.opts.WebRoot,
	}
	if err := ictx.BeginRequest(env); err != nil {
		e.critical("could not start interpreter request", "script", script.Name(), "error", err)
		http.Error(w, webErrorMessage, http.StatusInternalServerError)
		return 1
	}

	start := e.now()
	code, runErr := ictx.RunScript(ctx, script, []string{argvZero(script, 0)})
	ictx.EndRequest()

	e.logExit(script, 0, code, runErr)
	e.recordExecution(script, ModeWeb, code, e.now().Sub(start))
	if runErr != nil && !IsScriptError(runErr) && ctx.Err() == nil {
		// The script never ran, so nothing has been written yet.
		http.Error(w, webErrorMessage, http.StatusInternalServerError)
		return 1
	}
	return code
}

// SupportsScript reports whether the interpreter handles the file type of
// path. Interpreters that cannot tell are assumed to handle everything.
func (e *Engine) SupportsScript(path string) bool {
	if s, ok := e.interp.(interface{ Supports(ext string) bool }); ok {
		return s.Supports(interp.Script{Path: path}.Ext())
	}
	return true
}

// CheckSessionID reports whether the session named id is authorized, that
// is whether its "authorized" value is boolean true. Any failure is false.
func (e *Engine) CheckSessionID(ctx context.Context, id string) (authorized bool) {
	if e.ShuttingDown() || id == "" {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("session check failed unexpectedly", "panic", rec)
			authorized = false
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	if err != nil {
		e.logger.Error("could not build session request", "error", err)
		return false
	}
	req.Header.Set("Cookie", fmt.Sprintf("%s=%s", interp.SessionCookie, id))

	ictx, err := e.interp.NewContext()
	if err != nil {
		e.critical("could not create interpreter context", "error", err)
		return false
	}
	defer e.closeContext(ictx)

	w := newDiscardResponse()
	if err := ictx.BeginRequest(interp.Environment{Output: w, Request: req, Response: w, WebRoot: e.opts.WebRoot}); err != nil {
		e.critical("could not start interpreter request", "error", err)
		return false
	}
	defer ictx.EndRequest()

	session, err := ictx.StartSession()
	if err != nil {
		e.logger.Warn("could not start session", "error", err)
		return false
	}
	ok, isBool := session["authorized"].(bool)
	return isBool && ok
}

// discardResponse is an http.ResponseWriter for requests nobody reads.
type discardResponse struct {
	header http.Header
}

func newDiscardResponse() *discardResponse {
	return &discardResponse{header: make(http.Header)}
}

func (d *discardResponse) Header() http.Header         { return d.header }
func (d *discardResponse) Write(p []byte) (int, error) { return len(p), nil }
func (d *discardResponse) WriteHeader(int)             {}
