package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/engine"
)

// maxCapturedOutput caps the output returned by a synchronous execution.
const maxCapturedOutput = 64 << 10

// ExecuteRequest is the body of POST /api/v1/scripts/execute.
type ExecuteRequest struct {
	// Script is a path relative to the scripts directory.
	Script string `json:"script,omitempty"`

	// Source is inline Lua source, used when Script is empty.
	Source string `json:"source,omitempty"`

	Args       string `json:"args,omitempty"`
	DeviceID   uint64 `json:"device_id,omitempty"`
	KeepAlive  bool   `json:"keep_alive,omitempty"`
	IntervalMS int64  `json:"interval_ms,omitempty"`

	// Wait blocks until the script exits and returns its status and output.
	Wait bool `json:"wait,omitempty"`
}

// ExecuteResponse is returned by a waited execution.
type ExecuteResponse struct {
	ExitCode  int    `json:"exit_code"`
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`

	// Error describes a script that failed while running.
	Error string `json:"error,omitempty"`
}

func (req ExecuteRequest) validate() string {
	switch {
	case req.Script == "" && req.Source == "":
		return "script or source is required"
	case req.Script != "" && req.Source != "":
		return "script and source are mutually exclusive"
	case req.Script != "" && !filepath.IsLocal(req.Script):
		return "script must be a path inside the scripts directory"
	case req.KeepAlive && req.Wait:
		return "keep-alive executions cannot be waited for"
	case req.IntervalMS < 0:
		return "interval_ms must not be negative"
	}
	return ""
}

// handleListScripts returns every script file under the scripts directory.
func (s *Server) handleListScripts(w http.ResponseWriter, _ *http.Request) {
	scripts, err := s.engine.ListScripts()
	if err != nil {
		if errors.Is(err, engine.ErrShuttingDown) {
			writeUnavailable(w, "engine is shutting down")
			return
		}
		s.logger.Error("failed to list scripts", "error", err)
		writeInternalError(w, "failed to list scripts")
		return
	}
	if scripts == nil {
		scripts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": scripts, "count": len(scripts)})
}

// handleExecuteScript starts a script. Without "wait" it answers 202 as soon
// as the script is admitted; the run outlives the HTTP request.
func (s *Server) handleExecuteScript(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, codeValidation, msg)
		return
	}

	req := engine.Request{
		Path:      filepath.FromSlash(body.Script),
		Source:    body.Source,
		Args:      body.Args,
		DeviceID:  body.DeviceID,
		KeepAlive: body.KeepAlive,
		Interval:  time.Duration(body.IntervalMS) * time.Millisecond,
	}

	if !body.Wait {
		if err := s.engine.ExecuteAsync(context.WithoutCancel(r.Context()), req); err != nil {
			s.writeExecuteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
		return
	}

	out := &limitedBuffer{limit: maxCapturedOutput}
	req.Output = out
	code, err := s.engine.ExecuteSync(r.Context(), req)
	if err != nil && !engine.IsScriptError(err) {
		s.writeExecuteError(w, r, err)
		return
	}

	resp := ExecuteResponse{ExitCode: code}
	resp.Output, resp.Truncated = out.snapshot()
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrAdmissionRefused):
		writeUnavailable(w, "too many scripts are running")
	case errors.Is(err, engine.ErrShuttingDown):
		writeUnavailable(w, "engine is shutting down")
	case errors.Is(err, engine.ErrInvalidRequest):
		writeBadRequest(w, "invalid execution request")
	case errors.Is(err, engine.ErrScriptNotFound):
		writeNotFound(w, "script not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; the script keeps running.
		s.logger.Debug("execution wait abandoned", "error", err, "request_id", RequestID(r.Context()))
	default:
		s.logger.Error("script execution failed", "error", err, "request_id", RequestID(r.Context()))
		writeInternalError(w, "script execution failed")
	}
}

// handleEngineStats returns the current slot usage.
func (s *Server) handleEngineStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// handleCheckSession reports whether a session ID is authorized.
func (s *Server) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "session_id is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authorized": s.engine.CheckSessionID(r.Context(), body.SessionID),
	})
}

// limitedBuffer keeps the first limit bytes written to it. Writes never fail
// so a chatty script is not disturbed.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
