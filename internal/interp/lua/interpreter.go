package lua

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/interp"
	"github.com/nerrad567/gray-logic-scripts/internal/session"
)

// Logger defines the logging interface used by the interpreter and by the
// log.* functions scripts call.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceChecker answers devices.exists.
type DeviceChecker interface {
	Exists(id uint64) bool
}

// Options configures an Interpreter. Every dependency is optional; scripts
// calling into a missing one get a Lua error (events) or a negative answer
// (devices, sessions are then kept in memory for the request only).
type Options struct {
	Router   *events.Router
	Devices  DeviceChecker
	Sessions session.Store

	// MaxRunTime bounds each RunScript call. 0 means no limit.
	MaxRunTime time.Duration

	// CallStackSize is the Lua call stack depth. 0 uses the gopher-lua default.
	CallStackSize int
}

// Interpreter is the process-wide Lua interpreter. It holds no Lua state
// itself; each context gets its own LState.
type Interpreter struct {
	opts   Options
	logger Logger

	mu     sync.Mutex
	closed bool
}

// New creates an interpreter.
func New(opts Options) *Interpreter {
	return &Interpreter{opts: opts, logger: noopLogger{}}
}

// SetLogger sets the logger for the interpreter and its contexts.
func (i *Interpreter) SetLogger(logger Logger) {
	i.logger = logger
}

// NewContext creates a context with a fresh sandboxed LState.
func (i *Interpreter) NewContext() (interp.Context, error) {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return nil, ErrInterpreterClosed
	}
	return newScriptContext(i), nil
}

// Close stops the interpreter from creating contexts. Contexts already
// handed out stay usable until their owners close them.
func (i *Interpreter) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}
