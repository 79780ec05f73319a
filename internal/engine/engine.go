package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// Default timings.
const (
	defaultReapInterval      = 10 * time.Second
	defaultKeepAliveInterval = 5000 * time.Millisecond
	shutdownPollInterval     = time.Second
	keepAliveSleepSlice      = 100 * time.Millisecond
)

// Logger defines the logging interface used by the engine.
// Compatible with *logging.Logger (slog-based).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// criticalLogger is implemented by loggers with a level above error.
type criticalLogger interface {
	Critical(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceChecker answers whether a device is still in the catalog.
type DeviceChecker interface {
	Exists(id uint64) bool
}

// Metrics receives execution telemetry.
type Metrics interface {
	RecordExecution(script, mode string, exitCode int, duration time.Duration)
	RecordSlots(stats Stats)
}

// Execution modes reported to Metrics.
const (
	ModeAsync     = "async"
	ModeSync      = "sync"
	ModeKeepAlive = "keepalive"
	ModeWeb       = "web"
)

// Request describes one script execution.
type Request struct {
	// Path is the script file, relative to the scripts directory unless absolute.
	Path string

	// Source is inline Lua source. Used when Path is empty.
	Source string

	// Args is the argument string, split and expanded like a shell command line.
	Args string

	// DeviceID binds the execution to a device. 0 means not device-bound.
	DeviceID uint64

	// KeepAlive re-runs the script every Interval until stopped.
	KeepAlive bool
	Interval  time.Duration

	// CommandLine marks runs started from the CLI.
	CommandLine bool

	// Output, when set, also receives everything the script prints.
	Output io.Writer
}

// Options configures an Engine.
type Options struct {
	ScriptsDir string
	WebRoot    string

	// ThreadMax is the hard cap on tracked executions.
	ThreadMax int

	// ReapInterval is the period of the background reaper started by Run.
	ReapInterval time.Duration

	// KeepAliveDefaultInterval is the pause between keep-alive runs when a
	// request has no interval.
	KeepAliveDefaultInterval time.Duration
}

// Stats is a snapshot of engine load.
type Stats struct {
	Live          int           `json:"live"`
	Running       int           `json:"running"`
	Max           int           `json:"max"`
	SoftThreshold int           `json:"soft_threshold"`
	Listeners     int           `json:"listeners"`
	Oldest        time.Duration `json:"oldest_ns"`
	ShuttingDown  bool          `json:"shutting_down"`
}

// Engine runs scripts in bounded execution slots.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Engine struct {
	opts     Options
	interp   interp.Interpreter
	router   *events.Router
	devices  DeviceChecker
	registry *Registry
	gate     *Gate

	// admitMu orders admissions against the start of shutdown so no slot is
	// allocated after Shutdown has begun draining.
	admitMu      sync.RWMutex
	closing      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	metrics Metrics
	logger  Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates an engine.
//
// Parameters:
//   - opts: Directories and limits
//   - in: Interpreter used for every execution
//   - router: Event router scripts subscribe to
//   - devices: Device catalog for keep-alive stop checks (may be nil)
//
// Returns:
//   - *Engine: Ready engine; call Run to start background reaping
//   - error: If the options are invalid
func New(opts Options, in interp.Interpreter, router *events.Router, devices DeviceChecker) (*Engine, error) {
	if opts.ThreadMax < 1 {
		return nil, fmt.Errorf("thread max must be positive, got %d", opts.ThreadMax)
	}
	if in == nil || router == nil {
		return nil, errors.New("interpreter and router are required")
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}
	if opts.KeepAliveDefaultInterval <= 0 {
		opts.KeepAliveDefaultInterval = defaultKeepAliveInterval
	}

	registry := NewRegistry()
	return &Engine{
		opts:     opts,
		interp:   in,
		router:   router,
		devices:  devices,
		registry: registry,
		gate:     NewGate(registry, opts.ThreadMax),
		logger:   noopLogger{},
		now:      time.Now,
		sleep:    time.Sleep,
	}, nil
}

// SetLogger sets the logger for the engine, its registry and gate.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
	e.registry.SetLogger(logger)
	e.gate.SetLogger(logger)
}

// SetMetrics sets the telemetry sink.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// Run reaps finished executions every ReapInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.registry.Reap(); n > 0 {
				e.logger.Debug("reaped finished executions", "count", n)
			}
			if e.metrics != nil {
				e.metrics.RecordSlots(e.Stats())
			}
		}
	}
}

// Shutdown stops admissions, tells keep-alive loops and waiting listeners to
// stop, and reaps once per second until every execution is gone. Only then
// is the interpreter closed. If ctx ends first the interpreter is left open
// and the error says how many executions remain.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.admitMu.Lock()
		e.closing.Store(true)
		e.admitMu.Unlock()
		e.router.StopAll()
		e.shutdownErr = e.drain(ctx)
		if e.shutdownErr == nil {
			e.shutdownErr = e.interp.Close()
		}
	})
	return e.shutdownErr
}

func (e *Engine) drain(ctx context.Context) error {
	for {
		e.registry.Reap()
		remaining := e.registry.LiveCount()
		if remaining == 0 {
			return nil
		}
		e.logger.Info("waiting for script executions to finish", "remaining", remaining)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d executions still running", ctx.Err(), remaining)
		case <-time.After(shutdownPollInterval):
		}
	}
}

// ShuttingDown reports whether Shutdown has been called.
func (e *Engine) ShuttingDown() bool {
	return e.closing.Load()
}

// Reap joins finished executions now.
func (e *Engine) Reap() int {
	return e.registry.Reap()
}

// Stats returns a snapshot of engine load.
func (e *Engine) Stats() Stats {
	return Stats{
		Live:          e.registry.LiveCount(),
		Running:       e.registry.Running(),
		Max:           e.gate.Max(),
		SoftThreshold: e.gate.SoftThreshold(),
		Listeners:     e.router.Len(),
		Oldest:        e.registry.Oldest(),
		ShuttingDown:  e.ShuttingDown(),
	}
}

// ListScripts returns every file under the scripts directory, recursively,
// as slash-separated paths relative to it.
func (e *Engine) ListScripts() ([]string, error) {
	if e.ShuttingDown() {
		return nil, ErrShuttingDown
	}

	var scripts []string
	err := filepath.WalkDir(e.opts.ScriptsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(e.opts.ScriptsDir, path)
		if err != nil {
			return err
		}
		scripts = append(scripts, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	sort.Strings(scripts)
	return scripts, nil
}

// resolve turns a request into an interpreter script, checking that a file
// script exists.
func (e *Engine) resolve(req Request) (interp.Script, error) {
	if req.Path == "" {
		if req.Source == "" {
			return interp.Script{}, ErrInvalidRequest
		}
		return interp.Script{Source: req.Source}, nil
	}

	path := req.Path
	var (
		info fs.FileInfo
		err  error
	)
	if filepath.IsAbs(path) {
		info, err = os.Stat(path)
	} else {
		info, err = statWithin(e.opts.ScriptsDir, path)
		path = filepath.Join(e.opts.ScriptsDir, path)
	}
	if err != nil || info.IsDir() {
		return interp.Script{Path: path}, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
	}
	return interp.Script{Path: path}, nil
}

// statWithin stats rel under dir. Paths that leave dir, whether through ".."
// or a symlink pointing outside it, are an error.
func statWithin(dir, rel string) (fs.FileInfo, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return root.Stat(rel)
}

func (e *Engine) critical(msg string, args ...any) {
	if cl, ok := e.logger.(criticalLogger); ok {
		cl.Critical(msg, args...)
		return
	}
	e.logger.Error(msg, args...)
}

func (e *Engine) recordExecution(script interp.Script, mode string, code int, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordExecution(script.Name(), mode, code, d)
	}
}

// MultiMetrics fans telemetry out to several sinks.
type MultiMetrics []Metrics

// RecordExecution implements Metrics.
func (m MultiMetrics) RecordExecution(script, mode string, exitCode int, duration time.Duration) {
	for _, sink := range m {
		sink.RecordExecution(script, mode, exitCode, duration)
	}
}

// RecordSlots implements Metrics.
func (m MultiMetrics) RecordSlots(stats Stats) {
	for _, sink := range m {
		sink.RecordSlots(stats)
	}
}
