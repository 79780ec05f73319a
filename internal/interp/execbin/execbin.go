package execbin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// defaultGracefulTimeout is how long a cancelled script gets between
// SIGTERM and SIGKILL.
const defaultGracefulTimeout = 5 * time.Second

// Options configures an Interpreter.
type Options struct {
	// Binaries maps extensions, with the leading dot, to interpreter paths.
	Binaries map[string]string

	// GracefulTimeout is the pause between SIGTERM and SIGKILL.
	GracefulTimeout time.Duration

	// MaxRunTime bounds each run. 0 means no limit.
	MaxRunTime time.Duration
}

// Logger defines the logging interface for external script runs.
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

// Interpreter starts one process per RunScript call.
type Interpreter struct {
	opts   Options
	logger Logger
}

// New creates an interpreter.
func New(opts Options) *Interpreter {
	if opts.GracefulTimeout == 0 {
		opts.GracefulTimeout = defaultGracefulTimeout
	}
	binaries := make(map[string]string, len(opts.Binaries))
	for ext, bin := range opts.Binaries {
		binaries[ext] = bin
	}
	opts.Binaries = binaries
	return &Interpreter{opts: opts, logger: noopLogger{}}
}

// SetLogger sets the logger for the interpreter.
func (i *Interpreter) SetLogger(logger Logger) {
	i.logger = logger
}

// Extensions returns the handled extensions in sorted order.
func (i *Interpreter) Extensions() []string {
	exts := make([]string, 0, len(i.opts.Binaries))
	for ext := range i.opts.Binaries {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// NewContext returns a context. Contexts hold no process between runs.
func (i *Interpreter) NewContext() (interp.Context, error) {
	return &processContext{in: i}, nil
}

// Close is a no-op; running processes belong to their RunScript calls.
func (i *Interpreter) Close() error {
	return nil
}

type processContext struct {
	in     *Interpreter
	env    interp.Environment
	active bool
	closed bool
}

func (c *processContext) BeginRequest(env interp.Environment) error {
	if c.closed {
		return interp.ErrContextClosed
	}
	c.env = env
	c.active = true
	return nil
}

// RunScript runs the configured binary with the script path followed by
// argv[1:]. The returned code is the process exit status, 128+signal for a
// process killed by a signal.
func (c *processContext) RunScript(ctx context.Context, s interp.Script, argv []string) (int, error) {
	if c.closed {
		return 255, interp.ErrContextClosed
	}
	if !c.active {
		return 255, interp.ErrNoRequest
	}
	if s.Inline() {
		return 255, fmt.Errorf("%w: %w", interp.ErrStartFailed, ErrInlineSource)
	}
	binary, ok := c.in.opts.Binaries[s.Ext()]
	if !ok {
		return 255, fmt.Errorf("%w: %w: %q", interp.ErrStartFailed, ErrNoBinary, s.Ext())
	}

	if c.in.opts.MaxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.in.opts.MaxRunTime)
		defer cancel()
	}

	args := []string{s.Path}
	if len(argv) > 1 {
		args = append(args, argv[1:]...)
	}
	cmd := exec.Command(binary, args...) //nolint:gosec // Binaries come from validated configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = filepath.Dir(s.Path)
	cmd.Env = append(os.Environ(), c.environ()...)
	cmd.Stdout = c.output()
	if r := c.env.Request; r != nil && r.Body != nil {
		cmd.Stdin = r.Body
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 255, fmt.Errorf("%w: creating stderr pipe: %w", interp.ErrStartFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return 255, fmt.Errorf("%w: starting %s: %w", interp.ErrStartFailed, binary, err)
	}

	c.in.logger.Debug("script process started", "script", s.Name(), "binary", binary, "pid", cmd.Process.Pid)

	logged := make(chan struct{})
	go func() {
		defer close(logged)
		c.captureStderr(s.Name(), stderr)
	}()

	exitCh := make(chan error, 1)
	go func() {
		<-logged
		exitCh <- cmd.Wait()
	}()

	select {
	case err := <-exitCh:
		return exitStatus(err)
	case <-ctx.Done():
		c.terminate(s.Name(), cmd.Process.Pid, exitCh)
		code, _ := exitStatus(<-exitCh)
		return code, fmt.Errorf("%w: %w", ErrKilled, ctx.Err())
	}
}

func (c *processContext) StartSession() (map[string]any, error) {
	return nil, ErrSessionsUnsupported
}

func (c *processContext) EndRequest() {
	c.env = interp.Environment{}
	c.active = false
}

func (c *processContext) Close() error {
	c.EndRequest()
	c.closed = true
	return nil
}

func (c *processContext) output() io.Writer {
	if c.env.Output == nil {
		return io.Discard
	}
	return c.env.Output
}

func (c *processContext) environ() []string {
	env := []string{
		"GRAYLOGIC_DEVICE_ID=" + strconv.FormatUint(c.env.DeviceID, 10),
		"GRAYLOGIC_LISTENER_ID=" + c.env.ListenerID,
	}
	if c.env.CommandLine {
		env = append(env, "GRAYLOGIC_CLI=1")
	}
	if c.env.WebRoot != "" {
		env = append(env, "GRAYLOGIC_WEB_ROOT="+c.env.WebRoot)
	}
	if r := c.env.Request; r != nil {
		env = append(env,
			"REQUEST_METHOD="+r.Method,
			"REQUEST_URI="+r.URL.RequestURI(),
			"QUERY_STRING="+r.URL.RawQuery,
			"CONTENT_TYPE="+r.Header.Get("Content-Type"),
			"HTTP_COOKIE="+r.Header.Get("Cookie"),
		)
	}
	return env
}

// captureStderr logs each stderr line of the script.
func (c *processContext) captureStderr(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.in.logger.Warn("script stderr", "script", name, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.in.logger.Debug("stderr stream closed", "script", name, "error", err)
	}
}

// terminate signals the process group with SIGTERM, then SIGKILL when it
// outlives the grace period. The exit result is put back on exitCh.
func (c *processContext) terminate(name string, pid int, exitCh chan error) {
	c.in.logger.Info("stopping script process", "script", name, "pid", pid)

	// Negative PID signals the whole group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		c.in.logger.Warn("failed to send SIGTERM to process group", "script", name, "error", err)
	}

	select {
	case err := <-exitCh:
		exitCh <- err
		return
	case <-time.After(c.in.opts.GracefulTimeout):
		c.in.logger.Warn("graceful stop timeout, sending SIGKILL", "script", name, "timeout", c.in.opts.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		c.in.logger.Error("failed to kill process group", "script", name, "error", err)
	}
}

// exitStatus converts the result of Wait into an exit code.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return 255, fmt.Errorf("waiting for script: %w", err)
}
