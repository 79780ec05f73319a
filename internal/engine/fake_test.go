package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// runFunc is the behaviour of a fake script run.
type runFunc func(ctx context.Context, env interp.Environment, s interp.Script, argv []string) (int, error)

// fakeInterp is an in-memory interpreter whose scripts are Go functions.
type fakeInterp struct {
	run        runFunc
	session    map[string]any
	sessionErr error
	newErr     error
	beginErr   error

	newContexts atomic.Int32
	runs        atomic.Int32
	closed      atomic.Bool

	mu      sync.Mutex
	cookies []string
	argvs   [][]string
}

func (f *fakeInterp) NewContext() (interp.Context, error) {
	f.newContexts.Add(1)
	if f.newErr != nil {
		return nil, f.newErr
	}
	return &fakeContext{owner: f}, nil
}

func (f *fakeInterp) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeContext struct {
	owner *fakeInterp
	env   *interp.Environment
}

func (c *fakeContext) BeginRequest(env interp.Environment) error {
	if c.owner.beginErr != nil {
		return c.owner.beginErr
	}
	c.env = &env
	return nil
}

func (c *fakeContext) RunScript(ctx context.Context, s interp.Script, argv []string) (int, error) {
	if c.env == nil {
		return 1, interp.ErrNoRequest
	}
	c.owner.runs.Add(1)
	c.owner.mu.Lock()
	c.owner.argvs = append(c.owner.argvs, argv)
	c.owner.mu.Unlock()
	if c.owner.run == nil {
		return 0, nil
	}
	return c.owner.run(ctx, *c.env, s, argv)
}

func (c *fakeContext) StartSession() (map[string]any, error) {
	if c.env == nil || c.env.Request == nil {
		return nil, interp.ErrNoHTTPRequest
	}
	if cookie, err := c.env.Request.Cookie(interp.SessionCookie); err == nil {
		c.owner.mu.Lock()
		c.owner.cookies = append(c.owner.cookies, cookie.Value)
		c.owner.mu.Unlock()
	}
	if c.owner.sessionErr != nil {
		return nil, c.owner.sessionErr
	}
	return c.owner.session, nil
}

func (c *fakeContext) EndRequest()  { c.env = nil }
func (c *fakeContext) Close() error { return nil }

// logEntry is one captured log call.
type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any)    { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)     { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)     { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any)    { l.add("error", msg, args) }
func (l *captureLogger) Critical(msg string, args ...any) { l.add("critical", msg, args) }

// find returns the first entry with msg.
func (l *captureLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (e logEntry) arg(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}

// fakeDevices is a DeviceChecker backed by a set.
type fakeDevices struct {
	mu  sync.Mutex
	ids map[uint64]bool
}

func newFakeDevices(ids ...uint64) *fakeDevices {
	d := &fakeDevices{ids: map[uint64]bool{}}
	for _, id := range ids {
		d.ids[id] = true
	}
	return d
}

func (d *fakeDevices) Exists(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids[id]
}

func (d *fakeDevices) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ids, id)
}

// fakeClock drives keep-alive sleeps without real waiting.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
}

// newTestEngine builds an engine over a temp scripts directory.
func newTestEngine(t *testing.T, in interp.Interpreter, threadMax int, devices DeviceChecker) (*Engine, *captureLogger) {
	t.Helper()
	e, err := New(Options{
		ScriptsDir: t.TempDir(),
		WebRoot:    t.TempDir(),
		ThreadMax:  threadMax,
	}, in, events.NewRouter(), devices)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger := &captureLogger{}
	e.SetLogger(logger)
	return e, logger
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")

func blockingRun(release <-chan struct{}) runFunc {
	return func(context.Context, interp.Environment, interp.Script, []string) (int, error) {
		<-release
		return 0, nil
	}
}
