package lua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	lua "github.com/yuin/gopher-lua"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// scriptContext is one execution's LState plus the state of its current
// request.
type scriptContext struct {
	in     *Interpreter
	L      *lua.LState
	closed bool

	// Request state, reset by EndRequest.
	active      bool
	env         interp.Environment
	out         io.Writer
	script      string
	runCtx      context.Context
	stop        context.CancelFunc
	exited      bool
	exitCode    int
	status      int
	headersSent bool
	sess        *requestSession
}

func newScriptContext(in *Interpreter) *scriptContext {
	c := &scriptContext{
		in: in,
		L:  newState(in.opts.CallStackSize),
	}
	c.installGlobals()
	return c
}

// BeginRequest binds env to the context and refreshes the per-request
// globals.
func (c *scriptContext) BeginRequest(env interp.Environment) error {
	if c.closed {
		return interp.ErrContextClosed
	}
	if c.active {
		return ErrRequestActive
	}

	c.active = true
	c.env = env
	c.out = env.Output
	if c.out == nil {
		c.out = io.Discard
	}

	c.L.SetGlobal("DEVICE_ID", lua.LNumber(env.DeviceID))
	c.L.SetGlobal("LISTENER_ID", lua.LString(env.ListenerID))
	c.L.SetGlobal("CLI", lua.LBool(env.CommandLine))
	c.L.SetGlobal("WEB_ROOT", lua.LString(env.WebRoot))
	return nil
}

// RunScript loads s and calls it with argv[1:] as varargs. The arg global
// holds the whole argv with the script name at index 0.
func (c *scriptContext) RunScript(ctx context.Context, s interp.Script, argv []string) (int, error) {
	if c.closed {
		return 255, interp.ErrContextClosed
	}
	if !c.active {
		return 255, interp.ErrNoRequest
	}

	var (
		fn  *lua.LFunction
		err error
	)
	if s.Inline() {
		fn, err = c.L.LoadString(s.Source)
	} else {
		fn, err = c.L.LoadFile(s.Path)
	}
	if err != nil {
		return 255, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	c.L.SetGlobal("arg", argTable(c.L, argv))

	runCtx, cancel := c.runContext(ctx)
	defer cancel()
	c.runCtx = runCtx
	c.stop = cancel
	c.script = s.Name()
	c.exited = false
	c.exitCode = 0
	c.L.SetContext(runCtx)
	defer func() {
		c.L.RemoveContext()
		c.runCtx = nil
		c.stop = nil
	}()

	base := c.L.GetTop()
	defer c.L.SetTop(base)

	c.L.Push(fn)
	var rest []string
	if len(argv) > 1 {
		rest = argv[1:]
	}
	for _, a := range rest {
		c.L.Push(lua.LString(a))
	}

	err = c.protectedCall(len(rest))
	if c.exited {
		return c.exitCode, nil
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return 255, fmt.Errorf("%w: %w", ErrRunTimeExceeded, err)
		}
		return 255, fmt.Errorf("%w: %w", ErrScript, err)
	}

	if c.L.GetTop() > base {
		if n, ok := c.L.Get(base + 1).(lua.LNumber); ok {
			return int(n), nil
		}
	}
	return 0, nil
}

// StartSession loads the session named by the request cookie and returns
// its data.
func (c *scriptContext) StartSession() (map[string]any, error) {
	if c.closed {
		return nil, interp.ErrContextClosed
	}
	if !c.active {
		return nil, interp.ErrNoRequest
	}
	tbl, err := c.startSession()
	if err != nil {
		return nil, err
	}
	return tableToMap(tbl), nil
}

// EndRequest persists the session, sends pending response headers and
// clears the request state. Globals set by the script are kept.
func (c *scriptContext) EndRequest() {
	if !c.active {
		return
	}

	c.saveSession()
	c.sendHeaders()

	c.active = false
	c.env = interp.Environment{}
	c.out = nil
	c.script = ""
	c.status = 0
	c.headersSent = false
	c.sess = nil
	c.L.SetGlobal("_SESSION", lua.LNil)
}

// Close ends any open request and releases the LState.
func (c *scriptContext) Close() error {
	if c.closed {
		return nil
	}
	c.EndRequest()
	c.closed = true
	c.L.Close()
	return nil
}

func (c *scriptContext) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.in.opts.MaxRunTime > 0 {
		return context.WithTimeout(ctx, c.in.opts.MaxRunTime)
	}
	return context.WithCancel(ctx)
}

// protectedCall runs the function on top of the stack, turning Go panics
// raised inside builtins into errors.
func (c *scriptContext) protectedCall(nargs int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return c.L.PCall(nargs, lua.MultRet, nil)
}

// waitContext is the context blocking builtins wait under.
func (c *scriptContext) waitContext() context.Context {
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

// sendHeaders commits the response status once, before the first body
// write. No effect outside web requests.
func (c *scriptContext) sendHeaders() {
	if c.env.Response == nil || c.headersSent {
		return
	}
	c.headersSent = true
	if c.status != 0 {
		c.env.Response.WriteHeader(c.status)
	}
}

func (c *scriptContext) write(s string) {
	c.sendHeaders()
	if _, err := io.WriteString(c.out, s); err != nil {
		c.in.logger.Debug("script output write failed", "script", c.script, "error", err)
	}
}

func argTable(L *lua.LState, argv []string) *lua.LTable {
	t := L.CreateTable(len(argv), 1)
	for i, a := range argv {
		t.RawSetInt(i, lua.LString(a))
	}
	return t
}

// requestHTTP returns the request or raises a Lua error.
func (c *scriptContext) requestHTTP(L *lua.LState) *http.Request {
	if c.env.Request == nil {
		L.RaiseError("not a web request")
	}
	return c.env.Request
}
