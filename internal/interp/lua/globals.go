package lua

import (
	"context"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// installGlobals registers the script API on the context's LState.
func (c *scriptContext) installGlobals() {
	L := c.L
	L.SetGlobal("print", L.NewFunction(c.luaPrint))
	L.SetGlobal("echo", L.NewFunction(c.luaEcho))
	L.SetGlobal("exit", L.NewFunction(c.luaExit))

	registerModule(L, "log", map[string]lua.LGFunction{
		"debug": c.luaLog(Logger.Debug),
		"info":  c.luaLog(Logger.Info),
		"warn":  c.luaLog(Logger.Warn),
		"error": c.luaLog(Logger.Error),
	})
	registerModule(L, "events", map[string]lua.LGFunction{
		"subscribe":     c.eventsSubscribe,
		"unsubscribe":   c.eventsUnsubscribe,
		"add_device":    c.eventsAddDevice,
		"remove_device": c.eventsRemoveDevice,
		"poll":          c.eventsPoll,
		"drain":         c.eventsDrain,
	})
	registerModule(L, "devices", map[string]lua.LGFunction{
		"exists": c.devicesExists,
	})
	registerModule(L, "session", map[string]lua.LGFunction{
		"start":   c.sessionStart,
		"destroy": c.sessionDestroy,
		"id":      c.sessionID,
	})
	registerModule(L, "http", map[string]lua.LGFunction{
		"method":     c.httpMethod,
		"path":       c.httpPath,
		"query":      c.httpQuery,
		"header":     c.httpHeader,
		"cookie":     c.httpCookie,
		"form":       c.httpForm,
		"status":     c.httpStatus,
		"set_header": c.httpSetHeader,
	})
}

func (c *scriptContext) luaPrint(L *lua.LState) int {
	c.write(joinArgs(L, "\t") + "\n")
	return 0
}

func (c *scriptContext) luaEcho(L *lua.LState) int {
	c.write(joinArgs(L, ""))
	return 0
}

// luaExit records the status and unwinds the script with an error that
// RunScript recognises by the exited flag. The run context is cancelled too,
// so a pcall that catches the error stops at the next instruction.
func (c *scriptContext) luaExit(L *lua.LState) int {
	c.exitCode = L.OptInt(1, 0)
	c.exited = true
	if c.stop != nil {
		c.stop()
	}
	L.RaiseError("exit(%d)", c.exitCode)
	return 0
}

// luaLog builds log.<level>(msg [, fields]). Fields are appended in key
// order after the script name.
func (c *scriptContext) luaLog(logf func(Logger, string, ...any)) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		args := []any{"script", c.script}
		if c.env.DeviceID != 0 {
			args = append(args, "device_id", c.env.DeviceID)
		}
		if fields := L.OptTable(2, nil); fields != nil {
			m := tableToMap(fields)
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				args = append(args, k, m[k])
			}
		}
		logf(c.in.logger, msg, args...)
		return 0
	}
}

// listener returns the router and listener ID of the request, raising a Lua
// error when events are unavailable.
func (c *scriptContext) listener(L *lua.LState) string {
	if c.in.opts.Router == nil {
		L.RaiseError("events are not available")
	}
	if c.env.ListenerID == "" {
		L.RaiseError("events are not available to this script")
	}
	return c.env.ListenerID
}

// events.subscribe([devices]) listens to all devices, or only to the IDs in
// the given table.
func (c *scriptContext) eventsSubscribe(L *lua.LState) int {
	id := c.listener(L)
	var devices []uint64
	if tbl := L.OptTable(1, nil); tbl != nil {
		devices = make([]uint64, 0, tbl.Len())
		tbl.ForEach(func(_, v lua.LValue) {
			if n, ok := v.(lua.LNumber); ok && n > 0 {
				devices = append(devices, uint64(n))
			}
		})
	}
	c.in.opts.Router.Subscribe(id, devices)
	return 0
}

func (c *scriptContext) eventsUnsubscribe(L *lua.LState) int {
	c.in.opts.Router.Unsubscribe(c.listener(L))
	return 0
}

func (c *scriptContext) eventsAddDevice(L *lua.LState) int {
	id := c.listener(L)
	device := uint64(L.CheckNumber(1))
	sub, ok := c.in.opts.Router.Get(id)
	if !ok {
		L.RaiseError("not subscribed")
	}
	sub.AddDevice(device)
	return 0
}

func (c *scriptContext) eventsRemoveDevice(L *lua.LState) int {
	id := c.listener(L)
	device := uint64(L.CheckNumber(1))
	if sub, ok := c.in.opts.Router.Get(id); ok {
		sub.RemoveDevice(device)
	}
	return 0
}

// events.poll([timeout_ms]) reports whether events are pending, waiting up
// to timeout_ms for one. Without a timeout it waits until an event arrives
// or the engine stops. 0 does not wait.
func (c *scriptContext) eventsPoll(L *lua.LState) int {
	id := c.listener(L)
	sub, ok := c.in.opts.Router.Get(id)
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}

	ctx := c.waitContext()
	if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
		ms := L.CheckInt(1)
		if ms <= 0 {
			L.Push(lua.LBool(sub.Pending() > 0))
			return 1
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	L.Push(lua.LBool(sub.Wait(ctx)))
	return 1
}

// events.drain() returns the pending events as an array of tables.
func (c *scriptContext) eventsDrain(L *lua.LState) int {
	id := c.listener(L)
	out := L.NewTable()
	for ev := range c.in.opts.Router.Drain(id) {
		out.Append(toLua(L, ev.Fields()))
	}
	L.Push(out)
	return 1
}

func (c *scriptContext) devicesExists(L *lua.LState) int {
	id := uint64(L.CheckNumber(1))
	exists := c.in.opts.Devices != nil && c.in.opts.Devices.Exists(id)
	L.Push(lua.LBool(exists))
	return 1
}

func joinArgs(L *lua.LState, sep string) string {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	return strings.Join(parts, sep)
}
