package lua

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	lua "github.com/yuin/gopher-lua"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
	"github.com/nerrad567/gray-logic-scripts/internal/session"
)

// requestSession is the session opened during one request.
type requestSession struct {
	id        string
	data      *lua.LTable
	existed   bool
	destroyed bool
}

// startSession opens the session named by the request cookie, or a new one
// when the cookie is missing or unknown. Client-chosen IDs are never
// adopted.
func (c *scriptContext) startSession() (*lua.LTable, error) {
	if c.sess != nil && !c.sess.destroyed {
		return c.sess.data, nil
	}
	r := c.env.Request
	if r == nil {
		return nil, interp.ErrNoHTTPRequest
	}

	data := map[string]any{}
	existed := false
	id := ""
	if ck, err := r.Cookie(interp.SessionCookie); err == nil && session.ValidID(ck.Value) {
		id = ck.Value
	}
	if id != "" && c.in.opts.Sessions != nil {
		loaded, err := c.in.opts.Sessions.Load(r.Context(), id)
		switch {
		case err == nil:
			data = loaded
			existed = true
		case errors.Is(err, session.ErrSessionNotFound):
			id = ""
		default:
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}
	if id == "" {
		id = session.NewID()
		c.setSessionCookie(id, 0)
	}

	tbl, ok := toLua(c.L, data).(*lua.LTable)
	if !ok {
		tbl = c.L.NewTable()
	}
	c.sess = &requestSession{id: id, data: tbl, existed: existed}
	c.L.SetGlobal("_SESSION", tbl)
	return tbl, nil
}

// saveSession writes _SESSION back. Sessions that never held data are not
// stored.
func (c *scriptContext) saveSession() {
	s := c.sess
	if s == nil || s.destroyed || c.in.opts.Sessions == nil || c.env.Request == nil {
		return
	}
	// The script may have replaced the table.
	if tbl, ok := c.L.GetGlobal("_SESSION").(*lua.LTable); ok {
		s.data = tbl
	}
	data := tableToMap(s.data)
	if !s.existed && len(data) == 0 {
		return
	}
	ctx := context.WithoutCancel(c.env.Request.Context())
	if err := c.in.opts.Sessions.Save(ctx, s.id, data); err != nil {
		c.in.logger.Error("could not save session", "script", c.script, "error", err)
	}
}

func (c *scriptContext) setSessionCookie(id string, maxAge int) {
	if c.env.Response == nil || c.headersSent {
		return
	}
	http.SetCookie(c.env.Response, &http.Cookie{
		Name:     interp.SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// session.start() opens the session and returns _SESSION.
func (c *scriptContext) sessionStart(L *lua.LState) int {
	tbl, err := c.startSession()
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(tbl)
	return 1
}

// session.destroy() deletes the stored session and expires the cookie.
func (c *scriptContext) sessionDestroy(L *lua.LState) int {
	s := c.sess
	if s == nil || s.destroyed {
		return 0
	}
	if c.in.opts.Sessions != nil && c.env.Request != nil {
		if err := c.in.opts.Sessions.Delete(c.env.Request.Context(), s.id); err != nil {
			L.RaiseError("%s", err.Error())
		}
	}
	s.destroyed = true
	c.setSessionCookie("", -1)
	L.SetGlobal("_SESSION", lua.LNil)
	return 0
}

func (c *scriptContext) sessionID(L *lua.LState) int {
	if c.sess == nil || c.sess.destroyed {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(c.sess.id))
	return 1
}

func (c *scriptContext) httpMethod(L *lua.LState) int {
	L.Push(lua.LString(c.requestHTTP(L).Method))
	return 1
}

func (c *scriptContext) httpPath(L *lua.LState) int {
	L.Push(lua.LString(c.requestHTTP(L).URL.Path))
	return 1
}

// http.query(name) returns the query parameter, or nil when absent.
func (c *scriptContext) httpQuery(L *lua.LState) int {
	name := L.CheckString(1)
	q := c.requestHTTP(L).URL.Query()
	if !q.Has(name) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(q.Get(name)))
	return 1
}

func (c *scriptContext) httpHeader(L *lua.LState) int {
	name := L.CheckString(1)
	values := c.requestHTTP(L).Header.Values(name)
	if len(values) == 0 {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(values[0]))
	return 1
}

func (c *scriptContext) httpCookie(L *lua.LState) int {
	name := L.CheckString(1)
	ck, err := c.requestHTTP(L).Cookie(name)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(ck.Value))
	return 1
}

// http.form(name) returns a form value from the query or a url-encoded body.
func (c *scriptContext) httpForm(L *lua.LState) int {
	name := L.CheckString(1)
	r := c.requestHTTP(L)
	if err := r.ParseForm(); err != nil {
		L.RaiseError("parsing form: %s", err.Error())
	}
	if !r.Form.Has(name) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(r.Form.Get(name)))
	return 1
}

// http.status(code) sets the response status. Must precede any output.
func (c *scriptContext) httpStatus(L *lua.LState) int {
	code := L.CheckInt(1)
	c.checkHeadersPending(L)
	if code < 100 || code > 999 {
		L.ArgError(1, "invalid status code")
	}
	c.status = code
	return 0
}

// http.set_header(name, value) sets a response header. Must precede any
// output.
func (c *scriptContext) httpSetHeader(L *lua.LState) int {
	name := L.CheckString(1)
	value := L.CheckString(2)
	c.checkHeadersPending(L)
	c.env.Response.Header().Set(name, value)
	return 0
}

func (c *scriptContext) checkHeadersPending(L *lua.LState) {
	if c.env.Response == nil {
		L.RaiseError("not a web request")
	}
	if c.headersSent {
		L.RaiseError("headers already sent")
	}
}
