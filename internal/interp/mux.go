package interp

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mux routes scripts to an interpreter by file extension. Inline source and
// sessions always go to the default interpreter.
type Mux struct {
	def   Interpreter
	byExt map[string]Interpreter
}

// NewMux creates a Mux. Extensions in byExt include the leading dot.
func NewMux(def Interpreter, byExt map[string]Interpreter) *Mux {
	m := &Mux{def: def, byExt: make(map[string]Interpreter, len(byExt))}
	for ext, in := range byExt {
		m.byExt[ext] = in
	}
	return m
}

// Supports reports whether some interpreter handles ext.
func (m *Mux) Supports(ext string) bool {
	if ext == ".lua" {
		return true
	}
	_, ok := m.byExt[ext]
	return ok
}

// NewContext returns a context that creates per-interpreter contexts on
// first use.
func (m *Mux) NewContext() (Context, error) {
	def, err := m.def.NewContext()
	if err != nil {
		return nil, err
	}
	return &muxContext{mux: m, def: def, others: make(map[string]Context)}, nil
}

// Close closes every distinct interpreter.
func (m *Mux) Close() error {
	seen := map[Interpreter]bool{m.def: true}
	errs := []error{m.def.Close()}
	for _, in := range m.byExt {
		if seen[in] {
			continue
		}
		seen[in] = true
		errs = append(errs, in.Close())
	}
	return errors.Join(errs...)
}

type muxContext struct {
	mux *Mux
	def Context

	mu     sync.Mutex
	others map[string]Context
	begun  map[Context]bool
	env    *Environment
}

func (c *muxContext) BeginRequest(env Environment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.env = &env
	c.begun = map[Context]bool{}
	if err := c.def.BeginRequest(env); err != nil {
		return err
	}
	c.begun[c.def] = true
	return nil
}

func (c *muxContext) RunScript(ctx context.Context, s Script, argv []string) (int, error) {
	target, err := c.contextFor(s)
	if err != nil {
		return 1, err
	}
	return target.RunScript(ctx, s, argv)
}

func (c *muxContext) contextFor(s Script) (Context, error) {
	ext := s.Ext()
	if ext == ".lua" {
		return c.def, nil
	}
	in, ok := c.mux.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScript, ext)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.env == nil {
		return nil, ErrNoRequest
	}
	target, ok := c.others[ext]
	if !ok {
		var err error
		if target, err = in.NewContext(); err != nil {
			return nil, err
		}
		c.others[ext] = target
	}
	if !c.begun[target] {
		if err := target.BeginRequest(*c.env); err != nil {
			return nil, err
		}
		c.begun[target] = true
	}
	return target, nil
}

func (c *muxContext) StartSession() (map[string]any, error) {
	return c.def.StartSession()
}

func (c *muxContext) EndRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ctx := range c.begun {
		ctx.EndRequest()
	}
	c.begun = nil
	c.env = nil
}

func (c *muxContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := []error{c.def.Close()}
	for _, ctx := range c.others {
		errs = append(errs, ctx.Close())
	}
	return errors.Join(errs...)
}
