package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// result is what a worker hands back to a synchronous caller.
type result struct {
	code int
	err  error
}

// ExecuteAsync admits req and starts it on its own slot, returning at once.
//
// ctx bounds the whole lifetime of a keep-alive request; for one-shot
// requests it only carries values. A running script is never interrupted.
//
// Returns:
//   - error: ErrShuttingDown, ErrAdmissionRefused or ErrInvalidRequest; nil once started
func (e *Engine) ExecuteAsync(ctx context.Context, req Request) error {
	_, err := e.submit(ctx, req, ModeAsync, nil)
	return err
}

// ExecuteSync is ExecuteAsync that waits for the script to finish and
// returns its exit status.
//
// A refused admission returns 0 with ErrAdmissionRefused. A missing script
// returns -1 with ErrScriptNotFound. If ctx ends while waiting, the script
// keeps running and 0 is returned with ctx's error.
func (e *Engine) ExecuteSync(ctx context.Context, req Request) (int, error) {
	done := make(chan result, 1)
	if _, err := e.submit(ctx, req, ModeSync, done); err != nil {
		return 0, err
	}

	select {
	case res := <-done:
		return res.code, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) submit(ctx context.Context, req Request, mode string, done chan<- result) (Handle, error) {
	e.admitMu.RLock()
	defer e.admitMu.RUnlock()
	if e.ShuttingDown() {
		return InvalidHandle, ErrShuttingDown
	}
	if req.Path == "" && req.Source == "" {
		return InvalidHandle, ErrInvalidRequest
	}

	h, err := e.gate.Acquire(func(h Handle) {
		e.work(ctx, h, req, mode, done)
	})
	if err != nil {
		return InvalidHandle, err
	}
	e.logger.Debug("script admitted", "handle", h, "path", req.Path, "device_id", req.DeviceID, "keep_alive", req.KeepAlive)
	return h, nil
}

// work is the body of every execution slot. It never reaps and always
// reports to a synchronous caller, even after a panic.
func (e *Engine) work(ctx context.Context, h Handle, req Request, mode string, done chan<- result) {
	res := result{code: 1, err: ErrInternal}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("script execution failed unexpectedly", "handle", h, "path", req.Path, "panic", rec)
			res = result{code: 1, err: fmt.Errorf("%w: %v", ErrInternal, rec)}
		}
		e.router.Unsubscribe(listenerID(h))
		if done != nil {
			done <- res
		}
	}()

	if req.KeepAlive {
		e.keepAlive(ctx, h, req)
		res = result{}
		return
	}
	code, err := e.runOnce(ctx, h, req, mode)
	res = result{code: code, err: err}
}

// runOnce runs a request in a fresh interpreter context.
func (e *Engine) runOnce(ctx context.Context, h Handle, req Request, mode string) (int, error) {
	script, err := e.resolve(req)
	if err != nil {
		e.logger.Error("could not execute script", "path", req.Path, "error", err)
		return -1, err
	}

	ictx, err := e.interp.NewContext()
	if err != nil {
		e.critical("could not create interpreter context", "script", script.Name(), "error", err)
		return 1, fmt.Errorf("%w: %w", ErrInterpreterInit, err)
	}
	defer e.closeContext(ictx)

	var out bytes.Buffer
	env := interp.Environment{
		CommandLine: req.CommandLine,
		DeviceID:    req.DeviceID,
		ListenerID:  listenerID(h),
		Output:      teeOutput(&out, req.Output),
		WebRoot:     e.opts.WebRoot,
	}
	if err := ictx.BeginRequest(env); err != nil {
		e.critical("could not start interpreter request", "script", script.Name(), "error", err)
		return 1, fmt.Errorf("%w: %w", ErrInterpreterInit, err)
	}

	argv := e.buildArgv(script, req.DeviceID, req.Args)
	start := e.now()
	code, runErr := ictx.RunScript(context.WithoutCancel(ctx), script, argv)
	ictx.EndRequest()

	e.logOutput(script, &out)
	e.logExit(script, req.DeviceID, code, runErr)
	e.recordExecution(script, mode, code, e.now().Sub(start))
	return code, runErr
}

func (e *Engine) closeContext(ictx interp.Context) {
	if err := ictx.Close(); err != nil {
		e.logger.Warn("closing interpreter context", "error", err)
	}
}

func (e *Engine) logOutput(script interp.Script, out *bytes.Buffer) {
	trimmed := strings.TrimSpace(out.String())
	if trimmed != "" {
		e.logger.Info("script output", "script", script.Name(), "output", trimmed)
	}
}

func (e *Engine) logExit(script interp.Script, deviceID uint64, code int, err error) {
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		e.logger.Error("script failed", "script", script.Name(), "device_id", deviceID, "exit_code", code, "error", err)
	case code != 0:
		e.logger.Error("script exited with non-zero status", "script", script.Name(), "device_id", deviceID, "exit_code", code)
	}
}

func teeOutput(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}

func listenerID(h Handle) string {
	return fmt.Sprintf("exec-%d", h)
}
