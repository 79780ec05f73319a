package engine

import (
	"bytes"
	"context"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// keepAlive re-runs req until the engine shuts down, ctx ends or the bound
// device disappears. One interpreter context serves every iteration.
func (e *Engine) keepAlive(ctx context.Context, h Handle, req Request) {
	script, err := e.resolve(req)
	if err != nil {
		e.logger.Error("could not execute keep-alive script", "path", req.Path, "error", err)
		return
	}

	ictx, err := e.interp.NewContext()
	if err != nil {
		e.critical("could not create interpreter context", "script", script.Name(), "error", err)
		return
	}
	defer e.closeContext(ictx)

	runCtx := context.WithoutCancel(ctx)
	for !e.stopKeepAlive(ctx, req.DeviceID) {
		start := e.now()
		if req.DeviceID != 0 {
			e.logger.Info("starting script of device", "script", script.Name(), "device_id", req.DeviceID)
		}

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
			return
		}

		code, runErr := ictx.RunScript(runCtx, script, e.buildArgv(script, req.DeviceID, req.Args))
		ictx.EndRequest()
		elapsed := e.now().Sub(start)

		e.logOutput(script, &out)
		if req.DeviceID != 0 {
			e.logger.Info("script of device exited", "script", script.Name(), "device_id", req.DeviceID, "exit_code", code)
		}
		e.logExit(script, req.DeviceID, code, runErr)
		e.recordExecution(script, ModeKeepAlive, code, elapsed)

		if !e.pause(ctx, req.DeviceID, e.keepAliveDelay(req.Interval, elapsed)) {
			break
		}
	}
	e.logger.Debug("keep-alive loop stopped", "script", script.Name(), "device_id", req.DeviceID)
}

// keepAliveDelay is the time left in the interval after a run, or the
// default when the request has no interval.
func (e *Engine) keepAliveDelay(interval, elapsed time.Duration) time.Duration {
	if interval <= 0 {
		return e.opts.KeepAliveDefaultInterval
	}
	return max(0, interval-elapsed)
}

// pause sleeps for d in slices of at most 100ms, checking the stop
// condition after each. It reports whether the loop should continue.
func (e *Engine) pause(ctx context.Context, deviceID uint64, d time.Duration) bool {
	deadline := e.now().Add(d)
	for {
		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return !e.stopKeepAlive(ctx, deviceID)
		}
		e.sleep(min(keepAliveSleepSlice, remaining))
		if e.stopKeepAlive(ctx, deviceID) {
			return false
		}
	}
}

func (e *Engine) stopKeepAlive(ctx context.Context, deviceID uint64) bool {
	if e.ShuttingDown() || ctx.Err() != nil {
		return true
	}
	return deviceID != 0 && e.devices != nil && !e.devices.Exists(deviceID)
}
