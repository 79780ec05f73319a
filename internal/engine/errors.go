package engine

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-scripts/internal/interp"
)

// Domain errors for the engine package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, engine.ErrAdmissionRefused) {
//	    // too many scripts queued
//	}
var (
	// ErrAdmissionRefused is returned when the execution slots are exhausted
	// even after reaping finished executions.
	ErrAdmissionRefused = errors.New("engine: admission refused")

	// ErrScriptNotFound is returned when the script file does not exist.
	ErrScriptNotFound = errors.New("engine: script not found")

	// ErrShuttingDown is returned for work submitted after Shutdown began.
	ErrShuttingDown = errors.New("engine: shutting down")

	// ErrInterpreterInit is returned when an interpreter context or request
	// could not be started.
	ErrInterpreterInit = errors.New("engine: interpreter initialisation failed")

	// ErrInternal is returned when an execution panicked.
	ErrInternal = errors.New("engine: internal error")

	// ErrInvalidRequest is returned for a request with neither path nor source.
	ErrInvalidRequest = errors.New("engine: invalid request")
)

// IsScriptError reports whether err returned by ExecuteSync came from the
// script itself, as opposed to the engine refusing or failing to run it.
// The exit code returned alongside a script error is meaningful.
func IsScriptError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrAdmissionRefused,
		ErrShuttingDown,
		ErrInvalidRequest,
		ErrScriptNotFound,
		ErrInterpreterInit,
		ErrInternal,
		context.Canceled,
		context.DeadlineExceeded,
		interp.ErrUnsupportedScript,
		interp.ErrStartFailed,
		interp.ErrNoRequest,
		interp.ErrContextClosed,
	} {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}
