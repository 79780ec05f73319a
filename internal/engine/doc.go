// Package engine runs scripts in a bounded set of execution slots.
//
// # Components
//
//   - Registry: tracks each execution from allocation until a reap pass has
//     joined its worker goroutine. Finished-but-unreaped slots count toward
//     capacity.
//   - Gate: admission control. At 80% of ThreadMax it reaps before deciding;
//     at 100% after reaping it refuses.
//   - Engine: admission, worker start, synchronous waiting, keep-alive loops,
//     web-request scripts, session checks and shutdown.
//
// # Execution
//
// Every execution gets a fresh interpreter context and a listener ID
// ("exec-<handle>") under which the script may subscribe to device events.
// A worker never reaps; finished slots are collected before each admission
// decision and by the background reaper started with Run.
//
// ExecuteSync waits until the script has finished and returns its real exit
// status. Refused admission returns 0 with ErrAdmissionRefused.
//
// # Keep-alive
//
// A keep-alive request re-runs its script, sleeping for whatever is left of
// its interval after each run (5s when no interval is given). Sleep is sliced
// into 100ms steps so shutdown, context cancellation or removal of the bound
// device stop the loop promptly. A running script is never interrupted.
//
// # Shutdown
//
// Shutdown refuses new work, wakes listeners, reaps once a second until no
// execution remains, then closes the interpreter.
package engine
