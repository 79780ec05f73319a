package engine

import (
	"sync"
	"time"
)

// Handle identifies one tracked execution.
type Handle int32

// InvalidHandle is never allocated.
const InvalidHandle Handle = -1

// slot is the bookkeeping for one execution. done is closed when the worker
// goroutine has fully returned; waiting on it is the join.
type slot struct {
	live    bool
	done    chan struct{}
	started time.Time
}

// Registry tracks every execution from allocation until it is reaped.
//
// A finished slot keeps its entry, and keeps counting toward capacity, until
// a Reap pass has joined its worker.
//
// Thread Safety:
//   - All methods are safe for concurrent use; one mutex guards the registry.
//   - Reap must not be called from a worker it could reap.
type Registry struct {
	mu     sync.Mutex
	slots  map[Handle]*slot
	next   Handle
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:  make(map[Handle]*slot),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Allocate reserves a handle and starts run on a new goroutine. The slot is
// marked finished when run returns, even if it panics.
func (r *Registry) Allocate(run func(Handle)) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(run)
}

// TryAllocate is Allocate that fails when the registry already holds max
// entries. The check and the insert happen under one lock.
func (r *Registry) TryAllocate(limit int, run func(Handle)) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.slots) >= limit {
		return InvalidHandle, false
	}
	return r.startLocked(run), true
}

func (r *Registry) startLocked(run func(Handle)) Handle {
	h := r.nextHandleLocked()
	s := &slot{live: true, done: make(chan struct{}), started: time.Now()}
	r.slots[h] = s

	go func() {
		defer close(s.done)
		defer r.MarkFinished(h)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("execution worker panicked", "handle", h, "panic", rec)
			}
		}()
		run(h)
	}()
	return h
}

// nextHandleLocked returns the next handle after the last one issued,
// wrapping at the int32 limit and skipping InvalidHandle and handles that
// are still registered.
func (r *Registry) nextHandleLocked() Handle {
	for {
		h := r.next
		r.next++
		if h == InvalidHandle {
			continue
		}
		if _, used := r.slots[h]; used {
			continue
		}
		return h
	}
}

// MarkFinished clears the slot's liveness flag. Unknown handles are logged
// and ignored.
func (r *Registry) MarkFinished(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[h]
	if !ok {
		r.logger.Debug("mark finished on unknown handle", "handle", h)
		return
	}
	s.live = false
}

// Reap joins every finished worker and removes its slot, returning how many
// slots were removed. The join waits only for a worker's last deferred steps.
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for h, s := range r.slots {
		if s.live {
			continue
		}
		<-s.done
		delete(r.slots, h)
		removed++
	}
	return removed
}

// LiveCount returns the number of registered slots, finished or not.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Running returns the number of slots whose worker has not finished.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.live {
			n++
		}
	}
	return n
}

// Oldest returns how long the longest-running live slot has been running.
func (r *Registry) Oldest() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest time.Duration
	for _, s := range r.slots {
		if s.live {
			oldest = max(oldest, time.Since(s.started))
		}
	}
	return oldest
}
