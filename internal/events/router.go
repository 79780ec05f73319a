package events

import (
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the router.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Router maps listener IDs to their subscriptions.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The router lock is held only to read or change the listener map. Queue
//     operations lock the individual subscription.
type Router struct {
	mu        sync.Mutex
	listeners map[string]*Subscription
	stopped   chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
	logger    Logger
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		listeners: make(map[string]*Subscription),
		stopped:   make(chan struct{}),
		now:       time.Now,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Subscribe registers an empty queue for id, replacing any previous
// subscription under the same id (whose pending events are discarded).
//
// A nil devices slice subscribes to every device. A non-nil slice, even an
// empty one, restricts targeted events to exactly those devices.
func (r *Router) Subscribe(id string, devices []uint64) *Subscription {
	sub := &Subscription{
		id:      id,
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: r.stopped,
	}
	if devices == nil {
		sub.all = true
	} else {
		sub.devices = make(map[uint64]struct{}, len(devices))
		for _, d := range devices {
			sub.devices[d] = struct{}{}
		}
	}

	r.mu.Lock()
	old := r.listeners[id]
	r.listeners[id] = sub
	r.mu.Unlock()

	if old != nil {
		old.close()
		r.logger.Warn("listener re-subscribed, pending events discarded", "listener_id", id)
	}
	r.logger.Debug("listener subscribed", "listener_id", id, "all_devices", sub.all)
	return sub
}

// Unsubscribe removes the listener. Events already queued for it are discarded.
// Unknown ids are ignored.
func (r *Router) Unsubscribe(id string) {
	r.mu.Lock()
	sub := r.listeners[id]
	delete(r.listeners, id)
	r.mu.Unlock()

	if sub != nil {
		sub.close()
		r.logger.Debug("listener unsubscribed", "listener_id", id)
	}
}

// Get returns the subscription registered under id.
func (r *Router) Get(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.listeners[id]
	return sub, ok
}

// Drain returns the pending events of listener id. An unknown id yields an
// empty sequence.
func (r *Router) Drain(id string) iter.Seq[Event] {
	sub, ok := r.Get(id)
	if !ok {
		return func(func(Event) bool) {}
	}
	return sub.Drain()
}

// Publish enqueues ev for every matching listener and returns how many
// queues received it. Targeted kinds reach listeners whose filter contains
// ev.DeviceID; the rest reach everyone. A zero Time is stamped with now.
func (r *Router) Publish(ev Event) int {
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}

	delivered := 0
	for _, sub := range r.snapshot() {
		if ev.Kind.Targeted() && !sub.Matches(ev.DeviceID) {
			continue
		}
		if sub.push(ev) {
			delivered++
		}
	}
	return delivered
}

// PublishValues publishes one KindValueChanged event per variable, in
// variable-name order so every listener sees the same sequence.
func (r *Router) PublishValues(deviceID uint64, channel int32, values map[string]any) int {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	delivered := 0
	now := r.now()
	for _, name := range names {
		delivered += r.Publish(Event{
			Kind:     KindValueChanged,
			DeviceID: deviceID,
			Channel:  channel,
			Variable: name,
			Value:    values[name],
			Time:     now,
		})
	}
	return delivered
}

// Len returns the number of registered listeners.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// StopAll wakes every listener blocked in Wait and makes future waits
// return immediately. Subscriptions stay registered so their owners can
// still drain and unsubscribe.
func (r *Router) StopAll() {
	r.stopOnce.Do(func() {
		close(r.stopped)
	})
}

func (r *Router) snapshot() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([]*Subscription, 0, len(r.listeners))
	for _, sub := range r.listeners {
		subs = append(subs, sub)
	}
	return subs
}

// Subscription is one listener's queue and device filter.
type Subscription struct {
	id string

	mu      sync.Mutex
	all     bool
	devices map[uint64]struct{}
	queue   []Event
	closed  bool

	ready   chan struct{}
	done    chan struct{}
	stopped <-chan struct{}
}

// ID returns the listener ID.
func (s *Subscription) ID() string {
	return s.id
}

// Matches reports whether targeted events for deviceID pass the filter.
func (s *Subscription) Matches(deviceID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return true
	}
	_, ok := s.devices[deviceID]
	return ok
}

// AddDevice adds deviceID to the filter. No effect on an all-devices subscription.
func (s *Subscription) AddDevice(deviceID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return
	}
	s.devices[deviceID] = struct{}{}
}

// RemoveDevice removes deviceID from the filter. Removing from an
// all-devices subscription turns it into an explicit filter of nothing.
func (s *Subscription) RemoveDevice(deviceID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		s.all = false
		s.devices = make(map[uint64]struct{})
		return
	}
	delete(s.devices, deviceID)
}

// Devices returns the filter, or nil for an all-devices subscription.
func (s *Subscription) Devices() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return nil
	}
	ids := make([]uint64, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Drain returns the events queued since the last drain, oldest first.
//
// The queue is taken when iteration starts, not when Drain is called. The
// sequence can be ranged over once; later ranges yield nothing. Events left
// unread when the loop breaks early go back to the front of the queue.
func (s *Subscription) Drain() iter.Seq[Event] {
	var once sync.Once
	return func(yield func(Event) bool) {
		var batch []Event
		once.Do(func() { batch = s.take() })
		for i, ev := range batch {
			if !yield(ev) {
				s.requeue(batch[i+1:])
				return
			}
		}
	}
}

// Wait blocks until an event is queued, the subscription is closed, the
// router is stopped or ctx is done. It reports whether events are pending.
func (s *Subscription) Wait(ctx context.Context) bool {
	for {
		if s.Pending() > 0 {
			return true
		}
		select {
		case <-s.ready:
			// A wake-up left over from an already drained push; look again.
		case <-s.done:
			return false
		case <-s.stopped:
			return s.Pending() > 0
		case <-ctx.Done():
			return s.Pending() > 0
		}
	}
}

// Ready fires after an event is queued. Use it in a select alongside other
// channels; Wait covers the simple case.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the subscription is removed from its router.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// push appends ev and reports whether it was queued. Closed subscriptions
// drop it.
func (s *Subscription) push(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *Subscription) requeue(rest []Event) {
	if len(rest) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(slices.Clone(rest), s.queue...)
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}
