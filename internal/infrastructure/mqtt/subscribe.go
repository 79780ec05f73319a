package mqtt

import (
	"fmt"
	"sync"
)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// subscriptionSet remembers subscriptions so handleConnect can restore
// them; the broker session is clean on every connect.
type subscriptionSet struct {
	mu     sync.RWMutex
	topics map[string]subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{topics: make(map[string]subscription)}
}

func (s *subscriptionSet) put(sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[sub.topic] = sub
}

func (s *subscriptionSet) remove(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *subscriptionSet) has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

func (s *subscriptionSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}

func (s *subscriptionSet) each(fn func(subscription)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.topics {
		fn(sub)
	}
}

// Subscribe routes messages matching topic to handler. Wildcards follow
// MQTT rules, so Topics{}.AllDeviceEvents() ("graylogic/device/+/event")
// receives every device's events. A failed subscribe is not remembered.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	sub := subscription{topic: topic, qos: qos, handler: handler}
	c.subs.put(sub)
	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), defaultPublishTimeout); err != nil {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe drops the subscription for topic. Messages already in flight
// may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subs.remove(topic)
	if err := await(c.client.Unsubscribe(topic), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// SubscriptionCount returns how many topic filters are registered.
func (c *Client) SubscriptionCount() int {
	return c.subs.len()
}

// HasSubscription reports whether exactly this filter string is registered.
func (c *Client) HasSubscription(topic string) bool {
	return c.subs.has(topic)
}
