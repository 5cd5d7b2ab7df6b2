package channel

import (
	"context"
	"sync"
)

// InMem is an in-process channel for tests. Publishes are delivered
// synchronously to every subscribed handler; failed handlers are not
// redelivered (tests assert on the error instead).
type InMem struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	// Published records every enveloped message per topic, in order.
	Published map[string][][]byte
}

// NewInMem creates an empty in-memory channel.
func NewInMem() *InMem {
	return &InMem{
		handlers:  make(map[string][]Handler),
		Published: make(map[string][][]byte),
	}
}

// Publish encodes the payload and delivers it to all current subscribers.
func (c *InMem) Publish(ctx context.Context, topic string, payload any) error {
	body, err := Encode(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.Published[topic] = append(c.Published[topic], body)
	hs := append([]Handler(nil), c.handlers[topic]...)
	c.mu.Unlock()

	for _, h := range hs {
		if err := h(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler and returns immediately.
func (c *InMem) Subscribe(_ context.Context, topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = append(c.handlers[topic], h)
	return nil
}

// Count returns how many messages were published on topic.
func (c *InMem) Count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Published[topic])
}
