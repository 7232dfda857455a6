package event

import (
	"context"
	"sync"
)

// Collector is a Notifier that records events in memory.
type Collector struct {
	// Types, when non-empty, restricts which events are recorded.
	Types []Type
	// SkipExchanges makes the collector ignore exchange events.
	SkipExchanges bool

	mu     sync.Mutex
	events []Event
}

func (c *Collector) Notify(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *Collector) Enabled(e Event) bool {
	if len(c.Types) == 0 {
		return true
	}
	for _, t := range c.Types {
		if t == e.Type() {
			return true
		}
	}
	return false
}

func (c *Collector) IgnoreExchangeEvents() bool { return c.SkipExchanges }

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many events of type t were recorded.
func (c *Collector) Count(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type() == t {
			n++
		}
	}
	return n
}
