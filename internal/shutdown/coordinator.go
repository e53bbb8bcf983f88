// Package shutdown coordinates graceful and immediate stops across the
// API server and the reconciliation loop.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// Mode selects how the service stops.
type Mode int

const (
	// Graceful drains in-flight requests before the listener closes.
	Graceful Mode = iota
	// Immediate closes the listener and drops in-flight requests.
	Immediate
)

func (m Mode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "graceful"
}

// subscriberBuffer holds pending modes per subscriber so RequestStop
// never blocks.
const subscriberBuffer = 4

// Coordinator broadcasts stop requests. The zero value is not usable;
// call New.
type Coordinator struct {
	stopping atomic.Bool

	mu        sync.Mutex
	subs      map[int]chan Mode
	nextID    int
	closed    bool
	strongest Mode // most severe mode requested so far
}

// New creates a coordinator that is not stopping.
func New() *Coordinator {
	return &Coordinator{subs: make(map[int]chan Mode)}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes its channel. Subscribing after Close returns a closed channel.
func (c *Coordinator) Subscribe() (<-chan Mode, func()) {
	ch := make(chan Mode, subscriberBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(ch)
		return ch, func() {}
	}
	if c.stopping.Load() {
		// Late subscribers still learn that a stop is underway.
		ch <- c.strongest
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// RequestStop marks the service stopping and delivers mode to every
// subscriber. The flag is set before any delivery.
func (c *Coordinator) RequestStop(mode Mode) {
	c.stopping.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if mode > c.strongest {
		c.strongest = mode
	}
	for _, ch := range c.subs {
		deliver(ch, mode)
	}
}

// deliver queues mode without blocking. A full buffer already holds a
// pending stop, so a Graceful is dropped; an Immediate evicts the oldest
// entry so it is never lost. Callers hold c.mu, the only sender.
func deliver(ch chan Mode, mode Mode) {
	select {
	case ch <- mode:
		return
	default:
	}
	if mode != Immediate {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- mode:
	default:
	}
}

// IsStopping reports whether any stop has been requested.
func (c *Coordinator) IsStopping() bool {
	return c.stopping.Load()
}

// Close closes every subscriber channel. Subscribers treat a closed
// channel as Immediate.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// Receive interprets a value read from a subscription channel.
func Receive(mode Mode, ok bool) Mode {
	if !ok {
		return Immediate
	}
	return mode
}
