// Package trace collects and persists queue event streams. A Collector is a
// bounded in-memory ring attached to a queue as its tracer; a Writer encodes
// events to a file, compressing by extension (.gz, .zst).
package trace

import (
	"sync"

	"blksched/internal/sched"
)

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 4096

// Collector is a fixed-capacity ring buffer of queue events. It implements
// sched.Tracer; Event runs under the queue lock, so it only appends.
type Collector struct {
	mu      sync.Mutex
	buf     []sched.Event
	next    int
	wrapped bool
	dropped uint64
}

// NewCollector returns a collector keeping the most recent capacity events.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{buf: make([]sched.Event, 0, capacity)}
}

// Event records one event, evicting the oldest when the ring is full.
func (c *Collector) Event(ev sched.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) < cap(c.buf) {
		c.buf = append(c.buf, ev)
		return
	}
	c.buf[c.next] = ev
	c.next = (c.next + 1) % cap(c.buf)
	c.wrapped = true
	c.dropped++
}

// Events returns the recorded events oldest-first.
func (c *Collector) Events() []sched.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sched.Event, 0, len(c.buf))
	if c.wrapped {
		out = append(out, c.buf[c.next:]...)
		out = append(out, c.buf[:c.next]...)
	} else {
		out = append(out, c.buf...)
	}
	return out
}

// Len returns the number of retained events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Dropped returns how many events were evicted by wrap-around.
func (c *Collector) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Reset empties the ring.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
	c.next = 0
	c.wrapped = false
	c.dropped = 0
}
