// Package platform provides in-process delivery of orientation events. A Bus
// stands in for the viewer runtime: device connections, the simulator and
// replay publish onto it, the normalizer listens.
package platform

import (
	"fmt"
	"sync"
	"sync/atomic"

	"panocompass/internal/orientation"
)

type listener struct {
	event orientation.EventType
	fn    func(orientation.Sample)
}

// Bus delivers published samples to listeners of the same event type.
// Delivery is serialized: one Publish completes before the next begins.
type Bus struct {
	supports map[orientation.EventType]bool

	dispatchMu sync.Mutex

	mu        sync.RWMutex
	listeners map[uint64]listener
	nextID    uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus returns a bus offering the given event types.
func NewBus(types ...orientation.EventType) *Bus {
	b := &Bus{
		supports:  make(map[orientation.EventType]bool, len(types)),
		listeners: make(map[uint64]listener),
	}
	for _, t := range types {
		b.supports[t] = true
	}
	return b
}

// EventTypes maps runtime capability flags to the event types a bus offers.
func EventTypes(absolute, relative bool) []orientation.EventType {
	var out []orientation.EventType
	if absolute {
		out = append(out, orientation.EventAbsolute)
	}
	if relative {
		out = append(out, orientation.EventRelative)
	}
	return out
}

func (b *Bus) Supports(t orientation.EventType) bool {
	if b == nil {
		return false
	}
	return b.supports[t]
}

func (b *Bus) Listen(t orientation.EventType, fn func(orientation.Sample)) (func(), error) {
	if b == nil {
		return nil, fmt.Errorf("platform: bus is nil")
	}
	if fn == nil {
		return nil, fmt.Errorf("platform: listener is nil")
	}
	if !b.supports[t] {
		return nil, fmt.Errorf("platform: event %q not supported", t)
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener{event: t, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}, nil
}

// Publish delivers s to every listener of t and returns how many received it.
// Events of an unsupported type are dropped.
func (b *Bus) Publish(t orientation.EventType, s orientation.Sample) int {
	if b == nil {
		return 0
	}
	if !b.supports[t] {
		b.dropped.Add(1)
		return 0
	}
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.RLock()
	fns := make([]func(orientation.Sample), 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.event == t {
			fns = append(fns, l.fn)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, fn := range fns {
		fn(s)
	}
	return len(fns)
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Listeners int    `json:"listeners"`
}

func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Listeners: b.Listeners()}
}
