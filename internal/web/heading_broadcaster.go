package web

import (
	"sync"

	"panocompass/internal/orientation"
)

// HeadingBroadcaster fans heading updates out to any listeners (SSE, MQTT).
// It keeps the most recent value so new subscribers get an immediate sample.
// Slow subscribers miss updates instead of blocking the sensor path.
type HeadingBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan orientation.Heading
	nextID   int
	last     orientation.Heading
	haveLast bool
}

func NewHeadingBroadcaster() *HeadingBroadcaster {
	return &HeadingBroadcaster{
		subs: make(map[int]chan orientation.Heading),
	}
}

func (b *HeadingBroadcaster) Subscribe(buffer int) (int, <-chan orientation.Heading) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan orientation.Heading, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *HeadingBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Last returns the most recent heading published.
func (b *HeadingBroadcaster) Last() (orientation.Heading, bool) {
	if b == nil {
		return orientation.Heading{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

func (b *HeadingBroadcaster) Publish(h orientation.Heading) {
	if b == nil {
		return
	}
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- h:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = h
	b.haveLast = true
	b.mu.Unlock()
}
