package orientation

import (
	"log"
	"sync"
	"sync/atomic"
)

// Platform is the viewer runtime that delivers orientation events.
//
// Implementations must serialize delivery per listener. The returned cancel
// func removes the listener; events already in flight may still arrive.
type Platform interface {
	Supports(t EventType) bool
	Listen(t EventType, fn func(Sample)) (cancel func(), err error)
}

// Reading is the heading derived from one sample.
type Reading struct {
	Degrees  float64
	Accuracy float64
	Source   Source
}

// Derive applies the per-sample priority: native compass heading first, then
// tilt compensation for absolute samples with all three angles, then the bare
// absolute alpha. Anything else is an InvalidSample. prev is the heading to
// keep when tilt compensation hits its singularity.
func Derive(s Sample, prev float64) (Reading, error) {
	if s.WebkitCompassHeading != nil {
		h := *s.WebkitCompassHeading
		if !finite(h) {
			return Reading{}, NewError(InvalidSample, "compass heading is not finite", nil)
		}
		acc := SentinelAccuracy
		if s.WebkitCompassAccuracy != nil && finite(*s.WebkitCompassAccuracy) {
			acc = *s.WebkitCompassAccuracy
		}
		return Reading{Degrees: NormalizeDegrees(h), Accuracy: acc, Source: RawCompass}, nil
	}
	if s.Absolute && s.Alpha != nil && s.Beta != nil && s.Gamma != nil {
		h := TiltCompensatedHeading(*s.Alpha, *s.Beta, *s.Gamma, prev)
		return Reading{Degrees: h, Accuracy: SentinelAccuracy, Source: TiltCompensated}, nil
	}
	if s.Absolute && s.Alpha != nil {
		if !finite(*s.Alpha) {
			return Reading{}, NewError(InvalidSample, "alpha is not finite", nil)
		}
		return Reading{Degrees: NormalizeDegrees(*s.Alpha), Accuracy: SentinelAccuracy, Source: AbsoluteAngle}, nil
	}
	return Reading{}, NewError(InvalidSample, "no heading derivation applies", nil)
}

// Normalizer owns at most one platform subscription and turns every event it
// delivers into a HeadingState update.
type Normalizer struct {
	platform Platform
	state    *HeadingState
	onUpdate func(Heading)

	mu  sync.Mutex
	sub *Subscription

	discarded atomic.Uint64
}

type NormalizerOption func(*Normalizer)

// OnUpdate registers an observer called after each heading mutation, on the
// delivering goroutine. It must not block.
func OnUpdate(fn func(Heading)) NormalizerOption {
	return func(n *Normalizer) { n.onUpdate = fn }
}

func NewNormalizer(p Platform, state *HeadingState, opts ...NormalizerOption) *Normalizer {
	if state == nil {
		state = NewHeadingState()
	}
	n := &Normalizer{platform: p, state: state}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// State returns the heading state this normalizer writes.
func (n *Normalizer) State() *HeadingState {
	return n.state
}

// Discarded returns how many samples were dropped as invalid.
func (n *Normalizer) Discarded() uint64 {
	return n.discarded.Load()
}

// Subscription returns the active subscription, or nil.
func (n *Normalizer) Subscription() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sub
}

// Start subscribes to the best event type the platform offers: absolute
// events exclusively when available, else relative ones. The choice is fixed
// until Stop. Calling Start while subscribed returns the existing handle.
func (n *Normalizer) Start() (*Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return n.sub, nil
	}

	var event EventType
	switch {
	case n.platform != nil && n.platform.Supports(EventAbsolute):
		event = EventAbsolute
	case n.platform != nil && n.platform.Supports(EventRelative):
		event = EventRelative
	default:
		n.state.markUnavailable()
		log.Printf("normalizer: no orientation events available")
		return nil, NewError(UnsupportedDevice, "no orientation events available on this device", nil)
	}

	sub := &Subscription{event: event, n: n}
	cancel, err := n.platform.Listen(event, func(s Sample) { n.handle(sub, s) })
	if err != nil {
		return nil, NewError(UnsupportedDevice, "subscribe "+string(event), err)
	}
	sub.cancel = cancel
	n.sub = sub
	log.Printf("normalizer: listening to %s", event)
	return sub, nil
}

// Stop cancels the active subscription. It is a no-op when not started.
func (n *Normalizer) Stop() {
	n.Subscription().Stop()
}

func (n *Normalizer) release(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub == s {
		n.sub = nil
	}
}

func (n *Normalizer) handle(sub *Subscription, s Sample) {
	if sub.stopped.Load() {
		// Late delivery after Stop.
		return
	}
	prev := n.state.Degrees()
	r, err := Derive(s, prev)
	if err != nil {
		c := n.discarded.Add(1)
		if c == 1 || c%100 == 0 {
			log.Printf("normalizer: discarded sample (%d total): %v [%s]", c, err, s)
		}
		return
	}
	h := n.state.apply(r)
	if n.onUpdate != nil {
		n.onUpdate(h)
	}
}

// Subscription is the handle for one active platform listener. Stop is the
// only way to cancel it.
type Subscription struct {
	event   EventType
	cancel  func()
	n       *Normalizer
	once    sync.Once
	stopped atomic.Bool
}

// Event returns the event type this subscription listens to.
func (s *Subscription) Event() EventType {
	if s == nil {
		return ""
	}
	return s.event
}

// Active reports whether Stop has not been called yet.
func (s *Subscription) Active() bool {
	return s != nil && !s.stopped.Load()
}

// Stop removes the listener. Safe to call more than once and on nil.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.stopped.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.n.release(s)
		log.Printf("normalizer: stopped listening to %s", s.event)
	})
}
