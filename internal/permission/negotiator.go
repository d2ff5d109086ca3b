package permission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"panocompass/internal/orientation"
)

// State is the permission handshake state.
type State int

const (
	Unrequested State = iota
	Requesting
	Granted
	Denied
	NotRequired
	Unsupported
)

func (s State) String() string {
	switch s {
	case Unrequested:
		return "unrequested"
	case Requesting:
		return "requesting"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case NotRequired:
		return "not_required"
	case Unsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Requester performs the platform permission handshake. It must only be
// invoked in response to a user gesture and reports whether access was
// granted. An error counts as a denial.
type Requester interface {
	RequestPermission(ctx context.Context) (bool, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context) (bool, error)

func (f RequesterFunc) RequestPermission(ctx context.Context) (bool, error) { return f(ctx) }

// Outcome is the resolution delivered to a Request caller.
type Outcome struct {
	State State
	Err   error
}

// Ready reports whether sensors may be read.
func (o Outcome) Ready() bool {
	return o.State == Granted || o.State == NotRequired
}

type Config struct {
	Capabilities Capabilities
	Requester    Requester
	// OnGranted runs once when the handshake grants access, before waiters
	// are notified. Typically it starts the orientation normalizer.
	OnGranted func()
}

// Negotiator drives the sensor permission handshake for one session. There
// are no automatic retries: each handshake starts from an explicit Request.
type Negotiator struct {
	strategy  Strategy
	family    Family
	requester Requester
	onGranted func()

	mu      sync.Mutex
	state   State
	err     error
	waiters []chan Outcome
}

func NewNegotiator(cfg Config) *Negotiator {
	strategy, fam := Detect(cfg.Capabilities)
	if strategy == StrategyGated && cfg.Requester == nil {
		// Nothing can perform the handshake; behave like a platform that
		// never exposed the request function.
		strategy = StrategyNotRequired
	}
	n := &Negotiator{
		strategy:  strategy,
		family:    fam,
		requester: cfg.Requester,
		onGranted: cfg.OnGranted,
	}
	switch strategy {
	case StrategyGated:
		n.state = Unrequested
	case StrategyUnsupported:
		n.state = Unsupported
		n.err = orientation.NewError(orientation.UnsupportedDevice, RemediationFor(fam, strategy), nil)
	default:
		n.state = NotRequired
	}
	log.Printf("permission: platform=%s strategy=%s state=%s", fam, strategy, n.state)
	return n
}

func (n *Negotiator) Strategy() Strategy { return n.strategy }

func (n *Negotiator) Family() Family { return n.family }

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the classified error of a Denied or Unsupported negotiator.
func (n *Negotiator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Ready reports whether sensors may be subscribed now.
func (n *Negotiator) Ready() bool {
	s := n.State()
	return s == Granted || s == NotRequired
}

// Request is the user-triggered permission action. It never blocks: the
// returned channel receives exactly one Outcome, immediately when the state
// is already settled, or when a pending handshake resolves.
func (n *Negotiator) Request(ctx context.Context) <-chan Outcome {
	ch := make(chan Outcome, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case Unrequested:
		n.state = Requesting
		n.waiters = append(n.waiters, ch)
		log.Printf("permission: requesting sensor access (%s)", n.family)
		go n.handshake(ctx)
	case Requesting:
		n.waiters = append(n.waiters, ch)
	default:
		ch <- Outcome{State: n.state, Err: n.err}
	}
	return ch
}

func (n *Negotiator) handshake(ctx context.Context) {
	granted, err := n.requester.RequestPermission(ctx)
	n.resolve(granted && err == nil, err)
}

func (n *Negotiator) resolve(granted bool, cause error) {
	n.mu.Lock()
	if n.state != Requesting {
		n.mu.Unlock()
		return
	}
	if granted {
		n.state = Granted
		n.err = nil
	} else {
		n.state = Denied
		n.err = orientation.NewError(orientation.PermissionDenied, RemediationFor(n.family, n.strategy), cause)
	}
	out := Outcome{State: n.state, Err: n.err}
	waiters := n.waiters
	n.waiters = nil
	n.mu.Unlock()

	if granted {
		log.Printf("permission: granted")
		if n.onGranted != nil {
			n.onGranted()
		}
	} else {
		log.Printf("permission: denied: %v", out.Err)
	}
	for _, w := range waiters {
		w <- out
	}
}

// Classify maps a failure to enable sensor-driven rotation onto the
// user-facing error for this platform. Errors already classified pass
// through.
func (n *Negotiator) Classify(cause error) error {
	var oe *orientation.Error
	if errors.As(cause, &oe) && (oe.Kind == orientation.PermissionDenied || oe.Kind == orientation.UnsupportedDevice) {
		return oe
	}
	if err := n.Err(); err != nil {
		return err
	}
	msg := RemediationFor(n.family, n.strategy)
	if n.family.Constrained() {
		return orientation.NewError(orientation.PermissionDenied, msg, cause)
	}
	return orientation.NewError(orientation.UnsupportedDevice, msg, cause)
}
