// Package session composes the orientation pipeline for one viewer: heading
// state, event normalizer, permission negotiator, calibration and the
// continuous-rotation toggle.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"panocompass/internal/calibration"
	"panocompass/internal/orientation"
	"panocompass/internal/permission"
)

type Config struct {
	Platform     orientation.Platform
	Capabilities permission.Capabilities
	Requester    permission.Requester
	Camera       calibration.CameraProvider
	// OnHeading observes every heading update on the delivering goroutine.
	// It must not block.
	OnHeading func(orientation.Heading)
	// PermissionTimeout bounds one handshake. Zero means no bound beyond the
	// session lifetime.
	PermissionTimeout time.Duration
}

// Session owns every piece of orientation state for one viewer. Nothing is
// shared between sessions.
type Session struct {
	id      string
	created time.Time
	timeout time.Duration

	state  *orientation.HeadingState
	norm   *orientation.Normalizer
	neg    *permission.Negotiator
	calib  *calibration.Controller
	toggle *calibration.RotationToggle

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.NewString(),
		created: time.Now().UTC(),
		timeout: cfg.PermissionTimeout,
		state:   orientation.NewHeadingState(),
		ctx:     ctx,
		cancel:  cancel,
	}
	var opts []orientation.NormalizerOption
	if cfg.OnHeading != nil {
		opts = append(opts, orientation.OnUpdate(cfg.OnHeading))
	}
	s.norm = orientation.NewNormalizer(cfg.Platform, s.state, opts...)
	s.neg = permission.NewNegotiator(permission.Config{
		Capabilities: cfg.Capabilities,
		Requester:    cfg.Requester,
		OnGranted:    s.subscribe,
	})
	s.calib = calibration.NewController(s.state, cfg.Camera)
	s.toggle = calibration.NewRotationToggle(gate{s}, cfg.Camera, s.calib)
	return s
}

func (s *Session) ID() string { return s.id }

// Start begins sensing where no permission is needed. A gated platform waits
// for RequestPermission. The returned error (unsupported device) is surfaced
// once; later calls return nil.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true

	switch s.neg.State() {
	case permission.NotRequired:
		if _, err := s.norm.Start(); err != nil {
			log.Printf("session %s: %v", s.id, err)
			return err
		}
	case permission.Unsupported:
		err := s.neg.Err()
		log.Printf("session %s: %v", s.id, err)
		return err
	default:
		log.Printf("session %s: waiting for permission request (%s)", s.id, s.neg.Family())
	}
	return nil
}

// subscribe runs on grant. The stopped check and the subscription happen
// under s.mu so a concurrent Stop either sees the subscription or prevents
// it.
func (s *Session) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, err := s.norm.Start(); err != nil {
		log.Printf("session %s: start after grant: %v", s.id, err)
	}
}

// Subscribed reports whether orientation events are flowing into the
// session. It takes no lock the rotation toggle holds.
func (s *Session) Subscribed() bool {
	return s.norm.Subscription().Active()
}

// RequestPermission is the user-gesture permission action. It waits for the
// handshake (or ctx) and returns the resolved state and its classified error.
func (s *Session) RequestPermission(ctx context.Context) (permission.State, error) {
	select {
	case o := <-s.request():
		return o.State, o.Err
	case <-ctx.Done():
		return s.neg.State(), ctx.Err()
	}
}

// request starts or joins a handshake bound to the session rather than to the
// caller, so a caller giving up does not deny the prompt.
func (s *Session) request() <-chan permission.Outcome {
	hctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		hctx, cancel = context.WithTimeout(s.ctx, s.timeout)
	}
	in := s.neg.Request(hctx)
	out := make(chan permission.Outcome, 1)
	go func() {
		o := <-in
		cancel()
		out <- o
	}()
	return out
}

// Calibrate aligns the camera yaw with the current heading.
func (s *Session) Calibrate() calibration.Event {
	return s.calib.Calibrate()
}

// ToggleRotation flips continuous rotation and returns the new state.
func (s *Session) ToggleRotation(ctx context.Context) (bool, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return false, errors.New("session: stopped")
	}
	return s.toggle.Toggle(ctx)
}

func (s *Session) Heading() orientation.Heading {
	return s.state.Snapshot()
}

type Status struct {
	ID         string              `json:"id"`
	Created    time.Time           `json:"created_utc"`
	Heading    orientation.Heading `json:"heading"`
	Permission string              `json:"permission"`
	Strategy   string              `json:"strategy"`
	Platform   string              `json:"platform"`
	Error      string              `json:"error,omitempty"`
	Event      string              `json:"event,omitempty"`
	Discarded  uint64              `json:"discarded"`
	Rotation   bool                `json:"rotation"`
}

func (s *Session) Status() Status {
	st := Status{
		ID:         s.id,
		Created:    s.created,
		Heading:    s.state.Snapshot(),
		Permission: s.neg.State().String(),
		Strategy:   s.neg.Strategy().String(),
		Platform:   s.neg.Family().String(),
		Discarded:  s.norm.Discarded(),
		Rotation:   s.toggle.Enabled(),
	}
	if err := s.neg.Err(); err != nil {
		st.Error = err.Error()
	}
	if sub := s.norm.Subscription(); sub != nil {
		st.Event = string(sub.Event())
	}
	return st
}

// Stop tears the session down: unsubscribe first so no handler runs against
// a disposed camera, then stop rotation, then end pending handshakes.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.norm.Stop()
	s.toggle.Disable()
	s.cancel()
	log.Printf("session %s: stopped", s.id)
}

// gate routes toggle permission requests through the session's handshake
// context.
type gate struct{ s *Session }

func (g gate) Ready() bool { return g.s.neg.Ready() }

func (g gate) Request(context.Context) <-chan permission.Outcome { return g.s.request() }

func (g gate) Classify(cause error) error { return g.s.neg.Classify(cause) }
