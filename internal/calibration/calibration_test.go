package calibration

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"panocompass/internal/orientation"
	"panocompass/internal/permission"
)

type fakeCamera struct {
	mu       sync.Mutex
	pose     Orientation
	readErr  error
	startErr error
	rotates  []Orientation
	starts   int
	stops    int
}

func (c *fakeCamera) Orientation() (Orientation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose, c.readErr
}

func (c *fakeCamera) RotateTo(o Orientation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose = o
	c.rotates = append(c.rotates, o)
}

func (c *fakeCamera) StartContinuousRotation(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeCamera) StopContinuousRotation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

type fakeGate struct {
	ready    bool
	outcome  permission.Outcome
	requests int
}

func (g *fakeGate) Ready() bool { return g.ready }

func (g *fakeGate) Request(context.Context) <-chan permission.Outcome {
	g.requests++
	ch := make(chan permission.Outcome, 1)
	ch <- g.outcome
	if g.outcome.Ready() {
		g.ready = true
	}
	return ch
}

func (g *fakeGate) Classify(cause error) error {
	if cause == nil {
		cause = errors.New("unclassified")
	}
	return orientation.NewError(orientation.PermissionDenied, "classified", cause)
}

// headingAt drives a HeadingState through a real normalizer.
type staticPlatform struct {
	fn func(orientation.Sample)
}

func (p *staticPlatform) Supports(t orientation.EventType) bool { return t == orientation.EventRelative }

func (p *staticPlatform) Listen(_ orientation.EventType, fn func(orientation.Sample)) (func(), error) {
	p.fn = fn
	return func() {}, nil
}

func headingAt(t *testing.T, deg float64) *orientation.HeadingState {
	t.Helper()
	p := &staticPlatform{}
	n := orientation.NewNormalizer(p, nil)
	if _, err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.fn(orientation.Sample{WebkitCompassHeading: orientation.Angle(deg)})
	return n.State()
}

func TestCalibrate_AlignsYawKeepsPitch(t *testing.T) {
	cam := &fakeCamera{pose: Orientation{Yaw: 0.5, Pitch: -0.2}}
	c := NewController(headingAt(t, 90), func() Camera { return cam })

	ev := c.Calibrate()
	if ev.Skipped {
		t.Fatalf("unexpected skip")
	}
	if len(cam.rotates) != 1 {
		t.Fatalf("rotates=%d want 1", len(cam.rotates))
	}
	got := cam.rotates[0]
	if math.Abs(got.Yaw-math.Pi/2) > 1e-12 || got.Pitch != -0.2 {
		t.Fatalf("rotateTo=%+v", got)
	}
	if ev.HeadingAtRequest != 90 || ev.CameraYawAtRequest != 0.5 || ev.Source != orientation.RawCompass {
		t.Fatalf("event=%+v", ev)
	}
	if math.Abs(ev.RotationDelta-(math.Pi/2-0.5)) > 1e-12 {
		t.Fatalf("delta=%v", ev.RotationDelta)
	}
}

func TestCalibrate_Idempotent(t *testing.T) {
	cam := &fakeCamera{pose: Orientation{Yaw: 2, Pitch: 0.1}}
	c := NewController(headingAt(t, 42), func() Camera { return cam })

	c.Calibrate()
	first, _ := cam.Orientation()
	ev := c.Calibrate()
	second, _ := cam.Orientation()

	if first != second {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if math.Abs(ev.RotationDelta) > 1e-12 {
		t.Fatalf("second delta=%v want 0", ev.RotationDelta)
	}
}

func TestCalibrate_UnknownHeadingStillRotates(t *testing.T) {
	cam := &fakeCamera{pose: Orientation{Yaw: 1, Pitch: 0.3}}
	c := NewController(orientation.NewHeadingState(), func() Camera { return cam })

	ev := c.Calibrate()
	if ev.Skipped || ev.Source != orientation.Unavailable {
		t.Fatalf("event=%+v", ev)
	}
	if cam.pose.Yaw != 0 || cam.pose.Pitch != 0.3 {
		t.Fatalf("pose=%+v", cam.pose)
	}
}

func TestCalibrate_NoCameraIsNoop(t *testing.T) {
	c := NewController(headingAt(t, 10), func() Camera { return nil })
	if ev := c.Calibrate(); !ev.Skipped {
		t.Fatalf("expected skipped event")
	}

	c = NewController(headingAt(t, 10), nil)
	if ev := c.Calibrate(); !ev.Skipped {
		t.Fatalf("expected skipped event for nil provider")
	}

	cam := &fakeCamera{readErr: errors.New("renderer not ready")}
	c = NewController(headingAt(t, 10), func() Camera { return cam })
	if ev := c.Calibrate(); !ev.Skipped || len(cam.rotates) != 0 {
		t.Fatalf("event=%+v rotates=%d", ev, len(cam.rotates))
	}
}

func TestToggle_EnableWhenReady(t *testing.T) {
	cam := &fakeCamera{pose: Orientation{Pitch: 0.4}}
	gate := &fakeGate{ready: true}
	calib := NewController(headingAt(t, 180), func() Camera { return cam })
	tog := NewRotationToggle(gate, func() Camera { return cam }, calib)

	on, err := tog.Toggle(context.Background())
	if err != nil || !on {
		t.Fatalf("on=%v err=%v", on, err)
	}
	if gate.requests != 0 {
		t.Fatalf("requests=%d want 0", gate.requests)
	}
	if cam.starts != 1 || len(cam.rotates) != 1 {
		t.Fatalf("starts=%d rotates=%d", cam.starts, len(cam.rotates))
	}
	if math.Abs(cam.pose.Yaw-math.Pi) > 1e-12 || cam.pose.Pitch != 0.4 {
		t.Fatalf("pose=%+v", cam.pose)
	}

	on, err = tog.Toggle(context.Background())
	if err != nil || on {
		t.Fatalf("on=%v err=%v", on, err)
	}
	if cam.stops != 1 || tog.Enabled() {
		t.Fatalf("stops=%d enabled=%v", cam.stops, tog.Enabled())
	}
}

func TestToggle_RequestsPermissionFirst(t *testing.T) {
	cam := &fakeCamera{}
	gate := &fakeGate{outcome: permission.Outcome{State: permission.Granted}}
	tog := NewRotationToggle(gate, func() Camera { return cam }, nil)

	if err := tog.Enable(context.Background()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if gate.requests != 1 || cam.starts != 1 || !tog.Enabled() {
		t.Fatalf("requests=%d starts=%d enabled=%v", gate.requests, cam.starts, tog.Enabled())
	}
}

func TestToggle_DeniedSurfacesClassifiedError(t *testing.T) {
	cam := &fakeCamera{}
	denied := orientation.NewError(orientation.PermissionDenied, "denied", nil)
	gate := &fakeGate{outcome: permission.Outcome{State: permission.Denied, Err: denied}}
	tog := NewRotationToggle(gate, func() Camera { return cam }, nil)

	err := tog.Enable(context.Background())
	if !errors.Is(err, orientation.ErrPermissionDenied) {
		t.Fatalf("err=%v want PermissionDenied", err)
	}
	if cam.starts != 0 || tog.Enabled() {
		t.Fatalf("starts=%d enabled=%v", cam.starts, tog.Enabled())
	}
}

func TestToggle_StartFailureIsClassified(t *testing.T) {
	cause := errors.New("gyroscope unavailable")
	cam := &fakeCamera{startErr: cause}
	tog := NewRotationToggle(&fakeGate{ready: true}, func() Camera { return cam }, nil)

	err := tog.Enable(context.Background())
	if !errors.Is(err, orientation.ErrPermissionDenied) || !errors.Is(err, cause) {
		t.Fatalf("err=%v", err)
	}
	if tog.Enabled() {
		t.Fatalf("expected disabled")
	}
}

func TestToggle_NoCameraIsNoop(t *testing.T) {
	gate := &fakeGate{ready: true}
	tog := NewRotationToggle(gate, func() Camera { return nil }, nil)
	on, err := tog.Toggle(context.Background())
	if err != nil || on {
		t.Fatalf("on=%v err=%v", on, err)
	}
	tog.Disable()
}

// slowCamera's start waits until ctx ends, like a renderer that never answers.
type slowCamera struct {
	fakeCamera
	entered chan struct{}
}

func (c *slowCamera) StartContinuousRotation(ctx context.Context) error {
	close(c.entered)
	<-ctx.Done()
	return ctx.Err()
}

func TestToggle_PendingStartDoesNotBlockReadersOrDisable(t *testing.T) {
	cam := &slowCamera{entered: make(chan struct{})}
	tog := NewRotationToggle(&fakeGate{ready: true}, func() Camera { return cam }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tog.Enable(ctx) }()

	select {
	case <-cam.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("camera start never called")
	}

	began := time.Now()
	if tog.Enabled() {
		t.Fatalf("enabled while the camera is still starting")
	}
	tog.Disable()
	if el := time.Since(began); el > 500*time.Millisecond {
		t.Fatalf("Enabled/Disable took %s behind a pending start", el)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Enable after Disable: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Disable did not cancel the pending start")
	}
	if tog.Enabled() {
		t.Fatalf("expected disabled")
	}
	if cam.stops == 0 {
		t.Fatalf("camera never told to stop")
	}
}

func TestToggle_ConcurrentEnableStartsOnce(t *testing.T) {
	cam := &slowCamera{entered: make(chan struct{})}
	tog := NewRotationToggle(&fakeGate{ready: true}, func() Camera { return cam }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tog.Enable(ctx) }()
	<-cam.entered

	// A second enable while the first is pending returns without starting
	// the camera again (slowCamera would panic on a second close).
	if err := tog.Enable(context.Background()); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, orientation.ErrPermissionDenied) {
		t.Fatalf("err=%v want classified start failure", err)
	}
}
