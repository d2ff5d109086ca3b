package camera

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"panocompass/internal/calibration"
	"panocompass/internal/orientation"
)

func TestVirtual_FollowOnlyWhileRotating(t *testing.T) {
	v := NewVirtual(calibration.Orientation{Yaw: 1, Pitch: 0.2})
	v.Follow(orientation.Heading{Degrees: 90, Source: orientation.RawCompass})
	if o, _ := v.Orientation(); o.Yaw != 1 {
		t.Fatalf("yaw=%v want unchanged 1", o.Yaw)
	}

	if err := v.StartContinuousRotation(context.Background()); err != nil {
		t.Fatalf("StartContinuousRotation: %v", err)
	}
	// Offset captured at start: yaw 1 at heading 90.
	v.Follow(orientation.Heading{Degrees: 100, Source: orientation.RawCompass})
	o, _ := v.Orientation()
	want := 1 + orientation.DegToRad(10)
	if math.Abs(o.Yaw-want) > 1e-12 || o.Pitch != 0.2 {
		t.Fatalf("pose=%+v want yaw %v", o, want)
	}

	v.StopContinuousRotation()
	v.StopContinuousRotation()
	v.Follow(orientation.Heading{Degrees: 200, Source: orientation.RawCompass})
	if o2, _ := v.Orientation(); o2.Yaw != o.Yaw {
		t.Fatalf("yaw moved after stop: %v", o2.Yaw)
	}
}

func TestVirtual_CalibrationResetsOffset(t *testing.T) {
	v := NewVirtual(calibration.Orientation{Yaw: 3})
	v.Follow(orientation.Heading{Degrees: 45, Source: orientation.TiltCompensated})
	if err := v.StartContinuousRotation(context.Background()); err != nil {
		t.Fatalf("StartContinuousRotation: %v", err)
	}
	v.RotateTo(calibration.Orientation{Yaw: orientation.DegToRad(45)})
	v.Follow(orientation.Heading{Degrees: 50, Source: orientation.TiltCompensated})

	o, _ := v.Orientation()
	if math.Abs(o.Yaw-orientation.DegToRad(50)) > 1e-12 {
		t.Fatalf("yaw=%v want heading 50 deg", o.Yaw)
	}
	if v.Rotations() != 1 {
		t.Fatalf("rotations=%d want 1", v.Rotations())
	}
}

func TestVirtual_StartWithoutSensorFails(t *testing.T) {
	v := NewVirtual(calibration.Orientation{})
	v.SensorLive = func() bool { return false }
	if err := v.StartContinuousRotation(context.Background()); !errors.Is(err, ErrNoSensor) {
		t.Fatalf("err=%v want ErrNoSensor", err)
	}
	if v.Following() {
		t.Fatalf("expected not following")
	}
}

func TestVirtual_WrapsYawClampsPitch(t *testing.T) {
	v := NewVirtual(calibration.Orientation{})
	v.RotateTo(calibration.Orientation{Yaw: -math.Pi / 2, Pitch: 3})
	o, _ := v.Orientation()
	if math.Abs(o.Yaw-3*math.Pi/2) > 1e-12 || o.Pitch != math.Pi/2 {
		t.Fatalf("pose=%+v", o)
	}
}

type fakeConn struct {
	mu        sync.Mutex
	subs      map[string]func(string, []byte)
	published map[string][][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: map[string]func(string, []byte){}, published: map[string][][]byte{}}
}

func (c *fakeConn) Publish(topic string, _ bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[topic] = append(c.published[topic], payload)
	return nil
}

func (c *fakeConn) Subscribe(topic string, fn func(string, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = fn
	return nil
}

func (c *fakeConn) deliver(topic string, payload string) {
	c.mu.Lock()
	fn := c.subs[topic]
	c.mu.Unlock()
	fn(topic, []byte(payload))
}

func (c *fakeConn) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published[topic])
}

func TestRemote_MQTTPoseAndRotate(t *testing.T) {
	conn := newFakeConn()
	r, err := BindMQTT(conn, "viewer/cam")
	if err != nil {
		t.Fatalf("BindMQTT: %v", err)
	}
	if r.Provider()() != nil {
		t.Fatalf("expected nil camera before first pose")
	}
	if _, err := r.Orientation(); err == nil {
		t.Fatalf("expected error before first pose")
	}

	conn.deliver("viewer/cam/pose", `{"yaw":1.5,"pitch":0.25}`)
	cam := r.Provider()()
	if cam == nil {
		t.Fatalf("expected camera after pose")
	}
	o, err := cam.Orientation()
	if err != nil || o.Yaw != 1.5 || o.Pitch != 0.25 {
		t.Fatalf("pose=%+v err=%v", o, err)
	}

	cam.RotateTo(calibration.Orientation{Yaw: 2, Pitch: 0.25})
	if conn.count("viewer/cam/rotateTo") != 1 {
		t.Fatalf("rotateTo publishes=%d", conn.count("viewer/cam/rotateTo"))
	}
	var sent calibration.Orientation
	if err := json.Unmarshal(conn.published["viewer/cam/rotateTo"][0], &sent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sent.Yaw != 2 {
		t.Fatalf("sent=%+v", sent)
	}
}

func TestRemote_GyroHandshake(t *testing.T) {
	conn := newFakeConn()
	r, err := BindMQTT(conn, "cam")
	if err != nil {
		t.Fatalf("BindMQTT: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.StartContinuousRotation(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for conn.count("cam/gyro") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("gyro command not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	conn.deliver("cam/gyro/result", `{"ok":false,"error":"NotAllowedError"}`)
	if err := <-done; err == nil || err.Error() != "NotAllowedError" {
		t.Fatalf("err=%v", err)
	}

	go func() { done <- r.StartContinuousRotation(context.Background()) }()
	for conn.count("cam/gyro") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second gyro command not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	conn.deliver("cam/gyro/result", `{"ok":true}`)
	if err := <-done; err != nil {
		t.Fatalf("err=%v", err)
	}

	r.StopContinuousRotation()
	if conn.count("cam/gyro") != 3 {
		t.Fatalf("gyro publishes=%d want 3", conn.count("cam/gyro"))
	}
}

func TestRemote_GyroContextCancel(t *testing.T) {
	r := NewRemote("t", CommanderFunc(func(string, any) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.StartContinuousRotation(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	// The pending slot is released.
	r.HandleGyroResult(GyroResult{OK: true})
}
