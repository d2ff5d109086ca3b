// Package camera provides calibration.Camera implementations for renderers
// that do not live in the viewer page: an in-process virtual camera and a
// remote camera driven over MQTT.
package camera

import (
	"context"
	"errors"
	"math"
	"sync"

	"panocompass/internal/calibration"
	"panocompass/internal/orientation"
)

// ErrNoSensor is returned when continuous rotation is enabled without a live
// orientation subscription.
var ErrNoSensor = errors.New("camera: no orientation sensor subscribed")

// Virtual is an in-process camera. While continuous rotation is on it follows
// heading updates, keeping whatever yaw offset it had when rotation started
// or when it was last rotated explicitly.
type Virtual struct {
	// SensorLive reports whether heading updates are flowing. Nil means yes.
	SensorLive func() bool

	mu          sync.RWMutex
	pose        calibration.Orientation
	following   bool
	offset      float64
	lastHeading float64
	haveHeading bool
	rotations   uint64
}

func NewVirtual(initial calibration.Orientation) *Virtual {
	return &Virtual{pose: calibration.Orientation{Yaw: wrapYaw(initial.Yaw), Pitch: clampPitch(initial.Pitch)}}
}

func (v *Virtual) Orientation() (calibration.Orientation, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pose, nil
}

func (v *Virtual) RotateTo(o calibration.Orientation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pose = calibration.Orientation{Yaw: wrapYaw(o.Yaw), Pitch: clampPitch(o.Pitch)}
	v.rotations++
	if v.haveHeading {
		v.offset = v.pose.Yaw - orientation.DegToRad(v.lastHeading)
	}
}

func (v *Virtual) StartContinuousRotation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.SensorLive != nil && !v.SensorLive() {
		return ErrNoSensor
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.following = true
	if v.haveHeading {
		v.offset = v.pose.Yaw - orientation.DegToRad(v.lastHeading)
	}
	return nil
}

func (v *Virtual) StopContinuousRotation() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.following = false
}

// Follow feeds a heading update. It only moves the camera while continuous
// rotation is on.
func (v *Virtual) Follow(h orientation.Heading) {
	if !h.Known() {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.following && !v.haveHeading {
		v.offset = v.pose.Yaw - orientation.DegToRad(h.Degrees)
	}
	v.lastHeading = h.Degrees
	v.haveHeading = true
	if v.following {
		v.pose.Yaw = wrapYaw(orientation.DegToRad(h.Degrees) + v.offset)
	}
}

func (v *Virtual) Following() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.following
}

// Rotations counts explicit RotateTo commands.
func (v *Virtual) Rotations() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rotations
}

// wrapYaw folds a longitude into [0, 2pi).
func wrapYaw(r float64) float64 {
	r = math.Mod(r, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	if r >= 2*math.Pi {
		r = 0
	}
	return r
}

func clampPitch(r float64) float64 {
	return math.Max(-math.Pi/2, math.Min(math.Pi/2, r))
}
