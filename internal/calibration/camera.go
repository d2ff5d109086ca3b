package calibration

import "context"

// Orientation is a camera pose in the camera's native unit (radians). Yaw is
// the panorama longitude, Pitch the latitude.
type Orientation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Camera is the rendering collaborator's camera. It is owned by the renderer;
// this package only reads or commands it.
type Camera interface {
	Orientation() (Orientation, error)
	// RotateTo is fire-and-forget.
	RotateTo(o Orientation)
	// StartContinuousRotation enables sensor-driven camera rotation.
	StartContinuousRotation(ctx context.Context) error
	// StopContinuousRotation is idempotent and never fails.
	StopContinuousRotation()
}

// CameraProvider returns the renderer's camera, or nil while the renderer is
// not set up yet.
type CameraProvider func() Camera

func (p CameraProvider) get() Camera {
	if p == nil {
		return nil
	}
	return p()
}
