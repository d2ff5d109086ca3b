package calibration

import (
	"context"
	"log"
	"sync"

	"panocompass/internal/orientation"
	"panocompass/internal/permission"
)

// PermissionGate is the part of the permission negotiator the toggle needs.
type PermissionGate interface {
	Ready() bool
	Request(ctx context.Context) <-chan permission.Outcome
	Classify(cause error) error
}

// RotationToggle switches the renderer's continuous sensor-driven rotation.
// The rotation itself belongs to the camera; the toggle only gates it on
// sensor permission and classifies failures. Calibration works the same
// whether rotation is on or off.
type RotationToggle struct {
	gate   PermissionGate
	camera CameraProvider
	calib  *Controller

	mu      sync.Mutex
	enabled bool
	// starting is set while StartContinuousRotation runs without the lock;
	// cancelStart aborts it.
	starting    bool
	cancelStart context.CancelFunc
	// gen counts Disable calls so a start that finishes after a Disable is
	// rolled back.
	gen uint64
}

func NewRotationToggle(gate PermissionGate, camera CameraProvider, calib *Controller) *RotationToggle {
	return &RotationToggle{gate: gate, camera: camera, calib: calib}
}

func (t *RotationToggle) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Toggle flips continuous rotation and returns the new state.
func (t *RotationToggle) Toggle(ctx context.Context) (bool, error) {
	if t.Enabled() {
		t.Disable()
		return false, nil
	}
	if err := t.Enable(ctx); err != nil {
		return false, err
	}
	return t.Enabled(), nil
}

// Enable starts continuous rotation. When permission has not been settled
// yet, this call is the user gesture that requests it and waits for the
// outcome. On success the camera is aligned to the heading once. A Disable
// while the camera is starting cancels the start.
func (t *RotationToggle) Enable(ctx context.Context) error {
	cam := t.camera.get()
	if cam == nil {
		log.Printf("rotation: enable skipped: %v", orientation.NewError(orientation.CollaboratorUnavailable, "camera not initialized", nil))
		return nil
	}

	if !t.gate.Ready() {
		select {
		case o := <-t.gate.Request(ctx):
			if !o.Ready() {
				return t.gate.Classify(o.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	if t.enabled || t.starting {
		t.mu.Unlock()
		return nil
	}
	startCtx, cancel := context.WithCancel(ctx)
	t.starting = true
	t.cancelStart = cancel
	gen := t.gen
	t.mu.Unlock()

	err := cam.StartContinuousRotation(startCtx)
	cancel()

	t.mu.Lock()
	t.starting = false
	t.cancelStart = nil
	if gen != t.gen {
		t.mu.Unlock()
		if err == nil {
			cam.StopContinuousRotation()
		}
		log.Printf("rotation: enable cancelled by disable")
		return nil
	}
	if err != nil {
		t.mu.Unlock()
		cerr := t.gate.Classify(err)
		log.Printf("rotation: enable failed: %v", cerr)
		return cerr
	}
	t.enabled = true
	t.mu.Unlock()
	log.Printf("rotation: enabled")

	if t.calib != nil {
		t.calib.Calibrate()
	}
	return nil
}

// Disable stops continuous rotation and aborts a pending start. It never
// fails.
func (t *RotationToggle) Disable() {
	t.mu.Lock()
	t.gen++
	if t.cancelStart != nil {
		t.cancelStart()
	}
	was := t.enabled
	t.enabled = false
	t.mu.Unlock()

	if cam := t.camera.get(); cam != nil {
		cam.StopContinuousRotation()
	}
	if was {
		log.Printf("rotation: disabled")
	}
}
