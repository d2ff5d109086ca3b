package calibration

import (
	"log"

	"panocompass/internal/orientation"
)

// Event describes one calibration. It is not kept after the call returns.
type Event struct {
	HeadingAtRequest   float64            `json:"heading_deg"`
	CameraYawAtRequest float64            `json:"camera_yaw_rad"`
	RotationDelta      float64            `json:"rotation_delta_rad"`
	Source             orientation.Source `json:"source"`
	// Skipped is set when the camera was not available; nothing was rotated.
	Skipped bool `json:"skipped"`
}

// Controller aligns the camera yaw with the last known compass heading.
type Controller struct {
	heading *orientation.HeadingState
	camera  CameraProvider
}

func NewController(heading *orientation.HeadingState, camera CameraProvider) *Controller {
	return &Controller{heading: heading, camera: camera}
}

// Calibrate issues one RotateTo that sets the camera yaw to the current
// heading and keeps its pitch. It uses the last delivered sample and never
// waits for a new one. Without a camera it logs and does nothing.
func (c *Controller) Calibrate() Event {
	h := c.heading.Snapshot()
	ev := Event{HeadingAtRequest: h.Degrees, Source: h.Source}

	cam := c.camera.get()
	if cam == nil {
		log.Printf("calibration: skipped: %v", orientation.NewError(orientation.CollaboratorUnavailable, "camera not initialized", nil))
		ev.Skipped = true
		return ev
	}
	cur, err := cam.Orientation()
	if err != nil {
		log.Printf("calibration: skipped: %v", orientation.NewError(orientation.CollaboratorUnavailable, "read camera orientation", err))
		ev.Skipped = true
		return ev
	}
	if !h.Known() {
		log.Printf("calibration: heading unavailable, aligning to %.1f deg anyway", h.Degrees)
	}

	ev.CameraYawAtRequest = cur.Yaw
	ev.RotationDelta = orientation.DegToRad(h.Degrees - orientation.RadToDeg(cur.Yaw))
	target := Orientation{Yaw: orientation.DegToRad(h.Degrees), Pitch: cur.Pitch}
	cam.RotateTo(target)

	log.Printf("calibration: heading=%.1f deg source=%s camera_yaw=%.1f deg delta=%.1f deg",
		h.Degrees, h.Source, orientation.RadToDeg(cur.Yaw), orientation.RadToDeg(ev.RotationDelta))
	return ev
}
