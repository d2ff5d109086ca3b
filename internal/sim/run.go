package sim

import (
	"context"
	"log"
	"time"

	"panocompass/internal/platform"
)

// PoseSource yields the device pose for a moment in the run.
type PoseSource interface {
	PoseAt(start, now time.Time) Pose
}

// RotationSource adapts Rotation to PoseSource.
type RotationSource Rotation

func (r RotationSource) PoseAt(_, now time.Time) Pose { return Rotation(r).PoseAt(now) }

// ScenarioSource plays a Scenario from the start of the run.
type ScenarioSource struct {
	Scenario *Scenario
	Loop     bool
}

func (s ScenarioSource) PoseAt(start, now time.Time) Pose {
	return s.Scenario.PoseAt(now.Sub(start), s.Loop)
}

// Device publishes poses onto a bus at a fixed rate.
type Device struct {
	Bus         *platform.Bus
	Source      PoseSource
	Mode        Mode
	AccuracyDeg float64
	Interval    time.Duration
	// Jitter, when set, adds hand tremor to every pose.
	Jitter *Jitter
}

// Run publishes until ctx ends.
func (d Device) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	log.Printf("sim: device mode=%s interval=%s", d.Mode, interval)

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.Step(start, now)
		}
	}
}

// Step publishes the pose for now and returns how many listeners saw it.
func (d Device) Step(start, now time.Time) int {
	pose := d.Jitter.Apply(d.Source.PoseAt(start, now), now.Sub(start))
	event, s := pose.Sample(d.Mode, d.AccuracyDeg)
	return d.Bus.Publish(event, s)
}

// Requester answers permission requests after Delay with a fixed result.
type Requester struct {
	Grant bool
	Delay time.Duration
}

func (r Requester) RequestPermission(ctx context.Context) (bool, error) {
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	}
	log.Printf("sim: permission answered grant=%v", r.Grant)
	return r.Grant, nil
}
