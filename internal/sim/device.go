package sim

import (
	"fmt"
	"math"
	"time"

	"panocompass/internal/orientation"
)

// Mode selects the shape of the events a simulated device emits.
type Mode string

const (
	// ModeAbsolute emits deviceorientationabsolute events with earth-frame
	// angles, like Chrome on Android.
	ModeAbsolute Mode = "absolute"
	// ModeWebkit emits relative events carrying webkitCompassHeading, like
	// Safari on iOS.
	ModeWebkit Mode = "webkit"
	// ModeRelative emits relative events only. They carry no usable heading.
	ModeRelative Mode = "relative"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAbsolute, ModeWebkit, ModeRelative:
		return m, nil
	case "":
		return ModeAbsolute, nil
	default:
		return "", fmt.Errorf("unknown sim mode %q", s)
	}
}

// EventTypes reports which event types a device in this mode offers.
func (m Mode) EventTypes() []orientation.EventType {
	if m == ModeAbsolute {
		return []orientation.EventType{orientation.EventAbsolute, orientation.EventRelative}
	}
	return []orientation.EventType{orientation.EventRelative}
}

// Pose is the physical attitude of a simulated device.
type Pose struct {
	HeadingDeg float64
	BetaDeg    float64
	GammaDeg   float64
}

// Sample renders p as the event a device in mode m would deliver.
func (p Pose) Sample(m Mode, accuracy float64) (orientation.EventType, orientation.Sample) {
	alpha := orientation.NormalizeDegrees(360 - p.HeadingDeg)
	s := orientation.Sample{
		Alpha: orientation.Angle(alpha),
		Beta:  orientation.Angle(p.BetaDeg),
		Gamma: orientation.Angle(p.GammaDeg),
	}
	switch m {
	case ModeWebkit:
		s.WebkitCompassHeading = orientation.Angle(orientation.NormalizeDegrees(p.HeadingDeg))
		s.WebkitCompassAccuracy = orientation.Angle(accuracy)
		return orientation.EventRelative, s
	case ModeRelative:
		return orientation.EventRelative, s
	default:
		s.Absolute = true
		return orientation.EventAbsolute, s
	}
}

// Rotation turns the device steadily through a full circle each Period while
// rocking it gently on both tilt axes.
type Rotation struct {
	StartDeg float64
	Period   time.Duration
	TiltDeg  float64
}

// PoseAt returns a deterministic pose for now.
func (r Rotation) PoseAt(now time.Time) Pose {
	period := r.Period
	if period <= 0 {
		period = 60 * time.Second
	}
	tilt := r.TiltDeg
	if tilt < 0 {
		tilt = 0
	}
	if tilt > 60 {
		tilt = 60
	}

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase

	return Pose{
		HeadingDeg: orientation.NormalizeDegrees(r.StartDeg + 360*phase),
		// Tilt runs at a different rate than heading so the two do not sync.
		BetaDeg:  tilt * math.Sin(3*w),
		GammaDeg: tilt * math.Cos(2*w),
	}
}
