package orientation

import (
	"encoding/json"
	"fmt"
	"math"
)

// EventType names a platform orientation event stream.
type EventType string

const (
	// EventAbsolute carries angles referenced to north.
	EventAbsolute EventType = "deviceorientationabsolute"
	// EventRelative carries angles against an arbitrary origin; the
	// absolute flag on each sample says otherwise when the platform knows.
	EventRelative EventType = "deviceorientation"
)

// Sample is one raw orientation event as delivered by the viewer platform.
//
// JSON field names are the platform event contract. A nil pointer means the
// platform did not supply the value, which is different from a zero angle.
type Sample struct {
	Alpha    *float64 `json:"alpha"`
	Beta     *float64 `json:"beta"`
	Gamma    *float64 `json:"gamma"`
	Absolute bool     `json:"absolute"`

	// Native compass fields some platforms send instead of usable angles.
	WebkitCompassHeading  *float64 `json:"webkitCompassHeading,omitempty"`
	WebkitCompassAccuracy *float64 `json:"webkitCompassAccuracy,omitempty"`
}

// Angle returns a pointer to v, for building samples.
func Angle(v float64) *float64 { return &v }

// DecodeSample parses a JSON platform event. Unknown fields are ignored since
// platforms attach extra event metadata.
func DecodeSample(raw []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		return Sample{}, fmt.Errorf("orientation: decode sample: %w", err)
	}
	return s, nil
}

func (s Sample) String() string {
	return fmt.Sprintf("alpha=%s beta=%s gamma=%s absolute=%t compass=%s accuracy=%s",
		fmtOpt(s.Alpha), fmtOpt(s.Beta), fmtOpt(s.Gamma), s.Absolute,
		fmtOpt(s.WebkitCompassHeading), fmtOpt(s.WebkitCompassAccuracy))
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.2f", *v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
