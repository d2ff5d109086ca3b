package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic, script-driven device motion.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	mode: absolute
//	accuracy_deg: 10
//	keyframes:
//	  - t: 0s
//	    heading_deg: 350
//	    beta_deg: 20
//	    gamma_deg: 0
//	  - t: 10s
//	    heading_deg: 10
//
// Keyframes must be sorted by time and use non-decreasing t values.
type ScenarioScript struct {
	Version     int            `yaml:"version"`
	Duration    time.Duration  `yaml:"duration"`
	Mode        string         `yaml:"mode"`
	AccuracyDeg float64        `yaml:"accuracy_deg"`
	Keyframes   []PoseKeyframe `yaml:"keyframes"`
}

// PoseKeyframe is a time-stamped device pose.
type PoseKeyframe struct {
	T          time.Duration `yaml:"t"`
	HeadingDeg float64       `yaml:"heading_deg"`
	BetaDeg    float64       `yaml:"beta_deg"`
	GammaDeg   float64       `yaml:"gamma_deg"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	mode     Mode
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	mode, err := ParseMode(script.Mode)
	if err != nil {
		return nil, err
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.BetaDeg < -180 || kf.BetaDeg > 180 {
			return nil, fmt.Errorf("keyframes[%d].beta_deg must be within [-180,180]", i)
		}
		if kf.GammaDeg < -90 || kf.GammaDeg > 90 {
			return nil, fmt.Errorf("keyframes[%d].gamma_deg must be within [-90,90]", i)
		}
	}
	if script.AccuracyDeg == 0 {
		script.AccuracyDeg = 10
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, mode: mode, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

func (s *Scenario) Mode() Mode {
	if s == nil {
		return ModeAbsolute
	}
	return s.mode
}

func (s *Scenario) AccuracyDeg() float64 {
	if s == nil {
		return 0
	}
	return s.script.AccuracyDeg
}

// PoseAt computes the pose at elapsed.
//
// If loop is true, elapsed wraps around Duration(). Otherwise elapsed is clamped
// to [0, Duration()].
func (s *Scenario) PoseAt(elapsed time.Duration, loop bool) Pose {
	if s == nil {
		return Pose{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if loop {
			elapsed = elapsed % s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	k0, k1, a := selectSegment(s.script.Keyframes, elapsed)
	return Pose{
		HeadingDeg: lerpAngleDeg(k0.HeadingDeg, k1.HeadingDeg, a),
		BetaDeg:    lerp(k0.BetaDeg, k1.BetaDeg, a),
		GammaDeg:   lerp(k0.GammaDeg, k1.GammaDeg, a),
	}
}

func selectSegment(kfs []PoseKeyframe, t time.Duration) (PoseKeyframe, PoseKeyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAngleDeg(a0, a1, t float64) float64 {
	// Shortest-path interpolation across wraparound.
	norm := func(x float64) float64 {
		for x < 0 {
			x += 360
		}
		for x >= 360 {
			x -= 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}
