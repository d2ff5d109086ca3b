package permission

import "strings"

// Capabilities is what the viewer runtime reports about itself, once, when a
// device connects.
type Capabilities struct {
	// Absolute is true when the runtime has the absolute orientation event.
	Absolute bool `json:"ondeviceorientationabsolute"`
	// Relative is true when the runtime has the plain orientation event.
	Relative bool `json:"ondeviceorientation"`
	// PermissionAPI is true when the runtime exposes a permission request
	// function for orientation events.
	PermissionAPI bool `json:"requestPermission"`

	UserAgent      string `json:"userAgent,omitempty"`
	MaxTouchPoints int    `json:"maxTouchPoints,omitempty"`
}

// Family is the browser/OS combination, as far as permission handling cares.
type Family int

const (
	FamilyOther Family = iota
	// FamilyIOSSafari is Mobile Safari on iPhone/iPod/older iPad.
	FamilyIOSSafari
	// FamilyIPadSafari is iPadOS 13+ Safari, which reports a desktop UA.
	FamilyIPadSafari
)

func (f Family) String() string {
	switch f {
	case FamilyIOSSafari:
		return "ios-safari"
	case FamilyIPadSafari:
		return "ipados-safari"
	default:
		return "other"
	}
}

// Constrained reports whether the family gates sensors behind a user grant.
func (f Family) Constrained() bool {
	return f == FamilyIOSSafari || f == FamilyIPadSafari
}

// Strategy is the fixed permission approach chosen at detection time.
type Strategy int

const (
	StrategyNotRequired Strategy = iota
	StrategyGated
	StrategyUnsupported
)

func (s Strategy) String() string {
	switch s {
	case StrategyGated:
		return "gated"
	case StrategyUnsupported:
		return "unsupported"
	default:
		return "not_required"
	}
}

// Detect classifies the runtime once. Sensors are gated only when a
// constrained family also exposes the request function.
func Detect(c Capabilities) (Strategy, Family) {
	fam := ClassifyUserAgent(c.UserAgent, c.MaxTouchPoints)
	switch {
	case !c.Absolute && !c.Relative:
		return StrategyUnsupported, fam
	case fam.Constrained() && c.PermissionAPI:
		return StrategyGated, fam
	default:
		return StrategyNotRequired, fam
	}
}

// ClassifyUserAgent recognizes Safari on iOS and iPadOS. iPadOS 13+ sends a
// Macintosh UA, so touch support tells it apart from desktop Safari.
func ClassifyUserAgent(ua string, maxTouchPoints int) Family {
	if !isSafari(ua) {
		return FamilyOther
	}
	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPod"):
		if strings.Contains(ua, "Mobile") {
			return FamilyIOSSafari
		}
	case strings.Contains(ua, "iPad"):
		return FamilyIOSSafari
	case strings.Contains(ua, "Macintosh") && maxTouchPoints > 1:
		return FamilyIPadSafari
	}
	return FamilyOther
}

func isSafari(ua string) bool {
	if !strings.Contains(ua, "Safari") {
		return false
	}
	for _, other := range []string{"CriOS", "FxiOS", "EdgiOS", "OPiOS", "Chrome", "Chromium", "Android"} {
		if strings.Contains(ua, other) {
			return false
		}
	}
	return true
}
