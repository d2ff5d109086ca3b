package orientation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SentinelAccuracy marks an accuracy that is unknown or not yet received.
const SentinelAccuracy = -1000.0

// Source records which derivation produced the current heading.
type Source int

const (
	Unavailable Source = iota
	RawCompass
	AbsoluteAngle
	TiltCompensated
)

func (s Source) String() string {
	switch s {
	case Unavailable:
		return "unavailable"
	case RawCompass:
		return "raw_compass"
	case AbsoluteAngle:
		return "absolute_angle"
	case TiltCompensated:
		return "tilt_compensated"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Heading is a point-in-time view of HeadingState.
type Heading struct {
	Degrees   float64   `json:"heading_deg"`
	Accuracy  float64   `json:"accuracy"`
	Source    Source    `json:"source"`
	Updates   uint64    `json:"updates"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Known reports whether any sample has produced a heading yet.
func (h Heading) Known() bool { return h.Source != Unavailable }

// HeadingState is the long-lived heading of one session. It has a single
// writer (the Normalizer that owns it) and any number of readers.
type HeadingState struct {
	mu   sync.RWMutex
	snap Heading
	now  func() time.Time
}

func NewHeadingState() *HeadingState {
	return &HeadingState{
		snap: Heading{Accuracy: SentinelAccuracy, Source: Unavailable},
		now:  time.Now,
	}
}

// Snapshot returns a copy of the current heading.
func (h *HeadingState) Snapshot() Heading {
	if h == nil {
		return Heading{Accuracy: SentinelAccuracy}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Degrees returns the last known heading.
func (h *HeadingState) Degrees() float64 {
	return h.Snapshot().Degrees
}

func (h *HeadingState) apply(r Reading) Heading {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Degrees = r.Degrees
	h.snap.Accuracy = r.Accuracy
	h.snap.Source = r.Source
	h.snap.Updates++
	h.snap.UpdatedAt = h.now().UTC()
	return h.snap
}

func (h *HeadingState) markUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Source = Unavailable
}
