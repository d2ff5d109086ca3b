package sim

import (
	"math"
	"time"

	"github.com/ojrac/opensimplex-go"
)

// jitterRate is how many noise units pass per second; about one tremor
// swing every few hundred milliseconds.
const jitterRate = 3.0

// Jitter perturbs the tilt axes with smooth noise, like a hand holding the
// device. Heading is left alone.
type Jitter struct {
	amplitude float64
	noise     opensimplex.Noise
}

// NewJitter returns tremor of at most amplitudeDeg per axis. The same seed
// always yields the same tremor.
func NewJitter(amplitudeDeg float64, seed int64) *Jitter {
	return &Jitter{amplitude: math.Abs(amplitudeDeg), noise: opensimplex.New(seed)}
}

// Apply returns p with tremor for elapsed added to beta and gamma.
func (j *Jitter) Apply(p Pose, elapsed time.Duration) Pose {
	if j == nil || j.amplitude == 0 {
		return p
	}
	t := elapsed.Seconds() * jitterRate
	p.BetaDeg += j.amplitude * unit(j.noise.Eval2(t, 0))
	p.GammaDeg += j.amplitude * unit(j.noise.Eval2(t, 17.5))
	return p
}

func unit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
