package schedule

import (
	"math"
	"math/rand"
	"time"
)

// Sampler yields round durations.
type Sampler interface {
	Sample() time.Duration
}

// DurationSampler draws normally distributed round durations, expressed in
// seconds, clamped to [Min, Max] and rounded to Resolution.
type DurationSampler struct {
	rng        *rand.Rand
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
	Resolution float64
}

func NewDurationSampler(rng *rand.Rand, mean, stddev, lo, hi, resolution float64) *DurationSampler {
	if lo > hi {
		lo, hi = hi, lo
	}
	return &DurationSampler{rng: rng, Mean: mean, StdDev: stddev, Min: lo, Max: hi, Resolution: resolution}
}

// Sample returns one duration using the Box–Muller transform.
func (s *DurationSampler) Sample() time.Duration {
	u1 := 1 - s.rng.Float64()
	u2 := s.rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	seconds := s.Mean + z*s.StdDev
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = s.Mean
	}
	seconds = s.clamp(seconds)
	if s.Resolution > 0 {
		seconds = s.clamp(math.Round(seconds/s.Resolution) * s.Resolution)
	}
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond
}

func (s *DurationSampler) clamp(v float64) float64 {
	return math.Max(s.Min, math.Min(s.Max, v))
}

// Fixed always returns the same duration.
type Fixed time.Duration

func (f Fixed) Sample() time.Duration {
	return time.Duration(f)
}
