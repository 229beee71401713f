package random

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// #region source
// Source is an explicitly owned random stream. Its full state can be
// serialized so a resumed chain continues with the exact same draws.
type Source struct {
	pcg *rand.PCG
	rng *rand.Rand
}

// New seeds a PCG stream from a single seed.
func New(seed uint64) *Source {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Source{pcg: pcg, rng: rand.New(pcg)}
}

// Float64 returns a uniform draw in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// OpenFloat64 returns a uniform draw in (0, 1), suitable for log(u).
func (s *Source) OpenFloat64() float64 {
	for {
		if u := s.rng.Float64(); u > 0 {
			return u
		}
	}
}

// NormFloat64 returns a standard normal draw.
func (s *Source) NormFloat64() float64 {
	return s.rng.NormFloat64()
}

// IntN returns a uniform integer in [0, n).
func (s *Source) IntN(n int) int {
	return s.rng.IntN(n)
}

// Categorical draws an index with probability proportional to weights.
// Indices with non-positive weight are never chosen. It returns -1 if no
// weight is positive.
func (s *Source) Categorical(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return -1
	}
	u := s.rng.Float64() * total
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if u < w {
			return i
		}
		u -= w
	}
	return last
}

// #endregion source

// #region serialization
// MarshalBinary captures the generator state.
func (s *Source) MarshalBinary() ([]byte, error) {
	return s.pcg.MarshalBinary()
}

// UnmarshalBinary restores a state captured by MarshalBinary.
func (s *Source) UnmarshalBinary(data []byte) error {
	if err := s.pcg.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("restore random state: %w", err)
	}
	return nil
}

// #endregion serialization
