package kernel

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
)

// #region interface
// Kernel draws the random component of a move. Scaler returns a multiplicative
// factor > 0, symmetric in log space; Delta returns an additive offset,
// symmetric around zero. dim identifies the dimension being moved so adaptive
// kernels can keep per-dimension statistics; value is its current value.
type Kernel interface {
	Name() string
	Scaler(r *random.Source, dim int, value, width float64) float64
	Delta(r *random.Source, dim int, value, width float64) float64
	// Observe feeds the value of dim after a step. Non-adaptive kernels ignore it.
	Observe(dim int, value float64)
}

// BactrianM is the default spike parameter: each half of the Bactrian
// mixture is N(±m, 1−m²).
const BactrianM = 0.95

// New resolves a kernel by configuration name. Each call returns a fresh
// instance since adaptive kernels hold per-operator statistics.
func New(name string) (Kernel, error) {
	switch name {
	case "", "bactrian":
		return Bactrian{M: BactrianM}, nil
	case "uniform":
		return Uniform{}, nil
	case "mirror":
		return NewMirror(), nil
	}
	return nil, fmt.Errorf("unknown kernel %q", name)
}

// #endregion interface

// #region uniform
// Uniform draws uniformly on [-width, width] (in log space for Scaler).
type Uniform struct{}

func (Uniform) Name() string { return "uniform" }

func (Uniform) Scaler(r *random.Source, _ int, _, width float64) float64 {
	return math.Exp(width * (2*r.Float64() - 1))
}

func (Uniform) Delta(r *random.Source, _ int, _, width float64) float64 {
	return width * (2*r.Float64() - 1)
}

func (Uniform) Observe(int, float64) {}

// #endregion uniform

// #region bactrian
// Bactrian is the two-humped mixture that avoids proposals very close to the
// current value.
type Bactrian struct{ M float64 }

func (Bactrian) Name() string { return "bactrian" }

func (b Bactrian) draw(r *random.Source) float64 {
	z := b.M + r.NormFloat64()*math.Sqrt(1-b.M*b.M)
	if r.Float64() < 0.5 {
		return -z
	}
	return z
}

func (b Bactrian) Scaler(r *random.Source, _ int, _, width float64) float64 {
	return math.Exp(width * b.draw(r))
}

func (b Bactrian) Delta(r *random.Source, _ int, _, width float64) float64 {
	return width * b.draw(r)
}

func (Bactrian) Observe(int, float64) {}

// #endregion bactrian

// #region mirror
// MinObservations is how many values a dimension needs before the mirror
// kernel trusts its estimate.
const MinObservations = 100

// welford keeps a running mean and variance.
type welford struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	M2   float64 `json:"m2"`
}

func (w *welford) add(x float64) {
	w.N++
	d := x - w.Mean
	w.Mean += d / float64(w.N)
	w.M2 += d * (x - w.Mean)
}

func (w *welford) sd() float64 {
	if w.N < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.N-1))
}

// Mirror proposes around the reflection of the current value through the
// running mean of the dimension: x' = 2μ − x + ε, ε ~ N(0, (width·σ)²).
// The reflection is its own inverse, so the kernel is symmetric. Until a
// dimension has MinObservations values, or when value is NaN, it falls back
// to Bactrian.
type Mirror struct {
	fallback Bactrian
	linear   map[int]*welford
	log      map[int]*welford
}

// NewMirror creates a mirror kernel with no observations.
func NewMirror() *Mirror {
	return &Mirror{
		fallback: Bactrian{M: BactrianM},
		linear:   make(map[int]*welford),
		log:      make(map[int]*welford),
	}
}

func (*Mirror) Name() string { return "mirror" }

func (m *Mirror) Observe(dim int, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	stat(m.linear, dim).add(value)
	if value > 0 {
		stat(m.log, dim).add(math.Log(value))
	}
}

func stat(s map[int]*welford, dim int) *welford {
	w, ok := s[dim]
	if !ok {
		w = &welford{}
		s[dim] = w
	}
	return w
}

func (m *Mirror) Scaler(r *random.Source, dim int, value, width float64) float64 {
	w, ok := m.log[dim]
	if !ok || w.N < MinObservations || w.sd() == 0 || !(value > 0) {
		return m.fallback.Scaler(r, dim, value, width)
	}
	x := math.Log(value)
	next := 2*w.Mean - x + r.NormFloat64()*width*w.sd()
	return math.Exp(next - x)
}

func (m *Mirror) Delta(r *random.Source, dim int, value, width float64) float64 {
	w, ok := m.linear[dim]
	if !ok || w.N < MinObservations || w.sd() == 0 || math.IsNaN(value) {
		return m.fallback.Delta(r, dim, value, width)
	}
	next := 2*w.Mean - value + r.NormFloat64()*width*w.sd()
	return next - value
}

type mirrorState struct {
	Linear map[int]*welford `json:"linear"`
	Log    map[int]*welford `json:"log"`
}

// MarshalJSON exports the running statistics for checkpointing.
func (m *Mirror) MarshalJSON() ([]byte, error) {
	return json.Marshal(mirrorState{Linear: m.linear, Log: m.log})
}

// UnmarshalJSON restores statistics written by MarshalJSON.
func (m *Mirror) UnmarshalJSON(data []byte) error {
	var s mirrorState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode mirror kernel: %w", err)
	}
	m.fallback = Bactrian{M: BactrianM}
	m.linear, m.log = s.Linear, s.Log
	if m.linear == nil {
		m.linear = make(map[int]*welford)
	}
	if m.log == nil {
		m.log = make(map[int]*welford)
	}
	return nil
}

// #endregion mirror
