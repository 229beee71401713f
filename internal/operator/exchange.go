package operator

import (
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

// #region targets
// itemsOf lists the state items behind an indexed target.
func itemsOf(t state.Target) []state.Stateful {
	switch v := t.(type) {
	case *state.Compound:
		out := make([]state.Stateful, 0, len(v.Nodes()))
		for _, n := range v.Nodes() {
			out = append(out, n)
		}
		return out
	case state.Stateful:
		return []state.Stateful{v}
	}
	return nil
}

func discrete(t state.Target) bool {
	for i := 0; i < t.Dim(); i++ {
		if !t.Bounds(i).Discrete() {
			return false
		}
	}
	return t.Dim() > 0
}

// roundAway rounds an integer step, never to zero.
func roundAway(d float64) float64 {
	k := math.Round(d)
	if k != 0 {
		return k
	}
	if d < 0 {
		return -1
	}
	return 1
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// #endregion targets

// #region random-walk
// RandomWalk adds a kernel delta to one or all dimensions. Integer targets
// move by whole steps.
type RandomWalk struct {
	base
	target  state.Target
	all     bool
	integer bool
}

func NewRandomWalk(cfg Config, target state.Target, all bool) (*RandomWalk, error) {
	items := itemsOf(target)
	if len(items) == 0 || target.Dim() == 0 {
		return nil, configError("random walk %s: target has no state", cfg.ID)
	}
	b, err := newBase(cfg, items...)
	if err != nil {
		return nil, err
	}
	return &RandomWalk{base: b, target: target, all: all, integer: discrete(target)}, nil
}

func (w *RandomWalk) Proposal(r *random.Source) float64 {
	lo, hi := 0, w.target.Dim()
	if !w.all {
		lo = r.IntN(hi)
		hi = lo + 1
	}
	for i := lo; i < hi; i++ {
		v := w.target.Value(i)
		d := w.kernel.Delta(r, i, v, w.tuner.Value())
		if !finite(d) {
			return w.reject("invalid delta", nil)
		}
		if w.integer {
			d = roundAway(d)
		}
		if err := w.target.Set(i, v+d); err != nil {
			return w.reject("bounds", err)
		}
	}
	return 0
}

func (w *RandomWalk) Observe() {
	for i := 0; i < w.target.Dim(); i++ {
		w.kernel.Observe(i, w.target.Value(i))
	}
}

// #endregion random-walk

// #region delta-exchange
// DeltaExchange moves mass between two positions so that the weighted sum
// Σ wᵢ·xᵢ is preserved. With equal weights the plain sum is preserved and the
// delta is moved whole.
type DeltaExchange struct {
	base
	target  state.Target
	weights []float64
	integer bool
}

// NewDeltaExchange builds a delta-exchange move over target. weights may be
// nil for equal weights. Integer targets require integer weights.
func NewDeltaExchange(cfg Config, target state.Target, weights []float64) (*DeltaExchange, error) {
	items := itemsOf(target)
	if len(items) == 0 {
		return nil, configError("delta exchange %s: target has no state", cfg.ID)
	}
	dim := target.Dim()
	if weights == nil {
		weights = make([]float64, dim)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != dim {
		return nil, configError("delta exchange %s: %d weights for dimension %d", cfg.ID, len(weights), dim)
	}
	integer := discrete(target)
	nonZero := 0
	for i, w := range weights {
		if w < 0 || !finite(w) {
			return nil, configError("delta exchange %s: invalid weight %g at %d", cfg.ID, w, i)
		}
		if integer && w != math.Trunc(w) {
			return nil, configError("delta exchange %s: integer target needs integer weights, got %g", cfg.ID, w)
		}
		if w > 0 {
			nonZero++
		}
	}
	b, err := newBase(cfg, items...)
	if err != nil {
		return nil, err
	}
	if nonZero < 2 {
		b.logger.Warn("fewer than two positions with non-zero weight; delta exchange proposals will always be rejected",
			zap.String("target", target.ID()), zap.Int("non_zero", nonZero))
	}
	return &DeltaExchange{
		base:    b,
		target:  target,
		weights: append([]float64(nil), weights...),
		integer: integer,
	}, nil
}

func (d *DeltaExchange) Proposal(r *random.Source) float64 {
	w := append([]float64(nil), d.weights...)
	i := r.Categorical(w)
	if i < 0 {
		return d.reject("no legal move", nil)
	}
	w[i] = 0
	j := r.Categorical(w)
	if j < 0 {
		return d.reject("no legal move", nil)
	}
	xi, xj := d.target.Value(i), d.target.Value(j)
	wi, wj := d.weights[i], d.weights[j]
	// xi moves by delta·wj/mean, so a value-dependent kernel would not be
	// symmetric for the move made.
	delta := d.kernel.Delta(r, i, math.NaN(), d.tuner.Value())
	if !finite(delta) {
		return d.reject("invalid delta", nil)
	}

	var ni, nj float64
	if d.integer {
		k := roundAway(delta)
		g := float64(gcd(int64(wi), int64(wj)))
		ni = xi + k*wj/g
		nj = xj - k*wi/g
	} else {
		mean := (wi + wj) / 2
		ni = xi + delta*wj/mean
		nj = xj - delta*wi/mean
	}
	if err := d.target.Set(i, ni); err != nil {
		return d.reject("bounds", err)
	}
	if err := d.target.Set(j, nj); err != nil {
		return d.reject("bounds", err)
	}
	return 0
}

func (d *DeltaExchange) Observe() {
	for i := 0; i < d.target.Dim(); i++ {
		d.kernel.Observe(i, d.target.Value(i))
	}
}

// #endregion delta-exchange
