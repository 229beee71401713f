package operator

import (
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/tree"
)

// #region interval
// Interval moves a value inside its finite bounds (lower, upper) by scaling
// y = (upper−v)/(v−lower). Any positive scaler maps the open interval onto
// itself.
type Interval struct {
	base
	target    state.Target
	inclusive bool
}

func NewInterval(cfg Config, target state.Target, inclusive bool) (*Interval, error) {
	items := itemsOf(target)
	if len(items) == 0 || target.Dim() == 0 {
		return nil, configError("interval %s: target has no state", cfg.ID)
	}
	b, err := newBase(cfg, items...)
	if err != nil {
		return nil, err
	}
	for i := 0; i < target.Dim(); i++ {
		if !target.Bounds(i).Finite() {
			b.logger.Warn("dimension without finite bounds; interval proposals on it will always be rejected",
				zap.String("target", target.ID()), zap.Int("index", i))
		}
	}
	return &Interval{base: b, target: target, inclusive: inclusive}, nil
}

func (o *Interval) Proposal(r *random.Source) float64 {
	i := r.IntN(o.target.Dim())
	b := o.target.Bounds(i)
	lo, hi := b.Lower, b.Upper
	if !b.Finite() {
		return o.reject("unbounded", nil)
	}
	v := o.target.Value(i)
	if !(v > lo && v < hi) {
		return o.reject("value on boundary", nil)
	}
	// The scaler acts on y, not on v, so the kernel gets no value to
	// reflect around.
	s := o.kernel.Scaler(r, i, math.NaN(), o.tuner.Value())
	if !finite(s) || s <= 0 {
		return o.reject("invalid scaler", nil)
	}
	y := (hi - v) / (v - lo) * s
	next := (hi + lo*y) / (y + 1)
	if !finite(next) {
		return o.reject("numerical fault", nil)
	}
	if next < lo || next > hi || (!o.inclusive && (next == lo || next == hi)) {
		return o.reject("boundary", nil)
	}
	if err := o.target.Set(i, next); err != nil {
		return o.reject("bounds", err)
	}
	return math.Log(s) + 2*math.Log((next-lo)/(v-lo))
}

func (o *Interval) Observe() {
	for i := 0; i < o.target.Dim(); i++ {
		o.kernel.Observe(i, o.target.Value(i))
	}
}

// #endregion interval

// #region tree-interval
// TreeInterval rescales, for every internal non-fake node, the gap between
// its height and the height of its oldest descendant tip:
// h' = b + s·(h − b). Tips and sampled-ancestor attachment points keep their
// heights, so the gap below a fake node is handled by its other child.
type TreeInterval struct {
	base
	tree *tree.Tree
}

func NewTreeInterval(cfg Config, t *tree.Tree) (*TreeInterval, error) {
	b, err := newBase(cfg, t)
	if err != nil {
		return nil, err
	}
	if t.InternalCount() == 0 {
		b.logger.Warn("tree has no internal nodes; tree interval proposals will always be rejected",
			zap.String("tree", t.ID()))
	}
	return &TreeInterval{base: b, tree: t}, nil
}

// tipBase returns, for every node, the maximum tip height in its subtree.
func tipBase(t *tree.Tree) []float64 {
	out := make([]float64, t.Len())
	var walk func(i int) float64
	walk = func(i int) float64 {
		n := t.Node(i)
		if len(n.Children) == 0 {
			out[i] = n.Height
			return out[i]
		}
		m := math.Inf(-1)
		for _, c := range n.Children {
			m = math.Max(m, walk(c))
		}
		out[i] = m
		return m
	}
	walk(t.Root())
	return out
}

func (o *TreeInterval) Proposal(r *random.Source) float64 {
	// Heights move by b + s·(h − b), not h·s.
	s := o.kernel.Scaler(r, 0, math.NaN(), o.tuner.Value())
	if !finite(s) || s <= 0 {
		return o.reject("invalid scaler", nil)
	}
	h := o.tree.Snapshot()
	tips := tipBase(o.tree)
	k := 0
	for i := range h {
		if o.tree.IsLeaf(i) || o.tree.IsFake(i) {
			continue
		}
		h[i] = tips[i] + s*(h[i]-tips[i])
		k++
	}
	if k == 0 {
		return o.reject("no internal nodes", nil)
	}
	if err := o.tree.ApplyHeights(h); err != nil {
		return o.reject("invalid tree", err)
	}
	return float64(k) * math.Log(s)
}

// #endregion tree-interval
