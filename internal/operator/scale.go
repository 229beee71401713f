package operator

import (
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/tree"
)

// #region scale
// ScaleMode selects how many dimensions a Scale move touches.
type ScaleMode string

const (
	ScaleOne         ScaleMode = "one"         // one random dimension
	ScaleAll         ScaleMode = "all"         // one scaler for every dimension
	ScaleIndependent ScaleMode = "independent" // one scaler per dimension
)

// Scale multiplies a parameter (or a whole tree) by a kernel scaler. A value
// of exactly zero has no direction and is never scaled.
type Scale struct {
	base
	target ScalableItem
	vector state.Target
	mode   ScaleMode
	dof    int
}

// NewScale builds a scale move. dof overrides the degrees of freedom used by
// ScaleAll; zero means "dimensions actually scaled".
func NewScale(cfg Config, target ScalableItem, mode ScaleMode, dof int) (*Scale, error) {
	b, err := newBase(cfg, target)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ScaleOne
	}
	vector, _ := target.(state.Target)
	switch mode {
	case ScaleAll:
	case ScaleOne, ScaleIndependent:
		if vector == nil {
			return nil, configError("scale %s: mode %q needs an indexed target", cfg.ID, mode)
		}
	default:
		return nil, configError("scale %s: unknown mode %q", cfg.ID, mode)
	}
	if dof < 0 {
		return nil, configError("scale %s: negative degrees of freedom", cfg.ID)
	}
	if vector != nil && allZero(vector) {
		b.logger.Warn("every value of the target is zero; scale proposals will always be rejected",
			zap.String("target", target.ID()))
	}
	return &Scale{base: b, target: target, vector: vector, mode: mode, dof: dof}, nil
}

func allZero(t state.Target) bool {
	for i := 0; i < t.Dim(); i++ {
		if t.Value(i) != 0 {
			return false
		}
	}
	return true
}

func (s *Scale) Proposal(r *random.Source) float64 {
	width := s.tuner.Value()
	switch s.mode {
	case ScaleOne:
		i := r.IntN(s.vector.Dim())
		v := s.vector.Value(i)
		if v == 0 {
			return s.reject("zero value", nil)
		}
		f := s.kernel.Scaler(r, i, v, width)
		if !finite(f) || f <= 0 {
			return s.reject("invalid scaler", nil)
		}
		if err := s.vector.Set(i, v*f); err != nil {
			return s.reject("bounds", err)
		}
		return math.Log(f)

	case ScaleIndependent:
		hr, n := 0.0, 0
		for i := 0; i < s.vector.Dim(); i++ {
			v := s.vector.Value(i)
			if v == 0 {
				continue
			}
			f := s.kernel.Scaler(r, i, v, width)
			if !finite(f) || f <= 0 {
				return s.reject("invalid scaler", nil)
			}
			if err := s.vector.Set(i, v*f); err != nil {
				return s.reject("bounds", err)
			}
			hr += math.Log(f)
			n++
		}
		if n == 0 {
			return s.reject("zero value", nil)
		}
		return hr
	}

	v := math.NaN()
	if s.vector != nil {
		v = s.vector.Value(0)
	}
	f := s.kernel.Scaler(r, 0, v, width)
	if !finite(f) || f <= 0 {
		return s.reject("invalid scaler", nil)
	}
	n, err := s.target.Scale(f)
	if err != nil {
		return s.reject("bounds", err)
	}
	if n == 0 {
		return s.reject("zero value", nil)
	}
	if s.dof > 0 {
		n = s.dof
	}
	return float64(n) * math.Log(f)
}

// Observe feeds the current values to an adaptive kernel.
func (s *Scale) Observe() {
	if s.vector == nil {
		return
	}
	for i := 0; i < s.vector.Dim(); i++ {
		s.kernel.Observe(i, s.vector.Value(i))
	}
}

// #endregion scale

// #region tree-scale
// TreeScale scales the internal node heights of a tree, or only its root.
type TreeScale struct {
	base
	tree     *tree.Tree
	rootOnly bool
}

func NewTreeScale(cfg Config, t *tree.Tree, rootOnly bool) (*TreeScale, error) {
	b, err := newBase(cfg, t)
	if err != nil {
		return nil, err
	}
	if t.InternalCount() == 0 {
		b.logger.Warn("tree has no internal nodes; tree scale proposals will always be rejected",
			zap.String("tree", t.ID()))
	}
	return &TreeScale{base: b, tree: t, rootOnly: rootOnly}, nil
}

func (s *TreeScale) Proposal(r *random.Source) float64 {
	root := s.tree.Root()
	h := s.tree.Height(root)
	f := s.kernel.Scaler(r, 0, h, s.tuner.Value())
	if !finite(f) || f <= 0 {
		return s.reject("invalid scaler", nil)
	}
	if s.rootOnly {
		if s.tree.IsLeaf(root) {
			return s.reject("no internal nodes", nil)
		}
		if err := s.tree.SetHeight(root, h*f); err != nil {
			return s.reject("bounds", err)
		}
		return math.Log(f)
	}
	n, err := s.tree.Scale(f)
	if err != nil {
		return s.reject("bounds", err)
	}
	if n == 0 {
		return s.reject("no internal nodes", nil)
	}
	return float64(n) * math.Log(f)
}

func (s *TreeScale) Observe() {
	s.kernel.Observe(0, s.tree.Height(s.tree.Root()))
}

// #endregion tree-scale

// #region up-down
// UpDown multiplies the up items by a scaler and the down items by its
// reciprocal. Trees scale their internal heights.
type UpDown struct {
	base
	up   []ScalableItem
	down []ScalableItem
}

func NewUpDown(cfg Config, up, down []ScalableItem) (*UpDown, error) {
	if len(up)+len(down) == 0 {
		return nil, configError("up-down %s: no targets", cfg.ID)
	}
	seen := map[string]bool{}
	items := make([]state.Stateful, 0, len(up)+len(down))
	for _, it := range append(append([]ScalableItem(nil), up...), down...) {
		if seen[it.ID()] {
			return nil, configError("up-down %s: %s listed twice", cfg.ID, it.ID())
		}
		seen[it.ID()] = true
		items = append(items, it)
	}
	b, err := newBase(cfg, items...)
	if err != nil {
		return nil, err
	}
	return &UpDown{base: b, up: up, down: down}, nil
}

func (u *UpDown) Proposal(r *random.Source) float64 {
	f := u.kernel.Scaler(r, 0, math.NaN(), u.tuner.Value())
	if !finite(f) || f <= 0 {
		return u.reject("invalid scaler", nil)
	}
	nUp, nDown := 0, 0
	for _, it := range u.up {
		n, err := it.Scale(f)
		if err != nil {
			return u.reject("bounds", err)
		}
		nUp += n
	}
	for _, it := range u.down {
		n, err := it.Scale(1 / f)
		if err != nil {
			return u.reject("bounds", err)
		}
		nDown += n
	}
	if nUp+nDown == 0 {
		return u.reject("nothing to scale", nil)
	}
	return float64(nUp-nDown) * math.Log(f)
}

// #endregion up-down
