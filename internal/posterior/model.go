package posterior

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/graph"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/tree"
)

// #region evaluator
// Evaluator produces a log-density for the current state. It may return -Inf
// for zero-probability regions; errors are reserved for collaborator faults.
type Evaluator interface {
	Evaluate(ctx context.Context) (float64, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context) (float64, error) { return f(ctx) }

// #endregion evaluator

// #region prior
// Prior is a density over every value of a node. It doubles as the node's
// constraint provider, so a uniform prior tightens the node's bounds.
type Prior struct {
	node *state.Node
	dist Density
}

// Bounds implements state.BoundsProvider.
func (p *Prior) Bounds(string, int) (float64, float64) {
	return p.dist.Bounds()
}

// LogDensity sums the density over the node's values.
func (p *Prior) LogDensity() float64 {
	sum := 0.0
	for i := 0; i < p.node.Dim(); i++ {
		sum += p.dist.LogDensity(p.node.Value(i))
	}
	return sum
}

// #endregion prior

// #region model
// Model is the posterior: a sum of terms held in a calculation graph.
type Model struct {
	g     *graph.Graph
	terms []graph.ID
	ctx   context.Context
}

// NewModel wraps g. Attach g to the state so it is restored in lock-step.
func NewModel(g *graph.Graph) *Model {
	return &Model{g: g, ctx: context.Background()}
}

// Graph exposes the underlying calculation graph.
func (m *Model) Graph() *graph.Graph { return m.g }

func (m *Model) leaf(name string, v state.Versioned) (graph.ID, error) {
	if id, ok := m.g.Lookup(name); ok {
		return id, nil
	}
	return m.g.AddLeaf(name, v)
}

// AddPrior adds a prior term on node and registers it as a constraint
// provider of the node.
func (m *Model) AddPrior(name string, n *state.Node, d Density) (graph.ID, error) {
	leaf, err := m.leaf(n.ID(), n)
	if err != nil {
		return 0, err
	}
	p := &Prior{node: n, dist: d}
	id, err := m.g.AddCalculation(name, []graph.ID{leaf}, func() (float64, error) {
		return p.LogDensity(), nil
	})
	if err != nil {
		return 0, err
	}
	n.Attach(p)
	m.terms = append(m.terms, id)
	return id, nil
}

// AddYulePrior adds a pure-birth prior on the node heights of t:
// (n-1)·log(λ) − λ·L where L is the total branch length.
func (m *Model) AddYulePrior(name string, t *tree.Tree, birthRate float64) (graph.ID, error) {
	if !(birthRate > 0) {
		return 0, fmt.Errorf("yule prior %s: birth rate must be positive", name)
	}
	leaf, err := m.leaf(t.ID(), t)
	if err != nil {
		return 0, err
	}
	id, err := m.g.AddCalculation(name, []graph.ID{leaf}, func() (float64, error) {
		return float64(t.LeafCount()-1)*math.Log(birthRate) - birthRate*t.Length(), nil
	})
	if err != nil {
		return 0, err
	}
	m.terms = append(m.terms, id)
	return id, nil
}

// AddExternal memoizes an external evaluator (e.g. a remote likelihood) as a
// term that recomputes only when one of the listed items changed.
func (m *Model) AddExternal(name string, deps []state.Versioned, ids []string, e Evaluator) (graph.ID, error) {
	if len(deps) != len(ids) {
		return 0, fmt.Errorf("external %s: %d deps but %d ids", name, len(deps), len(ids))
	}
	leaves := make([]graph.ID, len(deps))
	for i, d := range deps {
		l, err := m.leaf(ids[i], d)
		if err != nil {
			return 0, err
		}
		leaves[i] = l
	}
	id, err := m.g.AddCalculation(name, leaves, func() (float64, error) {
		return e.Evaluate(m.ctx)
	})
	if err != nil {
		return 0, err
	}
	m.terms = append(m.terms, id)
	return id, nil
}

// AddTerm adds an existing calculation as a posterior term.
func (m *Model) AddTerm(id graph.ID) {
	m.terms = append(m.terms, id)
}

// Evaluate sums all terms. A -Inf term short-circuits the sum.
func (m *Model) Evaluate(ctx context.Context) (float64, error) {
	m.ctx = ctx
	defer func() { m.ctx = context.Background() }()
	total := 0.0
	for _, id := range m.terms {
		v, err := m.g.Value(id)
		if err != nil {
			return 0, err
		}
		if math.IsInf(v, -1) {
			return v, nil
		}
		total += v
	}
	return total, nil
}

// Terms returns the current value of every term by name, computing as needed.
func (m *Model) Terms() (map[string]float64, error) {
	out := make(map[string]float64, len(m.terms))
	for _, id := range m.terms {
		v, err := m.g.Value(id)
		if err != nil {
			return nil, err
		}
		out[m.g.Name(id)] = v
	}
	return out, nil
}

// #endregion model

// #region parallel
// Parallel evaluates independent partitions concurrently and sums them. The
// partitions must not share mutable state; the call returns only after every
// partition finished, so the chain still sees one synchronous evaluation.
type Parallel struct {
	Parts []Evaluator
	Limit int
}

func (p *Parallel) Evaluate(ctx context.Context) (float64, error) {
	values := make([]float64, len(p.Parts))
	eg, egCtx := errgroup.WithContext(ctx)
	if p.Limit > 0 {
		eg.SetLimit(p.Limit)
	}
	for i, part := range p.Parts {
		eg.Go(func() error {
			v, err := part.Evaluate(egCtx)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total, nil
}

// #endregion parallel
