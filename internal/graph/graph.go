package graph

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

// #region types
// ID indexes a node in the graph arena. Dependencies always point to lower
// IDs, so the arena order is a topological order.
type ID int

// Func computes a derived value. It may read state nodes and other
// calculation values through the graph.
type Func func() (float64, error)

type entry struct {
	name string
	leaf state.Versioned
	fn   Func
	deps []ID

	value    float64
	gen      uint64
	seen     []uint64
	valid    bool
	rollback bool
	computes int

	storedValue float64
	storedGen   uint64
	storedSeen  []uint64
	storedValid bool
}

// Graph is an arena of state leaves and memoized calculation nodes. A
// calculation is dirty when the generation of any dependency differs from the
// generation it last computed against.
type Graph struct {
	nodes      []*entry
	dependents [][]ID
	byName     map[string]ID
}

// CalcOption configures a calculation node.
type CalcOption func(*entry)

// WithoutRollback makes a node drop its cache on restore instead of reverting
// it, so the first read after a rejected proposal recomputes.
func WithoutRollback() CalcOption {
	return func(e *entry) { e.rollback = false }
}

// #endregion types

// #region constructor
// New creates an empty graph.
func New() *Graph {
	return &Graph{byName: make(map[string]ID)}
}

// #endregion constructor

// #region build
// AddLeaf registers a state item as an input.
func (g *Graph) AddLeaf(name string, v state.Versioned) (ID, error) {
	if _, dup := g.byName[name]; dup {
		return 0, fmt.Errorf("graph: duplicate node %q", name)
	}
	id := ID(len(g.nodes))
	g.nodes = append(g.nodes, &entry{name: name, leaf: v, valid: true})
	g.dependents = append(g.dependents, nil)
	g.byName[name] = id
	return id, nil
}

// AddCalculation registers a derived value over existing nodes.
func (g *Graph) AddCalculation(name string, deps []ID, fn Func, opts ...CalcOption) (ID, error) {
	if _, dup := g.byName[name]; dup {
		return 0, fmt.Errorf("graph: duplicate node %q", name)
	}
	if fn == nil {
		return 0, fmt.Errorf("graph: calculation %q has no function", name)
	}
	id := ID(len(g.nodes))
	for _, d := range deps {
		if d < 0 || d >= id {
			return 0, fmt.Errorf("graph: calculation %q depends on unknown node %d", name, d)
		}
	}
	e := &entry{
		name:     name,
		fn:       fn,
		deps:     append([]ID(nil), deps...),
		seen:     make([]uint64, len(deps)),
		rollback: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	g.nodes = append(g.nodes, e)
	g.dependents = append(g.dependents, nil)
	for _, d := range deps {
		g.dependents[d] = append(g.dependents[d], id)
	}
	g.byName[name] = id
	return id, nil
}

// Lookup finds a node by name.
func (g *Graph) Lookup(name string) (ID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

func (g *Graph) Name(id ID) string { return g.nodes[id].name }
func (g *Graph) Len() int          { return len(g.nodes) }

// Computations reports how often a calculation has been evaluated.
func (g *Graph) Computations(id ID) int { return g.nodes[id].computes }

// #endregion build

// #region evaluate
func (g *Graph) generation(id ID) uint64 {
	e := g.nodes[id]
	if e.leaf != nil {
		return e.leaf.Generation()
	}
	return e.gen
}

// RequiresRecalculation reports whether reading id would recompute it. The
// answer is transitive: a node is dirty if any upstream leaf changed since it
// was last computed.
func (g *Graph) RequiresRecalculation(id ID) bool {
	e := g.nodes[id]
	if e.leaf != nil {
		return false
	}
	if !e.valid {
		return true
	}
	for k, d := range e.deps {
		if g.RequiresRecalculation(d) || g.generation(d) != e.seen[k] {
			return true
		}
	}
	return false
}

// Value returns the memoized value of id, recomputing it only if one of its
// dependencies moved to a new generation.
func (g *Graph) Value(id ID) (float64, error) {
	e := g.nodes[id]
	if e.leaf != nil {
		return 0, fmt.Errorf("graph: %q is a state leaf, not a calculation", e.name)
	}
	changed := !e.valid
	for k, d := range e.deps {
		if g.nodes[d].leaf == nil {
			if _, err := g.Value(d); err != nil {
				return 0, err
			}
		}
		if g.generation(d) != e.seen[k] {
			changed = true
		}
	}
	if !changed {
		return e.value, nil
	}
	v, err := e.fn()
	e.computes++
	if err != nil {
		e.valid = false
		return 0, fmt.Errorf("graph: compute %q: %w", e.name, err)
	}
	for k, d := range e.deps {
		e.seen[k] = g.generation(d)
	}
	// an unchanged result keeps its generation so dependents stay clean
	if !e.valid || v != e.value {
		e.gen = state.NextGeneration()
	}
	e.value = v
	e.valid = true
	return v, nil
}

// DirtySet walks breadth-first from every calculation that directly observes
// a changed leaf and returns all nodes that must be recomputed, in ID order.
func (g *Graph) DirtySet() []ID {
	visited := map[ID]bool{}
	var queue []ID
	for id, e := range g.nodes {
		if e.leaf != nil {
			continue
		}
		if !e.valid {
			queue = append(queue, ID(id))
			visited[ID(id)] = true
			continue
		}
		for k, d := range e.deps {
			if g.nodes[d].leaf != nil && g.generation(d) != e.seen[k] {
				queue = append(queue, ID(id))
				visited[ID(id)] = true
				break
			}
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			queue = append(queue, dep)
		}
	}
	out := make([]ID, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// #endregion evaluate

// #region checkpoint
// Store checkpoints every memoized value.
func (g *Graph) Store() {
	for _, e := range g.nodes {
		if e.leaf != nil {
			continue
		}
		e.storedValue = e.value
		e.storedGen = e.gen
		e.storedValid = e.valid
		e.storedSeen = append(e.storedSeen[:0], e.seen...)
	}
}

// Restore reverts memoized values to the last Store. Nodes created with
// WithoutRollback are invalidated instead.
func (g *Graph) Restore() {
	for _, e := range g.nodes {
		if e.leaf != nil {
			continue
		}
		if !e.rollback {
			e.valid = false
			continue
		}
		e.value = e.storedValue
		e.gen = e.storedGen
		e.valid = e.storedValid
		copy(e.seen, e.storedSeen)
	}
}

// #endregion checkpoint
