package state

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
)

// #region node
// Node is a named scalar or vector parameter with a single checkpoint slot.
type Node struct {
	id        string
	values    []float64
	stored    []float64
	dom       domain.Domain
	lower     float64
	upper     float64
	providers []BoundsProvider

	gen       uint64
	storedGen uint64
	editing   bool
}

// NodeOption configures a Node at construction.
type NodeOption func(*Node)

// WithBounds adds node-level bounds on top of the domain.
func WithBounds(lower, upper float64) NodeOption {
	return func(n *Node) {
		n.lower, n.upper = lower, upper
	}
}

// WithProviders registers constraint providers queried for tighter bounds.
func WithProviders(p ...BoundsProvider) NodeOption {
	return func(n *Node) {
		n.providers = append(n.providers, p...)
	}
}

// NewNode builds a node. Initial values must satisfy the effective bounds.
func NewNode(id string, values []float64, dom domain.Domain, opts ...NodeOption) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node: empty id")
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("node %s: no values", id)
	}
	n := &Node{
		id:     id,
		values: append([]float64(nil), values...),
		stored: append([]float64(nil), values...),
		dom:    dom,
		lower:  math.NaN(),
		upper:  math.NaN(),
		gen:    NextGeneration(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.storedGen = n.gen
	for i, v := range n.values {
		if b := n.Bounds(i); !b.Contains(v) {
			return nil, fmt.Errorf("node %s[%d]=%g outside %s: %w", id, i, v, b, ErrOutOfBounds)
		}
	}
	return n, nil
}

// MustNode is NewNode for fixtures that cannot fail.
func MustNode(id string, values []float64, dom domain.Domain, opts ...NodeOption) *Node {
	n, err := NewNode(id, values, dom, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

// #endregion node

// #region accessors
func (n *Node) ID() string                { return n.id }
func (n *Node) Dim() int                  { return len(n.values) }
func (n *Node) Generation() uint64        { return n.gen }
func (n *Node) Editing() bool             { return n.editing }
func (n *Node) Domain() domain.Domain     { return n.dom }
func (n *Node) Value(i int) float64       { return n.values[i] }
func (n *Node) StoredValue(i int) float64 { return n.stored[i] }

// Values returns a copy of the current values.
func (n *Node) Values() []float64 {
	return append([]float64(nil), n.values...)
}

// Attach registers another constraint provider after construction.
func (n *Node) Attach(p BoundsProvider) {
	n.providers = append(n.providers, p)
}

// Bounds returns the effective domain of dimension i: the static domain,
// tightened by node bounds and by every attached provider. It is recomputed
// on each call since providers may change between steps.
func (n *Node) Bounds(i int) domain.Domain {
	b := n.dom.Tighten(n.lower, n.upper)
	for _, p := range n.providers {
		lo, hi := p.Bounds(n.id, i)
		b = b.Tighten(lo, hi)
	}
	return b
}

// #endregion accessors

// #region mutation
// Set writes one value. Out-of-bounds values are refused and leave the node
// untouched.
func (n *Node) Set(i int, v float64) error {
	if !n.editing {
		return fmt.Errorf("set %s: %w", n.id, ErrNotEditable)
	}
	if i < 0 || i >= len(n.values) {
		return fmt.Errorf("set %s[%d]: %w", n.id, i, ErrIndex)
	}
	if !n.Bounds(i).Contains(v) {
		return fmt.Errorf("set %s[%d]=%g: %w", n.id, i, v, ErrOutOfBounds)
	}
	n.values[i] = v
	n.gen = NextGeneration()
	return nil
}

// Scale multiplies every non-zero element by factor and returns how many
// elements were scaled. Zeros are skipped and not counted. Either all
// elements are scaled or, on a bounds violation, none are.
func (n *Node) Scale(factor float64) (int, error) {
	if !n.editing {
		return 0, fmt.Errorf("scale %s: %w", n.id, ErrNotEditable)
	}
	next := make([]float64, len(n.values))
	count := 0
	for i, v := range n.values {
		if v == 0 {
			continue
		}
		nv := v * factor
		if !n.Bounds(i).Contains(nv) {
			return 0, fmt.Errorf("scale %s[%d] to %g: %w", n.id, i, nv, ErrOutOfBounds)
		}
		next[i] = nv
		count++
	}
	if count == 0 {
		return 0, nil
	}
	for i, v := range n.values {
		if v != 0 {
			n.values[i] = next[i]
		}
	}
	n.gen = NextGeneration()
	return count, nil
}

// #endregion mutation

// #region checkpoint
// Store copies current values to the checkpoint and opens the node for editing.
func (n *Node) Store() {
	copy(n.stored, n.values)
	n.storedGen = n.gen
	n.editing = true
}

// Restore reverts current values to the checkpoint.
func (n *Node) Restore() {
	copy(n.values, n.stored)
	n.gen = n.storedGen
	n.editing = false
}

// Accept closes the proposal keeping current values. The checkpoint slot is
// overwritten by the next Store.
func (n *Node) Accept() {
	n.editing = false
}

// Snapshot returns a copy of current values.
func (n *Node) Snapshot() []float64 {
	return n.Values()
}

// Load replaces all values, e.g. when resuming from a checkpoint. It is not
// bound to a proposal but still validates every value.
func (n *Node) Load(values []float64) error {
	if len(values) != len(n.values) {
		return fmt.Errorf("load %s: dimension %d, expected %d", n.id, len(values), len(n.values))
	}
	for i, v := range values {
		if !n.Bounds(i).Contains(v) {
			return fmt.Errorf("load %s[%d]=%g: %w", n.id, i, v, ErrOutOfBounds)
		}
	}
	copy(n.values, values)
	copy(n.stored, values)
	n.gen = NextGeneration()
	n.storedGen = n.gen
	n.editing = false
	return nil
}

// #endregion checkpoint
