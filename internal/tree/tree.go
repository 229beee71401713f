package tree

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

// #region types
// Node is one vertex of a rooted tree. Heights are ages measured back from the
// present; a child is never older than its parent.
type Node struct {
	Nr       int
	Label    string
	Height   float64
	Parent   int // -1 for the root
	Children []int
}

// Tree is a fixed-topology tree whose node heights are sampled. It takes part
// in the same store/restore protocol as parameter nodes.
type Tree struct {
	id      string
	nodes   []Node
	root    int
	stored  []float64
	gen     uint64
	stgen   uint64
	editing bool
}

// #endregion types

// #region constructor
// New builds a tree from nodes. Exactly one node must have Parent == -1 and
// heights must be consistent with the topology.
func New(id string, nodes []Node) (*Tree, error) {
	t := &Tree{id: id, nodes: nodes, root: -1}
	for i := range nodes {
		if nodes[i].Nr != i {
			return nil, fmt.Errorf("tree %s: node %d has Nr %d", id, i, nodes[i].Nr)
		}
		if nodes[i].Parent < 0 {
			if t.root >= 0 {
				return nil, fmt.Errorf("tree %s: more than one root", id)
			}
			t.root = i
		}
		if len(nodes[i].Children) > 2 {
			return nil, fmt.Errorf("tree %s: node %d is not binary", id, i)
		}
	}
	if t.root < 0 {
		return nil, fmt.Errorf("tree %s: no root", id)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.stored = t.heights()
	t.gen = state.NextGeneration()
	t.stgen = t.gen
	return t, nil
}

// #endregion constructor

// #region accessors
func (t *Tree) ID() string         { return t.id }
func (t *Tree) Generation() uint64 { return t.gen }
func (t *Tree) Editing() bool      { return t.editing }
func (t *Tree) Root() int          { return t.root }
func (t *Tree) Len() int           { return len(t.nodes) }

// Node returns a copy of node i.
func (t *Tree) Node(i int) Node { return t.nodes[i] }

func (t *Tree) Height(i int) float64 { return t.nodes[i].Height }

func (t *Tree) IsLeaf(i int) bool { return len(t.nodes[i].Children) == 0 }

func (t *Tree) IsRoot(i int) bool { return t.nodes[i].Parent < 0 }

// IsDirectAncestor reports whether leaf i is a sampled ancestor: a tip with a
// zero-length branch to its parent.
func (t *Tree) IsDirectAncestor(i int) bool {
	n := t.nodes[i]
	return t.IsLeaf(i) && n.Parent >= 0 && t.nodes[n.Parent].Height == n.Height
}

// IsFake reports whether internal node i only exists to attach a sampled
// ancestor.
func (t *Tree) IsFake(i int) bool {
	if t.IsLeaf(i) {
		return false
	}
	for _, c := range t.nodes[i].Children {
		if t.IsDirectAncestor(c) {
			return true
		}
	}
	return false
}

// InternalCount returns the number of internal nodes that are not fake.
func (t *Tree) InternalCount() int {
	k := 0
	for i := range t.nodes {
		if !t.IsLeaf(i) && !t.IsFake(i) {
			k++
		}
	}
	return k
}

// LeafCount returns the number of tips, sampled ancestors included.
func (t *Tree) LeafCount() int {
	k := 0
	for i := range t.nodes {
		if t.IsLeaf(i) {
			k++
		}
	}
	return k
}

// Length is the total branch length.
func (t *Tree) Length() float64 {
	sum := 0.0
	for i, n := range t.nodes {
		if n.Parent >= 0 {
			sum += t.nodes[n.Parent].Height - t.nodes[i].Height
		}
	}
	return sum
}

// #endregion accessors

// #region mutation
// SetHeight moves a single node. The new height must keep the node above its
// children and below its parent.
func (t *Tree) SetHeight(i int, h float64) error {
	if !t.editing {
		return fmt.Errorf("set height %s: %w", t.id, state.ErrNotEditable)
	}
	if i < 0 || i >= len(t.nodes) {
		return fmt.Errorf("set height %s[%d]: %w", t.id, i, state.ErrIndex)
	}
	old := t.nodes[i].Height
	t.nodes[i].Height = h
	if err := t.checkNode(i); err != nil {
		t.nodes[i].Height = old
		return err
	}
	if p := t.nodes[i].Parent; p >= 0 {
		if err := t.checkNode(p); err != nil {
			t.nodes[i].Height = old
			return err
		}
	}
	t.gen = state.NextGeneration()
	return nil
}

// Scale multiplies the height of every internal, non-fake node by factor.
// Tips and sampled-ancestor attachment points keep their heights. It returns
// the number of heights scaled, or an error (and no change) if the result is
// not a valid tree.
func (t *Tree) Scale(factor float64) (int, error) {
	if !t.editing {
		return 0, fmt.Errorf("scale %s: %w", t.id, state.ErrNotEditable)
	}
	old := t.heights()
	count := 0
	for i := range t.nodes {
		if t.IsLeaf(i) || t.isFakeIn(old, i) {
			continue
		}
		t.nodes[i].Height *= factor
		count++
	}
	if err := t.validate(); err != nil {
		t.setHeights(old)
		return 0, err
	}
	if count > 0 {
		t.gen = state.NextGeneration()
	}
	return count, nil
}

// ApplyHeights replaces all heights at once, used by moves that compute a
// whole new configuration. Invalid configurations are refused.
func (t *Tree) ApplyHeights(h []float64) error {
	if !t.editing {
		return fmt.Errorf("apply heights %s: %w", t.id, state.ErrNotEditable)
	}
	if len(h) != len(t.nodes) {
		return fmt.Errorf("apply heights %s: %w", t.id, state.ErrIndex)
	}
	old := t.heights()
	t.setHeights(h)
	if err := t.validate(); err != nil {
		t.setHeights(old)
		return err
	}
	t.gen = state.NextGeneration()
	return nil
}

// isFakeIn evaluates IsFake against a given height vector, so that scaling
// never changes which nodes count as fake.
func (t *Tree) isFakeIn(h []float64, i int) bool {
	for _, c := range t.nodes[i].Children {
		if len(t.nodes[c].Children) == 0 && h[c] == h[i] {
			return true
		}
	}
	return false
}

func (t *Tree) checkNode(i int) error {
	n := t.nodes[i]
	if math.IsNaN(n.Height) || math.IsInf(n.Height, 0) || n.Height < 0 {
		return fmt.Errorf("node %d height %g: %w", i, n.Height, state.ErrOutOfBounds)
	}
	for _, c := range n.Children {
		if t.nodes[c].Height > n.Height {
			return fmt.Errorf("node %d below child %d: %w", i, c, state.ErrOutOfBounds)
		}
	}
	return nil
}

func (t *Tree) validate() error {
	for i := range t.nodes {
		if err := t.checkNode(i); err != nil {
			return fmt.Errorf("tree %s: %w", t.id, err)
		}
	}
	return nil
}

func (t *Tree) heights() []float64 {
	h := make([]float64, len(t.nodes))
	for i, n := range t.nodes {
		h[i] = n.Height
	}
	return h
}

func (t *Tree) setHeights(h []float64) {
	for i := range t.nodes {
		t.nodes[i].Height = h[i]
	}
}

// #endregion mutation

// #region checkpoint
func (t *Tree) Store() {
	copy(t.stored, t.heights())
	t.stgen = t.gen
	t.editing = true
}

func (t *Tree) Restore() {
	t.setHeights(t.stored)
	t.gen = t.stgen
	t.editing = false
}

func (t *Tree) Accept() { t.editing = false }

// Snapshot returns node heights indexed by node number.
func (t *Tree) Snapshot() []float64 { return t.heights() }

// Load replaces all heights outside of a proposal.
func (t *Tree) Load(h []float64) error {
	if len(h) != len(t.nodes) {
		return fmt.Errorf("load %s: %d heights, expected %d", t.id, len(h), len(t.nodes))
	}
	old := t.heights()
	t.setHeights(h)
	if err := t.validate(); err != nil {
		t.setHeights(old)
		return err
	}
	copy(t.stored, h)
	t.gen = state.NextGeneration()
	t.stgen = t.gen
	t.editing = false
	return nil
}

// #endregion checkpoint

// #region newick
// Newick renders the tree with branch lengths.
func (t *Tree) Newick() string {
	var b strings.Builder
	t.writeNewick(&b, t.root)
	b.WriteByte(';')
	return b.String()
}

func (t *Tree) writeNewick(b *strings.Builder, i int) {
	n := t.nodes[i]
	if len(n.Children) > 0 {
		b.WriteByte('(')
		for k, c := range n.Children {
			if k > 0 {
				b.WriteByte(',')
			}
			t.writeNewick(b, c)
		}
		b.WriteByte(')')
	}
	b.WriteString(n.Label)
	if n.Parent >= 0 {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(t.nodes[n.Parent].Height-n.Height, 'g', -1, 64))
	}
}

// #endregion newick
