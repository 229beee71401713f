package state

import (
	"strings"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
)

// #region compound
// Compound presents several nodes as one flat vector target, e.g. a set of
// scalar rates that a delta-exchange move keeps summing to a constant.
type Compound struct {
	id     string
	parts  []*Node
	offset []int
	dim    int
}

// NewCompound concatenates nodes in order.
func NewCompound(nodes ...*Node) *Compound {
	c := &Compound{parts: nodes}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		c.offset = append(c.offset, c.dim)
		c.dim += n.Dim()
		ids[i] = n.ID()
	}
	c.id = strings.Join(ids, "+")
	return c
}

func (c *Compound) ID() string { return c.id }
func (c *Compound) Dim() int   { return c.dim }

// Nodes returns the underlying nodes.
func (c *Compound) Nodes() []*Node { return c.parts }

func (c *Compound) locate(i int) (*Node, int) {
	for k := len(c.parts) - 1; k >= 0; k-- {
		if i >= c.offset[k] {
			return c.parts[k], i - c.offset[k]
		}
	}
	return c.parts[0], i
}

func (c *Compound) Value(i int) float64 {
	n, j := c.locate(i)
	return n.Value(j)
}

func (c *Compound) Set(i int, v float64) error {
	if i < 0 || i >= c.dim {
		return ErrIndex
	}
	n, j := c.locate(i)
	return n.Set(j, v)
}

func (c *Compound) Bounds(i int) domain.Domain {
	n, j := c.locate(i)
	return n.Bounds(j)
}

// #endregion compound
