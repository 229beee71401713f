package state

import (
	"errors"
	"sync/atomic"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
)

// #region errors
var (
	// ErrOutOfBounds is returned when a value would leave a node's effective bounds.
	ErrOutOfBounds = errors.New("value outside effective bounds")
	// ErrNotEditable is returned when a node is mutated outside a proposal bracket.
	ErrNotEditable = errors.New("node is not editable in this proposal")
	// ErrIndex is returned for an out-of-range dimension.
	ErrIndex = errors.New("index out of range")
)

// #endregion errors

// #region generation
var clock atomic.Uint64

// NextGeneration returns a fresh, process-wide unique generation stamp.
// Stamps only increase, so a value written after a rollback never reuses a
// stamp seen by a consumer before it.
func NextGeneration() uint64 {
	return clock.Add(1)
}

// Versioned is anything whose content changes are observable through a
// generation stamp.
type Versioned interface {
	Generation() uint64
}

// #endregion generation

// #region interfaces
// Stateful is a member of the sampled state: it can be checkpointed, rolled
// back and serialized.
type Stateful interface {
	Versioned
	ID() string
	// Store copies current values into the checkpoint slot and grants edit
	// permission for the coming proposal.
	Store()
	// Restore reverts to the checkpoint and revokes edit permission.
	Restore()
	// Accept revokes edit permission, keeping current values.
	Accept()
	Editing() bool
	Snapshot() []float64
	Load(values []float64) error
}

// Target is the per-index capability every move works through.
type Target interface {
	ID() string
	Dim() int
	Value(i int) float64
	Set(i int, v float64) error
	// Bounds returns the effective domain of dimension i.
	Bounds(i int) domain.Domain
}

// Scalable is a target that can be multiplied as a whole. It returns the
// degrees of freedom actually scaled.
type Scalable interface {
	ID() string
	Scale(factor float64) (int, error)
}

// BoundsProvider is a constraint attached to a node that may tighten its
// bounds, e.g. a uniform prior. It must be free of side effects. NaN means
// "no constraint" for either bound.
type BoundsProvider interface {
	Bounds(nodeID string, index int) (lower, upper float64)
}

// Restorer is stored and restored in lock-step with the state, typically a
// calculation graph.
type Restorer interface {
	Store()
	Restore()
}

// #endregion interfaces
