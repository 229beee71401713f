package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/schedule"
)

// #region errors
// ErrNoCheckpoint is returned when a store holds no matching checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// #endregion errors

// #region checkpoint
// Checkpoint is everything needed to continue a chain bit for bit: the
// committed node values, the schedule state and the random source.
type Checkpoint struct {
	ID           string               `json:"id"`
	ParentID     string               `json:"parent_id,omitempty"`
	RunID        string               `json:"run_id"`
	Sample       int64                `json:"sample"`
	LogPosterior float64              `json:"log_posterior"`
	Nodes        map[string][]float64 `json:"nodes"`
	Schedule     schedule.State       `json:"schedule"`
	RNG          []byte               `json:"rng"`
	CreatedAt    time.Time            `json:"created_at"`
}

// #endregion checkpoint

// #region store
// Store persists checkpoints as versions. Save makes the new version active;
// Activate moves the active pointer back to an older one.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Latest(ctx context.Context) (Checkpoint, error)
	Get(ctx context.Context, id string) (Checkpoint, error)
	List(ctx context.Context, limit int) ([]Checkpoint, error)
	Activate(ctx context.Context, id string) error
	Close() error
}

// #endregion store
