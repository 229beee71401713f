package chain

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// #region config
// Config holds chain-level settings.
type Config struct {
	ChainLength     int64   // total samples; a resumed chain runs up to the same total
	LogEvery        int64   // sample logging interval, 0 disables
	CheckpointEvery int64   // checkpoint interval, 0 writes only the final checkpoint
	Temperature     float64 // divides the log posterior ratio
	RunID           string
	Logger          *zap.Logger
}

// DefaultConfig returns an untempered 10000-sample chain logging every 1000.
func DefaultConfig() Config {
	return Config{
		ChainLength:     10000,
		LogEvery:        1000,
		CheckpointEvery: 10000,
		Temperature:     1,
	}
}

// #endregion config

// #region posterior
// Posterior is the log-density of the full model at the current state.
type Posterior interface {
	Evaluate(ctx context.Context) (float64, error)
}

// #endregion posterior

// #region errors
var (
	// ErrInvalidStart is returned when the initial state has zero or undefined
	// posterior density.
	ErrInvalidStart = errors.New("initial state has no posterior density")
	// ErrNoStore is returned by Resume on a chain without a checkpoint store.
	ErrNoStore = errors.New("chain has no checkpoint store")
)

// #endregion errors

// #region result
// Result summarizes a Run.
type Result struct {
	Samples      int64
	LogPosterior float64
	Stopped      bool   // cancelled before ChainLength
	CheckpointID string // active checkpoint after the run, empty if none
}

// #endregion result
