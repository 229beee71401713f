package operator

import (
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/kernel"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

// #region sentinel
// Reject is the rejection sentinel returned by Proposal.
var Reject = math.Inf(-1)

// #endregion sentinel

// #region interfaces
// Operator proposes a new state by mutating its targets in place and
// returning the log Hastings ratio, or Reject. The caller stores the targets
// before Proposal and restores them on rejection.
type Operator interface {
	ID() string
	Weight() float64
	// Targets lists every item Proposal may touch.
	Targets() []state.Stateful
	Proposal(r *random.Source) float64
}

// Tunable is an operator with an adaptable width parameter.
type Tunable interface {
	Operator
	Tuner() *Tuner
}

// Observer is an operator whose kernel learns from the chain.
type Observer interface {
	Observe()
}

// ScalableItem is a state item that can be multiplied as a whole.
type ScalableItem interface {
	state.Stateful
	Scale(factor float64) (int, error)
}

// #endregion interfaces

// #region config
// Config holds the settings shared by every operator.
type Config struct {
	ID     string
	Weight float64
	Kernel kernel.Kernel
	Tuning TuningConfig
	Logger *zap.Logger
}

// TuningConfig describes the tunable width.
type TuningConfig struct {
	Initial float64
	Lower   float64 // default 0 (exclusive)
	Upper   float64 // default +Inf
	Target  float64 // target acceptance
	Fixed   bool    // disables adaptation
}

// DefaultTuningConfig returns a width of 0.75 adapted toward 0.3 acceptance.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		Initial: 0.75,
		Lower:   0,
		Upper:   math.Inf(1),
		Target:  DefaultTargetAcceptance,
	}
}

// DefaultTargetAcceptance is the acceptance rate adaptation aims for.
const DefaultTargetAcceptance = 0.3

// #endregion config

// #region base
// base carries identity, kernel and tuner for every variant.
type base struct {
	id     string
	weight float64
	kernel kernel.Kernel
	tuner  *Tuner
	logger *zap.Logger
	items  []state.Stateful
}

func newBase(cfg Config, items ...state.Stateful) (base, error) {
	if cfg.ID == "" {
		return base{}, configError("operator has no id")
	}
	if cfg.Weight < 0 || math.IsNaN(cfg.Weight) || math.IsInf(cfg.Weight, 0) {
		return base{}, configError("operator %s: invalid weight %g", cfg.ID, cfg.Weight)
	}
	k := cfg.Kernel
	if k == nil {
		k = kernel.Bactrian{M: kernel.BactrianM}
	}
	tc := cfg.Tuning
	if tc.Initial == 0 && tc.Upper == 0 && tc.Target == 0 {
		tc = DefaultTuningConfig()
	}
	tuner, err := NewTuner(tc)
	if err != nil {
		return base{}, configError("operator %s: %v", cfg.ID, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		id:     cfg.ID,
		weight: cfg.Weight,
		kernel: k,
		tuner:  tuner,
		logger: logger.With(zap.String("operator", cfg.ID)),
		items:  items,
	}, nil
}

func (b *base) ID() string                { return b.id }
func (b *base) Weight() float64           { return b.weight }
func (b *base) Targets() []state.Stateful { return b.items }
func (b *base) Tuner() *Tuner             { return b.tuner }
func (b *base) Kernel() kernel.Kernel     { return b.kernel }

// #endregion base
