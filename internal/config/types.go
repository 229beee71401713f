package config

import (
	"errors"
	"time"
)

// ErrConfig marks configuration faults. They are fatal before sampling starts.
var ErrConfig = errors.New("invalid configuration")

// #region config
// Config is a complete run description.
type Config struct {
	Chain      ChainConfig       `yaml:"chain"`
	Schedule   ScheduleConfig    `yaml:"schedule"`
	Parameters []ParameterConfig `yaml:"parameters" validate:"dive"`
	Trees      []TreeConfig      `yaml:"trees" validate:"dive"`
	Priors     []PriorConfig     `yaml:"priors" validate:"dive"`
	Likelihood *LikelihoodConfig `yaml:"likelihood"`
	Operators  []OperatorConfig  `yaml:"operators" validate:"required,min=1,dive"`
	Checkpoint CheckpointConfig  `yaml:"checkpoint"`
	Trace      TraceConfig       `yaml:"trace"`
}

// ChainConfig holds the sampler settings.
type ChainConfig struct {
	Length          int64   `yaml:"length" validate:"gt=0"`
	LogEvery        int64   `yaml:"log_every" validate:"gte=0"`
	CheckpointEvery int64   `yaml:"checkpoint_every" validate:"gte=0"`
	Temperature     float64 `yaml:"temperature" validate:"gt=0"`
	Seed            uint64  `yaml:"seed"`
	RunID           string  `yaml:"run_id"`
}

// ScheduleConfig holds the adaptation settings.
type ScheduleConfig struct {
	Transform         string `yaml:"transform" validate:"omitempty,oneof=none log sqrt"`
	AutoOptimize      *bool  `yaml:"auto_optimize"`
	AutoOptimizeDelay int    `yaml:"auto_optimize_delay" validate:"gte=0"`
}

// ParameterConfig declares a real or integer state node.
type ParameterConfig struct {
	ID     string    `yaml:"id" validate:"required"`
	Values []float64 `yaml:"values" validate:"required,min=1"`
	Domain string    `yaml:"domain"`
	Lower  *float64  `yaml:"lower"`
	Upper  *float64  `yaml:"upper"`
}

// TreeConfig declares a tree state node from Newick text.
type TreeConfig struct {
	ID     string `yaml:"id" validate:"required"`
	Newick string `yaml:"newick" validate:"required"`
}

// PriorConfig attaches a density to a parameter, or a Yule prior to a tree.
type PriorConfig struct {
	ID           string             `yaml:"id" validate:"required"`
	Parameter    string             `yaml:"parameter" validate:"required_without=Tree,excluded_with=Tree"`
	Tree         string             `yaml:"tree" validate:"required_without=Parameter"`
	Distribution string             `yaml:"distribution" validate:"required,oneof=normal lognormal exponential uniform gamma yule"`
	Params       map[string]float64 `yaml:"params"`
}

// LikelihoodConfig points at a remote likelihood service. A likelihood is
// either one service over Inputs, or independent Partitions evaluated
// concurrently and summed.
type LikelihoodConfig struct {
	Addr        string            `yaml:"addr"`
	Timeout     time.Duration     `yaml:"timeout" validate:"gte=0"`
	Inputs      []string          `yaml:"inputs" validate:"required_without=Partitions,excluded_with=Partitions"`
	Partitions  []PartitionConfig `yaml:"partitions" validate:"omitempty,dive"`
	Parallelism int               `yaml:"parallelism" validate:"gte=0"` // 0 evaluates every partition at once
}

// PartitionConfig is one independent part of a partitioned likelihood. Addr
// defaults to the likelihood's Addr.
type PartitionConfig struct {
	ID     string   `yaml:"id" validate:"required"`
	Addr   string   `yaml:"addr"`
	Inputs []string `yaml:"inputs" validate:"required,min=1"`
}

// OperatorConfig declares one operator. Which fields apply depends on Type.
type OperatorConfig struct {
	ID        string        `yaml:"id" validate:"required"`
	Type      string        `yaml:"type" validate:"required,oneof=scale random_walk delta_exchange interval up_down tree_scale tree_interval"`
	Weight    float64       `yaml:"weight" validate:"gte=0"`
	Kernel    string        `yaml:"kernel" validate:"omitempty,oneof=bactrian uniform mirror"`
	Targets   []string      `yaml:"targets"`
	Down      []string      `yaml:"down"`
	Mode      string        `yaml:"mode" validate:"omitempty,oneof=one all independent"`
	DOF       int           `yaml:"dof" validate:"gte=0"`
	Weights   []float64     `yaml:"weights"`
	All       bool          `yaml:"all"`
	Inclusive bool          `yaml:"inclusive"`
	RootOnly  bool          `yaml:"root_only"`
	Tuning    *TuningConfig `yaml:"tuning"`
}

// TuningConfig overrides an operator's tunable.
type TuningConfig struct {
	Initial float64  `yaml:"initial" validate:"gt=0"`
	Lower   float64  `yaml:"lower"`
	Upper   *float64 `yaml:"upper"`
	Target  float64  `yaml:"target" validate:"gte=0,lt=1"`
	Fixed   bool     `yaml:"fixed"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=sqlite badger none"`
	Path    string `yaml:"path"`
}

// TraceConfig selects the sample loggers.
type TraceConfig struct {
	Path   string `yaml:"path"`   // SQLite file for the samples table; empty shares the sqlite checkpoint file
	Screen bool   `yaml:"screen"` // tab-separated lines on stdout
}

// #endregion config

// #region defaults
// DefaultConfig returns the chain, schedule and checkpoint defaults; a run
// still needs parameters, priors and operators.
func DefaultConfig() Config {
	return Config{
		Chain: ChainConfig{
			Length:          10000,
			LogEvery:        1000,
			CheckpointEvery: 10000,
			Temperature:     1,
			Seed:            1,
		},
		Schedule:   ScheduleConfig{Transform: "sqrt"},
		Checkpoint: CheckpointConfig{Backend: "sqlite"},
	}
}

// #endregion defaults
