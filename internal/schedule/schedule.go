package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/kernel"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/operator"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
)

// #region config
// DeltaTransform damps the Robbins–Monro step by the number of times an
// operator has been used.
type DeltaTransform string

const (
	TransformNone DeltaTransform = "none" // 1/1
	TransformLog  DeltaTransform = "log"  // 1/log(n+1)
	TransformSqrt DeltaTransform = "sqrt" // 1/sqrt(n)
)

// Config holds schedule parameters.
type Config struct {
	Transform         DeltaTransform
	AutoOptimize      bool
	AutoOptimizeDelay int // steps before adaptation starts
	Logger            *zap.Logger
}

// DefaultConfig adapts every operator from the first step with a 1/sqrt(n)
// step size.
func DefaultConfig() Config {
	return Config{
		Transform:    TransformSqrt,
		AutoOptimize: true,
	}
}

// ErrEmpty is returned by Select when no operator has positive weight.
var ErrEmpty = errors.New("schedule has no operator with positive weight")

// #endregion config

// #region schedule
type entry struct {
	op       operator.Operator
	accepted int
	rejected int
}

// Schedule selects operators by weight, keeps their acceptance counters and
// adapts their tunables.
type Schedule struct {
	cfg     Config
	entries []*entry
	index   map[string]int
	steps   int
	logger  *zap.Logger
}

// New creates an empty schedule.
func New(cfg Config) *Schedule {
	switch cfg.Transform {
	case TransformNone, TransformLog, TransformSqrt:
	default:
		cfg.Transform = TransformSqrt
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Schedule{
		cfg:    cfg,
		index:  make(map[string]int),
		logger: logger.With(zap.String("component", "schedule")),
	}
}

// Add registers an operator. IDs must be unique.
func (s *Schedule) Add(op operator.Operator) error {
	if _, dup := s.index[op.ID()]; dup {
		return fmt.Errorf("schedule: duplicate operator %q", op.ID())
	}
	s.index[op.ID()] = len(s.entries)
	s.entries = append(s.entries, &entry{op: op})
	return nil
}

// Remove drops an operator; the remaining weights renormalize implicitly.
func (s *Schedule) Remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, id)
	for k := i; k < len(s.entries); k++ {
		s.index[s.entries[k].op.ID()] = k
	}
	return true
}

// Operators returns the registered operators in insertion order.
func (s *Schedule) Operators() []operator.Operator {
	out := make([]operator.Operator, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.op
	}
	return out
}

// Len reports the number of operators.
func (s *Schedule) Len() int { return len(s.entries) }

// Steps reports how many outcomes have been optimized on.
func (s *Schedule) Steps() int { return s.steps }

// Select draws an operator with probability proportional to its weight.
func (s *Schedule) Select(r *random.Source) (operator.Operator, error) {
	weights := make([]float64, len(s.entries))
	for i, e := range s.entries {
		weights[i] = e.op.Weight()
	}
	i := r.Categorical(weights)
	if i < 0 {
		return nil, ErrEmpty
	}
	return s.entries[i].op, nil
}

func (s *Schedule) lookup(op operator.Operator) *entry {
	i, ok := s.index[op.ID()]
	if !ok {
		return nil
	}
	return s.entries[i]
}

// Accept records an accepted proposal of op.
func (s *Schedule) Accept(op operator.Operator) {
	if e := s.lookup(op); e != nil {
		e.accepted++
		recordOutcome(op.ID(), true)
		acceptanceRate.WithLabelValues(op.ID()).Set(e.acceptance())
	}
}

// Reject records a rejected proposal of op.
func (s *Schedule) Reject(op operator.Operator) {
	if e := s.lookup(op); e != nil {
		e.rejected++
		recordOutcome(op.ID(), false)
		acceptanceRate.WithLabelValues(op.ID()).Set(e.acceptance())
	}
}

func (e *entry) acceptance() float64 {
	n := e.accepted + e.rejected
	if n == 0 {
		return 0
	}
	return float64(e.accepted) / float64(n)
}

// calcDelta is the Robbins–Monro step: (min(1, exp(logAlpha)) − target)
// divided by the transformed use count of the operator.
func (s *Schedule) calcDelta(e *entry, target, logAlpha float64) float64 {
	count := float64(e.accepted+e.rejected) + 1
	switch s.cfg.Transform {
	case TransformLog:
		count = math.Log(count + 1)
	case TransformSqrt:
		count = math.Sqrt(count)
	}
	p := 0.0
	if !math.IsNaN(logAlpha) {
		p = math.Exp(math.Min(logAlpha, 0))
	}
	delta := (p - target) / count
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0
	}
	return delta
}

// Optimize adapts op after a step whose log acceptance ratio was logAlpha
// (Reject for a rejected proposal) and feeds adaptive kernels.
func (s *Schedule) Optimize(op operator.Operator, logAlpha float64) {
	s.steps++
	if obs, ok := op.(operator.Observer); ok {
		obs.Observe()
	}
	t, ok := op.(operator.Tunable)
	if !ok {
		return
	}
	tuner := t.Tuner()
	defer tunableValue.WithLabelValues(op.ID()).Set(tuner.Value())
	if !s.cfg.AutoOptimize || s.steps <= s.cfg.AutoOptimizeDelay {
		return
	}
	e := s.lookup(op)
	if e == nil {
		return
	}
	tuner.Tune(s.calcDelta(e, tuner.Target(), logAlpha))
}

// Reset clears every acceptance counter.
func (s *Schedule) Reset() {
	for _, e := range s.entries {
		e.accepted, e.rejected = 0, 0
	}
}

// #endregion schedule

// #region diagnostics
// Row is one line of the operator performance table.
type Row struct {
	ID         string
	Weight     float64
	Kernel     string
	Tunable    float64
	Tuned      bool
	Accepted   int
	Rejected   int
	Acceptance float64
	Target     float64
	Suggested  float64
}

// Rows summarizes operator performance. Suggested is set only for tunable
// operators whose acceptance is outside [SuggestLow, SuggestHigh].
func (s *Schedule) Rows() []Row {
	rows := make([]Row, 0, len(s.entries))
	for _, e := range s.entries {
		row := Row{
			ID:         e.op.ID(),
			Weight:     e.op.Weight(),
			Accepted:   e.accepted,
			Rejected:   e.rejected,
			Acceptance: e.acceptance(),
			Tunable:    math.NaN(),
			Suggested:  math.NaN(),
		}
		if k, ok := e.op.(interface{ Kernel() kernel.Kernel }); ok {
			row.Kernel = k.Kernel().Name()
		}
		if t, ok := e.op.(operator.Tunable); ok {
			tu := t.Tuner()
			row.Tuned = !tu.Fixed()
			row.Tunable = tu.Value()
			row.Target = tu.Target()
			if e.accepted+e.rejected > 0 && (row.Acceptance < SuggestLow || row.Acceptance > SuggestHigh) {
				row.Suggested = tu.Suggest(row.Acceptance)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Acceptance band outside which a new tunable value is suggested.
const (
	SuggestLow  = 0.10
	SuggestHigh = 0.40
)

// #endregion diagnostics

// #region persistence
// OperatorState is the persisted part of one schedule entry.
type OperatorState struct {
	ID       string          `json:"id"`
	Tunable  *float64        `json:"tunable,omitempty"` // nil for operators without a tuner
	Accepted int             `json:"accepted"`
	Rejected int             `json:"rejected"`
	Kernel   json.RawMessage `json:"kernel,omitempty"`
}

// State is everything needed to continue adaptation after a resume.
type State struct {
	Steps     int             `json:"steps"`
	Operators []OperatorState `json:"operators"`
}

// Export captures counters, tunables and adaptive kernel statistics.
func (s *Schedule) Export() (State, error) {
	st := State{Steps: s.steps, Operators: make([]OperatorState, 0, len(s.entries))}
	for _, e := range s.entries {
		rec := OperatorState{ID: e.op.ID(), Accepted: e.accepted, Rejected: e.rejected}
		if t, ok := e.op.(operator.Tunable); ok {
			v := t.Tuner().Value()
			rec.Tunable = &v
		}
		if k, ok := e.op.(interface{ Kernel() kernel.Kernel }); ok {
			if m, ok := k.Kernel().(json.Marshaler); ok {
				raw, err := m.MarshalJSON()
				if err != nil {
					return State{}, fmt.Errorf("export %s kernel: %w", e.op.ID(), err)
				}
				rec.Kernel = raw
			}
		}
		st.Operators = append(st.Operators, rec)
	}
	sort.Slice(st.Operators, func(i, j int) bool { return st.Operators[i].ID < st.Operators[j].ID })
	return st, nil
}

// Import restores a state written by Export. Every operator in st must be
// registered; operators missing from st keep their current values.
func (s *Schedule) Import(st State) error {
	for _, rec := range st.Operators {
		i, ok := s.index[rec.ID]
		if !ok {
			return fmt.Errorf("import: unknown operator %q", rec.ID)
		}
		e := s.entries[i]
		if t, ok := e.op.(operator.Tunable); ok && rec.Tunable != nil {
			if err := t.Tuner().SetValue(*rec.Tunable); err != nil {
				return fmt.Errorf("import %s: %w", rec.ID, err)
			}
		}
		if len(rec.Kernel) > 0 {
			k, ok := e.op.(interface{ Kernel() kernel.Kernel })
			if !ok {
				return fmt.Errorf("import %s: operator has no kernel", rec.ID)
			}
			u, ok := k.Kernel().(json.Unmarshaler)
			if !ok {
				return fmt.Errorf("import %s: kernel %s keeps no state", rec.ID, k.Kernel().Name())
			}
			if err := u.UnmarshalJSON(rec.Kernel); err != nil {
				return fmt.Errorf("import %s: %w", rec.ID, err)
			}
		}
		e.accepted, e.rejected = rec.Accepted, rec.Rejected
	}
	s.steps = st.Steps
	s.logger.Debug("schedule state imported", zap.Int("operators", len(st.Operators)), zap.Int("steps", st.Steps))
	return nil
}

// #endregion persistence
