package operator

import (
	"errors"
	"fmt"
	"math"
)

// #region errors
// ErrInvalidConfig marks operator construction faults.
var ErrInvalidConfig = errors.New("invalid operator configuration")

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// #endregion errors

// #region tuner
// Transform names the unconstrained space a tunable is adapted in.
type Transform string

const (
	TransformLog   Transform = "log"   // log(v − lower), upper unbounded
	TransformLogit Transform = "logit" // logit of v rescaled to (0, 1)
)

// Tuner holds a width parameter confined to the open interval (lower, upper).
// Updates are additive in the unconstrained space, so the value can never
// leave its bounds.
type Tuner struct {
	value  float64
	lower  float64
	upper  float64
	target float64
	fixed  bool
}

// NewTuner validates c and returns a tuner at c.Initial.
func NewTuner(c TuningConfig) (*Tuner, error) {
	if math.IsInf(c.Lower, 0) || math.IsNaN(c.Lower) {
		return nil, fmt.Errorf("tuner lower bound must be finite, got %g", c.Lower)
	}
	if math.IsNaN(c.Upper) || !(c.Upper > c.Lower) {
		return nil, fmt.Errorf("tuner bounds (%g, %g) are empty", c.Lower, c.Upper)
	}
	if !(c.Initial > c.Lower && c.Initial < c.Upper) {
		return nil, fmt.Errorf("tuner initial %g outside (%g, %g)", c.Initial, c.Lower, c.Upper)
	}
	target := c.Target
	if target == 0 {
		target = DefaultTargetAcceptance
	}
	if !(target > 0 && target < 1) {
		return nil, fmt.Errorf("target acceptance %g outside (0, 1)", target)
	}
	return &Tuner{value: c.Initial, lower: c.Lower, upper: c.Upper, target: target, fixed: c.Fixed}, nil
}

func (t *Tuner) Value() float64             { return t.value }
func (t *Tuner) Bounds() (float64, float64) { return t.lower, t.upper }
func (t *Tuner) Target() float64            { return t.target }
func (t *Tuner) Fixed() bool                { return t.fixed }

// Transform reports the space Tune works in.
func (t *Tuner) Transform() Transform {
	if math.IsInf(t.upper, 1) {
		return TransformLog
	}
	return TransformLogit
}

// SetValue overrides the value, e.g. when resuming. Values outside the open
// interval are refused.
func (t *Tuner) SetValue(v float64) error {
	if !(v > t.lower && v < t.upper) {
		return fmt.Errorf("tunable %g outside (%g, %g)", v, t.lower, t.upper)
	}
	t.value = v
	return nil
}

// Tune moves the value by delta in the unconstrained space.
func (t *Tuner) Tune(delta float64) {
	if t.fixed || delta == 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	var next float64
	switch t.Transform() {
	case TransformLog:
		next = t.lower + math.Exp(math.Log(t.value-t.lower)+delta)
	default:
		span := t.upper - t.lower
		x := (t.value - t.lower) / span
		y := math.Log(x/(1-x)) + delta
		next = t.lower + span/(1+math.Exp(-y))
	}
	if next > t.lower && next < t.upper {
		t.value = next
	}
}

// Suggest proposes a value that should bring the observed acceptance closer
// to the target. The correction factor is acceptance/target clamped to
// [0.5, 2]; a larger width lowers acceptance.
func (t *Tuner) Suggest(acceptance float64) float64 {
	ratio := acceptance / t.target
	ratio = math.Max(0.5, math.Min(2, ratio))
	next := t.lower + (t.value-t.lower)*ratio
	if next >= t.upper {
		next = (t.value + t.upper) / 2
	}
	return next
}

// #endregion tuner
