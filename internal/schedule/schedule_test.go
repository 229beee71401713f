package schedule

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/kernel"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/operator"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

func newScale(t *testing.T, id string, weight float64, k kernel.Kernel) *operator.Scale {
	t.Helper()
	x := state.MustNode(id+".x", []float64{1}, domain.PositiveReal)
	op, err := operator.NewScale(operator.Config{ID: id, Weight: weight, Kernel: k}, x, operator.ScaleOne, 0)
	require.NoError(t, err)
	return op
}

func TestSelectFollowsWeights(t *testing.T) {
	s := New(DefaultConfig())
	require.NoError(t, s.Add(newScale(t, "a", 1, nil)))
	require.NoError(t, s.Add(newScale(t, "b", 3, nil)))
	assert.Error(t, s.Add(newScale(t, "a", 1, nil)))

	r := random.New(1)
	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		op, err := s.Select(r)
		require.NoError(t, err)
		counts[op.ID()]++
	}
	assert.InDelta(t, 0.75, float64(counts["b"])/n, 0.02)

	require.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	for i := 0; i < 100; i++ {
		op, err := s.Select(r)
		require.NoError(t, err)
		require.Equal(t, "a", op.ID())
	}
}

func TestSelectWithoutWeights(t *testing.T) {
	s := New(DefaultConfig())
	_, err := s.Select(random.New(1))
	assert.ErrorIs(t, err, ErrEmpty)
	require.NoError(t, s.Add(newScale(t, "zero", 0, nil)))
	_, err = s.Select(random.New(1))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCalcDeltaTransforms(t *testing.T) {
	e := &entry{accepted: 3}
	cases := map[DeltaTransform]float64{
		TransformNone: 0.7 / 4,
		TransformLog:  0.7 / math.Log(5),
		TransformSqrt: 0.7 / 2,
	}
	for tr, want := range cases {
		s := New(Config{Transform: tr, AutoOptimize: true})
		assert.InDelta(t, want, s.calcDelta(e, 0.3, 0), 1e-12, "transform %s", tr)
		assert.InDelta(t, -want*0.3/0.7, s.calcDelta(e, 0.3, math.Inf(-1)), 1e-12, "transform %s", tr)
	}
}

func TestOptimizeMovesWidthTowardTarget(t *testing.T) {
	s := New(DefaultConfig())
	op := newScale(t, "a", 1, nil)
	require.NoError(t, s.Add(op))
	w := op.Tuner().Value()

	s.Reject(op)
	s.Optimize(op, operator.Reject)
	assert.Less(t, op.Tuner().Value(), w, "rejections shrink the width")

	w = op.Tuner().Value()
	s.Accept(op)
	s.Optimize(op, 0)
	assert.Greater(t, op.Tuner().Value(), w, "acceptances grow the width")
	assert.Equal(t, 2, s.Steps())
}

func TestOptimizeDelayAndFixed(t *testing.T) {
	s := New(Config{Transform: TransformSqrt, AutoOptimize: true, AutoOptimizeDelay: 2})
	op := newScale(t, "a", 1, nil)
	require.NoError(t, s.Add(op))
	w := op.Tuner().Value()
	for i := 0; i < 2; i++ {
		s.Reject(op)
		s.Optimize(op, operator.Reject)
	}
	assert.Equal(t, w, op.Tuner().Value())
	s.Reject(op)
	s.Optimize(op, operator.Reject)
	assert.Less(t, op.Tuner().Value(), w)

	x := state.MustNode("y", []float64{1}, domain.PositiveReal)
	fixed, err := operator.NewScale(operator.Config{
		ID: "fixed", Weight: 1,
		Tuning: operator.TuningConfig{Initial: 0.5, Upper: math.Inf(1), Fixed: true},
	}, x, operator.ScaleOne, 0)
	require.NoError(t, err)
	require.NoError(t, s.Add(fixed))
	s.Reject(fixed)
	s.Optimize(fixed, operator.Reject)
	assert.Equal(t, 0.5, fixed.Tuner().Value())
}

func TestRowsSuggestOutsideBand(t *testing.T) {
	s := New(DefaultConfig())
	low := newScale(t, "low", 1, nil)
	ok := newScale(t, "ok", 1, nil)
	require.NoError(t, s.Add(low))
	require.NoError(t, s.Add(ok))
	for i := 0; i < 20; i++ {
		s.Reject(low)
		if i%4 == 0 {
			s.Accept(ok)
		} else {
			s.Reject(ok)
		}
	}
	rows := s.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 0.0, rows[0].Acceptance)
	assert.Equal(t, low.Tuner().Value()/2, rows[0].Suggested)
	assert.Equal(t, "bactrian", rows[0].Kernel)
	assert.InDelta(t, 0.25, rows[1].Acceptance, 1e-12)
	assert.True(t, math.IsNaN(rows[1].Suggested))

	s.Reset()
	assert.Equal(t, 0, s.Rows()[0].Rejected)
}

func TestExportImportRoundTrip(t *testing.T) {
	build := func() (*Schedule, *operator.Scale) {
		s := New(DefaultConfig())
		op := newScale(t, "m", 1, kernel.NewMirror())
		require.NoError(t, s.Add(op))
		return s, op
	}
	s, op := build()
	r := random.New(4)
	for i := 0; i < 50; i++ {
		if r.Float64() < 0.3 {
			s.Accept(op)
			s.Optimize(op, 0)
		} else {
			s.Reject(op)
			s.Optimize(op, operator.Reject)
		}
	}
	st, err := s.Export()
	require.NoError(t, err)
	require.Len(t, st.Operators, 1)
	assert.NotEmpty(t, st.Operators[0].Kernel)

	s2, op2 := build()
	require.NoError(t, s2.Import(st))
	assert.Equal(t, op.Tuner().Value(), op2.Tuner().Value())
	assert.Equal(t, s.Steps(), s2.Steps())
	assert.Equal(t, s.Rows()[0].Accepted, s2.Rows()[0].Accepted)

	st.Operators[0].ID = "missing"
	assert.Error(t, s2.Import(st))
}

func TestExportImportKeepsZeroTunable(t *testing.T) {
	build := func(initial float64) (*Schedule, *operator.Scale) {
		x := state.MustNode("x", []float64{1}, domain.PositiveReal)
		op, err := operator.NewScale(operator.Config{
			ID: "signed", Weight: 1,
			Tuning: operator.TuningConfig{Initial: initial, Lower: -1, Upper: 1},
		}, x, operator.ScaleOne, 0)
		require.NoError(t, err)
		s := New(DefaultConfig())
		require.NoError(t, s.Add(op))
		return s, op
	}
	s, _ := build(0)
	st, err := s.Export()
	require.NoError(t, err)
	raw, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tunable":0`)

	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))
	s2, op2 := build(0.5)
	require.NoError(t, s2.Import(decoded))
	assert.Equal(t, 0.0, op2.Tuner().Value())
}
