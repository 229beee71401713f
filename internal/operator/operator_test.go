package operator

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/kernel"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/tree"
)

// #region helpers
// fixedKernel returns constant draws so moves can be checked exactly.
type fixedKernel struct{ scale, delta float64 }

func (fixedKernel) Name() string                                           { return "fixed" }
func (k fixedKernel) Scaler(*random.Source, int, float64, float64) float64 { return k.scale }
func (k fixedKernel) Delta(*random.Source, int, float64, float64) float64  { return k.delta }
func (fixedKernel) Observe(int, float64)                                {}

func cfg(id string, k kernel.Kernel) Config {
	return Config{ID: id, Weight: 1, Kernel: k}
}

// step runs one bracketed proposal and commits it unless rejected.
func step(t *testing.T, op Operator, r *random.Source) float64 {
	t.Helper()
	for _, it := range op.Targets() {
		it.Store()
	}
	hr, _ := Propose(op, r)
	for _, it := range op.Targets() {
		if math.IsInf(hr, -1) {
			it.Restore()
		} else {
			it.Accept()
		}
	}
	return hr
}

func parseTree(t *testing.T, s string) *tree.Tree {
	t.Helper()
	tr, err := tree.ParseNewick("t", s)
	require.NoError(t, err)
	return tr
}

// #endregion helpers

// #region scenarios
func TestScaleDoublesScalar(t *testing.T) {
	x := state.MustNode("x", []float64{10}, domain.PositiveReal)
	op, err := NewScale(cfg("scale", fixedKernel{scale: 2}), x, ScaleOne, 0)
	require.NoError(t, err)

	hr := step(t, op, random.New(1))
	assert.Equal(t, 20.0, x.Value(0))
	assert.InDelta(t, math.Log(2), hr, 1e-12)
	assert.InDelta(t, x.Value(0)/10, math.Exp(hr), 1e-12)
}

func TestDeltaExchangeMovesWholeDelta(t *testing.T) {
	v := state.MustNode("v", []float64{1, 1}, domain.Real)
	op, err := NewDeltaExchange(cfg("dx", fixedKernel{delta: 0.5}), v, []float64{1, 1})
	require.NoError(t, err)

	hr := step(t, op, random.New(2))
	assert.Equal(t, 0.0, hr)
	got := v.Values()
	sort.Float64s(got)
	assert.Equal(t, []float64{0.5, 1.5}, got)
	assert.Equal(t, 2.0, v.Value(0)+v.Value(1))
}

func TestIntervalIdentityScaler(t *testing.T) {
	x := state.MustNode("x", []float64{1}, domain.PositiveReal, state.WithBounds(math.NaN(), 2))
	op, err := NewInterval(cfg("interval", fixedKernel{scale: 1}), x, false)
	require.NoError(t, err)

	hr := step(t, op, random.New(3))
	assert.Equal(t, 1.0, x.Value(0))
	assert.Equal(t, 0.0, hr)
}

func TestOutOfDomainProposalRestored(t *testing.T) {
	x := state.MustNode("x", []float64{5}, domain.NonNegativeReal)
	op, err := NewRandomWalk(cfg("rw", fixedKernel{delta: -6}), x, false)
	require.NoError(t, err)

	hr := step(t, op, random.New(4))
	assert.True(t, math.IsInf(hr, -1))
	assert.Equal(t, 5.0, x.Value(0))
}

// #endregion scenarios

// #region scale
func TestScaleAllSkipsZeros(t *testing.T) {
	v := state.MustNode("v", []float64{0, 2, 3}, domain.NonNegativeReal)
	op, err := NewScale(cfg("scale", fixedKernel{scale: 2}), v, ScaleAll, 0)
	require.NoError(t, err)

	hr := step(t, op, random.New(5))
	assert.Equal(t, []float64{0, 4, 6}, v.Values())
	assert.InDelta(t, 2*math.Log(2), hr, 1e-12)

	override, err := NewScale(cfg("scale-dof", fixedKernel{scale: 2}), v, ScaleAll, 5)
	require.NoError(t, err)
	assert.InDelta(t, 5*math.Log(2), step(t, override, random.New(5)), 1e-12)
}

func TestScaleIndependentSumsLogScalers(t *testing.T) {
	v := state.MustNode("v", []float64{1, 0, 4}, domain.NonNegativeReal)
	op, err := NewScale(cfg("scale", fixedKernel{scale: 3}), v, ScaleIndependent, 0)
	require.NoError(t, err)

	hr := step(t, op, random.New(6))
	assert.Equal(t, []float64{3, 0, 12}, v.Values())
	assert.InDelta(t, 2*math.Log(3), hr, 1e-12)
}

func TestScaleRejectsZeroValue(t *testing.T) {
	x := state.MustNode("x", []float64{0}, domain.NonNegativeReal)
	op, err := NewScale(cfg("scale", fixedKernel{scale: 2}), x, ScaleOne, 0)
	require.NoError(t, err)
	assert.True(t, math.IsInf(step(t, op, random.New(7)), -1))
	assert.Equal(t, 0.0, x.Value(0))
}

func TestScaleOutOfBoundsRejected(t *testing.T) {
	x := state.MustNode("x", []float64{1.5}, domain.PositiveReal, state.WithBounds(math.NaN(), 2))
	op, err := NewScale(cfg("scale", fixedKernel{scale: 2}), x, ScaleOne, 0)
	require.NoError(t, err)
	assert.True(t, math.IsInf(step(t, op, random.New(8)), -1))
	assert.Equal(t, 1.5, x.Value(0))
}

func TestScaleOneNeedsIndexedTarget(t *testing.T) {
	tr := parseTree(t, "(A:1,B:1);")
	_, err := NewScale(cfg("scale", nil), tr, ScaleOne, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	op, err := NewScale(cfg("scale", fixedKernel{scale: 2}), tr, ScaleAll, 0)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), step(t, op, random.New(9)), 1e-12)
	assert.Equal(t, 2.0, tr.Height(tr.Root()))
}

func TestUpDownBalancesDegreesOfFreedom(t *testing.T) {
	up := state.MustNode("up", []float64{2, 1}, domain.PositiveReal)
	down := state.MustNode("down", []float64{3}, domain.PositiveReal)
	op, err := NewUpDown(cfg("updown", fixedKernel{scale: 2}), []ScalableItem{up}, []ScalableItem{down})
	require.NoError(t, err)

	hr := step(t, op, random.New(10))
	assert.Equal(t, []float64{4, 2}, up.Values())
	assert.Equal(t, 1.5, down.Value(0))
	assert.InDelta(t, math.Log(2), hr, 1e-12)

	_, err = NewUpDown(cfg("dup", nil), []ScalableItem{up}, []ScalableItem{up})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// #endregion scale

// #region exchange
func TestDeltaExchangePreservesSum(t *testing.T) {
	v := state.MustNode("v", []float64{0.2, 0.3, 0.5}, domain.Real)
	op, err := NewDeltaExchange(cfg("dx", kernel.Bactrian{M: kernel.BactrianM}), v, nil)
	require.NoError(t, err)
	r := random.New(11)
	for i := 0; i < 2000; i++ {
		require.False(t, math.IsInf(step(t, op, r), -1))
	}
	assert.InDelta(t, 1.0, v.Value(0)+v.Value(1)+v.Value(2), 1e-9)
}

func TestIntegerDeltaExchangePreservesWeightedSum(t *testing.T) {
	v := state.MustNode("v", []float64{10, 10, 10}, domain.Integer)
	w := []float64{1, 2, 3}
	op, err := NewDeltaExchange(cfg("dx", kernel.Uniform{}), v, w)
	require.NoError(t, err)
	weighted := func() float64 { return w[0]*v.Value(0) + w[1]*v.Value(1) + w[2]*v.Value(2) }
	before := weighted()
	r := random.New(12)
	for i := 0; i < 1000; i++ {
		step(t, op, r)
		require.Equal(t, before, weighted())
		for k := 0; k < 3; k++ {
			require.Equal(t, math.Trunc(v.Value(k)), v.Value(k))
		}
	}
}

func TestDeltaExchangeWarnsWhenDegenerate(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	v := state.MustNode("v", []float64{1, 2, 3}, domain.Real)
	op, err := NewDeltaExchange(Config{ID: "dx", Weight: 1, Logger: zap.New(core)}, v, []float64{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
	assert.True(t, math.IsInf(step(t, op, random.New(13)), -1))
	assert.Equal(t, []float64{1, 2, 3}, v.Values())
}

func TestDeltaExchangeOverCompound(t *testing.T) {
	a := state.MustNode("a", []float64{1}, domain.PositiveReal)
	b := state.MustNode("b", []float64{1}, domain.PositiveReal)
	op, err := NewDeltaExchange(cfg("dx", fixedKernel{delta: 0.25}), state.NewCompound(a, b), nil)
	require.NoError(t, err)
	require.Len(t, op.Targets(), 2)
	step(t, op, random.New(14))
	assert.Equal(t, 2.0, a.Value(0)+b.Value(0))
	assert.NotEqual(t, a.Value(0), b.Value(0))
}

func TestRandomWalkIntegerSteps(t *testing.T) {
	n := state.MustNode("n", []float64{5}, domain.Integer)
	op, err := NewRandomWalk(cfg("rw", fixedKernel{delta: 0.2}), n, true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, step(t, op, random.New(15)))
	assert.Equal(t, 6.0, n.Value(0))
}

// #endregion exchange

// #region interval
func TestIntervalStaysStrictlyInside(t *testing.T) {
	x := state.MustNode("x", []float64{1}, domain.Real, state.WithBounds(0, 2))
	op, err := NewInterval(Config{
		ID: "interval", Weight: 1, Kernel: kernel.Uniform{},
		Tuning: TuningConfig{Initial: 5, Upper: math.Inf(1), Target: 0.3},
	}, x, false)
	require.NoError(t, err)
	r := random.New(16)
	for i := 0; i < 5000; i++ {
		step(t, op, r)
		require.Greater(t, x.Value(0), 0.0)
		require.Less(t, x.Value(0), 2.0)
	}
}

func TestIntervalWarnsOnUnboundedTarget(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	x := state.MustNode("x", []float64{1}, domain.PositiveReal)
	op, err := NewInterval(Config{ID: "interval", Weight: 1, Logger: zap.New(core)}, x, false)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
	assert.True(t, math.IsInf(step(t, op, random.New(17)), -1))
}

// #endregion interval

// #region trees
func TestTreeScaleRootOnly(t *testing.T) {
	tr := parseTree(t, "((A:1,B:1):2,C:3);")
	op, err := NewTreeScale(cfg("root", fixedKernel{scale: 2}), tr, true)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), step(t, op, random.New(18)), 1e-12)
	assert.Equal(t, 6.0, tr.Height(tr.Root()))
}

func TestTreeIntervalRescalesAboveDatedTips(t *testing.T) {
	// C is dated at 2.5: plain scaling by 0.5 is invalid, interval scaling is not
	tr := parseTree(t, "((A:1,B:1):2,C:0.5);")
	plain, err := NewTreeScale(cfg("scale", fixedKernel{scale: 0.5}), tr, false)
	require.NoError(t, err)
	assert.True(t, math.IsInf(step(t, plain, random.New(19)), -1))

	op, err := NewTreeInterval(cfg("interval", fixedKernel{scale: 0.5}), tr)
	require.NoError(t, err)
	hr := step(t, op, random.New(19))
	assert.InDelta(t, 2*math.Log(0.5), hr, 1e-12)
	assert.InDelta(t, 2.75, tr.Height(tr.Root()), 1e-12)
}

func TestTreeIntervalSkipsFakeNodes(t *testing.T) {
	tr := parseTree(t, "((A:1,B:0):1,C:2);")
	before := tr.Snapshot()
	op, err := NewTreeInterval(cfg("interval", fixedKernel{scale: 2}), tr)
	require.NoError(t, err)
	hr := step(t, op, random.New(20))
	assert.InDelta(t, math.Log(2), hr, 1e-12)
	assert.InDelta(t, 3.0, tr.Height(tr.Root()), 1e-12)
	for i := 0; i < tr.Len(); i++ {
		if tr.IsFake(i) {
			assert.Equal(t, before[i], tr.Height(i))
		}
	}
}

// #endregion trees

// #region guard
type panicky struct{ base }

func (p *panicky) Proposal(*random.Source) float64 { panic("divide by zero") }

type nanOp struct{ base }

func (n *nanOp) Proposal(*random.Source) float64 { return math.NaN() }

func TestProposeConvertsFaults(t *testing.T) {
	b, err := newBase(cfg("boom", nil))
	require.NoError(t, err)

	hr, fault := Propose(&panicky{b}, random.New(21))
	assert.True(t, math.IsInf(hr, -1))
	assert.Error(t, fault)

	hr, fault = Propose(&nanOp{b}, random.New(21))
	assert.True(t, math.IsInf(hr, -1))
	assert.Error(t, fault)
}

// #endregion guard
