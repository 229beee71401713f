package graph

import (
	"errors"
	"testing"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

// #region helpers
type fixture struct {
	g      *Graph
	st     *state.State
	x, y   *state.Node
	sum    ID
	square ID
}

// x, y -> sum = x+y -> square = sum^2
func newFixture(t *testing.T, opts ...CalcOption) *fixture {
	t.Helper()
	f := &fixture{g: New(), st: state.New()}
	f.x = state.MustNode("x", []float64{1}, domain.Real)
	f.y = state.MustNode("y", []float64{2}, domain.Real)
	if err := f.st.Add(f.x, f.y); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.st.Attach(f.g)

	lx, err := f.g.AddLeaf("x", f.x)
	if err != nil {
		t.Fatalf("AddLeaf: %v", err)
	}
	ly, _ := f.g.AddLeaf("y", f.y)
	f.sum, err = f.g.AddCalculation("sum", []ID{lx, ly}, func() (float64, error) {
		return f.x.Value(0) + f.y.Value(0), nil
	}, opts...)
	if err != nil {
		t.Fatalf("AddCalculation: %v", err)
	}
	f.square, err = f.g.AddCalculation("square", []ID{f.sum}, func() (float64, error) {
		s, err := f.g.Value(f.sum)
		return s * s, err
	}, opts...)
	if err != nil {
		t.Fatalf("AddCalculation: %v", err)
	}
	return f
}

func mustValue(t *testing.T, g *Graph, id ID) float64 {
	t.Helper()
	v, err := g.Value(id)
	if err != nil {
		t.Fatalf("Value(%s): %v", g.Name(id), err)
	}
	return v
}

// #endregion helpers

// #region tests
func TestValueMemoized(t *testing.T) {
	f := newFixture(t)
	if v := mustValue(t, f.g, f.square); v != 9 {
		t.Fatalf("expected 9, got %f", v)
	}
	mustValue(t, f.g, f.square)
	mustValue(t, f.g, f.sum)
	if f.g.Computations(f.sum) != 1 || f.g.Computations(f.square) != 1 {
		t.Fatalf("expected one computation each, got sum=%d square=%d",
			f.g.Computations(f.sum), f.g.Computations(f.square))
	}
}

func TestDirtyPropagatesTransitively(t *testing.T) {
	f := newFixture(t)
	mustValue(t, f.g, f.square)
	if f.g.RequiresRecalculation(f.square) {
		t.Fatal("clean graph reported dirty")
	}

	f.st.Store(f.x)
	f.x.Set(0, 4)
	if !f.g.RequiresRecalculation(f.sum) || !f.g.RequiresRecalculation(f.square) {
		t.Fatal("change in x must dirty sum and square")
	}
	dirty := f.g.DirtySet()
	if len(dirty) != 2 || dirty[0] != f.sum || dirty[1] != f.square {
		t.Fatalf("unexpected dirty set %v", dirty)
	}
	if v := mustValue(t, f.g, f.square); v != 36 {
		t.Fatalf("expected 36, got %f", v)
	}
	// several reads within one proposal compute once
	mustValue(t, f.g, f.square)
	mustValue(t, f.g, f.sum)
	if f.g.Computations(f.square) != 2 {
		t.Fatalf("expected 2 computations, got %d", f.g.Computations(f.square))
	}
	f.st.Accept()
}

func TestRestoreRevertsCacheWithoutRecompute(t *testing.T) {
	f := newFixture(t)
	mustValue(t, f.g, f.square)

	f.st.Store(f.x)
	f.x.Set(0, 4)
	mustValue(t, f.g, f.square)
	f.st.Restore()

	if f.g.RequiresRecalculation(f.square) {
		t.Fatal("restored graph must be clean")
	}
	if v := mustValue(t, f.g, f.square); v != 9 {
		t.Fatalf("expected restored 9, got %f", v)
	}
	if f.g.Computations(f.square) != 2 {
		t.Fatalf("restore must not trigger recomputation, got %d", f.g.Computations(f.square))
	}
}

func TestWithoutRollbackRecomputesAfterRestore(t *testing.T) {
	f := newFixture(t, WithoutRollback())
	mustValue(t, f.g, f.square)

	f.st.Store(f.x)
	f.x.Set(0, 4)
	mustValue(t, f.g, f.square)
	f.st.Restore()

	if !f.g.RequiresRecalculation(f.square) {
		t.Fatal("node without rollback must be dirty after restore")
	}
	if v := mustValue(t, f.g, f.square); v != 9 {
		t.Fatalf("expected 9, got %f", v)
	}
	if f.g.Computations(f.square) != 3 {
		t.Fatalf("expected 3 computations, got %d", f.g.Computations(f.square))
	}
}

func TestUnchangedIntermediateStopsPropagation(t *testing.T) {
	f := newFixture(t)
	mustValue(t, f.g, f.square)

	// x+1, y-1 keeps the sum, so square must not recompute
	f.st.Store()
	f.x.Set(0, 2)
	f.y.Set(0, 1)
	mustValue(t, f.g, f.square)
	f.st.Accept()

	if f.g.Computations(f.sum) != 2 {
		t.Fatalf("sum should recompute, got %d", f.g.Computations(f.sum))
	}
	if f.g.Computations(f.square) != 1 {
		t.Fatalf("square should reuse cache, got %d", f.g.Computations(f.square))
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	g := New()
	x := state.MustNode("x", []float64{1}, domain.Real)
	lx, _ := g.AddLeaf("x", x)
	fail := true
	id, _ := g.AddCalculation("flaky", []ID{lx}, func() (float64, error) {
		if fail {
			return 0, errors.New("boom")
		}
		return 1, nil
	})
	if _, err := g.Value(id); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	if v := mustValue(t, g, id); v != 1 {
		t.Fatalf("expected 1, got %f", v)
	}
}

func TestBuildErrors(t *testing.T) {
	g := New()
	x := state.MustNode("x", []float64{1}, domain.Real)
	lx, _ := g.AddLeaf("x", x)
	if _, err := g.AddLeaf("x", x); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := g.AddCalculation("c", []ID{lx + 5}, func() (float64, error) { return 0, nil }); err == nil {
		t.Fatal("expected unknown dependency error")
	}
	if _, err := g.AddCalculation("c", nil, nil); err == nil {
		t.Fatal("expected missing function error")
	}
	if _, err := g.Value(lx); err == nil {
		t.Fatal("leaves have no calculation value")
	}
	if id, ok := g.Lookup("x"); !ok || id != lx {
		t.Fatal("lookup failed")
	}
}

// #endregion tests
