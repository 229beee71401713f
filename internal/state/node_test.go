package state

import (
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/domain"
)

type fixedBounds struct{ lo, hi float64 }

func (f fixedBounds) Bounds(string, int) (float64, float64) { return f.lo, f.hi }

func TestNewNodeRejectsInvalidInitialValue(t *testing.T) {
	_, err := NewNode("x", []float64{-1}, domain.NonNegativeReal)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestSetRequiresEditing(t *testing.T) {
	n := MustNode("x", []float64{1}, domain.Real)
	if err := n.Set(0, 2); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	n.Store()
	if err := n.Set(0, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n.Value(0) != 2 {
		t.Fatalf("expected 2, got %f", n.Value(0))
	}
}

func TestSetOutOfBoundsLeavesValue(t *testing.T) {
	n := MustNode("x", []float64{5}, domain.NonNegativeReal)
	n.Store()
	gen := n.Generation()
	if err := n.Set(0, -1); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if n.Value(0) != 5 {
		t.Fatalf("value changed to %f", n.Value(0))
	}
	if n.Generation() != gen {
		t.Fatal("generation must not advance on a refused write")
	}
}

func TestSetIndexOutOfRange(t *testing.T) {
	n := MustNode("x", []float64{1, 2}, domain.Real)
	n.Store()
	if err := n.Set(2, 0); !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
}

func TestScaleSkipsZeros(t *testing.T) {
	n := MustNode("v", []float64{0, 2, 0, 4}, domain.NonNegativeReal)
	n.Store()
	count, err := n.Scale(3)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 scaled dimensions, got %d", count)
	}
	want := []float64{0, 6, 0, 12}
	for i, w := range want {
		if n.Value(i) != w {
			t.Fatalf("index %d: expected %f, got %f", i, w, n.Value(i))
		}
	}
}

func TestScaleAllOrNothing(t *testing.T) {
	n := MustNode("v", []float64{1, 4}, domain.Real, WithBounds(0, 5))
	n.Store()
	if _, err := n.Scale(2); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if n.Value(0) != 1 || n.Value(1) != 4 {
		t.Fatalf("partial scale applied: %v", n.Values())
	}
}

func TestScaleAllZeros(t *testing.T) {
	n := MustNode("v", []float64{0, 0}, domain.Real)
	n.Store()
	gen := n.Generation()
	count, err := n.Scale(2)
	if err != nil || count != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, err)
	}
	if n.Generation() != gen {
		t.Fatal("generation must not advance when nothing changed")
	}
}

func TestStoreRestoreBitIdentical(t *testing.T) {
	orig := []float64{0.1, math.Pi, -1e-300, 7}
	n := MustNode("v", orig, domain.Real)
	gen := n.Generation()
	n.Store()
	n.Set(0, 99)
	n.Scale(1.0000001)
	n.Restore()
	for i, w := range orig {
		if math.Float64bits(n.Value(i)) != math.Float64bits(w) {
			t.Fatalf("index %d: expected bits of %v, got %v", i, w, n.Value(i))
		}
	}
	if n.Generation() != gen {
		t.Fatal("restore must return the stored generation")
	}
	if n.Editing() {
		t.Fatal("restore must clear editing")
	}
}

func TestMutationAfterRestoreGetsFreshGeneration(t *testing.T) {
	n := MustNode("x", []float64{1}, domain.Real)
	n.Store()
	n.Set(0, 2)
	during := n.Generation()
	n.Restore()
	n.Store()
	n.Set(0, 3)
	if n.Generation() == during {
		t.Fatal("generation stamp reused after rollback")
	}
}

func TestBoundsQueryProvidersOnDemand(t *testing.T) {
	n := MustNode("x", []float64{1}, domain.PositiveReal)
	if n.Bounds(0).Finite() {
		t.Fatal("positive reals have no finite upper bound")
	}
	n.Attach(fixedBounds{lo: math.NaN(), hi: 3})
	b := n.Bounds(0)
	if b.Upper != 3 || b.Lower != 0 || !b.LowerOpen {
		t.Fatalf("unexpected effective bounds %s", b)
	}
	n.Store()
	if err := n.Set(0, 3.5); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("provider bound not enforced: %v", err)
	}
}

func TestLoadValidates(t *testing.T) {
	n := MustNode("x", []float64{1, 2}, domain.PositiveReal)
	if err := n.Load([]float64{1}); err == nil {
		t.Fatal("expected dimension error")
	}
	if err := n.Load([]float64{1, 0}); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := n.Load([]float64{3, 4}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n.Value(1) != 4 || n.StoredValue(1) != 4 {
		t.Fatal("load must set both current and stored values")
	}
}

func TestCompoundFlattens(t *testing.T) {
	a := MustNode("a", []float64{1}, domain.Real)
	b := MustNode("b", []float64{2, 3}, domain.Real)
	c := NewCompound(a, b)
	if c.Dim() != 3 {
		t.Fatalf("expected dim 3, got %d", c.Dim())
	}
	if c.Value(2) != 3 || c.Value(0) != 1 {
		t.Fatal("unexpected compound values")
	}
	a.Store()
	b.Store()
	if err := c.Set(1, 9); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if b.Value(0) != 9 {
		t.Fatalf("expected b[0]=9, got %f", b.Value(0))
	}
	if c.ID() != "a+b" {
		t.Fatalf("unexpected id %s", c.ID())
	}
}
