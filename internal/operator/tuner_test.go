package operator

import (
	"math"
	"testing"
)

func TestTunerLogStaysAboveLower(t *testing.T) {
	tu, err := NewTuner(TuningConfig{Initial: 1, Lower: 0, Upper: math.Inf(1)})
	if err != nil {
		t.Fatalf("NewTuner: %v", err)
	}
	if tu.Transform() != TransformLog {
		t.Fatalf("expected log transform, got %s", tu.Transform())
	}
	for i := 0; i < 100; i++ {
		tu.Tune(-5)
	}
	if !(tu.Value() > 0) {
		t.Fatalf("value left its bounds: %g", tu.Value())
	}
	tu.Tune(math.Log(4) - math.Log(tu.Value()))
	if math.Abs(tu.Value()-4) > 1e-9 {
		t.Fatalf("expected 4, got %g", tu.Value())
	}
}

func TestTunerLogitStaysInside(t *testing.T) {
	tu, err := NewTuner(TuningConfig{Initial: 0.5, Lower: 0, Upper: 1})
	if err != nil {
		t.Fatalf("NewTuner: %v", err)
	}
	if tu.Transform() != TransformLogit {
		t.Fatalf("expected logit transform, got %s", tu.Transform())
	}
	for _, d := range []float64{3, 30, 300, -3000, 1e6} {
		tu.Tune(d)
		if !(tu.Value() > 0 && tu.Value() < 1) {
			t.Fatalf("tune %g moved value to %g", d, tu.Value())
		}
	}
}

func TestTunerFixedIgnoresTuning(t *testing.T) {
	tu, _ := NewTuner(TuningConfig{Initial: 2, Upper: math.Inf(1), Fixed: true})
	tu.Tune(1)
	if tu.Value() != 2 {
		t.Fatalf("fixed tuner changed to %g", tu.Value())
	}
	if tu.Target() != DefaultTargetAcceptance {
		t.Fatalf("expected default target, got %g", tu.Target())
	}
}

func TestTunerSuggestClampsRatio(t *testing.T) {
	tu, _ := NewTuner(TuningConfig{Initial: 1, Upper: math.Inf(1), Target: 0.3})
	if got := tu.Suggest(0); got != 0.5 {
		t.Fatalf("zero acceptance should halve, got %g", got)
	}
	if got := tu.Suggest(0.9); got != 2 {
		t.Fatalf("high acceptance should double, got %g", got)
	}
	if got := tu.Suggest(0.3); got != 1 {
		t.Fatalf("on-target acceptance should keep value, got %g", got)
	}
}

func TestTunerRejectsInvalidConfig(t *testing.T) {
	bad := []TuningConfig{
		{Initial: 0, Upper: math.Inf(1)},
		{Initial: 1, Lower: 2, Upper: 1},
		{Initial: 1, Lower: math.Inf(-1), Upper: math.Inf(1)},
		{Initial: 1, Upper: math.Inf(1), Target: 1.5},
	}
	for i, c := range bad {
		if _, err := NewTuner(c); err == nil {
			t.Fatalf("config %d: expected error", i)
		}
	}
	tu, _ := NewTuner(TuningConfig{Initial: 0.5, Upper: 1})
	if err := tu.SetValue(1); err == nil {
		t.Fatal("expected SetValue on the bound to fail")
	}
}
