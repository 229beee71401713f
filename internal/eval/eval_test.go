package eval

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/schedule"
)

func makeRow(id string, accepted, rejected int) schedule.Row {
	n := accepted + rejected
	return schedule.Row{
		ID:         id,
		Weight:     1,
		Kernel:     "bactrian",
		Tunable:    0.5,
		Accepted:   accepted,
		Rejected:   rejected,
		Acceptance: float64(accepted) / float64(n),
		Target:     0.3,
		Suggested:  math.NaN(),
	}
}

func TestEvalPassesInsideBand(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())

	result := h.Run([]schedule.Row{makeRow("scale", 30, 70), makeRow("walk", 25, 75)})

	if !result.Passed {
		t.Fatalf("expected pass, got fail: %s", result.Reason)
	}
	if len(result.Metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(result.Metrics))
	}
}

func TestEvalFailsOnLowAcceptance(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	row := makeRow("scale", 2, 98)
	row.Suggested = 0.25

	result := h.Run([]schedule.Row{row})

	if result.Passed {
		t.Fatal("expected fail on low acceptance")
	}
	if result.Metrics[0].Suggested != 0.25 {
		t.Fatalf("expected suggestion 0.25, got %f", result.Metrics[0].Suggested)
	}
	if !strings.Contains(result.Reason, "scale") {
		t.Fatalf("reason should name the operator: %s", result.Reason)
	}
}

func TestEvalNarrowBandSuggestsNothingNew(t *testing.T) {
	// 0.35 is inside the schedule's suggestion band, so the row carries no
	// suggestion even though this harness fails it
	h := NewEvalHarness(EvalConfig{MinAcceptance: 0.2, MaxAcceptance: 0.3, MinProposals: 1})

	result := h.Run([]schedule.Row{makeRow("scale", 35, 65)})

	if result.Passed {
		t.Fatal("expected fail above the band")
	}
	if s := result.Metrics[0].Suggested; !math.IsNaN(s) {
		t.Fatalf("expected no suggestion, got %f", s)
	}
}

func TestEvalSkipsShortRuns(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())

	result := h.Run([]schedule.Row{makeRow("scale", 0, 10)})

	if !result.Passed {
		t.Fatalf("short runs must not fail: %s", result.Reason)
	}
	if !result.Metrics[0].Skipped {
		t.Fatal("expected metric to be skipped")
	}
}

func TestEvalCountsMultipleFailures(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())

	result := h.Run([]schedule.Row{makeRow("a", 90, 10), makeRow("b", 1, 99)})

	if !strings.Contains(result.Reason, "2 checks") {
		t.Fatalf("expected two failures, got %s", result.Reason)
	}
}

func TestReportWritesTable(t *testing.T) {
	rows := []schedule.Row{makeRow("scale", 2, 98)}
	rows[0].Suggested = 0.25
	result := NewEvalHarness(DefaultEvalConfig()).Run(rows)

	var buf bytes.Buffer
	if err := Report(&buf, rows, result); err != nil {
		t.Fatalf("Report: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"operator", "scale", "0.25", "eval failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}
