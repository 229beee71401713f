package eval

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/schedule"
)

// #region eval-harness
// EvalHarness judges operator performance from schedule diagnostics.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks every operator's observed acceptance against the band. Tunable
// operators outside the band carry a suggested value.
func (h *EvalHarness) Run(rows []schedule.Row) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	for _, r := range rows {
		m := EvalMetric{
			Name:      r.ID,
			Value:     r.Acceptance,
			Pass:      true,
			Current:   r.Tunable,
			Suggested: math.NaN(),
		}
		n := r.Accepted + r.Rejected
		if n < h.config.MinProposals {
			m.Skipped = true
			metrics = append(metrics, m)
			continue
		}
		if r.Acceptance < h.config.MinAcceptance || r.Acceptance > h.config.MaxAcceptance {
			m.Pass = false
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("%s acceptance %.4f outside [%.2f, %.2f]",
				r.ID, r.Acceptance, h.config.MinAcceptance, h.config.MaxAcceptance))
			// NaN when the schedule has no better value to offer
			m.Suggested = r.Suggested
		}
		metrics = append(metrics, m)
	}

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// Report writes the operator table followed by the verdict.
func Report(w io.Writer, rows []schedule.Row, result EvalResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "operator\tkernel\tweight\ttunable\taccepted\trejected\tacceptance\tsuggested")
	for i, r := range rows {
		suggested := "-"
		if i < len(result.Metrics) && !math.IsNaN(result.Metrics[i].Suggested) {
			suggested = fmt.Sprintf("%.4g", result.Metrics[i].Suggested)
		}
		tunable := "-"
		if !math.IsNaN(r.Tunable) {
			tunable = fmt.Sprintf("%.4g", r.Tunable)
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%s\t%d\t%d\t%.4f\t%s\n",
			r.ID, r.Kernel, r.Weight, tunable, r.Accepted, r.Rejected, r.Acceptance, suggested)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, result.Reason)
	return err
}

// #endregion eval-harness
