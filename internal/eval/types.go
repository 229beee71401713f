package eval

// #region eval-config
// EvalConfig holds the acceptance band operators are judged against.
type EvalConfig struct {
	MinAcceptance float64 // fail below this observed acceptance
	MaxAcceptance float64 // fail above this observed acceptance
	MinProposals  int     // operators with fewer proposals are not judged
}

// DefaultEvalConfig returns the [0.10, 0.40] band after 100 proposals.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinAcceptance: 0.10,
		MaxAcceptance: 0.40,
		MinProposals:  100,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures one operator's acceptance check.
type EvalMetric struct {
	Name      string
	Value     float64
	Pass      bool
	Skipped   bool    // too few proposals to judge
	Current   float64 // current tunable, NaN if none
	Suggested float64 // suggested tunable, NaN if none
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the operator performance report.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
