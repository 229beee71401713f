package gate

// #region veto-type
// VetoType enumerates why a proposal was not committed.
type VetoType string

const (
	VetoOperator   VetoType = "operator_rejected" // the move returned the rejection sentinel
	VetoPosterior  VetoType = "invalid_posterior" // NaN or +Inf log-density
	VetoMetropolis VetoType = "metropolis"        // lost the acceptance draw
)

// #endregion veto-type

// #region gate-config
// GateConfig holds acceptance settings.
type GateConfig struct {
	// Temperature divides the log posterior ratio; 1 samples the posterior.
	Temperature float64
}

// DefaultGateConfig returns an untempered gate.
func DefaultGateConfig() GateConfig {
	return GateConfig{Temperature: 1}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the outcome of one acceptance test.
type GateDecision struct {
	Action   string // "commit" | "reject"
	Reason   string
	Vetoed   bool
	Veto     VetoType // set when Action is "reject"
	LogAlpha float64  // log acceptance ratio fed to adaptation; -Inf when vetoed
}

// Committed reports whether the proposal is kept.
func (d GateDecision) Committed() bool { return d.Action == "commit" }

// #endregion gate-decision
