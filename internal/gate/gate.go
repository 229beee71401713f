package gate

import (
	"fmt"
	"math"
)

// #region gate
// Gate decides whether a proposed state is committed or rolled back.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	if !(config.Temperature > 0) {
		config.Temperature = 1
	}
	return &Gate{config: config}
}

// Evaluate applies the Metropolis–Hastings test to a proposal. oldLogP and
// newLogP are posterior log-densities, logHR is the operator's log Hastings
// ratio and logU is log of a uniform draw in (0, 1). Hard vetoes are checked
// before the ratio is formed.
func (g *Gate) Evaluate(oldLogP, newLogP, logHR, logU float64) GateDecision {
	// --- Hard veto pass ---

	// 1. The operator found no legal move
	if math.IsInf(logHR, -1) {
		return veto(VetoOperator, "operator returned the rejection sentinel")
	}

	// 2. The posterior is not a usable log-density
	if math.IsNaN(newLogP) || math.IsInf(newLogP, 1) {
		return veto(VetoPosterior, fmt.Sprintf("posterior evaluated to %g", newLogP))
	}

	// --- Metropolis test ---
	logAlpha := (newLogP-oldLogP)/g.config.Temperature + logHR
	if math.IsNaN(logAlpha) {
		logAlpha = math.Inf(-1)
	}
	if logAlpha >= 0 || logU < logAlpha {
		return GateDecision{
			Action:   "commit",
			Reason:   fmt.Sprintf("accepted: log_alpha=%.4f", logAlpha),
			LogAlpha: logAlpha,
		}
	}
	return GateDecision{
		Action:   "reject",
		Reason:   fmt.Sprintf("metropolis: log_u=%.4f >= log_alpha=%.4f", logU, logAlpha),
		Veto:     VetoMetropolis,
		LogAlpha: logAlpha,
	}
}

// #endregion gate

// #region helpers
func veto(t VetoType, reason string) GateDecision {
	return GateDecision{
		Action:   "reject",
		Reason:   fmt.Sprintf("hard veto: %s", reason),
		Vetoed:   true,
		Veto:     t,
		LogAlpha: math.Inf(-1),
	}
}

// #endregion helpers
