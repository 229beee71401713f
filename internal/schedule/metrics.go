package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region metrics
var (
	// proposalsTotal counts operator outcomes.
	// Labels: operator, outcome (accepted, rejected)
	proposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcmc",
		Subsystem: "schedule",
		Name:      "proposals_total",
		Help:      "Proposals by operator and outcome",
	}, []string{"operator", "outcome"})

	// tunableValue tracks the current tunable of each operator.
	tunableValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mcmc",
		Subsystem: "schedule",
		Name:      "tunable",
		Help:      "Current tunable parameter per operator",
	}, []string{"operator"})

	// acceptanceRate tracks the observed acceptance of each operator.
	acceptanceRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mcmc",
		Subsystem: "schedule",
		Name:      "acceptance_ratio",
		Help:      "Observed acceptance rate per operator since the last reset",
	}, []string{"operator"})
)

func recordOutcome(op string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	proposalsTotal.WithLabelValues(op, outcome).Inc()
}

// #endregion metrics
