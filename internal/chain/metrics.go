package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region metrics
var (
	// samplesTotal counts completed chain steps.
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcmc",
		Subsystem: "chain",
		Name:      "samples_total",
		Help:      "Completed Metropolis-Hastings steps",
	})

	// rejectionsTotal counts uncommitted proposals by reason.
	// Labels: reason (operator_rejected, invalid_posterior, metropolis)
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcmc",
		Subsystem: "chain",
		Name:      "rejections_total",
		Help:      "Rejected proposals by reason",
	}, []string{"reason"})

	// logPosterior tracks the committed log posterior.
	logPosterior = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mcmc",
		Subsystem: "chain",
		Name:      "log_posterior",
		Help:      "Log posterior of the current state",
	})

	// checkpointWrites counts checkpoint writes by outcome.
	// Labels: outcome (saved, failed, dropped)
	checkpointWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcmc",
		Subsystem: "chain",
		Name:      "checkpoint_writes_total",
		Help:      "Checkpoint writes by outcome",
	}, []string{"outcome"})
)

// #endregion metrics
