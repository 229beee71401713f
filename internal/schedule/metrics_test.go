package schedule

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/operator"
)

func TestOutcomeMetrics(t *testing.T) {
	s := New(DefaultConfig())
	op := newScale(t, "metrics.op", 1, nil)
	require.NoError(t, s.Add(op))

	s.Accept(op)
	s.Optimize(op, 0)
	s.Reject(op)
	s.Reject(op)
	s.Optimize(op, operator.Reject)

	assert.Equal(t, 1.0, testutil.ToFloat64(proposalsTotal.WithLabelValues("metrics.op", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(proposalsTotal.WithLabelValues("metrics.op", "rejected")))
	assert.InDelta(t, 1.0/3, testutil.ToFloat64(acceptanceRate.WithLabelValues("metrics.op")), 1e-12)
	assert.Equal(t, op.Tuner().Value(), testutil.ToFloat64(tunableValue.WithLabelValues("metrics.op")))
}
