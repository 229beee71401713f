package operator

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/random"
)

// #region guard
// Propose runs op.Proposal at the operator boundary. Panics and non-finite
// Hastings ratios become Reject; fault describes what was caught.
func Propose(op Operator, r *random.Source) (hr float64, fault error) {
	defer func() {
		if p := recover(); p != nil {
			hr = Reject
			fault = fmt.Errorf("operator %s panicked: %v", op.ID(), p)
		}
	}()
	hr = op.Proposal(r)
	if math.IsNaN(hr) || math.IsInf(hr, 1) {
		return Reject, fmt.Errorf("operator %s: non-finite hastings ratio %g", op.ID(), hr)
	}
	return hr, nil
}

// reject logs why a proposal was abandoned and returns the sentinel.
func (b *base) reject(reason string, err error) float64 {
	if ce := b.logger.Check(zap.DebugLevel, "proposal rejected"); ce != nil {
		ce.Write(zap.String("reason", reason), zap.Error(err))
	}
	return Reject
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion guard
