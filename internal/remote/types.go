package remote

import (
	"context"
	"time"
)

// #region names
const (
	serviceName = "mcmc.v1.Likelihood"
	methodName  = "LogLikelihood"
	fullMethod  = "/" + serviceName + "/" + methodName
)

// #endregion names

// #region config
// Config configures the likelihood client.
type Config struct {
	Addr    string
	Timeout time.Duration // per evaluation; 0 disables
}

// DefaultConfig returns a 30s per-call timeout for addr.
func DefaultConfig(addr string) Config {
	return Config{Addr: addr, Timeout: 30 * time.Second}
}

// #endregion config

// #region likelihood
// Likelihood is the server side of the service: it scores node values.
type Likelihood interface {
	LogLikelihood(ctx context.Context, values map[string][]float64) (float64, error)
}

// LikelihoodFunc adapts a function to Likelihood.
type LikelihoodFunc func(ctx context.Context, values map[string][]float64) (float64, error)

func (f LikelihoodFunc) LogLikelihood(ctx context.Context, values map[string][]float64) (float64, error) {
	return f(ctx, values)
}

// #endregion likelihood
