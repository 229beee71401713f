package posterior

import (
	"fmt"
	"math"
)

// #region density
// Density is a univariate log-density. Bounds reports its support so it can
// tighten the bounds of the node it is attached to; NaN means unbounded.
type Density interface {
	LogDensity(x float64) float64
	Bounds() (lower, upper float64)
}

// Normal is N(Mean, Sigma²).
type Normal struct{ Mean, Sigma float64 }

func (d Normal) LogDensity(x float64) float64 {
	z := (x - d.Mean) / d.Sigma
	return -0.5*z*z - math.Log(d.Sigma) - 0.5*math.Log(2*math.Pi)
}

func (d Normal) Bounds() (float64, float64) { return math.NaN(), math.NaN() }

// LogNormal has log(x) ~ N(M, S²).
type LogNormal struct{ M, S float64 }

func (d LogNormal) LogDensity(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	z := (math.Log(x) - d.M) / d.S
	return -0.5*z*z - math.Log(x*d.S) - 0.5*math.Log(2*math.Pi)
}

func (d LogNormal) Bounds() (float64, float64) { return 0, math.NaN() }

// Exponential is parameterized by its mean.
type Exponential struct{ Mean float64 }

func (d Exponential) LogDensity(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return -math.Log(d.Mean) - x/d.Mean
}

func (d Exponential) Bounds() (float64, float64) { return 0, math.NaN() }

// Uniform is flat on [Lower, Upper].
type Uniform struct{ Lower, Upper float64 }

func (d Uniform) LogDensity(x float64) float64 {
	if x < d.Lower || x > d.Upper {
		return math.Inf(-1)
	}
	return -math.Log(d.Upper - d.Lower)
}

func (d Uniform) Bounds() (float64, float64) { return d.Lower, d.Upper }

// Gamma has the given shape and scale.
type Gamma struct{ Shape, Scale float64 }

func (d Gamma) LogDensity(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	lg, _ := math.Lgamma(d.Shape)
	return (d.Shape-1)*math.Log(x) - x/d.Scale - lg - d.Shape*math.Log(d.Scale)
}

func (d Gamma) Bounds() (float64, float64) { return 0, math.NaN() }

// #endregion density

// #region factory
// NewDensity builds a density from a configuration name and parameters.
func NewDensity(kind string, p map[string]float64) (Density, error) {
	get := func(key string) (float64, error) {
		v, ok := p[key]
		if !ok {
			return 0, fmt.Errorf("%s density: missing parameter %q", kind, key)
		}
		return v, nil
	}
	positive := func(key string) (float64, error) {
		v, err := get(key)
		if err == nil && !(v > 0) {
			err = fmt.Errorf("%s density: %s must be positive", kind, key)
		}
		return v, err
	}
	switch kind {
	case "normal":
		mean, err := get("mean")
		if err != nil {
			return nil, err
		}
		sigma, err := positive("sigma")
		if err != nil {
			return nil, err
		}
		return Normal{Mean: mean, Sigma: sigma}, nil
	case "lognormal":
		m, err := get("m")
		if err != nil {
			return nil, err
		}
		s, err := positive("s")
		if err != nil {
			return nil, err
		}
		return LogNormal{M: m, S: s}, nil
	case "exponential":
		mean, err := positive("mean")
		if err != nil {
			return nil, err
		}
		return Exponential{Mean: mean}, nil
	case "uniform":
		lo, err := get("lower")
		if err != nil {
			return nil, err
		}
		hi, err := get("upper")
		if err != nil {
			return nil, err
		}
		if !(hi > lo) {
			return nil, fmt.Errorf("uniform density: upper must exceed lower")
		}
		return Uniform{Lower: lo, Upper: hi}, nil
	case "gamma":
		shape, err := positive("shape")
		if err != nil {
			return nil, err
		}
		scale, err := positive("scale")
		if err != nil {
			return nil, err
		}
		return Gamma{Shape: shape, Scale: scale}, nil
	}
	return nil, fmt.Errorf("unknown density %q", kind)
}

// #endregion factory
