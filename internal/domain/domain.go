package domain

import (
	"fmt"
	"math"
	"strings"
)

// #region kind
// Kind is the value type a domain admits.
type Kind string

const (
	KindReal    Kind = "real"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
)

// #endregion kind

// #region domain
// Domain describes a numeric range: a value kind, lower/upper bounds (possibly
// infinite) and whether each bound is open. Domains are values and are shared
// freely between nodes.
type Domain struct {
	Kind      Kind
	Lower     float64
	Upper     float64
	LowerOpen bool
	UpperOpen bool
}

var (
	Real               = Domain{Kind: KindReal, Lower: math.Inf(-1), Upper: math.Inf(1)}
	PositiveReal       = Domain{Kind: KindReal, Lower: 0, Upper: math.Inf(1), LowerOpen: true}
	NonNegativeReal    = Domain{Kind: KindReal, Lower: 0, Upper: math.Inf(1)}
	UnitInterval       = Domain{Kind: KindReal, Lower: 0, Upper: 1}
	OpenUnitInterval   = Domain{Kind: KindReal, Lower: 0, Upper: 1, LowerOpen: true, UpperOpen: true}
	Integer            = Domain{Kind: KindInteger, Lower: math.Inf(-1), Upper: math.Inf(1)}
	NonNegativeInteger = Domain{Kind: KindInteger, Lower: 0, Upper: math.Inf(1)}
	PositiveInteger    = Domain{Kind: KindInteger, Lower: 1, Upper: math.Inf(1)}
	Boolean            = Domain{Kind: KindBoolean, Lower: 0, Upper: 1}
)

var named = map[string]Domain{
	"real":                 Real,
	"positive_real":        PositiveReal,
	"non_negative_real":    NonNegativeReal,
	"unit_interval":        UnitInterval,
	"open_unit_interval":   OpenUnitInterval,
	"integer":              Integer,
	"non_negative_integer": NonNegativeInteger,
	"positive_integer":     PositiveInteger,
	"boolean":              Boolean,
}

// Parse resolves a domain by its configuration name, e.g. "positive_real".
func Parse(name string) (Domain, error) {
	d, ok := named[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Domain{}, fmt.Errorf("unknown domain %q", name)
	}
	return d, nil
}

// Contains reports whether v lies in the domain. NaN is never contained.
func (d Domain) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch d.Kind {
	case KindInteger:
		if math.IsInf(v, 0) || v != math.Trunc(v) {
			return false
		}
	case KindBoolean:
		if v != 0 && v != 1 {
			return false
		}
	}
	if v < d.Lower || (d.LowerOpen && v == d.Lower) {
		return false
	}
	if v > d.Upper || (d.UpperOpen && v == d.Upper) {
		return false
	}
	return true
}

// Tighten intersects the domain with the closed interval [lo, hi]. A bound
// that is not tighter than the current one is ignored, so open bounds stay
// open unless a strictly tighter closed bound replaces them.
func (d Domain) Tighten(lo, hi float64) Domain {
	if !math.IsNaN(lo) && lo > d.Lower {
		d.Lower = lo
		d.LowerOpen = false
	}
	if !math.IsNaN(hi) && hi < d.Upper {
		d.Upper = hi
		d.UpperOpen = false
	}
	return d
}

// Intersect tightens d with both bounds of o, keeping o's openness where o
// supplies the tighter bound.
func (d Domain) Intersect(o Domain) Domain {
	if o.Lower > d.Lower || (o.Lower == d.Lower && o.LowerOpen) {
		d.Lower, d.LowerOpen = o.Lower, o.LowerOpen
	}
	if o.Upper < d.Upper || (o.Upper == d.Upper && o.UpperOpen) {
		d.Upper, d.UpperOpen = o.Upper, o.UpperOpen
	}
	if o.Kind == KindInteger || o.Kind == KindBoolean {
		d.Kind = o.Kind
	}
	return d
}

// Finite reports whether both bounds are finite.
func (d Domain) Finite() bool {
	return !math.IsInf(d.Lower, 0) && !math.IsInf(d.Upper, 0)
}

// Empty reports whether no value can satisfy the domain.
func (d Domain) Empty() bool {
	if d.Lower > d.Upper {
		return true
	}
	return d.Lower == d.Upper && (d.LowerOpen || d.UpperOpen)
}

// Discrete reports whether values are restricted to integers.
func (d Domain) Discrete() bool {
	return d.Kind == KindInteger || d.Kind == KindBoolean
}

func (d Domain) String() string {
	l, r := "[", "]"
	if d.LowerOpen {
		l = "("
	}
	if d.UpperOpen {
		r = ")"
	}
	return fmt.Sprintf("%s%s%g, %g%s", d.Kind, l, d.Lower, d.Upper, r)
}

// #endregion domain
