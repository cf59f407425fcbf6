// Package query holds the predicate model handed to index searchers and the
// per-query execution context that accumulates work counters.
package query

import (
	"errors"
	"fmt"
)

// Operator classifies a predicate.
type Operator int

const (
	Eq Operator = iota
	NotEq
	Lt
	Lte
	Gt
	Gte
	Range
	Prefix
	Ann
)

func (o Operator) String() string {
	switch o {
	case Eq:
		return "="
	case NotEq:
		return "!="
	case Lt:
		return "<"
	case Lte:
		return "<="
	case Gt:
		return ">"
	case Gte:
		return ">="
	case Range:
		return "range"
	case Prefix:
		return "prefix"
	case Ann:
		return "ann"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// ErrInvalidPredicate signals a predicate missing fields its operator needs.
var ErrInvalidPredicate = errors.New("invalid predicate")

// Predicate is one restriction on one indexed column. Bounds carry
// byte-comparable encoded values. Single-operand comparisons keep their
// operand in Lower for Eq, NotEq, Gt, Gte and Prefix and in Upper for Lt and
// Lte; Range uses both bounds with the stored inclusiveness flags.
type Predicate struct {
	Column string
	Op     Operator

	Lower          []byte
	Upper          []byte
	LowerInclusive bool
	UpperInclusive bool

	// Vector and Limit apply to Ann only.
	Vector []float32
	Limit  int
}

// Validate checks that the fields the operator needs are present.
func (p *Predicate) Validate() error {
	if p.Column == "" {
		return fmt.Errorf("%w: missing column", ErrInvalidPredicate)
	}
	switch p.Op {
	case Eq, NotEq, Gt, Gte, Prefix:
		if len(p.Lower) == 0 {
			return fmt.Errorf("%w: %s %s needs a value", ErrInvalidPredicate, p.Column, p.Op)
		}
	case Lt, Lte:
		if len(p.Upper) == 0 {
			return fmt.Errorf("%w: %s %s needs a value", ErrInvalidPredicate, p.Column, p.Op)
		}
	case Range:
		if len(p.Lower) == 0 && len(p.Upper) == 0 {
			return fmt.Errorf("%w: %s range needs at least one bound", ErrInvalidPredicate, p.Column)
		}
	case Ann:
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: %s ann needs a query vector", ErrInvalidPredicate, p.Column)
		}
		if p.Limit <= 0 {
			return fmt.Errorf("%w: %s ann needs a positive limit", ErrInvalidPredicate, p.Column)
		}
	default:
		return fmt.Errorf("%w: %s operator %s", ErrInvalidPredicate, p.Column, p.Op)
	}
	return nil
}

// Bounds normalizes the predicate into a value interval for range-capable
// searchers. Comparison operators derive their inclusiveness from the
// operator itself; only Range consults the stored flags. NotEq maps to the
// unbounded interval, the excluded value is filtered downstream.
func (p *Predicate) Bounds() (lower, upper []byte, lowerInc, upperInc bool) {
	switch p.Op {
	case Eq:
		return p.Lower, p.Lower, true, true
	case Lt:
		return nil, p.Upper, false, false
	case Lte:
		return nil, p.Upper, false, true
	case Gt:
		return p.Lower, nil, false, false
	case Gte:
		return p.Lower, nil, true, false
	case Range:
		return p.Lower, p.Upper, p.LowerInclusive, p.UpperInclusive
	default:
		return nil, nil, false, false
	}
}
