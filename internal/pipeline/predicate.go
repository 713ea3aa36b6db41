package pipeline

import (
	"fmt"
	"time"
)

// Facts are the probed properties of a source that stage predicates test.
type Facts struct {
	Width      int
	Height     int
	Duration   time.Duration
	DynamicHDR bool
	DVProfile  int
}

// Predicate decides whether a stage runs for a given source.
type Predicate string

const (
	Always          Predicate = "always"
	HasDynamicHDR   Predicate = "has-dynamic-hdr"
	LacksDynamicHDR Predicate = "lacks-dynamic-hdr"
)

// ParsePredicate parses a predicate name. Empty means Always.
func ParsePredicate(s string) (Predicate, error) {
	switch Predicate(s) {
	case "", Always:
		return Always, nil
	case HasDynamicHDR, LacksDynamicHDR:
		return Predicate(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPredicate, s)
	}
}

// Eval evaluates the predicate against f.
func (p Predicate) Eval(f Facts) bool {
	switch p {
	case HasDynamicHDR:
		return f.DynamicHDR
	case LacksDynamicHDR:
		return !f.DynamicHDR
	default:
		return true
	}
}
