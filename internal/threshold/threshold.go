// Package threshold models the numeric intervals each data layer is
// classified against: single intervals for binary classification and ordered
// per-level interval sets for risk ranking.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// Inf stands in for an unbounded interval edge.
const Inf = 1e10

// ErrInvalidInterval is returned for intervals with Lower > Upper or NaN edges.
var ErrInvalidInterval = errors.New("threshold: invalid interval")

// Interval is the numeric range [Lower, Upper]. Whether the lower edge is
// inclusive depends on the consumer: risk ranking treats it as exclusive,
// binary classification and risk aggregation as inclusive.
type Interval struct {
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
}

// Validate checks the interval edges.
func (i Interval) Validate() error {
	if math.IsNaN(i.Lower) || math.IsNaN(i.Upper) {
		return eris.Wrap(ErrInvalidInterval, "NaN edge")
	}
	if i.Lower > i.Upper {
		return eris.Wrapf(ErrInvalidInterval, "lower %g > upper %g", i.Lower, i.Upper)
	}
	return nil
}

// Closed reports whether lower <= v <= upper.
func (i Interval) Closed(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

// HalfOpen reports whether lower < v <= upper.
func (i Interval) HalfOpen(v float64) bool {
	return v > i.Lower && v <= i.Upper
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s]", edge(i.Lower), edge(i.Upper))
}

func edge(v float64) string {
	switch {
	case v >= Inf:
		return "+inf"
	case v <= -Inf:
		return "-inf"
	}
	return fmt.Sprintf("%g", v)
}

// IntervalSet is the set of intervals that qualify a pixel for one risk level.
type IntervalSet []Interval

// Spec is a layer's ordered risk levels. Index 0 holds level 1.
type Spec []IntervalSet

// Levels returns the number of risk levels.
func (s Spec) Levels() int { return len(s) }

// Validate checks every interval of every level.
func (s Spec) Validate() error {
	for lvl, set := range s {
		for _, iv := range set {
			if err := iv.Validate(); err != nil {
				return eris.Wrapf(err, "level %d", lvl+1)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	out := make(Spec, len(s))
	for i, set := range s {
		out[i] = append(IntervalSet(nil), set...)
	}
	return out
}
