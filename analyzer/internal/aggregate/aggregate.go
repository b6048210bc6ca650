package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sweeplab/sweepfit/pkg/types"
)

// Causes carried by AggregationError.
var (
	ErrZeroShots     = errors.New("zero total shots")
	ErrShotMismatch  = errors.New("outcome counts do not sum to shot total")
	ErrNegativeCount = errors.New("negative outcome count")
	ErrLabelTooLong  = errors.New("outcome label longer than chain length")
)

// AggregationError reports a sweep point that could not be reduced to an
// observable. Index and X locate the point within its sweep.
type AggregationError struct {
	Index int
	X     float64
	Label string // offending label, if any
	Cause error
}

func (e *AggregationError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("aggregate: point %d (x=%g) label %q: %v", e.Index, e.X, e.Label, e.Cause)
	}
	return fmt.Sprintf("aggregate: point %d (x=%g): %v", e.Index, e.X, e.Cause)
}

func (e *AggregationError) Unwrap() error { return e.Cause }

// Normalize left-pads label with '0' up to chainLen characters. A chainLen of
// zero or less disables padding.
func Normalize(label string, chainLen int) string {
	if chainLen <= 0 || len(label) >= chainLen {
		return label
	}
	return strings.Repeat("0", chainLen-len(label)) + label
}

// Aggregate returns the fraction of shots at point whose normalized label
// satisfies pred.
func Aggregate(point types.SweepPoint, chainLen int, pred Predicate) (float64, error) {
	return aggregateAt(0, point, chainLen, pred)
}

func aggregateAt(idx int, point types.SweepPoint, chainLen int, pred Predicate) (float64, error) {
	fail := func(label string, cause error) error {
		return &AggregationError{Index: idx, X: point.X, Label: label, Cause: cause}
	}

	var total, matched int64
	for label, c := range point.Counts {
		if c < 0 {
			return 0, fail(label, ErrNegativeCount)
		}
		if chainLen > 0 && len(label) > chainLen {
			return 0, fail(label, ErrLabelTooLong)
		}
		total += c
		if c > 0 && pred(Normalize(label, chainLen)) {
			matched += c
		}
	}

	if point.Shots != 0 && point.Shots != total {
		return 0, fail("", fmt.Errorf("%w: counts=%d shots=%d", ErrShotMismatch, total, point.Shots))
	}
	if total == 0 {
		return 0, fail("", ErrZeroShots)
	}
	return float64(matched) / float64(total), nil
}

// Series is the observable series derived from one sweep. X and Y only hold
// points that aggregated successfully; Failures lists the rest in sweep order.
type Series struct {
	X        []float64
	Y        []float64
	Failures []*AggregationError
}

// OK reports whether every point aggregated.
func (s Series) OK() bool { return len(s.Failures) == 0 }

// Len returns the number of successfully aggregated points.
func (s Series) Len() int { return len(s.Y) }

// Visibility returns max(Y)-min(Y), or 0 for an empty series.
func (s Series) Visibility() float64 {
	if len(s.Y) == 0 {
		return 0
	}
	return floats.Max(s.Y) - floats.Min(s.Y)
}

// Mean returns the arithmetic mean of Y, or 0 for an empty series.
func (s Series) Mean() float64 {
	if len(s.Y) == 0 {
		return 0
	}
	return stat.Mean(s.Y, nil)
}

// AggregateSweep aggregates every point of sweep. A failing point does not
// stop the others; it is recorded in Series.Failures.
func AggregateSweep(sweep types.Sweep, chainLen int, pred Predicate) Series {
	out := Series{
		X: make([]float64, 0, len(sweep.Points)),
		Y: make([]float64, 0, len(sweep.Points)),
	}
	for i, p := range sweep.Points {
		y, err := aggregateAt(i, p, chainLen, pred)
		if err != nil {
			var ae *AggregationError
			if errors.As(err, &ae) {
				out.Failures = append(out.Failures, ae)
			}
			continue
		}
		out.X = append(out.X, p.X)
		out.Y = append(out.Y, y)
	}
	return out
}
