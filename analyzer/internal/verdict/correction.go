package verdict

import (
	"errors"
	"math"
	"slices"
	"sort"
)

// ErrNoAggregateData is returned when no verdict qualifies for aggregation.
var ErrNoAggregateData = errors.New("verdict: no verdicts qualify for aggregation")

// InclusionPredicate selects verdicts that contribute to an aggregate.
type InclusionPredicate func(Verdict) bool

// IncludeLabels admits verdicts carrying any of labels.
func IncludeLabels(labels ...string) InclusionPredicate {
	return func(v Verdict) bool { return slices.Contains(labels, v.Label) }
}

// IncludeWhen admits verdicts whose thresholds and values satisfy cond.
// Status labels never qualify.
func IncludeWhen(cond string) (InclusionPredicate, error) {
	c, err := parseCondition(cond)
	if err != nil {
		return nil, err
	}
	return func(v Verdict) bool {
		if v.Label == LabelNoData || v.Label == LabelFitFailed {
			return false
		}
		return c.eval(v.Thresholds, v.Values)
	}, nil
}

// IncludeAll admits every verdict that carries values.
func IncludeAll(v Verdict) bool { return v.Label != LabelNoData && v.Label != LabelFitFailed }

// Correction is the cross-sweep aggregate of one quantity.
type Correction struct {
	Quantity string  `json:"quantity"`
	Median   float64 `json:"median"`
	Value    float64 `json:"correction"` // -Median
	Included int     `json:"included"`
	Excluded int     `json:"excluded"`
}

// Aggregate computes the median of quantity over verdicts admitted by
// include and returns its negation as the correction. A nil include admits
// every verdict with values. Verdicts lacking a finite quantity are excluded.
func Aggregate(verdicts []Verdict, quantity string, include InclusionPredicate) (Correction, error) {
	if include == nil {
		include = IncludeAll
	}
	c := Correction{Quantity: quantity}
	var samples []float64
	for _, v := range verdicts {
		x, ok := v.Values[quantity]
		if !ok || math.IsNaN(x) || math.IsInf(x, 0) || !include(v) {
			c.Excluded++
			continue
		}
		samples = append(samples, x)
	}
	c.Included = len(samples)
	if len(samples) == 0 {
		return c, ErrNoAggregateData
	}
	c.Median = median(samples)
	c.Value = -c.Median
	return c, nil
}

// median sorts xs in place; even lengths average the two middle values.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
