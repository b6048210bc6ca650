// Package aggregate reduces raw per-shot outcome counts to a scalar observable
// per sweep point.
//
// aggregate.go holds Aggregate and AggregateSweep: the observable is the
// fraction of shots whose (normalized) label satisfies a Predicate. A point
// with zero total shots fails with *AggregationError instead of producing a
// silent zero.
//
// predicate.go holds the predicate constructors and the config-string parser.
// Labels are bitstrings with position 0 as the most significant measured
// channel; labels shorter than the chain length are zero-padded on the left
// before any predicate sees them.
package aggregate
