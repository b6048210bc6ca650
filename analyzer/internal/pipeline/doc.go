// Package pipeline runs configured analyses over a batch of sweeps.
//
// build.go compiles config.Analysis entries into Analysis values: predicate,
// candidate models, selector and classifier, all resolved up front so that a
// bad config fails before any sweep is touched.
//
// engine.go provides Engine.Run, which for every analysis aggregates each
// matching sweep into a series, compares the candidate models, classifies the
// result and finally reduces the verdicts to an optional correction. Sweeps
// are independent and processed concurrently; results keep input order.
//
// Per-sweep failures never abort a run. They surface as verdict labels:
// no-data when the series cannot be built or every candidate failed, and
// fit-failed when a single-model analysis could not fit.
package pipeline
