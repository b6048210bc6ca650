// Package models holds the fixed library of candidate fit functions.
//
// Every Model carries its parameterization, bound box, analytic Jacobian and
// initial-guess heuristic; bounds and guess are part of a model's identity, so
// two oscillation models built with different unit scales are different
// models. Model values are immutable and safe to share between goroutines.
package models
