package models

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Model is an immutable candidate function f(x; θ) with bounds and guess.
type Model struct {
	name   string
	params []string
	lower  []float64
	upper  []float64

	eval     func(x float64, p []float64) float64
	jacobian func(x float64, p []float64, out []float64)
	guess    func(xs, ys []float64) []float64
	derive   func(p []float64) map[string]float64
}

// Name returns the model identifier used in configs and reports.
func (m Model) Name() string { return m.name }

// NumParams returns the number of fitted parameters.
func (m Model) NumParams() int { return len(m.params) }

// Params returns the parameter names in canonical order.
func (m Model) Params() []string { return append([]string(nil), m.params...) }

// Bounds returns copies of the lower and upper bound vectors. Unbounded
// directions are ±Inf.
func (m Model) Bounds() (lower, upper []float64) {
	return append([]float64(nil), m.lower...), append([]float64(nil), m.upper...)
}

// Eval evaluates the model at x.
func (m Model) Eval(x float64, p []float64) float64 { return m.eval(x, p) }

// Jacobian writes ∂f/∂θ at x into out, which must have NumParams elements.
func (m Model) Jacobian(x float64, p []float64, out []float64) { m.jacobian(x, p, out) }

// Guess returns the initial parameter vector for the given series.
func (m Model) Guess(xs, ys []float64) []float64 { return m.guess(xs, ys) }

// Derive returns the physically meaningful quantities for fitted parameters.
// Raw parameters are always included under their own names.
func (m Model) Derive(p []float64) map[string]float64 {
	out := make(map[string]float64, len(p)+2)
	for i, name := range m.params {
		out[name] = p[i]
	}
	if m.derive != nil {
		for k, v := range m.derive(p) {
			out[k] = v
		}
	}
	return out
}

// InBounds reports whether p lies inside the model's bound box.
func (m Model) InBounds(p []float64) bool {
	if len(p) != len(m.params) {
		return false
	}
	for i, v := range p {
		if math.IsNaN(v) || v < m.lower[i] || v > m.upper[i] {
			return false
		}
	}
	return true
}

// Library is a name-indexed, read-only set of models.
type Library struct {
	byName map[string]Model
}

// NewLibrary builds a Library from models. Duplicate names are rejected.
func NewLibrary(ms ...Model) (*Library, error) {
	lib := &Library{byName: make(map[string]Model, len(ms))}
	for _, m := range ms {
		if _, dup := lib.byName[m.name]; dup {
			return nil, fmt.Errorf("models: duplicate model %q", m.name)
		}
		lib.byName[m.name] = m
	}
	return lib, nil
}

// Default returns the library with the three standard families.
func Default() *Library {
	lib, _ := NewLibrary(Exponential(), DampedOscillation(SecondScale()), Sigmoid())
	return lib
}

// Lookup returns the model registered under name.
func (l *Library) Lookup(name string) (Model, bool) {
	m, ok := l.byName[name]
	return m, ok
}

// Resolve looks up every name in order, failing on the first unknown one.
func (l *Library) Resolve(names []string) ([]Model, error) {
	out := make([]Model, 0, len(names))
	for _, n := range names {
		m, ok := l.byName[n]
		if !ok {
			return nil, fmt.Errorf("models: unknown model %q", n)
		}
		out = append(out, m)
	}
	return out, nil
}

// Names returns the registered model names, sorted.
func (l *Library) Names() []string {
	out := make([]string, 0, len(l.byName))
	for n := range l.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func span(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	return floats.Min(xs), floats.Max(xs)
}

func mean(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	return stat.Mean(ys, nil)
}
