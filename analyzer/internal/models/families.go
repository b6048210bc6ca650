package models

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Canonical model names.
const (
	NameExponential       = "exponential"
	NameDampedOscillation = "damped_oscillation"
	NameSigmoid           = "sigmoid"
)

// minRate keeps the exponential rate strictly positive.
const minRate = 1e-12

// defaultRate is the exponential rate guess when xs has no extent.
const defaultRate = 0.1

// Exponential returns f(x; a, b, c) = a·exp(-b·x) + c with a, c in [0, 1] and
// b > 0. Derived: time_constant = 1/b.
func Exponential() Model {
	return Model{
		name:   NameExponential,
		params: []string{"a", "b", "c"},
		lower:  []float64{0, minRate, 0},
		upper:  []float64{1, math.Inf(1), 1},
		eval: func(x float64, p []float64) float64 {
			return p[0]*math.Exp(-p[1]*x) + p[2]
		},
		jacobian: func(x float64, p []float64, out []float64) {
			e := math.Exp(-p[1] * x)
			out[0] = e
			out[1] = -p[0] * x * e
			out[2] = 1
		},
		guess: exponentialGuess,
		derive: func(p []float64) map[string]float64 {
			return map[string]float64{
				"amplitude":     p[0],
				"rate":          p[1],
				"offset":        p[2],
				"time_constant": 1 / p[1],
			}
		},
	}
}

// exponentialGuess scans rates from 1e-2/width to 1e3/width in half-decade
// steps, where width is the x extent. For a fixed rate the model is linear in
// a and c, so each step is one regression; the lowest-SSE triple, clamped to
// the bounds, is the guess.
func exponentialGuess(xs, ys []float64) []float64 {
	lo, hi := span(ys)
	best := []float64{(hi - lo) / 2, defaultRate, mean(ys)}
	xlo, xhi := span(xs)
	width := xhi - xlo
	if width <= 0 || len(xs) != len(ys) {
		return best
	}

	bestSSE := math.Inf(1)
	e := make([]float64, len(xs))
	for j := -4; j <= 6; j++ {
		b := math.Pow(10, float64(j)/2) / width
		for i, x := range xs {
			e[i] = math.Exp(-b * x)
		}
		c, a := stat.LinearRegression(e, ys, nil, false)
		if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(c) || math.IsInf(c, 0) {
			continue
		}
		a, c = clamp01(a), clamp01(c)
		var sse float64
		for i, y := range ys {
			d := a*e[i] + c - y
			sse += d * d
		}
		if sse < bestSSE {
			bestSSE = sse
			best = []float64{a, b, c}
		}
	}
	return best
}

func clamp01(v float64) float64 { return math.Min(math.Max(v, 0), 1) }

// OscillationScale fixes the unit-dependent guess and bounds of the damped
// oscillation. The cosine landscape is nearly degenerate, so T0 and F0 must
// sit at physically plausible scales rather than 1.
type OscillationScale struct {
	Name string  // suffix for the model name; empty for the default scale
	T0   float64 // decay-time guess
	TMin float64
	TMax float64
	F0   float64 // detuning guess
	FMax float64 // |f| bound
}

// SecondScale is the scale for x in seconds and f in hertz.
func SecondScale() OscillationScale {
	return OscillationScale{T0: 30e-6, TMin: 1e-9, TMax: 1e-3, F0: 50e3, FMax: 1e6}
}

// MicrosecondScale is the scale for x in microseconds and f in megahertz.
func MicrosecondScale() OscillationScale {
	return OscillationScale{Name: "us", T0: 30, TMin: 1e-3, TMax: 1e3, F0: 0.05, FMax: 1}
}

// DampedOscillation returns f(x; a, T, f, φ, b) = a·exp(-x/T)·cos(2πfx+φ) + b
// bounded by scale. Derived: t2 = T, shift = f.
func DampedOscillation(scale OscillationScale) Model {
	name := NameDampedOscillation
	if scale.Name != "" {
		name += "_" + scale.Name
	}
	return Model{
		name:   name,
		params: []string{"a", "T", "f", "phi", "b"},
		lower:  []float64{0, scale.TMin, -scale.FMax, -2 * math.Pi, 0},
		upper:  []float64{1, scale.TMax, scale.FMax, 2 * math.Pi, 1},
		eval: func(x float64, p []float64) float64 {
			return p[0]*math.Exp(-x/p[1])*math.Cos(2*math.Pi*p[2]*x+p[3]) + p[4]
		},
		jacobian: func(x float64, p []float64, out []float64) {
			e := math.Exp(-x / p[1])
			s, c := math.Sincos(2*math.Pi*p[2]*x + p[3])
			out[0] = e * c
			out[1] = p[0] * c * e * x / (p[1] * p[1])
			out[2] = -p[0] * e * s * 2 * math.Pi * x
			out[3] = -p[0] * e * s
			out[4] = 1
		},
		guess: func(xs, ys []float64) []float64 {
			lo, hi := span(ys)
			return []float64{(hi - lo) / 2, scale.T0, scale.F0, 0, mean(ys)}
		},
		derive: func(p []float64) map[string]float64 {
			return map[string]float64{
				"amplitude": p[0],
				"t2":        p[1],
				"shift":     p[2],
				"phase":     p[3],
				"offset":    p[4],
			}
		},
	}
}

// Sigmoid returns f(x; L, x0, k, b) = L/(1+exp(k·(x-x0))) + b, unbounded.
// The family is very sensitive to x0 and k, so the guess centres x0 on the
// domain and scales k to its width. Derived: threshold = x0, slope = k.
func Sigmoid() Model {
	inf := math.Inf(1)
	return Model{
		name:   NameSigmoid,
		params: []string{"L", "x0", "k", "b"},
		lower:  []float64{-inf, -inf, -inf, -inf},
		upper:  []float64{inf, inf, inf, inf},
		eval: func(x float64, p []float64) float64 {
			return p[0]*logistic(p[2]*(x-p[1])) + p[3]
		},
		jacobian: func(x float64, p []float64, out []float64) {
			s := logistic(p[2] * (x - p[1]))
			ds := s * (1 - s) // = u/(1+u)², finite for any u
			out[0] = s
			out[1] = p[0] * p[2] * ds
			out[2] = -p[0] * (x - p[1]) * ds
			out[3] = 1
		},
		guess: func(xs, ys []float64) []float64 {
			lo, hi := span(xs)
			k := 5.0
			if w := hi - lo; w > 0 {
				k = 16 / w
			}
			return []float64{0.5, (lo + hi) / 2, k, 0}
		},
		derive: func(p []float64) map[string]float64 {
			return map[string]float64{
				"height":    p[0],
				"threshold": p[1],
				"slope":     p[2],
				"offset":    p[3],
			}
		},
	}
}

// logistic returns 1/(1+exp(z)) without overflowing for large |z|.
func logistic(z float64) float64 {
	if z > 0 {
		e := math.Exp(-z)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(z))
}
