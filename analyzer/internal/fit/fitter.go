package fit

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/sweeplab/sweepfit/analyzer/internal/models"
)

// Default solver settings.
const (
	DefaultMaxEvaluations = 5000
	DefaultFtol           = 1e-15
	DefaultXtol           = 1e-13

	// restartMargin is the relative cost improvement a restart must achieve.
	restartMargin = 1e-12
)

// Failure causes carried by FitError.
var (
	ErrLengthMismatch   = errors.New("xs and ys differ in length")
	ErrTooFewPoints     = errors.New("fewer points than parameters")
	ErrStartOutOfBounds = errors.New("initial guess outside bounds")
	ErrNaNResidual      = errors.New("non-finite residual")
	ErrSingularJacobian = errors.New("singular jacobian")
	ErrBudgetExhausted  = errors.New("evaluation budget exhausted")
	ErrNonConvergence   = errors.New("did not converge")
)

// ErrDegenerateCovariance marks a successful fit whose error bars are undefined.
var ErrDegenerateCovariance = errors.New("fit: degenerate covariance")

// FitError is the structured failure of one fit.
type FitError struct {
	Model string
	Cause error
}

func (e *FitError) Error() string { return fmt.Sprintf("fit %s: %v", e.Model, e.Cause) }

func (e *FitError) Unwrap() error { return e.Cause }

// Result is the outcome of one fit. It is a value: callers may copy it freely
// and nothing inside is shared with the Fitter.
type Result struct {
	Model      string
	ParamNames []string
	Params     []float64 // fitted θ̂; nil on failure

	// StdErr holds per-parameter standard errors; nil when CovErr is set.
	StdErr     []float64
	Covariance [][]float64

	// Derived holds the model's physical quantities plus raw parameters.
	Derived map[string]float64

	RSS         float64 // +Inf on failure
	Evaluations int
	Iterations  int

	// Err is non-nil when the fit failed; it wraps one of the Err* causes.
	Err error

	// CovErr is ErrDegenerateCovariance when error bars are unavailable.
	CovErr error
}

// OK reports whether the fit succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Fitter fits models to series. A Fitter holds only immutable settings and is
// safe for concurrent use.
type Fitter struct {
	maxEvals int
	ftol     float64
	xtol     float64
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithMaxEvaluations sets the evaluation budget. Values <= 0 keep the default.
func WithMaxEvaluations(n int) Option {
	return func(f *Fitter) {
		if n > 0 {
			f.maxEvals = n
		}
	}
}

// WithTolerances sets the relative cost-reduction and step tolerances.
func WithTolerances(ftol, xtol float64) Option {
	return func(f *Fitter) {
		if ftol > 0 {
			f.ftol = ftol
		}
		if xtol > 0 {
			f.xtol = xtol
		}
	}
}

// New returns a Fitter with default settings overridden by opts.
func New(opts ...Option) *Fitter {
	f := &Fitter{
		maxEvals: DefaultMaxEvaluations,
		ftol:     DefaultFtol,
		xtol:     DefaultXtol,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// MaxEvaluations returns the configured evaluation budget.
func (f *Fitter) MaxEvaluations() int { return f.maxEvals }

// Fit fits m to (xs, ys) starting from m's own guess, projected onto the
// bound box.
func (f *Fitter) Fit(m models.Model, xs, ys []float64) Result {
	if len(xs) != len(ys) {
		return failed(m, ErrLengthMismatch, 0)
	}
	return f.FitFrom(m, xs, ys, clampToBounds(m, m.Guess(xs, ys)))
}

// FitFrom fits m to (xs, ys) starting from p0. When p0 differs from the
// model's own guess, the fit is repeated from that guess and the converged
// result with the lower cost wins, so a start that leads into a local minimum
// does not decide the outcome. Each start has its own evaluation budget;
// Evaluations reports the total.
func (f *Fitter) FitFrom(m models.Model, xs, ys, p0 []float64) Result {
	switch {
	case len(xs) != len(ys):
		return failed(m, ErrLengthMismatch, 0)
	case len(xs) < m.NumParams():
		return failed(m, ErrTooFewPoints, 0)
	case len(p0) != m.NumParams() || !m.InBounds(p0):
		return failed(m, ErrStartOutOfBounds, 0)
	}

	best, err := f.solve(m, xs, ys, p0)
	evals := best.evals

	if alt := clampToBounds(m, m.Guess(xs, ys)); m.InBounds(alt) && !slices.Equal(alt, p0) {
		st, altErr := f.solve(m, xs, ys, alt)
		evals += st.evals
		// Costs within rounding of each other tie so that symmetric optima
		// (f, φ and -f, -φ) never swap on noise.
		margin := restartMargin * (best.cost + sumSquares(ys))
		if altErr == nil && (err != nil || st.cost < best.cost-margin) {
			best, err = st, nil
		}
	}
	if err != nil {
		return failed(m, err, evals)
	}

	res := Result{
		Model:       m.Name(),
		ParamNames:  m.Params(),
		Params:      best.p,
		Derived:     m.Derive(best.p),
		RSS:         best.cost,
		Evaluations: evals,
		Iterations:  best.iters,
	}
	res.Covariance, res.StdErr, res.CovErr = covariance(m, xs, best.p, best.cost)
	return res
}

func sumSquares(ys []float64) float64 {
	var s float64
	for _, y := range ys {
		s += y * y
	}
	return s
}

// clampToBounds projects p onto m's bound box in place and returns it.
func clampToBounds(m models.Model, p []float64) []float64 {
	lower, upper := m.Bounds()
	for i := range p {
		if i < len(lower) {
			p[i] = math.Min(math.Max(p[i], lower[i]), upper[i])
		}
	}
	return p
}

func failed(m models.Model, cause error, evals int) Result {
	return Result{
		Model:       m.Name(),
		RSS:         math.Inf(1),
		Evaluations: evals,
		Err:         &FitError{Model: m.Name(), Cause: cause},
	}
}

// RSS returns Σ(f(x_i; p) - y_i)² for arbitrary parameters.
func RSS(m models.Model, xs, ys, p []float64) float64 {
	var s float64
	for i, x := range xs {
		d := m.Eval(x, p) - ys[i]
		s += d * d
	}
	return s
}
