// Package fit performs bounded nonlinear least-squares fitting of one model
// to one observable series.
//
// The solver is a projected Levenberg-Marquardt iteration over the model's
// bound box using the model's analytic Jacobian. It is seeded at the model's
// guess, capped at a finite evaluation budget, and fully deterministic: the
// same (model, xs, ys, guess) always yields bit-identical parameters.
//
// Failures never panic. They are returned inside Result.Err as *FitError with
// one of the sentinel causes below. Covariance is computed separately; when it
// is degenerate Result.CovErr is ErrDegenerateCovariance and StdErr is nil,
// while the fitted parameters stay valid.
package fit
