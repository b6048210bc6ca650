package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sweeplab/sweepfit/analyzer/internal/models"
)

// Damping schedule (Nielsen).
const (
	initialDamping = 1e-3
	maxDamping     = 1e32
	diagFloor      = 1e-12 // relative floor on the Marquardt scaling diagonal
)

// state is the solver's working set for one fit.
type state struct {
	p     []float64
	cost  float64
	evals int
	iters int
}

// problem binds a model to one series.
type problem struct {
	m      models.Model
	xs, ys []float64
	lower  []float64
	upper  []float64
}

// residuals writes f(x_i; p) - y_i into r and reports whether all are finite.
func (pr *problem) residuals(p []float64, r *mat.VecDense) bool {
	for i, x := range pr.xs {
		v := pr.m.Eval(x, p) - pr.ys[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		r.SetVec(i, v)
	}
	return true
}

// jacobian fills J (n×k) and reports whether all entries are finite.
func (pr *problem) jacobian(p []float64, j *mat.Dense) bool {
	row := make([]float64, len(p))
	for i, x := range pr.xs {
		pr.m.Jacobian(x, p, row)
		for c, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
			j.Set(i, c, v)
		}
	}
	return true
}

func (f *Fitter) solve(m models.Model, xs, ys, p0 []float64) (state, error) {
	lower, upper := m.Bounds()
	pr := &problem{m: m, xs: xs, ys: ys, lower: lower, upper: upper}
	n, k := len(xs), m.NumParams()

	st := state{p: append([]float64(nil), p0...)}

	r := mat.NewVecDense(n, nil)
	st.evals++
	if !pr.residuals(st.p, r) {
		return st, ErrNaNResidual
	}
	st.cost = mat.Dot(r, r)

	var (
		jac    = mat.NewDense(n, k, nil)
		jtj    = mat.NewSymDense(k, nil)
		grad   = mat.NewVecDense(k, nil)
		rTrial = mat.NewVecDense(n, nil)
		lin    = mat.NewVecDense(n, nil)
		step   = mat.NewVecDense(k, nil)
		trial  = make([]float64, k)
		lambda float64
		nu     = 2.0
	)

	for {
		if st.cost == 0 {
			return st, nil
		}
		st.evals++
		if st.evals > f.maxEvals {
			return st, ErrBudgetExhausted
		}
		if !pr.jacobian(st.p, jac) {
			return st, ErrSingularJacobian
		}
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), r)

		maxDiag := 0.0
		for i := 0; i < k; i++ {
			maxDiag = math.Max(maxDiag, jtj.At(i, i))
		}
		if maxDiag == 0 {
			return st, ErrSingularJacobian
		}
		if st.iters == 0 {
			lambda = initialDamping * maxDiag
		}
		st.iters++

		active := pr.activeSet(st.p, grad)

		for {
			if !dampedStep(jtj, grad, active, lambda, maxDiag, step) {
				lambda *= nu
				nu *= 2
				if lambda > maxDamping*maxDiag {
					return st, ErrSingularJacobian
				}
				continue
			}

			pr.project(st.p, step, trial)
			var stepNorm, pNorm float64
			for i := range trial {
				d := trial[i] - st.p[i]
				step.SetVec(i, d)
				stepNorm += d * d
				pNorm += st.p[i] * st.p[i]
			}
			stepNorm, pNorm = math.Sqrt(stepNorm), math.Sqrt(pNorm)
			if stepNorm <= f.xtol*(pNorm+f.xtol) {
				return st, nil
			}

			st.evals++
			if st.evals > f.maxEvals {
				return st, ErrBudgetExhausted
			}

			rho := -1.0
			var trialCost float64
			if pr.residuals(trial, rTrial) {
				trialCost = mat.Dot(rTrial, rTrial)
				lin.MulVec(jac, step)
				lin.AddVec(lin, r)
				predicted := st.cost - mat.Dot(lin, lin)
				actual := st.cost - trialCost
				switch {
				case predicted > 0:
					rho = actual / predicted
				case actual > 0:
					rho = 1
				}
			}

			if rho > 0 {
				reduction := st.cost - trialCost
				copy(st.p, trial)
				r.CopyVec(rTrial)
				st.cost = trialCost
				if reduction <= f.ftol*(st.cost+reduction) {
					return st, nil
				}
				lambda *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
				nu = 2
				break
			}

			lambda *= nu
			nu *= 2
			if lambda > maxDamping*maxDiag {
				return st, ErrNonConvergence
			}
		}
	}
}

// activeSet marks parameters pinned at a bound whose descent direction -grad
// points out of the box.
func (pr *problem) activeSet(p []float64, grad *mat.VecDense) []bool {
	active := make([]bool, len(p))
	for i, v := range p {
		g := grad.AtVec(i)
		active[i] = (v <= pr.lower[i] && g > 0) || (v >= pr.upper[i] && g < 0)
	}
	return active
}

// project writes clamp(p + step) into out.
func (pr *problem) project(p []float64, step *mat.VecDense, out []float64) {
	for i, v := range p {
		out[i] = math.Min(math.Max(v+step.AtVec(i), pr.lower[i]), pr.upper[i])
	}
}

// dampedStep solves (JᵀJ + λ·D) δ = -Jᵀr for the free parameters, leaving
// active ones at zero. It reports false when the damped system is not
// positive definite.
func dampedStep(jtj *mat.SymDense, grad *mat.VecDense, active []bool, lambda, maxDiag float64, out *mat.VecDense) bool {
	k := len(active)
	a := mat.NewSymDense(k, nil)
	b := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		if active[i] {
			a.SetSym(i, i, 1)
			continue
		}
		b.SetVec(i, -grad.AtVec(i))
		for j := i; j < k; j++ {
			if active[j] {
				continue
			}
			a.SetSym(i, j, jtj.At(i, j))
		}
		d := math.Max(jtj.At(i, i), diagFloor*maxDiag)
		a.SetSym(i, i, jtj.At(i, i)+lambda*d)
	}

	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return false
	}
	if err := chol.SolveVecTo(out, b); err != nil {
		return false
	}
	for i := 0; i < k; i++ {
		if active[i] || math.IsNaN(out.AtVec(i)) {
			out.SetVec(i, 0)
		}
	}
	return true
}
