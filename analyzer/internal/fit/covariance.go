package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sweeplab/sweepfit/analyzer/internal/models"
)

// maxCondition bounds the condition number of the scaled normal matrix
// beyond which error bars are reported as unavailable.
const maxCondition = 1e13

// covariance returns inv(JᵀJ)·RSS/(n-k) at p and the per-parameter standard
// errors. JᵀJ is diagonally scaled before inversion so that parameters on
// very different unit scales do not masquerade as degeneracy.
func covariance(m models.Model, xs, p []float64, rss float64) ([][]float64, []float64, error) {
	n, k := len(xs), len(p)
	if n <= k {
		return nil, nil, ErrDegenerateCovariance
	}

	lower, upper := m.Bounds()
	pr := &problem{m: m, xs: xs, lower: lower, upper: upper}
	jac := mat.NewDense(n, k, nil)
	if !pr.jacobian(p, jac) {
		return nil, nil, ErrDegenerateCovariance
	}
	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())

	scale := make([]float64, k)
	for i := range scale {
		d := jtj.At(i, i)
		if d <= 0 {
			return nil, nil, ErrDegenerateCovariance
		}
		scale[i] = 1 / math.Sqrt(d)
	}
	scaled := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			scaled.SetSym(i, j, jtj.At(i, j)*scale[i]*scale[j])
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(scaled) || chol.Cond() > maxCondition {
		return nil, nil, ErrDegenerateCovariance
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, nil, ErrDegenerateCovariance
	}

	s2 := rss / float64(n-k)
	cov := make([][]float64, k)
	stderr := make([]float64, k)
	for i := 0; i < k; i++ {
		cov[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			cov[i][j] = inv.At(i, j) * scale[i] * scale[j] * s2
		}
		v := cov[i][i]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, ErrDegenerateCovariance
		}
		stderr[i] = math.Sqrt(v)
	}
	return cov, stderr, nil
}
