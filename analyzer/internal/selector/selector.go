// Package selector fits every candidate model to one series and picks the
// best under a swappable scoring strategy.
package selector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/models"
)

// ErrComparisonExhausted is set when every candidate fit failed.
var ErrComparisonExhausted = errors.New("selector: every candidate fit failed")

// Strategy scores a fit result; lower is better. Failed fits score +Inf.
type Strategy interface {
	Name() string
	Score(r fit.Result, n int) float64
}

// RSS ranks by unpenalized residual sum of squares. It is the default.
type RSS struct{}

func (RSS) Name() string { return "rss" }

func (RSS) Score(r fit.Result, _ int) float64 {
	if !r.OK() {
		return math.Inf(1)
	}
	return r.RSS
}

// AIC ranks by the Gaussian-likelihood Akaike criterion n·ln(RSS/n) + 2k.
type AIC struct{}

func (AIC) Name() string { return "aic" }

func (AIC) Score(r fit.Result, n int) float64 {
	return informationCriterion(r, n, 2)
}

// BIC ranks by n·ln(RSS/n) + k·ln(n).
type BIC struct{}

func (BIC) Name() string { return "bic" }

func (BIC) Score(r fit.Result, n int) float64 {
	return informationCriterion(r, n, math.Log(float64(n)))
}

// rssFloor keeps ln(RSS/n) finite for exact fits.
const rssFloor = 1e-300

func informationCriterion(r fit.Result, n int, perParam float64) float64 {
	if !r.OK() || n == 0 {
		return math.Inf(1)
	}
	k := float64(len(r.Params))
	return float64(n)*math.Log(math.Max(r.RSS, rssFloor)/float64(n)) + perParam*k
}

var strategies = map[string]Strategy{
	"rss": RSS{},
	"aic": AIC{},
	"bic": BIC{},
}

// StrategyByName returns the named strategy. The empty name selects RSS.
func StrategyByName(name string) (Strategy, error) {
	if name == "" {
		return RSS{}, nil
	}
	s, ok := strategies[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(strategies))
		for n := range strategies {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("selector: unknown strategy %q (want one of %s)", name, strings.Join(names, ", "))
	}
	return s, nil
}

// Comparison is the outcome of fitting all candidates to one series.
type Comparison struct {
	Results  []fit.Result // in candidate declaration order
	Scores   []float64
	Strategy string

	// Winner indexes Results; -1 when every fit failed.
	Winner int

	// Margin is runner-up score minus winner score; +Inf with a single
	// successful candidate, NaN when there is no winner.
	Margin float64

	Err error
}

// OK reports whether a winner was chosen. The zero Comparison has none.
func (c Comparison) OK() bool { return c.Winner >= 0 && c.Winner < len(c.Results) }

// Best returns the winning fit.
func (c Comparison) Best() (fit.Result, bool) {
	if !c.OK() {
		return fit.Result{}, false
	}
	return c.Results[c.Winner], true
}

// RSS returns the residual sum of squares of the named model's fit.
func (c Comparison) RSS(model string) (float64, bool) {
	for _, r := range c.Results {
		if r.Model == model {
			return r.RSS, true
		}
	}
	return 0, false
}

// Selector compares candidate models under a strategy.
type Selector struct {
	fitter   *fit.Fitter
	strategy Strategy
}

// New returns a Selector. A nil strategy selects RSS.
func New(f *fit.Fitter, s Strategy) *Selector {
	if f == nil {
		f = fit.New()
	}
	if s == nil {
		s = RSS{}
	}
	return &Selector{fitter: f, strategy: s}
}

// Strategy returns the strategy in use.
func (s *Selector) Strategy() Strategy { return s.strategy }

// Compare fits every candidate independently and selects the lowest score.
// Ties go to the earlier candidate.
func (s *Selector) Compare(candidates []models.Model, xs, ys []float64) Comparison {
	c := Comparison{
		Results:  make([]fit.Result, len(candidates)),
		Scores:   make([]float64, len(candidates)),
		Strategy: s.strategy.Name(),
		Winner:   -1,
		Margin:   math.NaN(),
	}
	for i, m := range candidates {
		c.Results[i] = s.fitter.Fit(m, xs, ys)
		score := s.strategy.Score(c.Results[i], len(xs))
		if math.IsNaN(score) {
			score = math.Inf(1)
		}
		c.Scores[i] = score
	}

	runnerUp := math.Inf(1)
	for i, score := range c.Scores {
		if !c.Results[i].OK() {
			continue
		}
		switch {
		case c.Winner < 0:
			c.Winner = i
		case score < c.Scores[c.Winner]:
			runnerUp = c.Scores[c.Winner]
			c.Winner = i
		case score < runnerUp:
			runnerUp = score
		}
	}
	if c.Winner < 0 {
		c.Err = ErrComparisonExhausted
		return c
	}
	c.Margin = runnerUp - c.Scores[c.Winner]
	return c
}
