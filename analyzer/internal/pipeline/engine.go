package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeplab/sweepfit/analyzer/internal/aggregate"
	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/selector"
	"github.com/sweeplab/sweepfit/analyzer/internal/verdict"
	"github.com/sweeplab/sweepfit/pkg/types"
)

// Report is the outcome of one Run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Analyses  []AnalysisReport
}

// AnalysisReport holds one analysis' per-sweep results and its correction.
type AnalysisReport struct {
	Name   string
	Sweeps []SweepResult // input order, matching sweeps only

	// Correction is nil when the analysis has no aggregate step or
	// CorrectionErr is set.
	Correction    *verdict.Correction
	CorrectionErr error
}

// Counts returns the number of sweeps per verdict label.
func (r AnalysisReport) Counts() map[string]int {
	out := make(map[string]int)
	for _, s := range r.Sweeps {
		out[s.Verdict.Label]++
	}
	return out
}

// SweepResult is the full trace of one sweep through one analysis.
type SweepResult struct {
	SweepID string
	Labels  map[string]string

	Series aggregate.Series

	// Comparison is the zero value when the series could not be built.
	Comparison selector.Comparison

	Verdict verdict.Verdict
}

// Winner returns the winning fit, if any.
func (s SweepResult) Winner() (fit.Result, bool) { return s.Comparison.Best() }

// Engine runs compiled analyses. It keeps no state between runs and is safe
// for concurrent use.
type Engine struct {
	analyses    []Analysis
	parallelism int
	now         func() time.Time
}

// NewEngine returns an Engine. parallelism <= 0 selects one worker per CPU.
func NewEngine(analyses []Analysis, parallelism int) *Engine {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	return &Engine{analyses: analyses, parallelism: parallelism, now: time.Now}
}

// Analyses returns the names of the configured analyses.
func (e *Engine) Analyses() []string {
	out := make([]string, len(e.analyses))
	for i, a := range e.analyses {
		out[i] = a.Name
	}
	return out
}

// Run applies every analysis to the sweeps it matches. Per-sweep failures
// become verdict labels; the only error returned is ctx's, in which case the
// report is incomplete.
func (e *Engine) Run(ctx context.Context, sweeps []types.Sweep) (*Report, error) {
	start := e.now()
	rep := &Report{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
		Analyses:  make([]AnalysisReport, 0, len(e.analyses)),
	}

	for _, a := range e.analyses {
		ar, err := e.runAnalysis(ctx, a, sweeps)
		if err != nil {
			rep.Duration = e.now().Sub(start)
			return rep, err
		}
		rep.Analyses = append(rep.Analyses, ar)
		slog.Info("pipeline: analysis complete",
			"run", rep.RunID, "analysis", a.Name, "sweeps", len(ar.Sweeps), "labels", ar.Counts())
	}
	rep.Duration = e.now().Sub(start)
	return rep, nil
}

func (e *Engine) runAnalysis(ctx context.Context, a Analysis, sweeps []types.Sweep) (AnalysisReport, error) {
	ar := AnalysisReport{Name: a.Name}

	var matched []types.Sweep
	for _, s := range sweeps {
		if a.Matches(s.Labels) {
			matched = append(matched, s)
		}
	}
	ar.Sweeps = make([]SweepResult, len(matched))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range matched {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ar.Sweeps[i] = analyzeSweep(a, matched[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ar, err
	}

	if a.Correction != nil {
		verdicts := make([]verdict.Verdict, len(ar.Sweeps))
		for i, s := range ar.Sweeps {
			verdicts[i] = s.Verdict
		}
		c, err := verdict.Aggregate(verdicts, a.Correction.Quantity, a.Correction.Include)
		switch {
		case errors.Is(err, verdict.ErrNoAggregateData):
			slog.Warn("pipeline: no sweeps qualify for correction",
				"analysis", a.Name, "quantity", a.Correction.Quantity)
			ar.CorrectionErr = err
		case err != nil:
			ar.CorrectionErr = err
		default:
			ar.Correction = &c
		}
	}
	return ar, nil
}

// analyzeSweep is the pure per-sweep path: aggregate, compare, classify.
func analyzeSweep(a Analysis, s types.Sweep) SweepResult {
	res := SweepResult{SweepID: s.ID, Labels: s.Labels}
	res.Series = aggregate.AggregateSweep(s, a.ChainLength, a.Predicate)

	if !res.Series.OK() {
		for _, f := range res.Series.Failures {
			slog.Warn("pipeline: aggregation failed",
				"analysis", a.Name, "sweep", s.ID, "point", f.Index, "x", f.X, "err", f.Cause)
		}
		if !a.DropFailedPoints {
			res.Verdict = a.Classifier.Classify(verdict.NoData())
			return res
		}
	}
	if res.Series.Len() == 0 {
		res.Verdict = a.Classifier.Classify(verdict.NoData())
		return res
	}

	var obs verdict.Observation
	switch len(a.Models) {
	case 0:
		// Series-only analysis: rules see the series statistics alone.
		obs = verdict.Observation{Status: verdict.StatusOK}
	case 1:
		res.Comparison = a.Selector.Compare(a.Models, res.Series.X, res.Series.Y)
		obs = verdict.ObserveFit(res.Comparison.Results[0])
	default:
		res.Comparison = a.Selector.Compare(a.Models, res.Series.X, res.Series.Y)
		obs = verdict.ObserveComparison(res.Comparison)
	}
	for _, r := range res.Comparison.Results {
		if !r.OK() {
			slog.Warn("pipeline: fit failed",
				"analysis", a.Name, "sweep", s.ID, "model", r.Model, "err", r.Err)
		}
	}
	if obs.Status == verdict.StatusOK {
		obs = obs.With("visibility", res.Series.Visibility()).
			With("mean", res.Series.Mean()).
			With("points", float64(res.Series.Len())).
			With("failed_points", float64(len(res.Series.Failures)))
	}

	res.Verdict = a.Classifier.Classify(obs)
	slog.Debug("pipeline: sweep classified",
		"analysis", a.Name, "sweep", s.ID, "label", res.Verdict.Label)
	return res
}
