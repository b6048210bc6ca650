package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
)

// Float is a float64 whose JSON form survives non-finite values.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

// RunView is the serialisable form of a pipeline.Report.
type RunView struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  string         `json:"duration"`
	Analyses  []AnalysisView `json:"analyses"`
}

// AnalysisView is one analysis in a RunView.
type AnalysisView struct {
	Name       string          `json:"name"`
	Counts     map[string]int  `json:"counts"`
	Sweeps     []SweepView     `json:"sweeps"`
	Correction *CorrectionView `json:"correction,omitempty"`
	Error      string          `json:"correction_error,omitempty"`
}

// CorrectionView is the aggregate correction of an analysis.
type CorrectionView struct {
	Quantity string `json:"quantity"`
	Median   Float  `json:"median"`
	Value    Float  `json:"correction"`
	Included int    `json:"included"`
	Excluded int    `json:"excluded"`
}

// SweepView is one sweep's trace.
type SweepView struct {
	ID           string            `json:"id"`
	Labels       map[string]string `json:"labels,omitempty"`
	Verdict      string            `json:"verdict"`
	Rule         string            `json:"rule,omitempty"`
	Winner       string            `json:"winner,omitempty"`
	Margin       *Float            `json:"margin,omitempty"`
	Points       int               `json:"points"`
	FailedPoints []string          `json:"failed_points,omitempty"`
	Fits         []FitView         `json:"fits,omitempty"`
	Values       map[string]Float  `json:"values,omitempty"`
	Thresholds   map[string]Float  `json:"thresholds,omitempty"`
}

// FitView is one candidate fit.
type FitView struct {
	Model       string           `json:"model"`
	Params      map[string]Float `json:"params,omitempty"`
	StdErr      map[string]Float `json:"stderr,omitempty"`
	RSS         Float            `json:"rss"`
	Score       Float            `json:"score"`
	Evaluations int              `json:"evaluations"`
	Error       string           `json:"error,omitempty"`
	CovError    string           `json:"covariance_error,omitempty"`
}

// View converts rep into its serialisable form.
func View(rep *pipeline.Report) RunView {
	out := RunView{
		RunID:     rep.RunID,
		StartedAt: rep.StartedAt,
		Duration:  rep.Duration.String(),
		Analyses:  make([]AnalysisView, 0, len(rep.Analyses)),
	}
	for _, ar := range rep.Analyses {
		av := AnalysisView{Name: ar.Name, Counts: ar.Counts(), Sweeps: make([]SweepView, 0, len(ar.Sweeps))}
		for _, s := range ar.Sweeps {
			av.Sweeps = append(av.Sweeps, sweepView(s))
		}
		if c := ar.Correction; c != nil {
			av.Correction = &CorrectionView{
				Quantity: c.Quantity,
				Median:   Float(c.Median),
				Value:    Float(c.Value),
				Included: c.Included,
				Excluded: c.Excluded,
			}
		}
		if ar.CorrectionErr != nil {
			av.Error = ar.CorrectionErr.Error()
		}
		out.Analyses = append(out.Analyses, av)
	}
	return out
}

func sweepView(s pipeline.SweepResult) SweepView {
	v := SweepView{
		ID:         s.SweepID,
		Labels:     s.Labels,
		Verdict:    s.Verdict.Label,
		Rule:       s.Verdict.Rule,
		Points:     s.Series.Len(),
		Values:     floats(s.Verdict.Values),
		Thresholds: floats(s.Verdict.Thresholds),
	}
	for _, f := range s.Series.Failures {
		v.FailedPoints = append(v.FailedPoints, f.Error())
	}
	if best, ok := s.Winner(); ok {
		v.Winner = best.Model
		m := Float(s.Comparison.Margin)
		v.Margin = &m
	}
	for i, r := range s.Comparison.Results {
		v.Fits = append(v.Fits, fitView(r, s.Comparison.Scores[i]))
	}
	return v
}

func fitView(r fit.Result, score float64) FitView {
	fv := FitView{
		Model:       r.Model,
		RSS:         Float(r.RSS),
		Score:       Float(score),
		Evaluations: r.Evaluations,
	}
	if r.Err != nil {
		fv.Error = r.Err.Error()
	}
	if r.CovErr != nil {
		fv.CovError = r.CovErr.Error()
	}
	if r.Params != nil {
		fv.Params = make(map[string]Float, len(r.Params))
		for i, p := range r.Params {
			fv.Params[r.ParamNames[i]] = Float(p)
		}
	}
	if r.StdErr != nil {
		fv.StdErr = make(map[string]Float, len(r.StdErr))
		for i, se := range r.StdErr {
			fv.StdErr[r.ParamNames[i]] = Float(se)
		}
	}
	return fv
}

func floats(m map[string]float64) map[string]Float {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

// WriteJSON writes rep as indented JSON.
func WriteJSON(w io.Writer, rep *pipeline.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(View(rep)); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

// WriteText writes rep as an aligned table, one row per sweep, followed by
// each analysis' correction.
func WriteText(w io.Writer, rep *pipeline.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s (%s)\n\n", rep.RunID, rep.Duration.Round(time.Millisecond))
	fmt.Fprintln(tw, "ANALYSIS\tSWEEP\tVERDICT\tWINNER\tRSS\tQUANTITIES")
	for _, ar := range rep.Analyses {
		for _, s := range ar.Sweeps {
			winner, rss := "-", "-"
			var quantities string
			if best, ok := s.Winner(); ok {
				winner = best.Model
				rss = strconv.FormatFloat(best.RSS, 'g', 4, 64)
				quantities = formatDerived(best)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ar.Name, s.SweepID, s.Verdict.Label, winner, rss, quantities)
		}
	}
	for _, ar := range rep.Analyses {
		switch {
		case ar.Correction != nil:
			fmt.Fprintf(tw, "\n%s: correction %s = %g (median %g over %d sweeps)\n",
				ar.Name, ar.Correction.Quantity, ar.Correction.Value, ar.Correction.Median, ar.Correction.Included)
		case ar.CorrectionErr != nil:
			fmt.Fprintf(tw, "\n%s: no correction: %v\n", ar.Name, ar.CorrectionErr)
		}
	}
	return tw.Flush()
}

// formatDerived lists the winner's derived quantities that are not raw
// parameters, sorted by name.
func formatDerived(r fit.Result) string {
	raw := make(map[string]bool, len(r.ParamNames))
	for _, n := range r.ParamNames {
		raw[n] = true
	}
	var keys []string
	for k := range r.Derived {
		if !raw[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(r.Derived[k], 'g', 5, 64)
	}
	return strings.Join(parts, " ")
}
