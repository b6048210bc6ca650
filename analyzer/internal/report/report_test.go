package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/sweeplab/sweepfit/analyzer/internal/aggregate"
	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
	"github.com/sweeplab/sweepfit/analyzer/internal/selector"
	"github.com/sweeplab/sweepfit/analyzer/internal/verdict"
)

func sampleReport() *pipeline.Report {
	good := fit.Result{
		Model:      "exponential",
		ParamNames: []string{"a", "b", "c"},
		Params:     []float64{0.5, 0.1, 0.5},
		StdErr:     []float64{0.01, 0.001, 0.005},
		Derived:    map[string]float64{"a": 0.5, "b": 0.1, "c": 0.5, "time_constant": 10},
		RSS:        1e-6,
	}
	bad := fit.Result{
		Model: "sigmoid",
		RSS:   math.Inf(1),
		Err:   &fit.FitError{Model: "sigmoid", Cause: fit.ErrBudgetExhausted},
	}
	return &pipeline.Report{
		RunID:     "3f2b6c1e-0000-4000-8000-000000000001",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Analyses: []pipeline.AnalysisReport{{
			Name: "baseline",
			Sweeps: []pipeline.SweepResult{
				{
					SweepID: "q0",
					Series:  aggregate.Series{X: []float64{0, 1, 2}, Y: []float64{1, 0.9, 0.8}},
					Comparison: selector.Comparison{
						Results:  []fit.Result{good, bad},
						Scores:   []float64{1e-6, math.Inf(1)},
						Strategy: "rss",
						Winner:   0,
						Margin:   math.Inf(1),
					},
					Verdict: verdict.Verdict{
						Label:      "dead",
						Rule:       "time_constant < dead",
						Thresholds: map[string]float64{"dead": 20},
						Values:     map[string]float64{"time_constant": 10, "rss.sigmoid": math.Inf(1)},
					},
				},
				{
					SweepID: "q1",
					Series: aggregate.Series{Failures: []*aggregate.AggregationError{
						{Index: 3, X: 1.5, Cause: aggregate.ErrZeroShots},
					}},
					Verdict: verdict.Verdict{Label: verdict.LabelNoData},
				},
			},
			Correction: &verdict.Correction{Quantity: "time_constant", Median: 10, Value: -10, Included: 1, Excluded: 1},
		}},
	}
}

func gauge(t *testing.T, mfs map[string]*dto.MetricFamily, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	mf := mfs[name]
	if mf == nil {
		return 0, false
	}
outer:
	for _, m := range mf.GetMetric() {
		got := make(map[string]string)
		for _, lp := range m.GetLabel() {
			got[lp.GetName()] = lp.GetValue()
		}
		for k, v := range labels {
			if got[k] != v {
				continue outer
			}
		}
		return m.GetGauge().GetValue(), true
	}
	return 0, false
}

func TestRegistry(t *testing.T) {
	reg, err := Registry(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	mfs := make(map[string]*dto.MetricFamily)
	for _, mf := range families {
		mfs[mf.GetName()] = mf
	}

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"sweepfit_run_info", map[string]string{"run_id": "3f2b6c1e-0000-4000-8000-000000000001"}, 1},
		{"sweepfit_run_duration_seconds", nil, 1.5},
		{"sweepfit_fit_param", map[string]string{"sweep": "q0", "model": "exponential", "param": "b"}, 0.1},
		{"sweepfit_fit_param_stderr", map[string]string{"sweep": "q0", "param": "c"}, 0.005},
		{"sweepfit_fit_derived", map[string]string{"sweep": "q0", "quantity": "time_constant"}, 10},
		{"sweepfit_fit_success", map[string]string{"sweep": "q0", "model": "sigmoid"}, 0},
		{"sweepfit_verdict", map[string]string{"sweep": "q1", "label": "no-data"}, 1},
		{"sweepfit_aggregation_failed_points", map[string]string{"sweep": "q1"}, 1},
		{"sweepfit_correction", map[string]string{"analysis": "baseline"}, -10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := gauge(t, mfs, tc.name, tc.labels)
			if !ok {
				t.Fatalf("%s%v not found", tc.name, tc.labels)
			}
			if math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("%s = %v, want %v", tc.name, got, tc.want)
			}
		})
	}

	if _, ok := gauge(t, mfs, "sweepfit_fit_rss", map[string]string{"model": "sigmoid"}); ok {
		t.Error("failed fit exported an rss sample")
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweepfit.prom")
	if err := WriteTextfile(path, sampleReport()); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	if err != nil {
		t.Fatalf("parse textfile: %v", err)
	}
	if v, ok := gauge(t, mfs, "sweepfit_verdict", map[string]string{"sweep": "q0", "label": "dead"}); !ok || v != 1 {
		t.Errorf("sweepfit_verdict{q0,dead} = %v, %v", v, ok)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	out := buf.String()
	for _, want := range []string{`"run_id": "3f2b6c1e`, `"verdict": "dead"`, `"rss": "+Inf"`, `"margin": "+Inf"`, `"correction": -10`, `zero total shots`} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON missing %s", want)
		}
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleReport()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"q0", "dead", "exponential", "time_constant=10", "q1", "no-data", "correction time_constant = -10"} {
		if !strings.Contains(out, want) {
			t.Errorf("text missing %q:\n%s", want, out)
		}
	}
}

func TestFloat_MarshalJSON(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{math.NaN(), `"NaN"`},
		{math.Inf(1), `"+Inf"`},
		{math.Inf(-1), `"-Inf"`},
	}
	for _, tc := range tests {
		b, err := Float(tc.in).MarshalJSON()
		if err != nil || string(b) != tc.want {
			t.Errorf("MarshalJSON(%v) = %s, %v; want %s", tc.in, b, err, tc.want)
		}
	}
}

func TestView_NoCorrection(t *testing.T) {
	rep := sampleReport()
	rep.Analyses[0].Correction = nil
	rep.Analyses[0].CorrectionErr = verdict.ErrNoAggregateData
	v := View(rep)
	if v.Analyses[0].Correction != nil || v.Analyses[0].Error == "" {
		t.Errorf("analysis view = %+v", v.Analyses[0])
	}
	if !errors.Is(rep.Analyses[0].CorrectionErr, verdict.ErrNoAggregateData) {
		t.Fatal("unexpected error identity")
	}
	if v.Analyses[0].Counts["dead"] != 1 || v.Analyses[0].Counts["no-data"] != 1 {
		t.Errorf("counts = %v", v.Analyses[0].Counts)
	}
}
