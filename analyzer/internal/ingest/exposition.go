package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/sweeplab/sweepfit/pkg/types"
)

// Exposition metric and label names.
const (
	MetricShots  = "sweep_outcome_shots_total"
	LabelSweep   = "sweep"
	LabelX       = "x"
	LabelOutcome = "outcome"
)

const defaultFetchTimeout = 10 * time.Second

// fetchExposition GETs url and parses the body as text exposition.
func fetchExposition(ctx context.Context, url string) ([]types.Sweep, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseExposition(resp.Body)
}

// parseExposition builds sweeps from the shots counter family. Sweeps are
// returned in ID order. Any parse error rejects the whole input, since a
// dropped sample would silently change a point's shot total. Labels other
// than sweep, x and outcome become sweep labels and must agree across the
// sweep's samples.
func parseExposition(r io.Reader) ([]types.Sweep, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	mf := mfs[MetricShots]
	if mf == nil {
		return nil, fmt.Errorf("metric %s not found", MetricShots)
	}

	type key struct {
		sweep string
		x     float64
	}
	sweeps := make(map[string]*types.Sweep)
	points := make(map[key]*types.SweepPoint)

	for _, m := range mf.GetMetric() {
		labels := make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		id, xs, outcome := labels[LabelSweep], labels[LabelX], labels[LabelOutcome]
		if id == "" || xs == "" || outcome == "" {
			return nil, fmt.Errorf("%s: sample missing %s, %s or %s label", MetricShots, LabelSweep, LabelX, LabelOutcome)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("%s{sweep=%q}: bad x %q: %w", MetricShots, id, xs, err)
		}
		v := sampleValue(m)
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s{sweep=%q,x=%q,outcome=%q}: non-integral count %g", MetricShots, id, xs, outcome, v)
		}

		s, ok := sweeps[id]
		if !ok {
			s = &types.Sweep{ID: id}
			sweeps[id] = s
		}
		for k, val := range labels {
			if k == LabelSweep || k == LabelX || k == LabelOutcome {
				continue
			}
			if s.Labels == nil {
				s.Labels = make(map[string]string)
			}
			if prev, seen := s.Labels[k]; seen && prev != val {
				return nil, fmt.Errorf("%s{sweep=%q}: conflicting values %q and %q for label %s", MetricShots, id, prev, val, k)
			}
			s.Labels[k] = val
		}

		p, ok := points[key{id, x}]
		if !ok {
			p = &types.SweepPoint{X: x, Counts: make(map[string]int64)}
			points[key{id, x}] = p
		}
		p.Counts[outcome] += int64(v)
	}

	for k, p := range points {
		s := sweeps[k.sweep]
		s.Points = append(s.Points, *p)
	}
	ids := make([]string, 0, len(sweeps))
	for id := range sweeps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]types.Sweep, 0, len(ids))
	for _, id := range ids {
		s := sweeps[id]
		s.SortByX()
		out = append(out, *s)
	}
	return out, nil
}

// sampleValue reads a counter, gauge or untyped sample.
func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return math.NaN()
}
