package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
	"github.com/sweeplab/sweepfit/analyzer/internal/selector"
	"github.com/sweeplab/sweepfit/analyzer/internal/verdict"
)

func tempDB(t *testing.T, retention time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), retention)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(runID string, started time.Time) *pipeline.Report {
	won := selector.Comparison{
		Results: []fit.Result{{Model: "exponential", RSS: 0.01}},
		Scores:  []float64{0.01},
		Winner:  0,
		Margin:  math.Inf(1),
	}
	return &pipeline.Report{
		RunID:     runID,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
		Analyses: []pipeline.AnalysisReport{
			{
				Name: "t1",
				Sweeps: []pipeline.SweepResult{
					{
						SweepID:    "q0",
						Comparison: won,
						Verdict: verdict.Verdict{
							Label:  "pass",
							Rule:   "time_constant >= healthy",
							Values: map[string]float64{"time_constant": 60, "margin": math.Inf(1)},
						},
					},
					{
						SweepID:    "q1",
						Comparison: selector.Comparison{Winner: -1},
						Verdict:    verdict.Verdict{Label: verdict.LabelNoData},
					},
				},
				Correction: &verdict.Correction{Quantity: "time_constant", Median: 60, Value: -60, Included: 1, Excluded: 1},
			},
		},
	}
}

func TestRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	s := tempDB(t, 0)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Record(ctx, sampleReport("run-1", started)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("entries: got %d, want 2", len(all))
	}
	e := all[0]
	if e.RunID != "run-1" || e.Analysis != "t1" || e.SweepID != "q0" {
		t.Errorf("entry identity: got %+v", e)
	}
	if e.Label != "pass" || e.Winner != "exponential" || e.Rule != "time_constant >= healthy" {
		t.Errorf("entry verdict: got label=%q winner=%q rule=%q", e.Label, e.Winner, e.Rule)
	}
	if !e.StartedAt.Equal(started) {
		t.Errorf("started_at: got %v, want %v", e.StartedAt, started)
	}
	if e.Values["time_constant"] != 60 {
		t.Errorf("time_constant: got %v", e.Values["time_constant"])
	}
	if _, ok := e.Values["margin"]; ok {
		t.Error("non-finite margin should not be stored")
	}
	if all[1].Winner != "" || all[1].Label != verdict.LabelNoData {
		t.Errorf("no-data entry: got %+v", all[1])
	}

	corr, err := s.Corrections(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("Corrections: %v", err)
	}
	if len(corr) != 1 || corr[0].Value != -60 || corr[0].Included != 1 {
		t.Errorf("corrections: got %+v", corr)
	}
}

func TestRecord_DuplicateRunRejected(t *testing.T) {
	ctx := context.Background()
	s := tempDB(t, 0)
	rep := sampleReport("dup", time.Now())
	if err := s.Record(ctx, rep); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := s.Record(ctx, rep); err == nil {
		t.Fatal("expected error recording the same run twice")
	}
	// The failed transaction must not leave partial rows behind.
	all, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("entries after rejected duplicate: got %d, want 2", len(all))
	}
}

func TestQuery_Filters(t *testing.T) {
	ctx := context.Background()
	s := tempDB(t, 0)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Record(ctx, sampleReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
		first  string
	}{
		{"all", Filter{}, 6, "c"},
		{"by sweep", Filter{SweepID: "q0"}, 3, "c"},
		{"by label", Filter{Label: verdict.LabelNoData}, 3, "c"},
		{"since", Filter{Since: base.Add(90 * time.Minute)}, 2, "c"},
		{"limit", Filter{Limit: 1}, 1, "c"},
		{"unknown analysis", Filter{Analysis: "nope"}, 0, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Query(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("entries: got %d, want %d", len(got), tc.want)
			}
			if tc.want > 0 && got[0].RunID != tc.first {
				t.Errorf("first run: got %q, want %q", got[0].RunID, tc.first)
			}
		})
	}
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	s := tempDB(t, 24*time.Hour)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	if err := s.Record(ctx, sampleReport("old", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Record old: %v", err)
	}
	if err := s.Record(ctx, sampleReport("fresh", now.Add(-time.Hour))); err != nil {
		t.Fatalf("Record fresh: %v", err)
	}

	n, err := s.Evict(ctx, now)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted: got %d, want 1", n)
	}

	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, e := range entries {
		if e.RunID != "fresh" {
			t.Errorf("entry from evicted run survived: %+v", e)
		}
	}
	corr, err := s.Corrections(ctx, "", 0)
	if err != nil {
		t.Fatalf("Corrections: %v", err)
	}
	if len(corr) != 1 || corr[0].RunID != "fresh" {
		t.Errorf("corrections after evict: got %+v", corr)
	}
}

func TestEvict_ZeroRetentionKeepsEverything(t *testing.T) {
	ctx := context.Background()
	s := tempDB(t, 0)
	if err := s.Record(ctx, sampleReport("ancient", time.Unix(0, 0))); err != nil {
		t.Fatalf("Record: %v", err)
	}
	n, err := s.Evict(ctx, time.Now())
	if err != nil || n != 0 {
		t.Errorf("Evict: got (%d, %v), want (0, nil)", n, err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := tempDB(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
