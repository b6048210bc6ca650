package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
inputs: ["runs/*.yaml"]
fitter:
  max_evaluations: 2000
pipeline:
  parallelism: 2
output:
  format: text
  textfile: /tmp/sweepfit.prom
storage:
  backend: sqlite
  path: /tmp/sweepfit.db
  retention: 72h
analyses:
  - name: ramsey
    match: {kind: ramsey}
    models: [damped_oscillation]
    scale: us
    preset: ramsey
    preset_params: {dead: 50, healthy: 100, miscalibrated: 0.02}
    aggregate:
      quantity: shift
      include_when: "t2 > dead && abs(shift) <= miscalibrated"
  - name: soliton
    predicate: "boundary:1,0"
    chain_length: 5
    models: [sigmoid, exponential]
    strategy: bic
    rules:
      - label: critical-transition
        when: "rss.sigmoid < rss.exponential"
    default: standard-decay
`
	cfg := loadFromString(t, yaml)

	if cfg.Fitter.MaxEvaluations != 2000 {
		t.Errorf("max_evaluations: got %d", cfg.Fitter.MaxEvaluations)
	}
	if cfg.Pipeline.Parallelism != 2 {
		t.Errorf("parallelism: got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Storage.Retention != 72*time.Hour {
		t.Errorf("retention: got %v", cfg.Storage.Retention)
	}
	if len(cfg.Analyses) != 2 {
		t.Fatalf("analyses: got %d, want 2", len(cfg.Analyses))
	}
	r := cfg.Analyses[0]
	if r.Scale != "us" || r.Preset != "ramsey" || r.PresetParams["miscalibrated"] != 0.02 {
		t.Errorf("ramsey analysis: %+v", r)
	}
	if r.Predicate != DefaultPredicate || r.Strategy != DefaultStrategy {
		t.Errorf("ramsey defaults: predicate %q strategy %q", r.Predicate, r.Strategy)
	}
	if r.Aggregate == nil || r.Aggregate.Quantity != "shift" {
		t.Errorf("aggregate: %+v", r.Aggregate)
	}
	s := cfg.Analyses[1]
	if s.ChainLength != 5 || s.Strategy != "bic" || len(s.Rules) != 1 || s.Default != "standard-decay" {
		t.Errorf("soliton analysis: %+v", s)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
analyses:
  - name: baseline
    models: [exponential]
    preset: coherence
`
	cfg := loadFromString(t, yaml)

	if cfg.Fitter.MaxEvaluations != DefaultMaxEvaluations {
		t.Errorf("default max_evaluations: got %d, want %d", cfg.Fitter.MaxEvaluations, DefaultMaxEvaluations)
	}
	if cfg.Pipeline.Parallelism != runtime.NumCPU() {
		t.Errorf("default parallelism: got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Output.Format != DefaultOutputFormat {
		t.Errorf("default format: got %q", cfg.Output.Format)
	}
	if cfg.Storage.Backend != DefaultStorageBackend || cfg.Storage.Retention != DefaultRetention {
		t.Errorf("default storage: got %+v", cfg.Storage)
	}
	if a := cfg.Analyses[0]; a.Scale != DefaultScale || a.Predicate != DefaultPredicate {
		t.Errorf("analysis defaults: %+v", a)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no analyses", `fitter: {max_evaluations: 10}`},
		{"missing name", `
analyses:
  - models: [exponential]
    preset: coherence`},
		{"duplicate name", `
analyses:
  - {name: a, models: [exponential], preset: coherence}
  - {name: a, models: [sigmoid], preset: coherence}`},
		{"unknown scale", `
analyses:
  - {name: a, models: [exponential], preset: coherence, scale: ns}`},
		{"unknown strategy", `
analyses:
  - {name: a, models: [exponential], preset: coherence, strategy: chi2}`},
		{"unknown preset", `
analyses:
  - {name: a, models: [exponential], preset: magic}`},
		{"no default without preset", `
analyses:
  - {name: a, models: [exponential], rules: [{label: x, when: "a < 1"}]}`},
		{"empty rule", `
analyses:
  - {name: a, models: [exponential], default: ok, rules: [{label: x}]}`},
		{"aggregate without quantity", `
analyses:
  - {name: a, models: [exponential], preset: coherence, aggregate: {include_labels: [pass]}}`},
		{"bad budget", `
fitter: {max_evaluations: -1}
analyses:
  - {name: a, models: [exponential], preset: coherence}`},
		{"unknown format", `
output: {format: xml}
analyses:
  - {name: a, models: [exponential], preset: coherence}`},
		{"sqlite without path", `
storage: {backend: sqlite}
analyses:
  - {name: a, models: [exponential], preset: coherence}`},
		{"bad yaml", `analyses: [`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatch_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweepfit.yaml")
	write := func(name string) {
		content := "analyses:\n  - {name: " + name + ", models: [exponential], preset: coherence}\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) { got <- cfg.Analyses[0].Name })
	}()

	// The watcher may not be registered yet; keep writing until it reports.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case name := <-got:
			if name != "second" {
				t.Fatalf("reloaded analysis %q, want second", name)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
			write("second")
		case <-deadline:
			t.Fatal("no reload within 5s")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
