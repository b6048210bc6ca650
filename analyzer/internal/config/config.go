package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultMaxEvaluations = 5000
	DefaultPredicate      = "equals:1"
	DefaultStrategy       = "rss"
	DefaultScale          = "s"
	DefaultOutputFormat   = "json"
	DefaultStorageBackend = "none"
	DefaultRetention      = 30 * 24 * time.Hour
)

// Config is the top-level analyzer configuration.
type Config struct {
	// Inputs lists sweep files or glob patterns read by analyze and watch
	// when no paths are given on the command line.
	Inputs []string `yaml:"inputs"`

	Analyses []Analysis     `yaml:"analyses"`
	Fitter   FitterConfig   `yaml:"fitter"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Output   OutputConfig   `yaml:"output"`
	Storage  StorageConfig  `yaml:"storage"`
}

// Analysis describes one fit-and-classify pass applied to every matching
// sweep.
type Analysis struct {
	// Name is the unique identifier used in reports and history.
	Name string `yaml:"name"`

	// Match restricts the analysis to sweeps whose labels contain every
	// key/value pair. Empty matches all sweeps.
	Match map[string]string `yaml:"match"`

	// Predicate selects the outcome labels that count towards the observable,
	// e.g. "equals:1" or "boundary:1,0".
	Predicate string `yaml:"predicate"`

	// ChainLength is the expected label width; shorter labels are zero-padded.
	ChainLength int `yaml:"chain_length"`

	// Models lists candidate model names in declaration order. An empty list
	// classifies on series statistics alone.
	Models []string `yaml:"models"`

	// Scale selects the damped-oscillation units: s | us.
	Scale string `yaml:"scale"`

	// Strategy is the comparison score: rss | aic | bic.
	Strategy string `yaml:"strategy"`

	// Preset names a built-in rule set: coherence | ramsey | transition |
	// improvement | visibility. PresetParams overrides its thresholds.
	Preset       string             `yaml:"preset"`
	PresetParams map[string]float64 `yaml:"preset_params"`

	// Quantity is the value graded by the coherence and improvement presets.
	// Defaults to time_constant.
	Quantity string `yaml:"quantity"`

	// Thresholds, Rules and Default define a custom rule set. Thresholds are
	// merged over the preset's when both are given; Rules replace them.
	Thresholds map[string]float64 `yaml:"thresholds"`
	Rules      []Rule             `yaml:"rules"`
	Default    string             `yaml:"default"`

	// Aggregate enables the cross-sweep correction.
	Aggregate *AggregateConfig `yaml:"aggregate"`

	// DropFailedPoints fits the remaining points when some fail to aggregate
	// instead of labelling the whole sweep no-data.
	DropFailedPoints bool `yaml:"drop_failed_points"`
}

// Rule is one ordered classification rule.
type Rule struct {
	Label string `yaml:"label"`
	When  string `yaml:"when"`
}

// AggregateConfig selects the quantity and the sweeps that feed the median.
type AggregateConfig struct {
	Quantity      string   `yaml:"quantity"`
	IncludeLabels []string `yaml:"include_labels"`
	IncludeWhen   string   `yaml:"include_when"`
}

// FitterConfig tunes the least-squares solver.
type FitterConfig struct {
	MaxEvaluations int     `yaml:"max_evaluations"`
	Ftol           float64 `yaml:"ftol"`
	Xtol           float64 `yaml:"xtol"`
}

// PipelineConfig controls sweep-level concurrency.
type PipelineConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// OutputConfig controls how reports are emitted.
type OutputConfig struct {
	// Format is json | text.
	Format string `yaml:"format"`

	// Textfile, when set, receives the report as Prometheus text exposition.
	Textfile string `yaml:"textfile"`
}

// StorageConfig configures the verdict history backend.
type StorageConfig struct {
	// Backend selects the storage implementation: sqlite | none.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long recorded verdicts are kept before deletion.
	Retention time.Duration `yaml:"retention"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyAnalysisDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Fitter:   FitterConfig{MaxEvaluations: DefaultMaxEvaluations},
		Pipeline: PipelineConfig{Parallelism: runtime.NumCPU()},
		Output:   OutputConfig{Format: DefaultOutputFormat},
		Storage: StorageConfig{
			Backend:   DefaultStorageBackend,
			Retention: DefaultRetention,
		},
	}
}

// applyAnalysisDefaults fills per-analysis fields that yaml cannot default.
func applyAnalysisDefaults(cfg *Config) {
	for i := range cfg.Analyses {
		a := &cfg.Analyses[i]
		if a.Predicate == "" {
			a.Predicate = DefaultPredicate
		}
		if a.Strategy == "" {
			a.Strategy = DefaultStrategy
		}
		if a.Scale == "" {
			a.Scale = DefaultScale
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if len(cfg.Analyses) == 0 {
		return fmt.Errorf("at least one analysis is required")
	}
	if cfg.Fitter.MaxEvaluations <= 0 {
		return fmt.Errorf("fitter.max_evaluations must be positive")
	}
	if cfg.Fitter.Ftol < 0 || cfg.Fitter.Xtol < 0 {
		return fmt.Errorf("fitter tolerances must not be negative")
	}
	if cfg.Pipeline.Parallelism <= 0 {
		return fmt.Errorf("pipeline.parallelism must be positive")
	}
	switch cfg.Output.Format {
	case "json", "text":
	default:
		return fmt.Errorf("output.format: unknown format %q", cfg.Output.Format)
	}
	switch cfg.Storage.Backend {
	case "none":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Analyses))
	for i, a := range cfg.Analyses {
		if a.Name == "" {
			return fmt.Errorf("analyses[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("analyses[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if a.ChainLength < 0 {
			return fmt.Errorf("analyses[%d] %q: chain_length must not be negative", i, a.Name)
		}
		switch a.Scale {
		case "s", "us":
		default:
			return fmt.Errorf("analyses[%d] %q: unknown scale %q", i, a.Name, a.Scale)
		}
		switch a.Strategy {
		case "rss", "aic", "bic":
		default:
			return fmt.Errorf("analyses[%d] %q: unknown strategy %q", i, a.Name, a.Strategy)
		}
		switch a.Preset {
		case "coherence", "ramsey", "transition", "improvement", "visibility":
		case "":
			if a.Default == "" {
				return fmt.Errorf("analyses[%d] %q: default label is required without a preset", i, a.Name)
			}
		default:
			return fmt.Errorf("analyses[%d] %q: unknown preset %q", i, a.Name, a.Preset)
		}
		for j, r := range a.Rules {
			if r.Label == "" || r.When == "" {
				return fmt.Errorf("analyses[%d] %q: rules[%d]: label and when are required", i, a.Name, j)
			}
		}
		if a.Aggregate != nil && a.Aggregate.Quantity == "" {
			return fmt.Errorf("analyses[%d] %q: aggregate.quantity is required", i, a.Name)
		}
	}
	return nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
