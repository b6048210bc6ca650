package pipeline

import (
	"fmt"
	"maps"

	"github.com/sweeplab/sweepfit/analyzer/internal/aggregate"
	"github.com/sweeplab/sweepfit/analyzer/internal/config"
	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/models"
	"github.com/sweeplab/sweepfit/analyzer/internal/selector"
	"github.com/sweeplab/sweepfit/analyzer/internal/verdict"
)

// Analysis is one compiled fit-and-classify pass.
type Analysis struct {
	Name        string
	Match       map[string]string
	Predicate   aggregate.Predicate
	ChainLength int
	Models      []models.Model
	Selector    *selector.Selector
	Classifier  *verdict.Classifier

	// DropFailedPoints fits what remains when some points fail to aggregate.
	DropFailedPoints bool

	// Correction is nil when the analysis has no aggregate step.
	Correction *CorrectionSpec
}

// CorrectionSpec selects the verdicts and quantity feeding the correction.
type CorrectionSpec struct {
	Quantity string
	Include  verdict.InclusionPredicate
}

// Matches reports whether labels contain every key/value of a.Match.
func (a Analysis) Matches(labels map[string]string) bool {
	for k, v := range a.Match {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// Build compiles every analysis in cfg.
func Build(cfg *config.Config) ([]Analysis, error) {
	fitter := fit.New(
		fit.WithMaxEvaluations(cfg.Fitter.MaxEvaluations),
		fit.WithTolerances(cfg.Fitter.Ftol, cfg.Fitter.Xtol),
	)
	out := make([]Analysis, 0, len(cfg.Analyses))
	for _, ac := range cfg.Analyses {
		a, err := buildAnalysis(ac, fitter)
		if err != nil {
			return nil, fmt.Errorf("pipeline: analysis %q: %w", ac.Name, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func buildAnalysis(ac config.Analysis, fitter *fit.Fitter) (Analysis, error) {
	pred, err := aggregate.ParsePredicate(ac.Predicate)
	if err != nil {
		return Analysis{}, err
	}
	lib, err := libraryFor(ac.Scale)
	if err != nil {
		return Analysis{}, err
	}
	ms, err := lib.Resolve(ac.Models)
	if err != nil {
		return Analysis{}, err
	}
	strategy, err := selector.StrategyByName(ac.Strategy)
	if err != nil {
		return Analysis{}, err
	}
	cls, err := classifierFor(ac)
	if err != nil {
		return Analysis{}, err
	}

	a := Analysis{
		Name:             ac.Name,
		Match:            maps.Clone(ac.Match),
		Predicate:        pred,
		ChainLength:      ac.ChainLength,
		Models:           ms,
		Selector:         selector.New(fitter, strategy),
		Classifier:       cls,
		DropFailedPoints: ac.DropFailedPoints,
	}
	if ac.Aggregate != nil {
		include, err := inclusionFor(ac)
		if err != nil {
			return Analysis{}, err
		}
		a.Correction = &CorrectionSpec{Quantity: ac.Aggregate.Quantity, Include: include}
	}
	return a, nil
}

// libraryFor registers the damped oscillation under its plain name at the
// requested unit scale, so configs need not spell the scale twice.
func libraryFor(scale string) (*models.Library, error) {
	osc := models.SecondScale()
	if scale == "us" {
		osc = models.MicrosecondScale()
	}
	osc.Name = ""
	return models.NewLibrary(models.Exponential(), models.DampedOscillation(osc), models.Sigmoid())
}

// classifierFor starts from the preset, if any, then layers custom
// thresholds, rules and default label on top.
func classifierFor(ac config.Analysis) (*verdict.Classifier, error) {
	var p verdict.Preset
	if ac.Preset != "" {
		var ok bool
		if p, ok = verdict.PresetByName(ac.Preset, ac.Quantity, ac.PresetParams); !ok {
			return nil, fmt.Errorf("unknown preset %q", ac.Preset)
		}
	}
	thresholds := maps.Clone(p.Thresholds)
	if thresholds == nil {
		thresholds = make(map[string]float64, len(ac.Thresholds))
	}
	maps.Copy(thresholds, ac.Thresholds)

	rules := p.Rules
	if len(ac.Rules) > 0 {
		rules = make([]verdict.Rule, len(ac.Rules))
		for i, r := range ac.Rules {
			rules[i] = verdict.Rule{Label: r.Label, When: r.When}
		}
	}
	def := p.Default
	if ac.Default != "" {
		def = ac.Default
	}
	return verdict.New(rules, thresholds, def)
}

// inclusionFor combines include_labels and include_when. With neither set,
// the ramsey preset admits live, calibrated sweeps and other analyses admit
// every classified sweep.
func inclusionFor(ac config.Analysis) (verdict.InclusionPredicate, error) {
	agg := ac.Aggregate
	when := agg.IncludeWhen
	if when == "" && len(agg.IncludeLabels) == 0 && ac.Preset == "ramsey" {
		when = verdict.RamseyInclusion
	}

	var preds []verdict.InclusionPredicate
	if len(agg.IncludeLabels) > 0 {
		preds = append(preds, verdict.IncludeLabels(agg.IncludeLabels...))
	}
	if when != "" {
		p, err := verdict.IncludeWhen(when)
		if err != nil {
			return nil, fmt.Errorf("aggregate.include_when: %w", err)
		}
		preds = append(preds, p)
	}
	if len(preds) == 0 {
		return verdict.IncludeAll, nil
	}
	return func(v verdict.Verdict) bool {
		for _, p := range preds {
			if !p(v) {
				return false
			}
		}
		return true
	}, nil
}
