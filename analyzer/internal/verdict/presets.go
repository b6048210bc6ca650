package verdict

import "github.com/sweeplab/sweepfit/analyzer/internal/models"

// Preset labels.
const (
	LabelDead        = "dead"
	LabelPoor        = "poor"
	LabelPass        = "pass"
	LabelRecalibrate = "recalibrate"

	LabelCriticalTransition = "critical-transition"
	LabelStandardDecay      = "standard-decay"

	LabelImproved      = "improved"
	LabelMarginal      = "marginal"
	LabelNoImprovement = "no-improvement"

	LabelRestored = "restored"
	LabelFailed   = "failed"
)

// Preset threshold names.
const (
	ThresholdDead          = "dead"
	ThresholdHealthy       = "healthy"
	ThresholdMiscalibrated = "miscalibrated"
	ThresholdBaseline      = "baseline"
	ThresholdImprovedAt    = "improved_at"
	ThresholdMinVisibility = "min_visibility"
)

// Preset is a named rule set with its thresholds and default label.
type Preset struct {
	Rules      []Rule
	Thresholds map[string]float64
	Default    string
}

// Classifier compiles the preset. Preset conditions are static, so this only
// fails if the caller edited Rules.
func (p Preset) Classifier() (*Classifier, error) {
	return New(p.Rules, p.Thresholds, p.Default)
}

// Coherence grades a lifetime quantity: below dead is dead, below healthy is
// poor, otherwise pass.
func Coherence(quantity string, dead, healthy float64) Preset {
	return Preset{
		Rules: []Rule{
			{Label: LabelDead, When: quantity + " < " + ThresholdDead},
			{Label: LabelPoor, When: quantity + " < " + ThresholdHealthy},
		},
		Thresholds: map[string]float64{ThresholdDead: dead, ThresholdHealthy: healthy},
		Default:    LabelPass,
	}
}

// Ramsey grades a damped-oscillation fit on t2 and shift. Dead outranks a
// detuned shift, which outranks a merely short t2.
func Ramsey(dead, healthy, miscalibrated float64) Preset {
	return Preset{
		Rules: []Rule{
			{Label: LabelDead, When: "t2 < " + ThresholdDead},
			{Label: LabelRecalibrate, When: "abs(shift) > " + ThresholdMiscalibrated},
			{Label: LabelPoor, When: "t2 < " + ThresholdHealthy},
		},
		Thresholds: map[string]float64{
			ThresholdDead:          dead,
			ThresholdHealthy:       healthy,
			ThresholdMiscalibrated: miscalibrated,
		},
		Default: LabelPass,
	}
}

// RamseyInclusion is the condition selecting sweeps that contribute to the
// shift correction: alive and not detuned.
const RamseyInclusion = "t2 > " + ThresholdDead + " && abs(shift) <= " + ThresholdMiscalibrated

// Transition labels a comparison where the threshold model beats the decay
// model.
func Transition(thresholdModel, decayModel string) Preset {
	return Preset{
		Rules: []Rule{
			{Label: LabelCriticalTransition, When: "rss." + thresholdModel + " < rss." + decayModel},
		},
		Default: LabelStandardDecay,
	}
}

// Improvement compares quantity with a baseline: above baseline·factor is
// improved, above baseline is marginal.
func Improvement(quantity string, baseline, factor float64) Preset {
	return Preset{
		Rules: []Rule{
			{Label: LabelImproved, When: quantity + " > " + ThresholdImprovedAt},
			{Label: LabelMarginal, When: quantity + " > " + ThresholdBaseline},
		},
		Thresholds: map[string]float64{
			ThresholdBaseline:   baseline,
			ThresholdImprovedAt: baseline * factor,
		},
		Default: LabelNoImprovement,
	}
}

// Visibility checks that the series contrast exceeds min.
func Visibility(min float64) Preset {
	return Preset{
		Rules: []Rule{
			{Label: LabelRestored, When: "visibility > " + ThresholdMinVisibility},
		},
		Thresholds: map[string]float64{ThresholdMinVisibility: min},
		Default:    LabelFailed,
	}
}

// DefaultQuantity is the graded quantity when a preset is built without one.
const DefaultQuantity = "time_constant"

// PresetByName builds a preset from its name, the graded quantity (for
// coherence and improvement) and a parameter map. Missing parameters fall
// back to the bench defaults: seconds-scale Ramsey thresholds and a
// coherence dead/healthy split of 20/50.
func PresetByName(name, quantity string, params map[string]float64) (Preset, bool) {
	if quantity == "" {
		quantity = DefaultQuantity
	}
	get := func(k string, def float64) float64 {
		if v, ok := params[k]; ok {
			return v
		}
		return def
	}
	switch name {
	case "coherence":
		return Coherence(quantity, get(ThresholdDead, 20), get(ThresholdHealthy, 50)), true
	case "ramsey":
		return Ramsey(get(ThresholdDead, 50e-6), get(ThresholdHealthy, 100e-6), get(ThresholdMiscalibrated, 20e3)), true
	case "transition":
		return Transition(models.NameSigmoid, models.NameExponential), true
	case "improvement":
		return Improvement(quantity, get(ThresholdBaseline, 0), get("factor", 1.3)), true
	case "visibility":
		return Visibility(get(ThresholdMinVisibility, 0.2)), true
	}
	return Preset{}, false
}
