package verdict

import (
	"fmt"
	"maps"

	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/selector"
)

// Status of an observation before any rule is consulted.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoData    Status = "no-data"
	StatusFitFailed Status = "fit-failed"
)

// Labels assigned without consulting rules.
const (
	LabelNoData    = "no-data"
	LabelFitFailed = "fit-failed"
)

// Observation is the named numeric evidence for one sweep.
type Observation struct {
	Status Status
	Values map[string]float64
}

// NoData returns an observation for a sweep whose series could not be built.
func NoData() Observation { return Observation{Status: StatusNoData} }

// ObserveFit builds an observation from a single fit. Values hold the fit's
// derived quantities, "rss", "rss.<model>" and "stderr.<param>" when error
// bars are available.
func ObserveFit(r fit.Result) Observation {
	if !r.OK() {
		return Observation{Status: StatusFitFailed}
	}
	values := make(map[string]float64, len(r.Derived)+len(r.StdErr)+2)
	maps.Copy(values, r.Derived)
	values["rss"] = r.RSS
	values["rss."+r.Model] = r.RSS
	return Observation{Status: StatusOK, Values: withStdErr(values, r)}
}

// ObserveComparison builds an observation from a model comparison. Values
// hold "rss.<model>" and "score.<model>" for every candidate, "margin", and
// the winner's quantities as in ObserveFit. An exhausted comparison yields
// StatusNoData.
func ObserveComparison(c selector.Comparison) Observation {
	best, ok := c.Best()
	if !ok {
		return NoData()
	}
	values := make(map[string]float64, 2*len(c.Results)+len(best.Derived)+2)
	for i, r := range c.Results {
		values["rss."+r.Model] = r.RSS
		values["score."+r.Model] = c.Scores[i]
	}
	maps.Copy(values, best.Derived)
	values["rss"] = best.RSS
	values["margin"] = c.Margin
	return Observation{Status: StatusOK, Values: withStdErr(values, best)}
}

func withStdErr(values map[string]float64, r fit.Result) map[string]float64 {
	if r.StdErr == nil {
		return values
	}
	for i, se := range r.StdErr {
		if i < len(r.ParamNames) {
			values["stderr."+r.ParamNames[i]] = se
		}
	}
	return values
}

// With returns a copy of o with name set to v.
func (o Observation) With(name string, v float64) Observation {
	values := make(map[string]float64, len(o.Values)+1)
	maps.Copy(values, o.Values)
	values[name] = v
	o.Values = values
	return o
}

// Rule labels observations that satisfy When.
type Rule struct {
	Label string `yaml:"label" json:"label"`
	When  string `yaml:"when" json:"when"`
}

type compiledRule struct {
	label string
	cond  condition
}

// Verdict is the classifier's output. It is a value; maps are never shared
// with the classifier or the observation.
type Verdict struct {
	Label      string             `json:"label"`
	Rule       string             `json:"rule,omitempty"` // matching condition; empty for default and status labels
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
	Values     map[string]float64 `json:"values,omitempty"`
}

// Classifier is an ordered decision list. It holds no mutable state and is
// safe for concurrent use.
type Classifier struct {
	rules        []compiledRule
	thresholds   map[string]float64
	defaultLabel string
}

// New compiles rules. Conditions are parsed eagerly so syntax errors surface
// here rather than at classification time.
func New(rules []Rule, thresholds map[string]float64, defaultLabel string) (*Classifier, error) {
	if defaultLabel == "" {
		return nil, fmt.Errorf("verdict: default label is required")
	}
	c := &Classifier{
		rules:        make([]compiledRule, 0, len(rules)),
		thresholds:   maps.Clone(thresholds),
		defaultLabel: defaultLabel,
	}
	if c.thresholds == nil {
		c.thresholds = map[string]float64{}
	}
	for i, r := range rules {
		if r.Label == "" {
			return nil, fmt.Errorf("verdict: rule %d: label is required", i)
		}
		cond, err := parseCondition(r.When)
		if err != nil {
			return nil, fmt.Errorf("verdict: rule %d (%s): %w", i, r.Label, err)
		}
		c.rules = append(c.rules, compiledRule{label: r.Label, cond: cond})
	}
	return c, nil
}

// Classify returns the label of the first matching rule, or the default.
func (c *Classifier) Classify(obs Observation) Verdict {
	v := Verdict{
		Thresholds: maps.Clone(c.thresholds),
		Values:     maps.Clone(obs.Values),
	}
	switch obs.Status {
	case StatusNoData:
		v.Label = LabelNoData
		return v
	case StatusFitFailed:
		v.Label = LabelFitFailed
		return v
	}
	for _, r := range c.rules {
		if r.cond.eval(c.thresholds, obs.Values) {
			v.Label = r.label
			v.Rule = r.cond.src
			return v
		}
	}
	v.Label = c.defaultLabel
	return v
}

// Labels returns the closed label set: rule labels in order, the default,
// then the status labels.
func (c *Classifier) Labels() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(l string) {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for _, r := range c.rules {
		add(r.label)
	}
	add(c.defaultLabel)
	add(LabelNoData)
	add(LabelFitFailed)
	return out
}

// Thresholds returns a copy of the classifier's thresholds.
func (c *Classifier) Thresholds() map[string]float64 { return maps.Clone(c.thresholds) }
