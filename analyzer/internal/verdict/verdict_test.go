package verdict

import (
	"errors"
	"math"
	"testing"

	"github.com/sweeplab/sweepfit/analyzer/internal/fit"
	"github.com/sweeplab/sweepfit/analyzer/internal/models"
	"github.com/sweeplab/sweepfit/analyzer/internal/selector"
)

func obs(values map[string]float64) Observation {
	return Observation{Status: StatusOK, Values: values}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		cond    string
		wantErr bool
	}{
		{"t2 < dead", false},
		{"abs(shift) > 2e4", false},
		{"rss.sigmoid < rss.exponential && margin > 0.001", false},
		{"x != -1", false},
		{"", true},
		{"t2 <", true},
		{"t2 ~ 5", true},
		{"t2 < dead &&", true},
		{"abs(shift > 1", true},
		{"1bad < 2", true},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			_, err := parseCondition(tc.cond)
			if (err != nil) != tc.wantErr {
				t.Errorf("parseCondition(%q) err = %v, wantErr %v", tc.cond, err, tc.wantErr)
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	thresholds := map[string]float64{"dead": 50, "shift": 999} // thresholds shadow values
	values := map[string]float64{"t2": 10, "shift": -25000, "nan": math.NaN()}

	tests := []struct {
		cond string
		want bool
	}{
		{"t2 < dead", true},
		{"t2 >= dead", false},
		{"abs(shift) > 900", true},
		{"shift == 999", true},
		{"t2 < 20 && t2 > 5", true},
		{"t2 < 20 && t2 > 15", false},
		{"missing > 0", false},
		{"missing < 0", false},
		{"nan < 1", false},
		{"abs(-3) == 3", true},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			c, err := parseCondition(tc.cond)
			if err != nil {
				t.Fatal(err)
			}
			if got := c.eval(thresholds, values); got != tc.want {
				t.Errorf("eval(%q) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	o := obs(map[string]float64{"t2": 10, "shift": 25000})
	thresholds := map[string]float64{"dead": 50, "miscalibrated": 20000}
	deadRule := Rule{Label: "dead", When: "t2 < dead"}
	shiftRule := Rule{Label: "recalibrate", When: "abs(shift) > miscalibrated"}

	tests := []struct {
		name  string
		rules []Rule
		want  string
	}{
		{"dead first", []Rule{deadRule, shiftRule}, "dead"},
		{"shift first", []Rule{shiftRule, deadRule}, "recalibrate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.rules, thresholds, "pass")
			if err != nil {
				t.Fatal(err)
			}
			v := c.Classify(o)
			if v.Label != tc.want {
				t.Errorf("Label = %q, want %q", v.Label, tc.want)
			}
			if v.Rule != tc.rules[0].When {
				t.Errorf("Rule = %q, want %q", v.Rule, tc.rules[0].When)
			}
		})
	}
}

func TestClassify_StatusAndDefault(t *testing.T) {
	c, err := Coherence("time_constant", 20, 50).Classifier()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		o    Observation
		want string
	}{
		{"no data", NoData(), LabelNoData},
		{"fit failed", Observation{Status: StatusFitFailed}, LabelFitFailed},
		{"dead", obs(map[string]float64{"time_constant": 10}), LabelDead},
		{"poor", obs(map[string]float64{"time_constant": 30}), LabelPoor},
		{"pass", obs(map[string]float64{"time_constant": 80}), LabelPass},
		{"unknown quantity falls through", obs(map[string]float64{"other": 1}), LabelPass},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.o).Label; got != tc.want {
				t.Errorf("Label = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c, err := Ramsey(50e-6, 100e-6, 20e3).Classifier()
	if err != nil {
		t.Fatal(err)
	}
	o := obs(map[string]float64{"t2": 70e-6, "shift": 5e3})
	first := c.Classify(o)
	for i := 0; i < 5; i++ {
		if got := c.Classify(o); got.Label != first.Label || got.Rule != first.Rule {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
	if first.Label != LabelPoor {
		t.Errorf("Label = %q, want %q", first.Label, LabelPoor)
	}
}

func TestClassify_VerdictIsACopy(t *testing.T) {
	c, err := Visibility(0.2).Classifier()
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]float64{"visibility": 0.5}
	v := c.Classify(obs(values))
	v.Values["visibility"] = 0
	v.Thresholds[ThresholdMinVisibility] = 1
	if values["visibility"] != 0.5 {
		t.Error("verdict shares Values with observation")
	}
	if got := c.Classify(obs(values)).Label; got != LabelRestored {
		t.Errorf("Label = %q, want %q", got, LabelRestored)
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(nil, nil, ""); err == nil {
		t.Error("expected error for empty default label")
	}
	if _, err := New([]Rule{{Label: "", When: "a < 1"}}, nil, "ok"); err == nil {
		t.Error("expected error for empty rule label")
	}
	if _, err := New([]Rule{{Label: "x", When: "a <"}}, nil, "ok"); err == nil {
		t.Error("expected error for bad condition")
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name   string
		preset Preset
		values map[string]float64
		want   string
	}{
		{"ramsey dead", Ramsey(50e-6, 100e-6, 20e3), map[string]float64{"t2": 10e-6, "shift": 30e3}, LabelDead},
		{"ramsey recalibrate", Ramsey(50e-6, 100e-6, 20e3), map[string]float64{"t2": 200e-6, "shift": -30e3}, LabelRecalibrate},
		{"ramsey pass", Ramsey(50e-6, 100e-6, 20e3), map[string]float64{"t2": 200e-6, "shift": 1e3}, LabelPass},
		{"transition", Transition("sigmoid", "exponential"), map[string]float64{"rss.sigmoid": 1e-12, "rss.exponential": 0.01}, LabelCriticalTransition},
		{"decay", Transition("sigmoid", "exponential"), map[string]float64{"rss.sigmoid": 0.02, "rss.exponential": 0.01}, LabelStandardDecay},
		{"improved", Improvement("time_constant", 10, 1.3), map[string]float64{"time_constant": 14}, LabelImproved},
		{"marginal", Improvement("time_constant", 10, 1.3), map[string]float64{"time_constant": 12}, LabelMarginal},
		{"no improvement", Improvement("time_constant", 10, 1.3), map[string]float64{"time_constant": 9}, LabelNoImprovement},
		{"visibility failed", Visibility(0.2), map[string]float64{"visibility": 0.1}, LabelFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := tc.preset.Classifier()
			if err != nil {
				t.Fatal(err)
			}
			if got := c.Classify(obs(tc.values)).Label; got != tc.want {
				t.Errorf("Label = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPresetByName(t *testing.T) {
	for _, name := range []string{"coherence", "ramsey", "transition", "improvement", "visibility"} {
		p, ok := PresetByName(name, "", nil)
		if !ok {
			t.Fatalf("PresetByName(%q) not found", name)
		}
		if _, err := p.Classifier(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if _, ok := PresetByName("nope", "", nil); ok {
		t.Error("expected unknown preset")
	}
	p, _ := PresetByName("coherence", "t2", map[string]float64{"dead": 5})
	if p.Thresholds[ThresholdDead] != 5 || p.Thresholds[ThresholdHealthy] != 50 {
		t.Errorf("thresholds = %v", p.Thresholds)
	}
	if p.Rules[0].When != "t2 < dead" {
		t.Errorf("rule = %q, want t2 < dead", p.Rules[0].When)
	}
}

func linspace(lo, hi float64, n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return xs
}

func TestScenario_DeadExponential(t *testing.T) {
	m := models.Exponential()
	xs := linspace(0, 100, 21)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 0.5*math.Exp(-0.1*x) + 0.5
	}
	res := fit.New().Fit(m, xs, ys)
	o := ObserveFit(res)
	if o.Status != StatusOK {
		t.Fatalf("status = %q (err %v)", o.Status, res.Err)
	}
	c, err := New([]Rule{{Label: LabelDead, When: "time_constant < 20"}}, nil, LabelPass)
	if err != nil {
		t.Fatal(err)
	}
	v := c.Classify(o)
	if v.Label != LabelDead {
		t.Errorf("Label = %q, want dead (time_constant %v)", v.Label, o.Values["time_constant"])
	}
	if _, ok := v.Values["stderr.b"]; !ok {
		t.Error("missing stderr.b in values")
	}
}

func TestScenario_CriticalTransition(t *testing.T) {
	sig := models.Sigmoid()
	xs := linspace(0, math.Pi, 15)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = sig.Eval(x, []float64{0.5, 1.5, 5, 0})
	}
	cmp := selector.New(nil, nil).Compare([]models.Model{models.Exponential(), sig}, xs, ys)
	c, err := Transition(models.NameSigmoid, models.NameExponential).Classifier()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Classify(ObserveComparison(cmp)).Label; got != LabelCriticalTransition {
		t.Errorf("Label = %q, want %q", got, LabelCriticalTransition)
	}
}

func TestObserveComparison_Exhausted(t *testing.T) {
	cmp := selector.Comparison{Winner: -1, Err: selector.ErrComparisonExhausted}
	if o := ObserveComparison(cmp); o.Status != StatusNoData {
		t.Errorf("Status = %q, want no-data", o.Status)
	}
}

func TestObserveFit_Failed(t *testing.T) {
	r := fit.Result{Err: errors.New("boom")}
	if o := ObserveFit(r); o.Status != StatusFitFailed {
		t.Errorf("Status = %q, want fit-failed", o.Status)
	}
}

func TestAggregate(t *testing.T) {
	th := map[string]float64{ThresholdDead: 50e-6, ThresholdMiscalibrated: 20e3}
	vs := []Verdict{
		{Label: LabelPass, Thresholds: th, Values: map[string]float64{"t2": 120e-6, "shift": 4e3}},
		{Label: LabelPoor, Thresholds: th, Values: map[string]float64{"t2": 70e-6, "shift": 6e3}},
		{Label: LabelPass, Thresholds: th, Values: map[string]float64{"t2": 150e-6, "shift": 5e3}},
		{Label: LabelRecalibrate, Thresholds: th, Values: map[string]float64{"t2": 150e-6, "shift": 90e3}},
		{Label: LabelDead, Thresholds: th, Values: map[string]float64{"t2": 10e-6, "shift": 1e6}},
		{Label: LabelNoData},
	}

	t.Run("labels", func(t *testing.T) {
		c, err := Aggregate(vs, "shift", IncludeLabels(LabelPass))
		if err != nil {
			t.Fatal(err)
		}
		if c.Median != 4.5e3 || c.Value != -4.5e3 || c.Included != 2 || c.Excluded != 4 {
			t.Errorf("got %+v", c)
		}
	})

	t.Run("condition", func(t *testing.T) {
		include, err := IncludeWhen(RamseyInclusion)
		if err != nil {
			t.Fatal(err)
		}
		c, err := Aggregate(vs, "shift", include)
		if err != nil {
			t.Fatal(err)
		}
		if c.Median != 5e3 || c.Included != 3 {
			t.Errorf("got %+v", c)
		}
	})

	t.Run("nothing included", func(t *testing.T) {
		_, err := Aggregate(vs, "shift", IncludeLabels("nope"))
		if !errors.Is(err, ErrNoAggregateData) {
			t.Errorf("err = %v, want ErrNoAggregateData", err)
		}
	})

	t.Run("robust to outlier", func(t *testing.T) {
		c, err := Aggregate(vs[:5], "shift", nil)
		if err != nil {
			t.Fatal(err)
		}
		if c.Median != 6e3 {
			t.Errorf("Median = %v, want 6000", c.Median)
		}
	})
}
