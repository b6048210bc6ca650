package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
)

const namespace = "sweepfit"

// collectors are the gauge families exported for one run.
type collectors struct {
	info       *prometheus.GaugeVec
	started    prometheus.Gauge
	duration   prometheus.Gauge
	param      *prometheus.GaugeVec
	stderr     *prometheus.GaugeVec
	derived    *prometheus.GaugeVec
	rss        *prometheus.GaugeVec
	fitOK      *prometheus.GaugeVec
	verdict    *prometheus.GaugeVec
	failed     *prometheus.GaugeVec
	correction *prometheus.GaugeVec
	included   *prometheus.GaugeVec
}

func newCollectors() *collectors {
	gv := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	return &collectors{
		info: gv("run_info", "Run identifier; always 1.", "run_id"),
		started: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_start_timestamp_seconds", Help: "Unix time the run started.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_duration_seconds", Help: "Wall time of the run.",
		}),
		param:      gv("fit_param", "Fitted parameter value.", "analysis", "sweep", "model", "param"),
		stderr:     gv("fit_param_stderr", "Standard error of a fitted parameter.", "analysis", "sweep", "model", "param"),
		derived:    gv("fit_derived", "Derived quantity of the winning fit.", "analysis", "sweep", "quantity"),
		rss:        gv("fit_rss", "Residual sum of squares of a successful fit.", "analysis", "sweep", "model"),
		fitOK:      gv("fit_success", "1 when the fit succeeded, 0 when it failed.", "analysis", "sweep", "model"),
		verdict:    gv("verdict", "1 for the label assigned to the sweep.", "analysis", "sweep", "label"),
		failed:     gv("aggregation_failed_points", "Sweep points that could not be aggregated.", "analysis", "sweep"),
		correction: gv("correction", "Cross-sweep correction (negated median).", "analysis", "quantity"),
		included:   gv("correction_included_sweeps", "Sweeps contributing to the correction.", "analysis", "quantity"),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.info, c.started, c.duration, c.param, c.stderr, c.derived,
		c.rss, c.fitOK, c.verdict, c.failed, c.correction, c.included,
	}
}

// Registry returns a fresh registry populated from rep. Non-finite values
// are skipped.
func Registry(rep *pipeline.Report) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	c := newCollectors()
	for _, col := range c.all() {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("report: register collector: %w", err)
		}
	}

	c.info.WithLabelValues(rep.RunID).Set(1)
	c.started.Set(float64(rep.StartedAt.UnixNano()) / 1e9)
	c.duration.Set(rep.Duration.Seconds())

	set := func(vec *prometheus.GaugeVec, v float64, lvs ...string) {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			vec.WithLabelValues(lvs...).Set(v)
		}
	}

	for _, ar := range rep.Analyses {
		for _, s := range ar.Sweeps {
			c.verdict.WithLabelValues(ar.Name, s.SweepID, s.Verdict.Label).Set(1)
			c.failed.WithLabelValues(ar.Name, s.SweepID).Set(float64(len(s.Series.Failures)))

			for _, r := range s.Comparison.Results {
				ok := 0.0
				if r.OK() {
					ok = 1
					set(c.rss, r.RSS, ar.Name, s.SweepID, r.Model)
				}
				c.fitOK.WithLabelValues(ar.Name, s.SweepID, r.Model).Set(ok)
				for i, p := range r.Params {
					set(c.param, p, ar.Name, s.SweepID, r.Model, r.ParamNames[i])
					if r.StdErr != nil {
						set(c.stderr, r.StdErr[i], ar.Name, s.SweepID, r.Model, r.ParamNames[i])
					}
				}
			}
			if best, ok := s.Winner(); ok {
				for q, v := range best.Derived {
					set(c.derived, v, ar.Name, s.SweepID, q)
				}
			}
		}
		if ar.Correction != nil {
			set(c.correction, ar.Correction.Value, ar.Name, ar.Correction.Quantity)
			c.included.WithLabelValues(ar.Name, ar.Correction.Quantity).Set(float64(ar.Correction.Included))
		}
	}
	return reg, nil
}

// WriteTextfile writes rep to path in text exposition format. The file is
// written to a temporary sibling and renamed so scrapers never see a
// partial file.
func WriteTextfile(path string, rep *pipeline.Report) error {
	reg, err := Registry(rep)
	if err != nil {
		return err
	}
	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("report: gather: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("report: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("report: encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: close temp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("report: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}
