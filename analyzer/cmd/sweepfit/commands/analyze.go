package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sweeplab/sweepfit/analyzer/internal/config"
	"github.com/sweeplab/sweepfit/analyzer/internal/history"
	"github.com/sweeplab/sweepfit/analyzer/internal/ingest"
	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
	"github.com/sweeplab/sweepfit/analyzer/internal/report"
)

// analyze [inputs...]: one pass over the inputs, report on stdout.
func analyzeCmd(opts *options) *cobra.Command {
	var (
		format   string
		textfile string
		noRecord bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [file|dir|glob|url ...]",
		Short: "Fit and classify sweeps once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				cfg.Output.Format = format
			}
			if cmd.Flags().Changed("textfile") {
				cfg.Output.Textfile = textfile
			}
			if noRecord {
				cfg.Storage.Backend = "none"
			}

			patterns := args
			if len(patterns) == 0 {
				patterns = cfg.Inputs
			}
			if len(patterns) == 0 {
				return errors.New("no inputs: pass paths or set inputs in the config")
			}

			analyses, err := pipeline.Build(cfg)
			if err != nil {
				return err
			}
			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}
			if hist != nil {
				defer hist.Close()
			}

			r := &runner{
				engine: pipeline.NewEngine(analyses, cfg.Pipeline.Parallelism),
				output: cfg.Output,
				hist:   hist,
				out:    cmd.OutOrStdout(),
			}
			return r.run(cmd.Context(), patterns)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "report format: json | text")
	cmd.Flags().StringVar(&textfile, "textfile", "", "also write the report as Prometheus text exposition to this file")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record verdicts in the history store")
	return cmd
}

// runner executes one analysis pass and emits its outputs.
type runner struct {
	engine *pipeline.Engine
	output config.OutputConfig
	hist   *history.Store // nil when history is disabled
	out    io.Writer
}

func (r *runner) run(ctx context.Context, patterns []string) error {
	sweeps, err := ingest.LoadAll(ctx, patterns)
	if err != nil {
		if len(sweeps) == 0 {
			return err
		}
		slog.Warn("some inputs could not be loaded", "err", err)
	}

	rep, err := r.engine.Run(ctx, sweeps)
	if err != nil {
		return err
	}

	switch r.output.Format {
	case "text":
		err = report.WriteText(r.out, rep)
	default:
		err = report.WriteJSON(r.out, rep)
	}
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if r.output.Textfile != "" {
		if err := report.WriteTextfile(r.output.Textfile, rep); err != nil {
			return err
		}
	}
	if r.hist != nil {
		if err := r.hist.Record(ctx, rep); err != nil {
			return err
		}
	}
	slog.Info("run complete", "run_id", rep.RunID, "sweeps", len(sweeps), "duration", rep.Duration)
	return nil
}

// openHistory returns nil when the config disables history.
func openHistory(cfg *config.Config) (*history.Store, error) {
	if cfg.Storage.Backend != "sqlite" {
		return nil, nil
	}
	return history.Open(cfg.Storage.Path, cfg.Storage.Retention)
}
