package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sweeplab/sweepfit/analyzer/internal/config"
	"github.com/sweeplab/sweepfit/analyzer/internal/ingest"
	"github.com/sweeplab/sweepfit/analyzer/internal/pipeline"
)

// watch: run once over the configured inputs, then again for every changed
// input file. Config edits rebuild the analyses without a restart.
func watchCmd(opts *options) *cobra.Command {
	var minInterval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run analyses when inputs or the config change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if len(cfg.Inputs) == 0 {
				return errors.New("watch needs inputs in the config")
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
				go hist.Run(ctx)
			}

			w := &watcher{
				inputs: cfg.Inputs,
				current: &runner{
					engine: pipeline.NewEngine(analyses, cfg.Pipeline.Parallelism),
					output: cfg.Output,
					hist:   hist,
					out:    cmd.OutOrStdout(),
				},
			}
			if err := w.runner().run(ctx, cfg.Inputs); err != nil {
				slog.Error("initial run failed", "err", err)
			}

			// Editors emit several events per save; space out the re-runs.
			limiter := rate.NewLimiter(rate.Every(minInterval), 1)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return config.Watch(ctx, opts.configPath, w.reload)
			})
			g.Go(func() error {
				return config.WatchInputs(ctx, watchDirs(cfg.Inputs), func(path string) {
					if !ingest.Supported(path) {
						return
					}
					if err := limiter.Wait(ctx); err != nil {
						return
					}
					if err := w.onInput(ctx, path); err != nil {
						slog.Error("run failed", "path", path, "err", err)
					}
				})
			})
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&minInterval, "min-interval", time.Second, "minimum time between input-triggered runs")
	return cmd
}

// watcher swaps the active runner when the config is reloaded.
type watcher struct {
	mu      sync.Mutex
	inputs  []string
	current *runner
}

func (w *watcher) runner() *runner {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// onInput re-runs every analysis over the full input set. The median
// correction is a batch statistic, so a pass over the changed file alone
// would correct it against itself.
func (w *watcher) onInput(ctx context.Context, path string) error {
	w.mu.Lock()
	r, inputs := w.current, w.inputs
	w.mu.Unlock()
	slog.Debug("input changed", "path", path, "inputs", len(inputs))
	return r.run(ctx, inputs)
}

// reload rebuilds the analyses from cfg. The history store and output
// writer stay as they were; an invalid config keeps the previous analyses.
func (w *watcher) reload(cfg *config.Config) {
	analyses, err := pipeline.Build(cfg)
	if err != nil {
		slog.Error("config reload rejected", "err", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// Watched directories are fixed at startup; new patterns only take
	// effect for files under them.
	if len(cfg.Inputs) > 0 {
		w.inputs = cfg.Inputs
	}
	w.current = &runner{
		engine: pipeline.NewEngine(analyses, cfg.Pipeline.Parallelism),
		output: cfg.Output,
		hist:   w.current.hist,
		out:    w.current.out,
	}
	slog.Info("analyses rebuilt", "analyses", len(analyses))
}

// watchDirs maps input patterns to the directories that hold them. URLs
// have nothing to watch.
func watchDirs(patterns []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			continue
		}
		dir := p
		if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
			dir = filepath.Dir(p)
		}
		for strings.ContainsAny(dir, "*?[") {
			dir = filepath.Dir(dir)
		}
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}
