package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
}

// Execute runs the root command until ctx is cancelled or the command
// returns.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "sweepfit",
		Short:        "Fit, compare and classify measurement sweeps",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), opts.logLevel)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "sweepfit.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug | info | warn | error")

	root.AddCommand(analyzeCmd(opts), watchCmd(opts), historyCmd(opts))
	return root
}

// setupLogging logs JSON, or plain text when w is a terminal.
func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewJSONHandler(w, hopts)
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		h = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
