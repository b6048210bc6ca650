package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeplab/sweepfit/analyzer/internal/config"
	"github.com/sweeplab/sweepfit/analyzer/internal/history"
)

func historyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune recorded verdicts",
	}
	cmd.AddCommand(historyListCmd(opts), historyCorrectionsCmd(opts), historyEvictCmd(opts))
	return cmd
}

// openConfiguredHistory loads the config and opens its history store, which
// must be enabled.
func openConfiguredHistory(opts *options) (*history.Store, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	st, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("history is disabled: set storage.backend to sqlite")
	}
	return st, nil
}

func historyListCmd(opts *options) *cobra.Command {
	var (
		f     history.Filter
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded verdicts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openConfiguredHistory(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			entries, err := st.Query(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tANALYSIS\tSWEEP\tLABEL\tWINNER\tVALUES")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.StartedAt.Format(time.RFC3339), e.Analysis, e.SweepID, e.Label,
					dash(e.Winner), formatValues(e.Values))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&f.Analysis, "analysis", "", "only this analysis")
	cmd.Flags().StringVar(&f.SweepID, "sweep", "", "only this sweep ID")
	cmd.Flags().StringVar(&f.Label, "label", "", "only this verdict label")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs started within this duration")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows (0 for all)")
	return cmd
}

func historyCorrectionsCmd(opts *options) *cobra.Command {
	var (
		analysis string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "List recorded aggregate corrections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openConfiguredHistory(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.Corrections(cmd.Context(), analysis, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tANALYSIS\tQUANTITY\tMEDIAN\tCORRECTION\tINCLUDED")
			for _, c := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\t%d\n",
					c.StartedAt.Format(time.RFC3339), c.Analysis, c.Quantity, c.Median, c.Value, c.Included)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&analysis, "analysis", "", "only this analysis")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows (0 for all)")
	return cmd
}

func historyEvictCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Delete runs older than storage.retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openConfiguredHistory(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Evict(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d runs\n", n)
			return nil
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatValues renders values as sorted name=value pairs.
func formatValues(values map[string]float64) string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%.4g", k, values[k])
	}
	return strings.Join(parts, " ")
}
