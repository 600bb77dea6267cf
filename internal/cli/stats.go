package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// ChainStats summarizes one chain entry.
type ChainStats struct {
	Chain   string `json:"chain"`
	Runs    int    `json:"runs"`
	Records int    `json:"records"` // top-level records over all runs
	Calls   int    `json:"calls"`   // records at any depth
	Failed  int    `json:"failed"`  // records at any depth with errors
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <store>",
		Short: "Summarize the chains in a store",
		Long: `Summarize each chain in a store: runs, top-level records, calls at
any depth and failed calls.

Examples:
  calltree stats calls.json
  calltree stats calls.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command, path string) error {
	ctx := context.Background()

	store, err := openStore(path, opts.logger())
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := readDocument(ctx, store)
	if err != nil {
		return err
	}
	entries, err := loadChains(doc, "")
	if err != nil {
		return err
	}

	stats := make([]ChainStats, 0, len(entries))
	for _, entry := range entries {
		stats = append(stats, summarize(entry))
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(stats)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tRUNS\tRECORDS\tCALLS\tFAILED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Chain, s.Runs, s.Records, s.Calls, s.Failed)
	}
	return tw.Flush()
}

func summarize(entry chainEntry) ChainStats {
	s := ChainStats{Chain: entry.Name, Runs: len(entry.Runs)}
	for _, run := range entry.Runs {
		s.Records += len(run)
		record.Walk(run, func(r *record.Record, _ int) bool {
			s.Calls++
			if r.Failed() {
				s.Failed++
			}
			return true
		})
	}
	return s
}
