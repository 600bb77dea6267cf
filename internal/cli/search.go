package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Function string
	Chain    string
}

// Match is one call found by search.
type Match struct {
	Chain  string         `json:"chain"`
	Run    int            `json:"run,omitempty"` // 1-based; 0 for single-run entries
	Index  int            `json:"index"`         // top-level record the call belongs to
	Depth  int            `json:"depth"`
	Record *record.Record `json:"record"`
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <store>",
		Short: "Find calls of a function",
		Long: `Find every call of a function, at any depth, in pre-order.

Each match names its chain, its run for multi-run entries, the index of
the top-level record it belongs to and its depth below that record.

Examples:
  calltree search calls.json --function add
  calltree search calls.db --function charge --chain checkout`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Function, "function", "", "function name to find (required)")
	_ = cmd.MarkFlagRequired("function")
	cmd.Flags().StringVar(&opts.Chain, "chain", "", "only search this chain")

	return cmd
}

func runSearch(opts *SearchOptions, cmd *cobra.Command, path string) error {
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
	entries, err := loadChains(doc, opts.Chain)
	if err != nil {
		return err
	}

	matches := []Match{}
	for _, entry := range entries {
		for i, run := range entry.Runs {
			runNo := 0
			if entry.MultiRun {
				runNo = i + 1
			}
			for index, top := range run {
				record.Walk([]*record.Record{top}, func(r *record.Record, depth int) bool {
					if r.Function == opts.Function {
						matches = append(matches, Match{
							Chain: entry.Name, Run: runNo, Index: index, Depth: depth, Record: r,
						})
					}
					return true
				})
			}
		}
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(matches)
	}
	if len(matches) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No calls of %s\n", opts.Function)
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", m.location(), formatCall(m.Record))
	}
	return nil
}

// location renders "chain [run=N] #index depth=D".
func (m Match) location() string {
	var b strings.Builder
	b.WriteString(m.Chain)
	if m.Run > 0 {
		fmt.Fprintf(&b, " run=%d", m.Run)
	}
	fmt.Fprintf(&b, " #%d depth=%d", m.Index, m.Depth)
	return b.String()
}
