package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Chain string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <store>",
		Short: "Print the recorded call trees",
		Long: `Print the call trees of every chain in a store, or of one chain.

Each call is shown as function(args, key=value) followed by its output,
or by its errors when it failed. Nested calls are indented under the call
that made them. Multi-run entries are grouped by run.

Examples:
  calltree show calls.json
  calltree show calls.db --chain checkout
  calltree show calls.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Chain, "chain", "", "only show this chain")

	return cmd
}

func runShow(ctx context.Context, opts *ShowOptions, cmd *cobra.Command, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
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

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No chains stored")
		return nil
	}
	renderChains(cmd.OutOrStdout(), entries)
	return nil
}
