package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// DropOptions holds flags for the drop command.
type DropOptions struct {
	*RootOptions
	Chain string
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DropOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drop <store>",
		Short: "Remove a chain from a store",
		Long: `Remove one chain entry from a store. Other entries are kept.

Examples:
  calltree drop calls.json --chain scratch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Chain, "chain", "", "chain to remove (required)")
	_ = cmd.MarkFlagRequired("chain")

	return cmd
}

func runDrop(opts *DropOptions, cmd *cobra.Command, path string) error {
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
	if _, ok := doc[opts.Chain]; !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("chain %q not found", opts.Chain))
	}

	delete(doc, opts.Chain)
	if err := store.Backend().Store(ctx, doc); err != nil {
		return WrapExitError(ExitCommandError, "failed to write store", err)
	}
	opts.logger().Info("chain dropped", slog.String("chain", opts.Chain), slog.Int("remaining", len(doc)))

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(map[string]string{"dropped": opts.Chain})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dropped chain %s\n", opts.Chain)
	return nil
}
