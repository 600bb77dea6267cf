package cli

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <store> <path>",
		Short: "Run a path query on the stored document",
		Long: `Run a GJSON path query on the whole stored document.

The document maps chain names to their entries: a list of records for
single-run entries, a list of runs for multi-run ones. Scalars are printed
as is, objects and arrays as JSON.

Examples:
  calltree query calls.json 'checkout.#'
  calltree query calls.json 'checkout.0.output'
  calltree query calls.db 'checkout.#(function=="charge")#.errors'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, cmd, args[0], args[1])
		},
	}
	return cmd
}

func runQuery(opts *RootOptions, cmd *cobra.Command, path, expr string) error {
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
	data, err := json.Marshal(doc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode document", err)
	}

	result := gjson.GetBytes(data, expr)
	if !result.Exists() {
		return NewExitError(ExitFailure, fmt.Sprintf("no match for %q", expr))
	}
	opts.logger().Debug("query matched", "path", expr, "type", result.Type.String())

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(json.RawMessage(result.Raw))
	}
	if result.IsObject() || result.IsArray() {
		fmt.Fprintln(cmd.OutOrStdout(), result.Raw)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), result.String())
	}
	return nil
}
