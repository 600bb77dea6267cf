package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	NoColor bool

	// Logger is set by the root command before any subcommand runs.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the calltree CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "calltree",
		Short: "Inspect recorded call trees",
		Long: `Inspect call trees persisted by calltree chains.

A store is a JSON or YAML file, or a SQLite database. The backend is
picked from the file extension: .json, .yaml/.yml, .db/.sqlite.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.NoColor {
				color.NoColor = true
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))

	return cmd
}

// newLogger writes human-readable logs to w. Debug logs are shown only when
// verbose is set.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Stamp, NoColor: color.NoColor}
	log := zerolog.New(output).With().Timestamp().Logger()
	return slog.New(zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}))
}

// logger returns the configured logger, or a discarding one when the
// command runs without the root command.
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format: o.Format,
		Writer: cmd.OutOrStdout(),
	}
}

// Report writes err the way the root command's --format asks for: a JSON
// error response on stdout, or a plain message on stderr.
func Report(cmd *cobra.Command, err error) {
	format, _ := cmd.PersistentFlags().GetString("format")
	if format == "json" {
		f := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout()}
		if f.Failure(err) == nil {
			return
		}
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
}
