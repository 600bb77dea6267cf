package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

var (
	chainColor = color.New(color.FgCyan, color.Bold)
	runColor   = color.New(color.FgBlue)
	errorColor = color.New(color.FgRed)
)

// renderChains writes every entry as an indented tree.
func renderChains(w io.Writer, entries []chainEntry) {
	for _, entry := range entries {
		fmt.Fprintln(w, chainColor.Sprint(entry.Name))
		if !entry.MultiRun {
			renderTree(w, entry.Runs[0], 1)
			continue
		}
		for i, run := range entry.Runs {
			fmt.Fprintf(w, "  %s\n", runColor.Sprintf("run %d", i+1))
			renderTree(w, run, 2)
		}
	}
}

func renderTree(w io.Writer, records []*record.Record, indent int) {
	record.Walk(records, func(r *record.Record, depth int) bool {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", indent+depth), formatCall(r))
		return true
	})
}

// formatCall renders a record as `fn(args, key=value) = output`, or with
// `! errors` in place of the output when the call failed.
func formatCall(r *record.Record) string {
	parts := make([]string, 0, len(r.Input.Args)+len(r.Input.Kwargs))
	for _, v := range r.Input.Args {
		parts = append(parts, formatValue(v))
	}
	for _, k := range slices.Sorted(maps.Keys(r.Input.Kwargs)) {
		parts = append(parts, k+"="+formatValue(r.Input.Kwargs[k]))
	}

	call := fmt.Sprintf("%s(%s)", r.Function, strings.Join(parts, ", "))
	if r.Failed() {
		return call + " " + errorColor.Sprint("! "+strings.Join(r.Errors, "; "))
	}
	return call + " = " + formatValue(r.Output)
}

// formatValue renders v as compact JSON, falling back to %v.
func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
