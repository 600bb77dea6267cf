package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/calltree/pkg/calltree/config"
	"github.com/randalmurphal/calltree/pkg/calltree/persist"
	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// chainEntry is one decoded document entry.
type chainEntry struct {
	Name     string             `json:"name"`
	MultiRun bool               `json:"multirun"`
	Runs     [][]*record.Record `json:"runs"`
}

// openStore opens the store at path with the backend its extension implies.
func openStore(path string, logger *slog.Logger) (*persist.Selector, error) {
	p := config.Persistence{Backend: config.BackendFor(path), Path: path}
	store, err := config.OpenStrategy(p)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	logger.Debug("store opened", slog.String("path", path), slog.String("backend", string(p.Backend)))
	return store, nil
}

// readDocument returns the stored document, empty when nothing is stored.
func readDocument(ctx context.Context, store persist.Strategy) (persist.Document, error) {
	doc, err := store.Read(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read store", err)
	}
	if doc == nil {
		doc = persist.Document{}
	}
	return doc, nil
}

// loadChains decodes the entries of doc in name order. A non-empty only
// restricts the result to that chain, which must exist.
func loadChains(doc persist.Document, only string) ([]chainEntry, error) {
	names := slices.Sorted(maps.Keys(doc))
	if only != "" {
		if _, ok := doc[only]; !ok {
			return nil, NewExitError(ExitFailure, fmt.Sprintf("chain %q not found", only))
		}
		names = []string{only}
	}

	entries := make([]chainEntry, 0, len(names))
	for _, name := range names {
		entry, err := decodeEntry(name, doc[name])
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("chain %q", name), err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeEntry tells multi-run entries (a list of lists) from single-run
// ones (a list of records) by their first element.
func decodeEntry(name string, raw json.RawMessage) (chainEntry, error) {
	entry := chainEntry{Name: name}
	if gjson.GetBytes(raw, "0").IsArray() {
		runs, err := record.DecodeRuns(raw)
		if err != nil {
			return entry, err
		}
		entry.MultiRun = true
		entry.Runs = runs
		return entry, nil
	}

	records, err := record.Decode(raw)
	if err != nil {
		return entry, err
	}
	entry.Runs = [][]*record.Record{records}
	return entry, nil
}
