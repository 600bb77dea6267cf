package persist

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// base carries the backend plumbing every variant shares.
type base struct {
	backend Backend
	writeMu *sync.Mutex // serializes load, merge and store across writers
}

func newBase(b Backend) base {
	return base{backend: b, writeMu: &sync.Mutex{}}
}

// Read implements Strategy.
func (b base) Read(ctx context.Context) (Document, error) {
	return b.backend.Load(ctx)
}

// ReadChain implements Strategy.
func (b base) ReadChain(ctx context.Context, key string) (json.RawMessage, error) {
	doc, err := b.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := doc[key]
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// load returns the stored document, or an empty one when nothing is stored.
func (b base) load(ctx context.Context) (Document, error) {
	doc, err := b.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// write runs preprocess and stores its document while holding the write
// lock, so concurrent writers sharing a strategy never merge against a
// stale document. commit, when set, runs only after a successful store.
func (b base) write(ctx context.Context, src Source, preprocess func(context.Context, Source) (Document, error), commit func()) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	doc, err := preprocess(ctx, src)
	if err != nil {
		return err
	}
	if err := b.backend.Store(ctx, doc); err != nil {
		return err
	}
	if commit != nil {
		commit()
	}
	return nil
}

func (b base) singleRunRecords(ctx context.Context, key string) ([]*record.Record, error) {
	entry, err := b.ReadChain(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	return record.Decode(entry)
}

func (b base) lastRunRecords(ctx context.Context, key string) ([]*record.Record, error) {
	entry, err := b.ReadChain(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	runs, err := record.DecodeRuns(entry)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[len(runs)-1], nil
}

// SingleRunAbsolute writes {key: records}, replacing the whole document on
// every write.
type SingleRunAbsolute struct{ base }

// Preprocess implements Strategy.
func (s *SingleRunAbsolute) Preprocess(_ context.Context, src Source) (Document, error) {
	entry, err := encodeList(src.Records())
	if err != nil {
		return nil, err
	}
	return Document{src.Key(): entry}, nil
}

// Write implements Strategy.
func (s *SingleRunAbsolute) Write(ctx context.Context, src Source) error {
	return s.write(ctx, src, s.Preprocess, nil)
}

// Records implements Strategy.
func (s *SingleRunAbsolute) Records(ctx context.Context, key string) ([]*record.Record, error) {
	return s.singleRunRecords(ctx, key)
}

// MultiRunAbsolute appends the chain's whole record list as a new run on
// every write. Entries of other chains are kept.
type MultiRunAbsolute struct{ base }

// Preprocess implements Strategy.
func (s *MultiRunAbsolute) Preprocess(ctx context.Context, src Source) (Document, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := decodeList(doc[src.Key()])
	if err != nil {
		return nil, err
	}
	run, err := encodeList(src.Records())
	if err != nil {
		return nil, err
	}
	if doc[src.Key()], err = json.Marshal(append(runs, run)); err != nil {
		return nil, fmt.Errorf("encode runs: %w", err)
	}
	return doc, nil
}

// Write implements Strategy.
func (s *MultiRunAbsolute) Write(ctx context.Context, src Source) error {
	return s.write(ctx, src, s.Preprocess, nil)
}

// Records implements Strategy.
func (s *MultiRunAbsolute) Records(ctx context.Context, key string) ([]*record.Record, error) {
	return s.lastRunRecords(ctx, key)
}

// SingleRunIncremental appends only the records beyond what is already
// stored for the chain. Stored records are never rewritten.
type SingleRunIncremental struct{ base }

// Preprocess implements Strategy.
func (s *SingleRunIncremental) Preprocess(ctx context.Context, src Source) (Document, error) {
	stored, err := s.ReadChain(ctx, src.Key())
	if err != nil {
		return nil, err
	}
	entry, err := extend(stored, src.Records())
	if err != nil {
		return nil, err
	}
	return Document{src.Key(): entry}, nil
}

// Write implements Strategy.
func (s *SingleRunIncremental) Write(ctx context.Context, src Source) error {
	return s.write(ctx, src, s.Preprocess, nil)
}

// Records implements Strategy.
func (s *SingleRunIncremental) Records(ctx context.Context, key string) ([]*record.Record, error) {
	return s.singleRunRecords(ctx, key)
}

// MultiRunIncremental keeps one run per chain RunID. The first write of a
// RunID this strategy has not written before starts a new run; later
// writes of the same RunID extend the latest run with only the new
// records. Entries of other chains are kept.
type MultiRunIncremental struct {
	base

	mu      sync.Mutex
	lastRun map[string]string // chain key -> RunID of the last stored run
}

// Preprocess implements Strategy.
// The run boundary moves only when Write stores the document.
func (s *MultiRunIncremental) Preprocess(ctx context.Context, src Source) (Document, error) {
	key := src.Key()
	s.mu.Lock()
	extending := s.lastRun[key] == src.RunID()
	s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := decodeList(doc[key])
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 || !extending {
		run, err := encodeList(src.Records())
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	} else {
		last := len(runs) - 1
		if runs[last], err = extend(runs[last], src.Records()); err != nil {
			return nil, err
		}
	}

	if doc[key], err = json.Marshal(runs); err != nil {
		return nil, fmt.Errorf("encode runs: %w", err)
	}
	return doc, nil
}

// Write implements Strategy.
func (s *MultiRunIncremental) Write(ctx context.Context, src Source) error {
	key, runID := src.Key(), src.RunID()
	return s.write(ctx, src, s.Preprocess, func() {
		s.mu.Lock()
		s.lastRun[key] = runID
		s.mu.Unlock()
	})
}

// Records implements Strategy.
func (s *MultiRunIncremental) Records(ctx context.Context, key string) ([]*record.Record, error) {
	return s.lastRunRecords(ctx, key)
}

// encodeList encodes records as a JSON list, never null.
func encodeList(records []*record.Record) (json.RawMessage, error) {
	if records == nil {
		records = []*record.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}

// decodeList splits a stored JSON list into its raw elements.
func decodeList(entry json.RawMessage) ([]json.RawMessage, error) {
	if len(entry) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(entry, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return items, nil
}

// extend appends the records past the stored length to the stored list,
// leaving the stored elements untouched.
func extend(stored json.RawMessage, records []*record.Record) (json.RawMessage, error) {
	items, err := decodeList(stored)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	for _, r := range records[min(len(items), len(records)):] {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		items = append(items, data)
	}
	out, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return out, nil
}
