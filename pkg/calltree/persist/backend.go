// Package persist turns a chain's records into durable documents.
//
// A Strategy decides what document to write for a chain (the merge policy);
// a Backend decides where that document lives. Strategies are picked by a
// Selector from the (multi-run, incremental) flag pair.
package persist

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// Document is the persisted form: chain key → entry.
//
// A single-run entry is a JSON list of records; a multi-run entry is a JSON
// list of such lists.
type Document map[string]json.RawMessage

// Clone returns a copy that shares no bytes with d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Size returns the total number of entry bytes.
func (d Document) Size() int {
	n := 0
	for _, v := range d {
		n += len(v)
	}
	return n
}

// Source is the view of a chain a strategy persists.
type Source interface {
	// Key is the document key for the chain: its name, or its ID when anonymous.
	Key() string
	// RunID identifies the chain instance. Multi-run incremental persistence
	// starts a new run whenever it sees a RunID it has not written before.
	RunID() string
	// Records returns the chain's current top-level records.
	Records() []*record.Record
}

// Backend stores whole documents.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns the stored document.
	// Returns nil (not an error) when nothing has been stored.
	Load(ctx context.Context) (Document, error)

	// Store replaces the stored document with doc.
	Store(ctx context.Context, doc Document) error

	// Close releases any resources (connections, files).
	Close() error
}

// Strategy is the read/write/merge policy for one (multi-run, incremental)
// combination.
type Strategy interface {
	// Preprocess builds the document to store for src, merging with what
	// the backend already holds as the variant requires.
	Preprocess(ctx context.Context, src Source) (Document, error)

	// Read returns the whole stored document, or nil if nothing is stored.
	Read(ctx context.Context) (Document, error)

	// ReadChain returns the stored entry for key, or nil if absent.
	ReadChain(ctx context.Context, key string) (json.RawMessage, error)

	// Records returns the records a chain can be rebuilt from: the entry of
	// a single-run variant or the latest run of a multi-run variant.
	// Returns nil when nothing is stored for key.
	Records(ctx context.Context, key string) ([]*record.Record, error)

	// Write preprocesses src and stores the result.
	Write(ctx context.Context, src Source) error
}

// Sentinel errors for persistence.
var (
	// ErrBackendClosed indicates the backend has been closed.
	ErrBackendClosed = errors.New("persistence backend closed")

	// ErrMalformedEntry indicates a stored entry does not have the shape the
	// strategy expects.
	ErrMalformedEntry = errors.New("malformed persisted entry")
)
