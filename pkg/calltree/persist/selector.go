package persist

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// Mode is the (multi-run, incremental) flag pair that picks a strategy.
type Mode struct {
	MultiRun    bool
	Incremental bool
}

// String returns a human readable name such as "multi-run/incremental".
func (m Mode) String() string {
	runs, merge := "single-run", "absolute"
	if m.MultiRun {
		runs = "multi-run"
	}
	if m.Incremental {
		merge = "incremental"
	}
	return runs + "/" + merge
}

func (m Mode) index() int {
	i := 0
	if m.MultiRun {
		i |= 2
	}
	if m.Incremental {
		i |= 1
	}
	return i
}

// variants is indexed by Mode.index. Every flag pair has an entry, so
// selection cannot fail.
var variants = [4]func(Backend) Strategy{
	func(b Backend) Strategy { return &SingleRunAbsolute{newBase(b)} },
	func(b Backend) Strategy { return &SingleRunIncremental{newBase(b)} },
	func(b Backend) Strategy { return &MultiRunAbsolute{newBase(b)} },
	func(b Backend) Strategy {
		return &MultiRunIncremental{base: newBase(b), lastRun: make(map[string]string)}
	},
}

// Select returns the strategy for mode over backend.
func Select(backend Backend, mode Mode) Strategy {
	return variants[mode.index()](backend)
}

// Selector resolves a Mode to a strategy once, at construction, and
// delegates to it.
type Selector struct {
	mode     Mode
	backend  Backend
	strategy Strategy
}

// Compile-time interface check.
var _ Strategy = (*Selector)(nil)

// Option configures a Selector.
type Option func(*Mode)

// WithMultiRun keeps every write as a separate run.
// Default: false
func WithMultiRun(multiRun bool) Option {
	return func(m *Mode) {
		m.MultiRun = multiRun
	}
}

// WithIncremental appends only new records instead of rewriting.
// Default: false
func WithIncremental(incremental bool) Option {
	return func(m *Mode) {
		m.Incremental = incremental
	}
}

// NewSelector creates a Selector over backend. backend must not be nil.
//
// Example:
//
//	store := persist.NewSelector(jsonfile.New("runs.json"),
//	    persist.WithMultiRun(true),
//	    persist.WithIncremental(true))
func NewSelector(backend Backend, opts ...Option) *Selector {
	var mode Mode
	for _, opt := range opts {
		opt(&mode)
	}
	return &Selector{
		mode:     mode,
		backend:  backend,
		strategy: Select(backend, mode),
	}
}

// Mode returns the flag pair the selector was built with.
func (s *Selector) Mode() Mode {
	return s.mode
}

// Strategy returns the resolved strategy.
func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// Backend returns the underlying backend.
func (s *Selector) Backend() Backend {
	return s.backend
}

// Preprocess implements Strategy.
func (s *Selector) Preprocess(ctx context.Context, src Source) (Document, error) {
	return s.strategy.Preprocess(ctx, src)
}

// Read implements Strategy.
func (s *Selector) Read(ctx context.Context) (Document, error) {
	return s.strategy.Read(ctx)
}

// ReadChain implements Strategy.
func (s *Selector) ReadChain(ctx context.Context, key string) (json.RawMessage, error) {
	return s.strategy.ReadChain(ctx, key)
}

// Records implements Strategy.
func (s *Selector) Records(ctx context.Context, key string) ([]*record.Record, error) {
	return s.strategy.Records(ctx, key)
}

// Write implements Strategy.
func (s *Selector) Write(ctx context.Context, src Source) error {
	return s.strategy.Write(ctx, src)
}

// Close closes the backend.
func (s *Selector) Close() error {
	return s.backend.Close()
}
