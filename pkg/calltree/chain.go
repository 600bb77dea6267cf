package calltree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/calltree/pkg/calltree/observability"
	"github.com/randalmurphal/calltree/pkg/calltree/persist"
	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// Chain records the call trees of the registered functions it is
// responsible for, together with its checkpoints.
//
// A Chain is safe for concurrent use. Its mutex guards bookkeeping only and
// is never held while a recorded function runs.
type Chain struct {
	name     string
	id       string
	registry *Registry
	strategy persist.Strategy
	logger   *slog.Logger

	mu          sync.Mutex
	records     []*record.Record
	history     []*record.Record
	checkpoints []int

	inflight atomic.Int64
}

func newChain(r *Registry, name string, opts ...ChainOption) *Chain {
	c := &Chain{
		name:     name,
		id:       uuid.Must(uuid.NewV7()).String(),
		registry: r,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.EnrichLogger(r.logger, c.Key(), c.id)
	return c
}

// Name returns the chain name; empty for anonymous chains.
func (c *Chain) Name() string { return c.name }

// ID returns the chain's unique ID.
func (c *Chain) ID() string { return c.id }

// Key returns the document key the chain persists under: its name, or its
// ID when anonymous.
func (c *Chain) Key() string {
	if c.name == "" {
		return c.id
	}
	return c.name
}

// RunID identifies this chain instance to multi-run incremental strategies.
func (c *Chain) RunID() string { return c.id }

// Strategy returns the persistence strategy, or nil.
func (c *Chain) Strategy() persist.Strategy { return c.strategy }

// Records returns a copy of the current top-level records.
func (c *Chain) Records() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*record.Record{}, c.records...)
}

// History returns every top-level record completed on this chain,
// including those dropped by Restore or Clear.
func (c *Chain) History() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*record.Record{}, c.history...)
}

// Checkpoints returns a copy of the checkpoint offsets.
func (c *Chain) Checkpoints() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int{}, c.checkpoints...)
}

// Last returns the most recent top-level record, or nil.
func (c *Chain) Last() *record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return nil
	}
	return c.records[len(c.records)-1]
}

// Total returns the number of top-level records.
func (c *Chain) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Search returns the records in the history, at any depth and in pre-order,
// whose function is function.
func (c *Chain) Search(function string) []*record.Record {
	return record.Find(c.History(), function)
}

// Clear drops the top-level records. History and checkpoints are kept.
func (c *Chain) Clear() {
	c.mu.Lock()
	c.records = nil
	c.mu.Unlock()
	c.logger.Debug("records cleared")
}

// InFlight returns the number of records currently open on this chain.
func (c *Chain) InFlight() int {
	return int(c.inflight.Load())
}

// Checkpoint marks the current records as committed and, when a strategy
// is configured, persists them. The offset is kept even if the write fails.
func (c *Chain) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	offset := len(c.records) - 1
	c.checkpoints = append(c.checkpoints, offset)
	index := len(c.checkpoints) - 1
	c.mu.Unlock()

	observability.LogCheckpoint(c.logger, index, offset)
	c.registry.spans.AddSpanEvent(ctx, "calltree.checkpoint",
		attribute.String("calltree.chain", c.Key()),
		attribute.Int("calltree.checkpoint.index", index),
		attribute.Int("calltree.checkpoint.offset", offset),
	)
	return c.persist(ctx, "checkpoint")
}

// Restore truncates the records back to checkpoint index. The checkpoint
// list itself is left as is.
func (c *Chain) Restore(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.checkpoints) {
		count := len(c.checkpoints)
		c.mu.Unlock()
		return &RestoreError{Chain: c.Key(), Index: index, Count: count}
	}
	keep := min(c.checkpoints[index]+1, len(c.records))
	dropped := len(c.records) - keep
	c.records = c.records[:keep:keep]
	c.mu.Unlock()

	observability.LogRestore(c.logger, index, dropped)
	// Restore is in-memory only and takes no context; the metric carries none.
	c.registry.metrics.RecordRestore(context.Background(), c.Key(), int64(dropped))
	return nil
}

// RestoreLast restores to the latest checkpoint.
func (c *Chain) RestoreLast() error {
	c.mu.Lock()
	n := len(c.checkpoints)
	c.mu.Unlock()
	return c.Restore(n - 1)
}

// Persist writes the records through the chain's strategy. It is a no-op
// without one.
func (c *Chain) Persist(ctx context.Context) error {
	return c.persist(ctx, "persist")
}

func (c *Chain) persist(ctx context.Context, op string) error {
	if c.strategy == nil {
		return nil
	}

	elapsed := observability.TimedOperation()
	if err := c.strategy.Write(ctx, c.freeze()); err != nil {
		observability.LogPersistError(c.logger, op, err)
		c.registry.metrics.RecordPersist(ctx, c.Key(), 0, err)
		return &PersistError{Chain: c.Key(), Op: op, Err: err}
	}

	if c.registry.metricsEnabled {
		var size int64
		if raw, err := c.strategy.ReadChain(ctx, c.Key()); err == nil {
			size = int64(len(raw))
		}
		c.registry.metrics.RecordPersist(ctx, c.Key(), size, nil)
	}
	observability.LogPersist(c.logger, strategyName(c.strategy), c.Total(), elapsed())
	return nil
}

// frozen is a persistence source holding deep copies of a chain's records.
type frozen struct {
	key     string
	run     string
	records []*record.Record
}

func (f frozen) Key() string               { return f.key }
func (f frozen) RunID() string             { return f.run }
func (f frozen) Records() []*record.Record { return f.records }

// freeze copies the records under the mutex, so strategies encode them
// while calls still in flight keep writing their own records.
func (c *Chain) freeze() frozen {
	c.mu.Lock()
	defer c.mu.Unlock()
	records := make([]*record.Record, len(c.records))
	for i, r := range c.records {
		records[i] = r.Clone()
	}
	return frozen{key: c.Key(), run: c.RunID(), records: records}
}

func strategyName(s persist.Strategy) string {
	if m, ok := s.(interface{ Mode() persist.Mode }); ok {
		return m.Mode().String()
	}
	return fmt.Sprintf("%T", s)
}

// open registers rec as in flight. When parent is still open, rec becomes
// its child and open reports true.
func (c *Chain) open(rec *record.Record, parent *frame) bool {
	c.inflight.Add(1)
	if parent == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if parent.closed {
		return false
	}
	parent.rec.Children = append(parent.rec.Children, rec)
	return true
}

// snapshot stores the call input on rec.
func (c *Chain) snapshot(rec *record.Record, in record.Input) {
	c.mu.Lock()
	rec.Input = in
	c.mu.Unlock()
}

// close captures the outcome on the frame's record and closes the frame.
// Top-level records are appended to the records and the history.
func (c *Chain) close(f *frame, output any, err error, top bool) {
	c.mu.Lock()
	f.closed = true
	rec := f.rec
	if err != nil {
		rec.Errors = append(rec.Errors, err.Error())
	} else {
		rec.Output = output
	}
	if top {
		c.records = append(c.records, rec)
		c.history = append(c.history, rec)
	}
	c.mu.Unlock()
	c.inflight.Add(-1)
}
