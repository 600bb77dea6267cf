// Package persisttest provides contract tests and fixtures for persist
// backends and strategies.
package persisttest

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/calltree/pkg/calltree/persist"
	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// Chain is a fixed persist.Source.
type Chain struct {
	Name string
	Run  string
	Recs []*record.Record
}

// Key implements persist.Source.
func (c *Chain) Key() string { return c.Name }

// RunID implements persist.Source.
func (c *Chain) RunID() string { return c.Run }

// Records implements persist.Source.
func (c *Chain) Records() []*record.Record { return c.Recs }

// Add appends a completed record with the given function and output.
func (c *Chain) Add(function string, output any) *record.Record {
	r := record.New(function)
	r.Output = output
	c.Recs = append(c.Recs, r)
	return r
}

// Factory creates a fresh, empty backend.
type Factory func(t *testing.T) persist.Backend

// BackendContract runs the behaviour every Backend must provide.
func BackendContract(t *testing.T, name string, factory Factory) {
	ctx := context.Background()

	t.Run(name+"/Load_Empty", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		doc, err := b.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run(name+"/Store_and_Load", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		doc := persist.Document{
			"c1": json.RawMessage(`[{"function":"add","input":{"args":[3,4],"kwargs":{}},"output":7,"errors":[],"children":[]}]`),
			"c2": json.RawMessage(`[[],[]]`),
		}
		require.NoError(t, b.Store(ctx, doc))

		loaded, err := b.Load(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.JSONEq(t, string(doc["c1"]), string(loaded["c1"]))
		assert.JSONEq(t, string(doc["c2"]), string(loaded["c2"]))
	})

	t.Run(name+"/Store_Replaces", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		require.NoError(t, b.Store(ctx, persist.Document{"c1": json.RawMessage(`[]`)}))
		require.NoError(t, b.Store(ctx, persist.Document{"c2": json.RawMessage(`[]`)}))

		loaded, err := b.Load(ctx)
		require.NoError(t, err)
		assert.NotContains(t, loaded, "c1")
		assert.Contains(t, loaded, "c2")
	})

	t.Run(name+"/Store_Empty", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		require.NoError(t, b.Store(ctx, persist.Document{}))

		loaded, err := b.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run(name+"/DataCopy", func(t *testing.T) {
		b := factory(t)
		defer b.Close()

		entry := json.RawMessage(`["a"]`)
		require.NoError(t, b.Store(ctx, persist.Document{"c1": entry}))
		entry[2] = 'X'

		loaded, err := b.Load(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `["a"]`, string(loaded["c1"]))
	})

	t.Run(name+"/Close_ThenError", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Close())

		err := b.Store(ctx, persist.Document{})
		assert.ErrorIs(t, err, persist.ErrBackendClosed)

		_, err = b.Load(ctx)
		assert.ErrorIs(t, err, persist.ErrBackendClosed)
	})
}

// StrategyContract runs the strategy matrix against backends from factory.
func StrategyContract(t *testing.T, name string, factory Factory) {
	ctx := context.Background()

	t.Run(name+"/SingleRunAbsolute", func(t *testing.T) {
		b := factory(t)
		defer b.Close()
		s := persist.NewSelector(b)

		c1 := &Chain{Name: "c1", Run: "r1"}
		c1.Add("add", 7)
		c1.Add("multiply", 30)
		require.NoError(t, s.Write(ctx, c1))

		records, err := s.Records(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "add", records[0].Function)
		assert.EqualValues(t, 7, records[0].Output)

		// overwritten, not appended
		c1.Recs = c1.Recs[:1]
		require.NoError(t, s.Write(ctx, c1))
		records, err = s.Records(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run(name+"/MultiRunAbsolute", func(t *testing.T) {
		b := factory(t)
		defer b.Close()
		s := persist.NewSelector(b, persist.WithMultiRun(true))

		first := &Chain{Name: "c1", Run: "r1"}
		first.Add("add", 7)
		first.Add("multiply", 30)
		require.NoError(t, s.Write(ctx, first))

		second := &Chain{Name: "c1", Run: "r2"}
		second.Add("add", 3)
		require.NoError(t, s.Write(ctx, second))

		other := &Chain{Name: "c2", Run: "r3"}
		other.Add("subtract", 1)
		require.NoError(t, s.Write(ctx, other))

		entry, err := s.ReadChain(ctx, "c1")
		require.NoError(t, err)
		runs, err := record.DecodeRuns(entry)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Len(t, runs[0], 2)
		assert.Len(t, runs[1], 1)

		doc, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Contains(t, doc, "c1")
		assert.Contains(t, doc, "c2")

		latest, err := s.Records(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.EqualValues(t, 3, latest[0].Output)
	})

	t.Run(name+"/SingleRunIncremental", func(t *testing.T) {
		b := factory(t)
		defer b.Close()
		s := persist.NewSelector(b, persist.WithIncremental(true))

		c := &Chain{Name: "c2", Run: "r1"}
		c.Add("add", 7)
		c.Add("multiply", 30)
		require.NoError(t, s.Write(ctx, c))

		// In-memory state drifts; stored records must not be rewritten.
		c.Recs[0].Output = 999
		c.Add("subtract", 1)
		require.NoError(t, s.Write(ctx, c))

		records, err := s.Records(ctx, "c2")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.EqualValues(t, 7, records[0].Output)
		assert.Equal(t, "subtract", records[2].Function)

		// fewer records in memory than stored: nothing is removed
		c.Recs = c.Recs[:1]
		require.NoError(t, s.Write(ctx, c))
		records, err = s.Records(ctx, "c2")
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run(name+"/MultiRunIncremental", func(t *testing.T) {
		b := factory(t)
		defer b.Close()
		s := persist.NewSelector(b, persist.WithMultiRun(true), persist.WithIncremental(true))

		first := &Chain{Name: "test", Run: "r1"}
		first.Add("add", 7)
		require.NoError(t, s.Write(ctx, first))
		first.Add("multiply", 30)
		require.NoError(t, s.Write(ctx, first))

		second := &Chain{Name: "test", Run: "r2"}
		second.Add("add", 3)
		require.NoError(t, s.Write(ctx, second))

		third := &Chain{Name: "test", Run: "r3"}
		third.Add("multiply", 6)
		require.NoError(t, s.Write(ctx, third))

		entry, err := s.ReadChain(ctx, "test")
		require.NoError(t, err)
		runs, err := record.DecodeRuns(entry)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Len(t, runs[0], 2)
		assert.Len(t, runs[1], 1)
		assert.Len(t, runs[2], 1)
	})

	t.Run(name+"/ReadChain_Missing", func(t *testing.T) {
		b := factory(t)
		defer b.Close()
		s := persist.NewSelector(b)

		entry, err := s.ReadChain(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, entry)

		records, err := s.Records(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, records)

		doc, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})
}
