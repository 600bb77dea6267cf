package persist_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/calltree/pkg/calltree/persist"
	"github.com/randalmurphal/calltree/pkg/calltree/persist/persisttest"
	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// failingBackend returns err from every operation.
type failingBackend struct{ err error }

func (f failingBackend) Load(context.Context) (persist.Document, error) { return nil, f.err }
func (f failingBackend) Store(context.Context, persist.Document) error  { return f.err }
func (f failingBackend) Close() error                                   { return nil }

// flakyBackend fails the next failNext stores and otherwise delegates.
type flakyBackend struct {
	*persist.MemoryBackend
	failNext int
}

var errStoreFailed = errors.New("store failed")

func (f *flakyBackend) Store(ctx context.Context, doc persist.Document) error {
	if f.failNext > 0 {
		f.failNext--
		return errStoreFailed
	}
	return f.MemoryBackend.Store(ctx, doc)
}

func TestSelect_AllModes(t *testing.T) {
	tests := []struct {
		mode persist.Mode
		want any
		name string
	}{
		{persist.Mode{}, &persist.SingleRunAbsolute{}, "single-run/absolute"},
		{persist.Mode{MultiRun: true}, &persist.MultiRunAbsolute{}, "multi-run/absolute"},
		{persist.Mode{Incremental: true}, &persist.SingleRunIncremental{}, "single-run/incremental"},
		{persist.Mode{MultiRun: true, Incremental: true}, &persist.MultiRunIncremental{}, "multi-run/incremental"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := persist.Select(persist.NewMemoryBackend(), tt.mode)
			assert.IsType(t, tt.want, s)
			assert.Equal(t, tt.name, tt.mode.String())
		})
	}
}

func TestNewSelector_Options(t *testing.T) {
	b := persist.NewMemoryBackend()

	s := persist.NewSelector(b, persist.WithMultiRun(true), persist.WithIncremental(true))
	assert.Equal(t, persist.Mode{MultiRun: true, Incremental: true}, s.Mode())
	assert.IsType(t, &persist.MultiRunIncremental{}, s.Strategy())
	assert.Same(t, b, s.Backend())

	s = persist.NewSelector(b)
	assert.Equal(t, persist.Mode{}, s.Mode())
	assert.IsType(t, &persist.SingleRunAbsolute{}, s.Strategy())

	// later options win
	s = persist.NewSelector(b, persist.WithIncremental(true), persist.WithIncremental(false))
	assert.False(t, s.Mode().Incremental)
}

func TestSelector_Close(t *testing.T) {
	b := persist.NewMemoryBackend()
	s := persist.NewSelector(b)
	require.NoError(t, s.Close())

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, persist.ErrBackendClosed)
}

func TestPreprocess_SingleRunAbsolute(t *testing.T) {
	ctx := context.Background()
	s := persist.NewSelector(persist.NewMemoryBackend())

	c := &persisttest.Chain{Name: "c1"}
	doc, err := s.Preprocess(ctx, c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"c1":[]}`, mustJSON(t, doc))

	c.Add("add", 7)
	doc, err = s.Preprocess(ctx, c)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"c1":[{"function":"add","input":{"args":[],"kwargs":{}},"output":7,"errors":[],"children":[]}]}`,
		mustJSON(t, doc))
}

func TestPreprocess_DoesNotStore(t *testing.T) {
	ctx := context.Background()
	b := persist.NewMemoryBackend()
	s := persist.NewSelector(b, persist.WithMultiRun(true))

	c := &persisttest.Chain{Name: "c1", Run: "r1"}
	c.Add("add", 7)
	_, err := s.Preprocess(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, 0, b.Writes())
}

func TestSingleRunAbsolute_DropsOtherChains(t *testing.T) {
	ctx := context.Background()
	s := persist.NewSelector(persist.NewMemoryBackend())

	require.NoError(t, s.Write(ctx, &persisttest.Chain{Name: "c1"}))
	require.NoError(t, s.Write(ctx, &persisttest.Chain{Name: "c2"}))

	doc, err := s.Read(ctx)
	require.NoError(t, err)
	assert.NotContains(t, doc, "c1")
	assert.Contains(t, doc, "c2")
}

func TestIncremental_KeepsStoredBytes(t *testing.T) {
	ctx := context.Background()
	b := persist.NewMemoryBackend()
	s := persist.NewSelector(b, persist.WithIncremental(true))

	stored := `[{"function":"legacy","input":{"args":[],"kwargs":{}},"output":"kept","errors":[],"children":[],"extra":true}]`
	require.NoError(t, b.Store(ctx, persist.Document{"c1": json.RawMessage(stored)}))

	c := &persisttest.Chain{Name: "c1"}
	c.Add("overwritten?", nil)
	c.Add("add", 7)
	require.NoError(t, s.Write(ctx, c))

	entry, err := s.ReadChain(ctx, "c1")
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(entry, &items))
	require.Len(t, items, 2)
	// unknown fields survive because the first element is never re-encoded
	assert.Equal(t, true, items[0]["extra"])
	assert.Equal(t, "legacy", items[0]["function"])
	assert.Equal(t, "add", items[1]["function"])
}

func TestMultiRunIncremental_SameRunExtends(t *testing.T) {
	ctx := context.Background()
	s := persist.NewSelector(persist.NewMemoryBackend(), persist.WithMultiRun(true), persist.WithIncremental(true))

	c := &persisttest.Chain{Name: "c1", Run: "r1"}
	c.Add("add", 7)
	require.NoError(t, s.Write(ctx, c))
	c.Add("multiply", 14)
	require.NoError(t, s.Write(ctx, c))
	require.NoError(t, s.Write(ctx, c))

	entry, err := s.ReadChain(ctx, "c1")
	require.NoError(t, err)
	runs, err := record.DecodeRuns(entry)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0], 2)
}

func TestMultiRunIncremental_NewStrategyStartsNewRun(t *testing.T) {
	ctx := context.Background()
	b := persist.NewMemoryBackend()

	c := &persisttest.Chain{Name: "c1", Run: "r1"}
	c.Add("add", 7)

	first := persist.NewSelector(b, persist.WithMultiRun(true), persist.WithIncremental(true))
	require.NoError(t, first.Write(ctx, c))

	// a fresh process has no memory of r1 being the open run
	second := persist.NewSelector(b, persist.WithMultiRun(true), persist.WithIncremental(true))
	require.NoError(t, second.Write(ctx, c))

	entry, err := second.ReadChain(ctx, "c1")
	require.NoError(t, err)
	runs, err := record.DecodeRuns(entry)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestMultiRunIncremental_FailedStoreKeepsRunBoundary(t *testing.T) {
	ctx := context.Background()
	b := &flakyBackend{MemoryBackend: persist.NewMemoryBackend()}
	s := persist.NewSelector(b, persist.WithMultiRun(true), persist.WithIncremental(true))

	a := &persisttest.Chain{Name: "c1", Run: "a"}
	a.Add("a1", 1)
	require.NoError(t, s.Write(ctx, a))

	next := &persisttest.Chain{Name: "c1", Run: "b"}
	next.Add("b1", 1)
	next.Add("b2", 2)
	b.failNext = 1
	require.ErrorIs(t, s.Write(ctx, next), errStoreFailed)
	require.NoError(t, s.Write(ctx, next))

	entry, err := s.ReadChain(ctx, "c1")
	require.NoError(t, err)
	runs, err := record.DecodeRuns(entry)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Len(t, runs[0], 1)
	assert.Equal(t, "a1", runs[0][0].Function)
	require.Len(t, runs[1], 2)
	assert.Equal(t, "b1", runs[1][0].Function)
	assert.Equal(t, "b2", runs[1][1].Function)
}

func TestMultiRun_ConcurrentWritersKeepEveryChain(t *testing.T) {
	ctx := context.Background()

	for _, incremental := range []bool{false, true} {
		t.Run(fmt.Sprintf("incremental=%v", incremental), func(t *testing.T) {
			s := persist.NewSelector(persist.NewMemoryBackend(),
				persist.WithMultiRun(true), persist.WithIncremental(incremental))

			const writers, writes = 8, 20
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					c := &persisttest.Chain{Name: fmt.Sprintf("c%d", w), Run: fmt.Sprintf("r%d", w)}
					for i := 0; i < writes; i++ {
						c.Add("add", i)
						assert.NoError(t, s.Write(ctx, c))
					}
				}(w)
			}
			wg.Wait()

			doc, err := s.Read(ctx)
			require.NoError(t, err)
			assert.Len(t, doc, writers)
			for w := 0; w < writers; w++ {
				runs, err := record.DecodeRuns(doc[fmt.Sprintf("c%d", w)])
				require.NoError(t, err)
				if incremental {
					require.Len(t, runs, 1)
					assert.Len(t, runs[0], writes)
				} else {
					assert.Len(t, runs, writes)
				}
			}
		})
	}
}

func TestStrategies_PropagateBackendErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	modes := []persist.Mode{
		{}, {MultiRun: true}, {Incremental: true}, {MultiRun: true, Incremental: true},
	}

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			s := persist.Select(failingBackend{err: boom}, mode)
			c := &persisttest.Chain{Name: "c1", Run: "r1"}

			assert.ErrorIs(t, s.Write(context.Background(), c), boom)

			_, err := s.Records(context.Background(), "c1")
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestStrategies_MalformedEntry(t *testing.T) {
	ctx := context.Background()
	b := persist.NewMemoryBackend()
	require.NoError(t, b.Store(ctx, persist.Document{"c1": json.RawMessage(`{"not":"a list"}`)}))

	c := &persisttest.Chain{Name: "c1", Run: "r1"}

	for _, mode := range []persist.Mode{{MultiRun: true}, {Incremental: true}, {MultiRun: true, Incremental: true}} {
		t.Run(mode.String(), func(t *testing.T) {
			err := persist.Select(b, mode).Write(ctx, c)
			assert.ErrorIs(t, err, persist.ErrMalformedEntry)
		})
	}
}

func TestDocument_CloneAndSize(t *testing.T) {
	doc := persist.Document{"a": json.RawMessage(`[]`), "b": json.RawMessage(`[1]`)}
	assert.Equal(t, 5, doc.Size())

	c := doc.Clone()
	c["a"][0] = '{'
	assert.Equal(t, `[]`, string(doc["a"]))

	var empty persist.Document
	assert.Nil(t, empty.Clone())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
