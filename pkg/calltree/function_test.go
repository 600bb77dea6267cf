package calltree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

func TestCall_DeferredArgumentBecomesChild(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")

	err := c.Run(context.Background(), func(ctx context.Context) error {
		got, err := As[int](m.mul.Call(ctx, m.add.Defer(3, 4), 2))
		require.NoError(t, err)
		assert.Equal(t, 14, got)
		return nil
	})
	require.NoError(t, err)

	records := c.Records()
	require.Len(t, records, 1)
	mul := records[0]
	assert.Equal(t, "multiply", mul.Function)
	assert.Equal(t, 14, mul.Output)
	assert.Equal(t, []any{7, 2}, mul.Input.Args)
	assert.Empty(t, mul.Errors)

	require.Len(t, mul.Children, 1)
	add := mul.Children[0]
	assert.Equal(t, "add", add.Function)
	assert.Equal(t, 7, add.Output)
	assert.Equal(t, []any{3, 4}, add.Input.Args)
	assert.Empty(t, add.Children)
}

func TestCall_WithoutChainsIsNotRecorded(t *testing.T) {
	m := newMath()

	got, err := As[int](m.mul.Call(context.Background(), m.add.Defer(1, 2), 3))
	require.NoError(t, err)
	assert.Equal(t, 9, got)
	assert.Zero(t, m.reg.TotalExecuted(""))
}

func TestCall_ChildrenInCallOrder(t *testing.T) {
	m := newMath()
	outer := m.reg.Register("outer", func(ctx context.Context, _ record.Input) (any, error) {
		if _, err := m.add.Call(ctx, 1, 1); err != nil {
			return nil, err
		}
		return m.mul.Call(ctx, 2, 3)
	})
	deep := m.reg.Register("deep", func(ctx context.Context, _ record.Input) (any, error) {
		return outer.Call(ctx)
	})
	c := m.reg.NewChain("c1")

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context) error {
		_, err := deep.Call(ctx)
		return err
	}))

	type visit struct {
		function string
		depth    int
	}
	var visits []visit
	record.Walk(c.Records(), func(r *record.Record, depth int) bool {
		visits = append(visits, visit{r.Function, depth})
		return true
	})
	assert.Equal(t, []visit{
		{"deep", 0},
		{"outer", 1},
		{"add", 2},
		{"multiply", 2},
	}, visits)
	assert.Equal(t, 6, c.Last().Output)
}

func TestCall_SequentialCallsAreTopLevel(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context) error {
		for i := range 3 {
			if _, err := m.add.Call(ctx, i, i); err != nil {
				return err
			}
		}
		_, err := m.mul.Call(ctx, 2, 2)
		return err
	}))

	assert.Equal(t, []string{"add", "add", "add", "multiply"}, functions(c.Records()))
	assert.Equal(t, 4, c.Total())
}

func TestCall_ErrorIsRecordedAndReturned(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")
	outer := m.reg.Register("outer", func(ctx context.Context, _ record.Input) (any, error) {
		return m.fail.Call(ctx)
	})

	var got error
	require.NoError(t, c.Run(context.Background(), func(ctx context.Context) error {
		_, got = outer.Call(ctx)
		return nil
	}))

	assert.True(t, got == errBoom, "error must be returned unchanged")
	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"boom"}, records[0].Errors)
	assert.Nil(t, records[0].Output)
	assert.True(t, records[0].Failed())
	require.Len(t, records[0].Children, 1)
	assert.Equal(t, []string{"boom"}, records[0].Children[0].Errors)
	assert.Zero(t, c.InFlight())
}

func TestCall_PanicIsRecordedAndRepanicked(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")
	ctx, scope := c.Enter(context.Background())
	defer scope.Exit(ctx)

	assert.PanicsWithValue(t, "oops", func() {
		_, _ = m.mul.Call(ctx, m.oops.Defer(), 2)
	})

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "multiply", records[0].Function)
	assert.Equal(t, []string{"panic: oops"}, records[0].Errors)
	require.Len(t, records[0].Children, 1)
	assert.Equal(t, []string{"panic: oops"}, records[0].Children[0].Errors)
	assert.Zero(t, c.InFlight())

	// The chain keeps working after a panic.
	_, err := m.add.Call(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Total())
}

func TestCall_FailedDeferredSkipsFunction(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")
	var calls atomic.Int32
	sum := m.reg.Register("sum", func(_ context.Context, in record.Input) (any, error) {
		calls.Add(1)
		return len(in.Args), nil
	})

	var err error
	require.NoError(t, c.Run(context.Background(), func(ctx context.Context) error {
		_, err = sum.Call(ctx, m.fail.Defer(), m.add.Defer(1, 1), 5)
		return nil
	}))

	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, calls.Load())

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, []any{nil, nil, 5}, records[0].Input.Args)
	assert.Equal(t, []string{"boom"}, records[0].Errors)
	// add is never evaluated once an earlier argument failed.
	assert.Equal(t, []string{"fail"}, functions(records[0].Children))
}

func TestCall_Keywords(t *testing.T) {
	m := newMath()
	greet := m.reg.Register("greet", func(_ context.Context, in record.Input) (any, error) {
		name, _ := in.Kwarg("name")
		n, _ := in.Kwarg("n")
		return fmt.Sprintf("%s x%v", name, n), nil
	})
	c := m.reg.NewChain("c1")

	require.NoError(t, c.Run(context.Background(), func(ctx context.Context) error {
		got, err := greet.CallKw(ctx, map[string]any{"name": "ada", "n": m.add.Defer(1, 2)})
		require.NoError(t, err)
		assert.Equal(t, "ada x3", got)

		got, err = m.reg.InvokeKw(ctx, "greet", map[string]any{"name": "bob"})
		require.NoError(t, err)
		assert.Equal(t, "bob x<nil>", got)
		return nil
	}))

	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, map[string]any{"name": "ada", "n": 3}, records[0].Input.Kwargs)
	assert.Empty(t, records[0].Input.Args)
	assert.Equal(t, []string{"add"}, functions(records[0].Children))
	assert.Equal(t, map[string]any{"name": "bob"}, records[1].Input.Kwargs)
}

func TestInvoke(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")
	ctx, scope := c.Enter(context.Background())
	defer scope.Exit(ctx)

	got, err := m.reg.Invoke(ctx, "add", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 1, c.Total())

	_, err = m.reg.Invoke(ctx, "nope")
	require.ErrorIs(t, err, ErrFunctionNotFound)
	var lookupErr *LookupError
	require.True(t, errors.As(err, &lookupErr))
	assert.Equal(t, "function", lookupErr.Kind)
	assert.Equal(t, "nope", lookupErr.Name)
	assert.Equal(t, 1, c.Total(), "failed lookup records nothing")
}

func TestRegister(t *testing.T) {
	reg := NewRegistry()

	t.Run("replace keeps handles", func(t *testing.T) {
		f := reg.Register("v", func(context.Context, record.Input) (any, error) { return 1, nil })
		reg.Register("v", func(context.Context, record.Input) (any, error) { return 2, nil })

		got, err := f.Call(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, got)
		assert.Equal(t, "v", f.Name())
	})

	t.Run("lookup", func(t *testing.T) {
		f, ok := reg.Function("v")
		require.True(t, ok)
		assert.Equal(t, "v", f.Name())

		_, ok = reg.Function("missing")
		assert.False(t, ok)
	})

	t.Run("invalid", func(t *testing.T) {
		assert.Panics(t, func() {
			reg.Register("", func(context.Context, record.Input) (any, error) { return nil, nil })
		})
		assert.Panics(t, func() { reg.Register("nil", nil) })
	})
}

func TestCall_BoundChains(t *testing.T) {
	reg := NewRegistry()
	audit := reg.NewChain("audit")
	var calls atomic.Int32
	charge := reg.Register("charge", func(context.Context, record.Input) (any, error) {
		calls.Add(1)
		return "ok", nil
	}, WithChains("audit", "not-registered"))

	_, err := charge.Call(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, audit.Total())
	assert.Zero(t, reg.TotalExecuted(DefaultChain))

	// Entered and bound at once: still one record and one execution.
	require.NoError(t, audit.Run(context.Background(), func(ctx context.Context) error {
		_, err := charge.Call(ctx, 20)
		return err
	}))
	assert.Equal(t, 2, audit.Total())
	assert.Equal(t, int32(2), calls.Load())

	// A bound chain registered later is picked up.
	late := reg.Register("late", func(context.Context, record.Input) (any, error) { return nil, nil },
		WithChains("later"))
	_, err = late.Call(context.Background())
	require.NoError(t, err)
	laterChain := reg.NewChain("later")
	_, err = late.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, laterChain.Total())
}

func TestCall_MultipleChainsExecuteOnce(t *testing.T) {
	m := newMath()
	c1 := m.reg.NewChain("c1")
	c2 := m.reg.NewChain("c2")
	var calls atomic.Int32
	count := m.reg.Register("count", func(context.Context, record.Input) (any, error) {
		return int(calls.Add(1)), nil
	})

	ctx, s1 := c1.Enter(context.Background())
	ctx, s2 := c2.Enter(ctx)
	ctx, s3 := c1.Enter(ctx)
	_, err := m.add.Call(ctx, count.Defer(), 0)
	require.NoError(t, err)
	require.NoError(t, s3.Exit(ctx))
	require.NoError(t, s2.Exit(ctx))
	require.NoError(t, s1.Exit(ctx))

	assert.Equal(t, int32(1), calls.Load())
	r1, r2 := c1.Records(), c2.Records()
	require.Len(t, r1, 1)
	require.Len(t, r2, 1)
	assert.NotSame(t, r1[0], r2[0])
	assert.Equal(t, r1[0].Output, r2[0].Output)
	assert.Equal(t, []string{"count"}, functions(r1[0].Children))
	assert.Equal(t, []string{"count"}, functions(r2[0].Children))
}

func TestCall_ConcurrentOnSharedChain(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("shared")
	ctx, scope := c.Enter(context.Background())
	defer scope.Exit(ctx)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.mul.Call(ctx, m.add.Defer(i, 1), 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records := c.Records()
	require.Len(t, records, n)
	for _, r := range records {
		assert.Equal(t, "multiply", r.Function)
		require.Len(t, r.Children, 1)
		assert.Equal(t, r.Children[0].Output.(int)*2, r.Output)
	}
	assert.Zero(t, c.InFlight())
}

func TestCall_ContextsAreIsolated(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")
	ctx, scope := c.Enter(context.Background())
	defer scope.Exit(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.add.Call(context.Background(), 1, 1)
	}()
	<-done

	assert.Zero(t, c.Total())
}

func TestCall_SavedContextAfterReturnIsTopLevel(t *testing.T) {
	m := newMath()
	c := m.reg.NewChain("c1")

	var saved context.Context
	outer := m.reg.Register("outer", func(ctx context.Context, _ record.Input) (any, error) {
		saved = ctx
		return "done", nil
	})

	release := make(chan struct{})
	finished := make(chan struct{})
	spawn := m.reg.Register("spawn", func(ctx context.Context, _ record.Input) (any, error) {
		go func() {
			defer close(finished)
			<-release
			_, _ = m.mul.Call(ctx, 2, 3)
		}()
		return nil, nil
	})

	err := c.Run(context.Background(), func(ctx context.Context) error {
		if _, err := outer.Call(ctx); err != nil {
			return err
		}
		if _, err := spawn.Call(ctx); err != nil {
			return err
		}

		got, err := As[int](m.add.Call(saved, 1, 2))
		require.NoError(t, err)
		assert.Equal(t, 3, got)

		close(release)
		<-finished
		return nil
	})
	require.NoError(t, err)

	records := c.Records()
	assert.Equal(t, []string{"outer", "spawn", "add", "multiply"}, functions(records))
	assert.Empty(t, records[0].Children, "closed record gained a child")
	assert.Empty(t, records[1].Children, "closed record gained a child")
	assert.Equal(t, 0, c.InFlight())
}

func TestTypedAdapters(t *testing.T) {
	ctx := context.Background()

	t.Run("Fn0", func(t *testing.T) {
		fn := Fn0(func(context.Context) (string, error) { return "x", nil })
		got, err := fn(ctx, record.Input{})
		require.NoError(t, err)
		assert.Equal(t, "x", got)
	})

	t.Run("Fn1 wrong type", func(t *testing.T) {
		fn := Fn1(func(_ context.Context, s string) (int, error) { return len(s), nil })
		_, err := fn(ctx, record.Input{Args: []any{42}})
		require.ErrorIs(t, err, ErrInvalidArgument)
		var argErr *ArgumentError
		require.True(t, errors.As(err, &argErr))
		assert.Equal(t, 0, argErr.Index)
		assert.Equal(t, "string", argErr.Want)
		assert.Equal(t, 42, argErr.Got)
		assert.False(t, argErr.Missing)
		assert.Equal(t, "argument 0: got int, want string", err.Error())
	})

	t.Run("Fn2 missing", func(t *testing.T) {
		fn := Fn2(func(_ context.Context, a, b int) (int, error) { return a + b, nil })
		_, err := fn(ctx, record.Input{Args: []any{1}})
		var argErr *ArgumentError
		require.True(t, errors.As(err, &argErr))
		assert.Equal(t, 1, argErr.Index)
		assert.True(t, argErr.Missing)
		assert.Equal(t, "argument 1: missing, want int", err.Error())
	})

	t.Run("Fn3", func(t *testing.T) {
		fn := Fn3(func(_ context.Context, a int, b string, c error) (string, error) {
			return fmt.Sprintf("%d%s%v", a, b, c), nil
		})
		got, err := fn(ctx, record.Input{Args: []any{1, "b", nil}})
		require.NoError(t, err)
		assert.Equal(t, "1b<nil>", got)
	})

	t.Run("Fn1 propagates error", func(t *testing.T) {
		fn := Fn1(func(context.Context, int) (int, error) { return 0, errBoom })
		_, err := fn(ctx, record.Input{Args: []any{1}})
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestAs(t *testing.T) {
	got, err := As[int](7, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	_, err = As[string](7, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = As[int](nil, errBoom)
	assert.ErrorIs(t, err, errBoom)

	got, err = As[int](nil, nil)
	require.NoError(t, err)
	assert.Zero(t, got)
}
