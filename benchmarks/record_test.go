package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/calltree/pkg/calltree"
)

type funcs struct {
	reg  *calltree.Registry
	add  *calltree.Function
	tree *calltree.Function
}

// newFuncs registers add and tree; tree(n) calls add n times.
func newFuncs() funcs {
	reg := calltree.NewRegistry()
	f := funcs{reg: reg}
	f.add = reg.Register("add", calltree.Fn2(func(_ context.Context, a, b int) (int, error) {
		return a + b, nil
	}))
	f.tree = reg.Register("tree", calltree.Fn1(func(ctx context.Context, n int) (int, error) {
		sum := 0
		for i := 0; i < n; i++ {
			v, err := calltree.As[int](f.add.Call(ctx, sum, i))
			if err != nil {
				return 0, err
			}
			sum = v
		}
		return sum, nil
	}))
	return f
}

// BenchmarkCall_Passthrough calls a registered function with no chain active.
func BenchmarkCall_Passthrough(b *testing.B) {
	f := newFuncs()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.add.Call(ctx, i, 1)
	}
}

// BenchmarkCall_Recorded records one flat call per iteration.
func BenchmarkCall_Recorded(b *testing.B) {
	f := newFuncs()
	chain := f.reg.NewChain("bench")
	ctx, scope := chain.Enter(context.Background())
	defer scope.Exit(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.add.Call(ctx, i, 1)
		if i%1000 == 999 {
			chain.Clear()
		}
	}
}

// BenchmarkCall_Nested_10 records a call with 10 children.
func BenchmarkCall_Nested_10(b *testing.B) {
	f := newFuncs()
	chain := f.reg.NewChain("bench")
	ctx, scope := chain.Enter(context.Background())
	defer scope.Exit(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.tree.Call(ctx, 10)
		if i%100 == 99 {
			chain.Clear()
		}
	}
}

// BenchmarkCall_Deferred records a call whose argument is a deferred call.
func BenchmarkCall_Deferred(b *testing.B) {
	f := newFuncs()
	chain := f.reg.NewChain("bench")
	ctx, scope := chain.Enter(context.Background())
	defer scope.Exit(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.add.Call(ctx, f.add.Defer(i, 1), 2)
		if i%1000 == 999 {
			chain.Clear()
		}
	}
}

// BenchmarkCall_ThreeChains records every call into three nested chains.
func BenchmarkCall_ThreeChains(b *testing.B) {
	f := newFuncs()
	ctx := context.Background()
	var chains []*calltree.Chain
	for _, name := range []string{"a", "b", "c"} {
		chain := f.reg.NewChain(name)
		var scope *calltree.Scope
		ctx, scope = chain.Enter(ctx)
		defer scope.Exit(ctx)
		chains = append(chains, chain)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.add.Call(ctx, i, 1)
		if i%1000 == 999 {
			for _, c := range chains {
				c.Clear()
			}
		}
	}
}

// BenchmarkCall_Parallel records from concurrent goroutines into one chain.
func BenchmarkCall_Parallel(b *testing.B) {
	f := newFuncs()
	chain := f.reg.NewChain("bench")
	ctx, scope := chain.Enter(context.Background())
	defer scope.Exit(ctx)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = f.add.Call(ctx, i, 1)
			i++
		}
	})
}
