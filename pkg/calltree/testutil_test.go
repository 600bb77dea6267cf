package calltree

import (
	"context"
	"errors"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

var errBoom = errors.New("boom")

// mathFuncs holds the functions registered by newMath.
type mathFuncs struct {
	reg  *Registry
	add  *Function
	mul  *Function
	fail *Function
	oops *Function
}

// newMath registers add, multiply, fail (returns errBoom) and oops (panics).
func newMath(opts ...RegistryOption) mathFuncs {
	reg := NewRegistry(opts...)
	return mathFuncs{
		reg: reg,
		add: reg.Register("add", Fn2(func(_ context.Context, a, b int) (int, error) {
			return a + b, nil
		})),
		mul: reg.Register("multiply", Fn2(func(_ context.Context, a, b int) (int, error) {
			return a * b, nil
		})),
		fail: reg.Register("fail", func(context.Context, record.Input) (any, error) {
			return nil, errBoom
		}),
		oops: reg.Register("oops", func(context.Context, record.Input) (any, error) {
			panic("oops")
		}),
	}
}

// functions returns the function names of records, in order.
func functions(records []*record.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Function)
	}
	return out
}
