package calltree

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"runtime/debug"
	"slices"
	"time"

	"github.com/randalmurphal/calltree/pkg/calltree/observability"
	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// Func is a function the registry can record.
// in holds the positional and keyword arguments of the call, with every
// Deferred argument already evaluated.
type Func func(ctx context.Context, in record.Input) (any, error)

type registration struct {
	fn     Func
	chains []string
}

// Function is a registered function. Calls through it are recorded on the
// chains responsible for them.
type Function struct {
	registry *Registry
	name     string
}

// Register stores fn under name and returns its handle. Registering a name
// again replaces the function; existing handles call the new one.
//
// Panics if name is empty or fn is nil.
func (r *Registry) Register(name string, fn Func, opts ...FuncOption) *Function {
	if name == "" {
		panic("calltree: function name is required")
	}
	if fn == nil {
		panic("calltree: function is nil: " + name)
	}

	reg := registration{fn: fn}
	for _, opt := range opts {
		opt(&reg)
	}
	if r.functions.Register(name, reg) {
		r.logger.Debug("function replaced", slog.String("function", name))
	}
	return &Function{registry: r, name: name}
}

// Function returns the handle of the function registered under name.
func (r *Registry) Function(name string) (*Function, bool) {
	if !r.functions.Has(name) {
		return nil, false
	}
	return &Function{registry: r, name: name}, true
}

// Invoke calls the function registered under name with positional args.
func (r *Registry) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	return r.call(ctx, name, args, nil)
}

// InvokeKw calls the function registered under name with keyword and
// positional args.
func (r *Registry) InvokeKw(ctx context.Context, name string, kwargs map[string]any, args ...any) (any, error) {
	return r.call(ctx, name, args, kwargs)
}

// Name returns the registered name.
func (f *Function) Name() string { return f.name }

// Call invokes the function with positional args.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.registry.call(ctx, f.name, args, nil)
}

// CallKw invokes the function with keyword and positional args.
func (f *Function) CallKw(ctx context.Context, kwargs map[string]any, args ...any) (any, error) {
	return f.registry.call(ctx, f.name, args, kwargs)
}

// Defer returns a pending call of the function. Passed as an argument to
// another call, it is evaluated inside that call and recorded as its child:
//
//	mul.Call(ctx, add.Defer(3, 4), 2) // multiply(add(3, 4), 2)
func (f *Function) Defer(args ...any) Deferred {
	return Deferred{fn: f, args: args}
}

// DeferKw is Defer with keyword args.
func (f *Function) DeferKw(kwargs map[string]any, args ...any) Deferred {
	return Deferred{fn: f, args: args, kwargs: kwargs}
}

// Deferred is a pending call created by Function.Defer.
type Deferred struct {
	fn     *Function
	args   []any
	kwargs map[string]any
}

// Call evaluates the pending call.
func (d Deferred) Call(ctx context.Context) (any, error) {
	return d.fn.registry.call(ctx, d.fn.name, d.args, d.kwargs)
}

// call is the recording path shared by every entry point.
func (r *Registry) call(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	reg, ok := r.functions.Get(name)
	if !ok {
		return nil, &LookupError{Kind: "function", Name: name, Err: ErrFunctionNotFound}
	}

	chains := r.resolve(ctx, reg.chains)
	if len(chains) == 0 {
		in, err := resolveInput(ctx, args, kwargs)
		if err != nil {
			return nil, err
		}
		return reg.fn(ctx, in)
	}
	return r.record(ctx, name, reg.fn, chains, args, kwargs)
}

// opened is a record begun on a chain by the current call.
type opened struct {
	chain *Chain
	frame *frame
	top   bool
}

func (r *Registry) record(ctx context.Context, name string, fn Func, chains []*Chain, args []any, kwargs map[string]any) (out any, err error) {
	ctx, calls := begin(ctx, name, chains)
	ctx, span := r.spans.StartCallSpan(ctx, chains[0].Key(), name)
	start := time.Now()

	finished := false
	defer func() {
		if v := recover(); v != nil {
			if !finished {
				perr := &PanicError{Function: name, Value: v, Stack: string(debug.Stack())}
				r.end(ctx, name, calls, nil, perr, time.Since(start))
				r.spans.EndSpanWithError(span, perr)
			}
			panic(v)
		}
	}()

	in, err := resolveInput(ctx, args, kwargs)
	for _, call := range calls {
		call.chain.snapshot(call.frame.rec, copyInput(in))
	}
	if err == nil {
		out, err = fn(ctx, in)
	}

	finished = true
	r.end(ctx, name, calls, out, err, time.Since(start))
	r.spans.EndSpanWithError(span, err)
	return out, err
}

// begin opens a record on every chain and returns the context carrying the
// new frames. A parent frame whose call already returned is ignored.
func begin(ctx context.Context, name string, chains []*Chain) (context.Context, []opened) {
	parents := framesFrom(ctx)
	frames := make(map[*Chain]*frame, len(parents)+len(chains))
	maps.Copy(frames, parents)

	calls := make([]opened, 0, len(chains))
	for _, c := range chains {
		f := &frame{rec: record.New(name)}
		parent := parents[c]
		nested := c.open(f.rec, parent)
		if nested {
			f.depth = parent.depth + 1
		}
		frames[c] = f
		calls = append(calls, opened{chain: c, frame: f, top: !nested})
		observability.LogCallStart(c.logger, name, f.depth)
	}
	return context.WithValue(ctx, framesKey{}, frames), calls
}

func (r *Registry) end(ctx context.Context, name string, calls []opened, out any, err error, elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000.0
	for _, call := range calls {
		call.chain.close(call.frame, out, err, call.top)
		if err != nil {
			observability.LogCallError(call.chain.logger, name, err, ms)
		} else {
			observability.LogCallComplete(call.chain.logger, name, ms)
		}
		r.metrics.RecordCall(ctx, call.chain.Key(), name, elapsed, err)
	}
}

// resolveInput evaluates Deferred arguments, positional first and then
// keyword arguments by name. Evaluation stops at the first failure; that
// argument and any not yet evaluated are left nil.
func resolveInput(ctx context.Context, args []any, kwargs map[string]any) (record.Input, error) {
	in := record.Input{
		Args:   make([]any, len(args)),
		Kwargs: make(map[string]any, len(kwargs)),
	}

	var failed error
	eval := func(v any) any {
		d, ok := v.(Deferred)
		if !ok {
			return v
		}
		if failed != nil {
			return nil
		}
		out, err := d.Call(ctx)
		if err != nil {
			failed = err
			return nil
		}
		return out
	}

	for i, v := range args {
		in.Args[i] = eval(v)
	}
	for _, k := range slices.Sorted(maps.Keys(kwargs)) {
		in.Kwargs[k] = eval(kwargs[k])
	}
	return in, failed
}

func copyInput(in record.Input) record.Input {
	return record.Input{
		Args:   slices.Clone(in.Args),
		Kwargs: maps.Clone(in.Kwargs),
	}
}

// Fn0 adapts a function without arguments.
func Fn0[R any](fn func(context.Context) (R, error)) Func {
	return func(ctx context.Context, _ record.Input) (any, error) {
		return fn(ctx)
	}
}

// Fn1 adapts a function of one positional argument.
func Fn1[A, R any](fn func(context.Context, A) (R, error)) Func {
	return func(ctx context.Context, in record.Input) (any, error) {
		a, err := arg[A](in, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

// Fn2 adapts a function of two positional arguments.
//
// Example:
//
//	add := reg.Register("add", calltree.Fn2(func(_ context.Context, a, b int) (int, error) {
//	    return a + b, nil
//	}))
func Fn2[A, B, R any](fn func(context.Context, A, B) (R, error)) Func {
	return func(ctx context.Context, in record.Input) (any, error) {
		a, err := arg[A](in, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](in, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}

// Fn3 adapts a function of three positional arguments.
func Fn3[A, B, C, R any](fn func(context.Context, A, B, C) (R, error)) Func {
	return func(ctx context.Context, in record.Input) (any, error) {
		a, err := arg[A](in, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](in, 1)
		if err != nil {
			return nil, err
		}
		c, err := arg[C](in, 2)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b, c)
	}
}

// arg returns positional argument i as a T. A nil argument is accepted
// for interface types.
func arg[T any](in record.Input, i int) (T, error) {
	var zero T
	want := reflect.TypeFor[T]().String()
	if i >= len(in.Args) {
		return zero, &ArgumentError{Index: i, Want: want, Missing: true}
	}
	v := in.Args[i]
	if t, ok := v.(T); ok {
		return t, nil
	}
	if v == nil && reflect.TypeFor[T]().Kind() == reflect.Interface {
		return zero, nil
	}
	return zero, &ArgumentError{Index: i, Want: want, Got: v}
}

// As converts the result of a call to R.
//
//	sum, err := calltree.As[int](add.Call(ctx, 3, 4))
func As[R any](v any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("%w: result is %T, want %s", ErrInvalidArgument, v, reflect.TypeFor[R]())
	}
	return out, nil
}
