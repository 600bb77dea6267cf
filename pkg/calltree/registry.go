package calltree

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/calltree/pkg/calltree/observability"
	"github.com/randalmurphal/calltree/pkg/calltree/persist"
	"github.com/randalmurphal/calltree/pkg/calltree/query"
	"github.com/randalmurphal/calltree/pkg/calltree/record"
	"github.com/randalmurphal/calltree/pkg/calltree/registry"
)

// DefaultChain is the name of the chain every Registry creates.
// Registry helpers given an empty chain name operate on it.
const DefaultChain = "default"

// Registry owns the named chains and the registered functions.
//
// A Registry is safe for concurrent use. Create one per process (or per
// test) and pass it to whatever registers or calls functions.
type Registry struct {
	chains    *registry.Table[string, *Chain]
	functions *registry.Table[string, registration]
	queries   *query.Executor

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	metricsEnabled bool
	spans          observability.SpanManager
}

// NewRegistry creates a registry holding only the default chain.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		chains:    registry.New[string, *Chain](),
		functions: registry.New[string, registration](),
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(r)
	}

	loader := func(_ context.Context, name string) (query.Target, bool) {
		c, ok := r.chains.Get(name)
		if !ok {
			return nil, false
		}
		return c, true
	}
	queries := query.NewRegistry()
	if err := query.RegisterBuiltins(queries, loader); err != nil {
		// Fresh registry; names cannot collide.
		panic(err)
	}
	r.queries = query.NewExecutor(queries, loader)

	r.NewChain(DefaultChain)
	return r
}

// NewChain creates a chain. A non-empty name registers it, replacing any
// chain already registered under that name. An empty name creates an
// anonymous chain that records only while entered.
func (r *Registry) NewChain(name string, opts ...ChainOption) *Chain {
	return r.publish(newChain(r, name, opts...))
}

// publish registers a named chain. c must be fully built: once registered
// it is visible to concurrent calls.
func (r *Registry) publish(c *Chain) *Chain {
	if c.name != "" {
		if r.chains.Register(c.name, c) {
			c.logger.Debug("chain replaced")
		}
	}
	return c
}

// Chain returns the chain registered under name ("" means the default).
func (r *Registry) Chain(name string) (*Chain, bool) {
	return r.chains.Get(chainName(name))
}

// Chains returns the registered chain names in ascending order.
func (r *Registry) Chains() []string {
	return r.chains.Keys()
}

// RemoveChain unregisters the chain named name. The default chain cannot
// be removed. An active scope of a removed chain stops recording.
func (r *Registry) RemoveChain(name string) bool {
	if name == "" || name == DefaultChain {
		return false
	}
	c, ok := r.chains.Get(name)
	if !ok {
		return false
	}
	return r.chains.DeleteFunc(name, func(cur *Chain) bool { return cur == c })
}

// Records returns the current top-level records of the named chain, or nil
// if no such chain exists.
func (r *Registry) Records(name string) []*record.Record {
	if c, ok := r.Chain(name); ok {
		return c.Records()
	}
	return nil
}

// History returns every top-level record ever completed on the named chain.
func (r *Registry) History(name string) []*record.Record {
	if c, ok := r.Chain(name); ok {
		return c.History()
	}
	return nil
}

// LastExecuted returns the named chain's most recent top-level record.
func (r *Registry) LastExecuted(name string) *record.Record {
	if c, ok := r.Chain(name); ok {
		return c.Last()
	}
	return nil
}

// TotalExecuted returns the number of top-level records on the named chain.
func (r *Registry) TotalExecuted(name string) int {
	if c, ok := r.Chain(name); ok {
		return c.Total()
	}
	return 0
}

// SearchHistory returns the records of the named chain's history, at any
// depth, whose function matches.
func (r *Registry) SearchHistory(function, name string) []*record.Record {
	if c, ok := r.Chain(name); ok {
		return c.Search(function)
	}
	return nil
}

// ClearRecords drops the named chain's top-level records.
func (r *Registry) ClearRecords(name string) {
	if c, ok := r.Chain(name); ok {
		c.Clear()
	}
}

// RestoreLast restores the named chain to its latest checkpoint. An unknown
// chain is a no-op.
func (r *Registry) RestoreLast(name string) error {
	if c, ok := r.Chain(name); ok {
		return c.RestoreLast()
	}
	return nil
}

// Query runs a named query (see package query) against the named chain.
func (r *Registry) Query(ctx context.Context, chain, queryName string, args any) (any, error) {
	return r.queries.Execute(ctx, chainName(chain), queryName, args)
}

// Queries returns the query handler registry, for registering custom
// queries.
func (r *Registry) Queries() *query.Registry {
	return r.queries.Registry()
}

// FromPersisted rebuilds the named chain from the records strategy holds
// for it (the latest run, for multi-run strategies) and registers it with
// strategy attached. Returns (nil, nil) when nothing is stored.
func (r *Registry) FromPersisted(ctx context.Context, name string, strategy persist.Strategy) (*Chain, error) {
	records, err := strategy.Records(ctx, name)
	if err != nil {
		return nil, err
	}
	if records == nil {
		return nil, nil
	}

	c := newChain(r, name, WithStrategy(strategy))
	c.records = records
	c.history = append([]*record.Record(nil), records...)
	r.publish(c)
	c.logger.Debug("chain loaded", slog.Int("records", len(records)))
	return c, nil
}

// resolve returns the chains that must record a call: the active chains of
// ctx (outermost first) followed by the named ones, each at most once.
//
// A named chain missing from the registry is skipped. An active chain is
// skipped when it belongs to another registry, or when it is named but no
// longer registered under that name.
func (r *Registry) resolve(ctx context.Context, named []string) []*Chain {
	active := activeChains(ctx)
	if len(active) == 0 && len(named) == 0 {
		return nil
	}

	out := make([]*Chain, 0, len(active)+len(named))
	add := func(c *Chain) {
		for _, have := range out {
			if have == c {
				return
			}
		}
		out = append(out, c)
	}

	for _, c := range active {
		if c.registry != r {
			continue
		}
		if c.name != "" {
			if cur, ok := r.chains.Get(c.name); !ok || cur != c {
				continue
			}
		}
		add(c)
	}
	for _, name := range named {
		if c, ok := r.chains.Get(name); ok {
			add(c)
		}
	}
	return out
}

func chainName(name string) string {
	if name == "" {
		return DefaultChain
	}
	return name
}
