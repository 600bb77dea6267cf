// Package query provides read-only inspection of recorded chains.
//
// Queries retrieve information from a chain without modifying it and
// without touching persistence. They are synchronous and return a result
// immediately. Handlers are registered by name, so callers can add their
// own next to the built-ins:
//
//	queries := query.NewRegistry()
//	_ = query.RegisterBuiltins(queries, loader)
//	exec := query.NewExecutor(queries, loader)
//
//	n, err := exec.Execute(ctx, "checkout", query.QueryTotal, nil)
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

// Handler executes a query and returns a result.
// Handlers must not modify the target.
type Handler func(ctx context.Context, target string, args any) (any, error)

// Target is the queryable view of a chain.
type Target interface {
	// Last returns the most recent top-level record, or nil.
	Last() *record.Record
	// Total returns the number of top-level records.
	Total() int
	// Search returns the records in the history whose function matches.
	Search(function string) []*record.Record
	// History returns every top-level record ever completed, including
	// those dropped by restore or clear.
	History() []*record.Record
	// Records returns the current top-level records.
	Records() []*record.Record
	// Checkpoints returns the checkpoint offsets.
	Checkpoints() []int
}

// Loader resolves a target name. It reports false when no such target
// exists.
type Loader func(ctx context.Context, target string) (Target, bool)

// Registry manages query handlers by query name.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a new query registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for a query name.
func (r *Registry) Register(queryName string, handler Handler) error {
	if queryName == "" {
		return errors.New("query name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[queryName]; exists {
		return fmt.Errorf("handler for query %q already registered", queryName)
	}

	r.handlers[queryName] = handler
	return nil
}

// MustRegister registers a handler, panicking on error.
func (r *Registry) MustRegister(queryName string, handler Handler) {
	if err := r.Register(queryName, handler); err != nil {
		panic(err)
	}
}

// Get returns the handler for a query name.
func (r *Registry) Get(queryName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[queryName]
	return handler, exists
}

// List returns all registered query names in ascending order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Unregister removes a handler for a query name.
func (r *Registry) Unregister(queryName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, queryName)
}

// Query errors.
var (
	// ErrQueryNotFound is returned when a query handler doesn't exist.
	ErrQueryNotFound = errors.New("query not found")

	// ErrTargetNotFound is returned when the query target doesn't exist.
	ErrTargetNotFound = errors.New("target not found")

	// ErrInvalidArgs is returned when a query's args have the wrong shape.
	ErrInvalidArgs = errors.New("invalid query arguments")
)

// Executor runs queries against targets.
type Executor struct {
	registry *Registry
	loader   Loader
}

// NewExecutor creates a new query executor.
func NewExecutor(registry *Registry, loader Loader) *Executor {
	return &Executor{
		registry: registry,
		loader:   loader,
	}
}

// Registry returns the handler registry the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs a query against a target.
func (e *Executor) Execute(ctx context.Context, target, queryName string, args any) (any, error) {
	if target == "" {
		return nil, errors.New("target is required")
	}
	if queryName == "" {
		return nil, errors.New("query name is required")
	}

	handler, exists := e.registry.Get(queryName)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, queryName)
	}

	return handler(ctx, target, args)
}

// Built-in query names.
const (
	QueryLast        = "last"        // Returns the most recent top-level record
	QueryTotal       = "total"       // Returns the number of top-level records
	QuerySearch      = "search"      // Returns history records for a function name (args: string)
	QueryHistory     = "history"     // Returns every record completed on the chain
	QueryRecords     = "records"     // Returns the current top-level records
	QueryCheckpoints = "checkpoints" // Returns the checkpoint offsets
)

// RegisterBuiltins registers the standard query handlers.
// The loader is used to resolve targets for built-in queries.
func RegisterBuiltins(registry *Registry, loader Loader) error {
	with := func(fn func(Target, any) (any, error)) Handler {
		return func(ctx context.Context, target string, args any) (any, error) {
			t, ok := loader(ctx, target)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
			}
			return fn(t, args)
		}
	}

	builtins := map[string]Handler{
		QueryLast: with(func(t Target, _ any) (any, error) {
			return t.Last(), nil
		}),
		QueryTotal: with(func(t Target, _ any) (any, error) {
			return t.Total(), nil
		}),
		QuerySearch: with(func(t Target, args any) (any, error) {
			function, ok := args.(string)
			if !ok || function == "" {
				return nil, fmt.Errorf("%w: search needs a function name, got %T", ErrInvalidArgs, args)
			}
			return t.Search(function), nil
		}),
		QueryHistory: with(func(t Target, _ any) (any, error) {
			return t.History(), nil
		}),
		QueryRecords: with(func(t Target, _ any) (any, error) {
			return t.Records(), nil
		}),
		QueryCheckpoints: with(func(t Target, _ any) (any, error) {
			return t.Checkpoints(), nil
		}),
	}

	for name, handler := range builtins {
		if err := registry.Register(name, handler); err != nil {
			return fmt.Errorf("failed to register builtin query %q: %w", name, err)
		}
	}

	return nil
}

// Result wraps a query result with metadata.
type Result struct {
	// QueryName is the query that was executed.
	QueryName string `json:"query_name"`

	// Target is the chain that was queried.
	Target string `json:"target"`

	// Value is the query result.
	Value any `json:"value"`

	// Error contains error details if the query failed.
	Error string `json:"error,omitempty"`
}

// ExecuteMultiple runs multiple queries against a target.
// Returns results for all queries in query-name order, including any that
// failed.
func (e *Executor) ExecuteMultiple(ctx context.Context, target string, queries map[string]any) []Result {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	slices.Sort(names)

	results := make([]Result, 0, len(queries))
	for _, queryName := range names {
		result := Result{
			QueryName: queryName,
			Target:    target,
		}

		value, err := e.Execute(ctx, target, queryName, queries[queryName])
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Value = value
		}

		results = append(results, result)
	}

	return results
}
