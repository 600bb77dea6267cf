package calltree

import (
	"log/slog"

	"github.com/randalmurphal/calltree/pkg/calltree/observability"
	"github.com/randalmurphal/calltree/pkg/calltree/persist"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger. Chains log through it enriched with their
// key and ID.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics{}
//
// Example:
//
//	reg := calltree.NewRegistry(
//	    calltree.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
			_, noop := m.(observability.NoopMetrics)
			r.metricsEnabled = !noop
		}
	}
}

// WithSpanManager sets the span manager used around recorded calls.
// Default: observability.NoopSpanManager{}
func WithSpanManager(sm observability.SpanManager) RegistryOption {
	return func(r *Registry) {
		if sm != nil {
			r.spans = sm
		}
	}
}

// WithTracing enables spans on the global OpenTelemetry tracer provider.
// Spans are local to this process; nothing is propagated.
// Default: false
func WithTracing(enabled bool) RegistryOption {
	return func(r *Registry) {
		if enabled {
			r.spans = observability.NewSpanManager()
		} else {
			r.spans = observability.NoopSpanManager{}
		}
	}
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithStrategy sets the persistence strategy. Scope exit, Checkpoint and
// Persist write through it.
// Default: nil (no persistence)
func WithStrategy(s persist.Strategy) ChainOption {
	return func(c *Chain) {
		c.strategy = s
	}
}

// WithChainID overrides the generated chain ID.
// Anonymous chains are persisted under their ID, so a fixed ID lets an
// anonymous chain append to the same document entry across processes.
func WithChainID(id string) ChainOption {
	return func(c *Chain) {
		if id != "" {
			c.id = id
		}
	}
}

// FuncOption configures a registration.
type FuncOption func(*registration)

// WithChains binds the function to named chains: every call records on
// them in addition to the chains active in the caller's context. Names not
// present in the registry at call time are ignored.
func WithChains(names ...string) FuncOption {
	return func(reg *registration) {
		reg.chains = append(reg.chains, names...)
	}
}
