package calltree

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

type activeKey struct{}

type framesKey struct{}

// activation is one entry of the active-chain stack carried by a context.
// The stack is an immutable linked list; entering pushes a new head on a
// derived context, so sibling contexts never observe each other's entries.
type activation struct {
	scope *Scope
	next  *activation
}

// frame is the record a call opened on a chain. Contexts keep their frames
// after the call returns, so closed is set, under the chain's mutex, when
// the record closes; later calls through such a context record at top level.
type frame struct {
	rec    *record.Record
	depth  int
	closed bool
}

// Scope is an entered chain. Calls made with the context returned by
// Enter record on the chain until Exit.
type Scope struct {
	chain  *Chain
	closed atomic.Bool
	once   sync.Once
	err    error
}

// Enter activates c for every registered call made with the returned
// context or contexts derived from it.
//
// Example:
//
//	ctx, scope := chain.Enter(ctx)
//	defer scope.Exit(ctx)
func (c *Chain) Enter(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{chain: c}
	head, _ := ctx.Value(activeKey{}).(*activation)
	c.logger.Debug("chain entered")
	return context.WithValue(ctx, activeKey{}, &activation{scope: s, next: head}), s
}

// Run enters c, calls fn with the derived context and exits, even when fn
// panics. The exit error is joined with fn's error.
func (c *Chain) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, scope := c.Enter(ctx)
	defer func() {
		err = errors.Join(err, scope.Exit(ctx))
	}()
	return fn(ctx)
}

// Chain returns the entered chain.
func (s *Scope) Chain() *Chain { return s.chain }

// Closed reports whether Exit has been called.
func (s *Scope) Closed() bool { return s.closed.Load() }

// Exit deactivates the chain and, when it has a strategy, persists it.
// Contexts derived from the scope's context stop recording on the chain.
// Only the first call has an effect; later calls return its result.
func (s *Scope) Exit(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.chain.logger.Debug("chain exited")
		s.err = s.chain.persist(ctx, "exit")
	})
	return s.err
}

// activeChains returns the chains of the open scopes of ctx, outermost
// first.
func activeChains(ctx context.Context) []*Chain {
	head, _ := ctx.Value(activeKey{}).(*activation)
	var out []*Chain
	for a := head; a != nil; a = a.next {
		if !a.scope.Closed() {
			out = append(out, a.scope.chain)
		}
	}
	slices.Reverse(out)
	return out
}

func framesFrom(ctx context.Context) map[*Chain]*frame {
	frames, _ := ctx.Value(framesKey{}).(map[*Chain]*frame)
	return frames
}
