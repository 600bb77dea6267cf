/*
Package calltree records nested calls of registered functions as trees.

# Overview

A Registry holds named functions and the chains that record them. Every
call of a registered function is recorded on each chain responsible for
it: the chains entered in the caller's context and the chains the function
was bound to at registration. A call made while another recorded call is
running on the same chain becomes a child of it, so each chain ends up
with an ordered list of top-level records, each carrying the tree of calls
it made.

Chains support checkpoint and restore of that list, and persist it through
a strategy from package persist.

# Basic Usage

	reg := calltree.NewRegistry()

	add := reg.Register("add", calltree.Fn2(func(_ context.Context, a, b int) (int, error) {
	    return a + b, nil
	}))
	mul := reg.Register("multiply", calltree.Fn2(func(_ context.Context, a, b int) (int, error) {
	    return a * b, nil
	}))

	chain := reg.NewChain("math")
	err := chain.Run(ctx, func(ctx context.Context) error {
	    _, err := mul.Call(ctx, add.Defer(3, 4), 2)
	    return err
	})

	// chain.Records(): multiply(add(3, 4), 2) = 14, with add as its child.

Outside of any entered chain, and without chains bound to the function, a
call is passed straight through and nothing is recorded.

# Binding Functions to Chains

	reg.NewChain("audit")
	charge := reg.Register("charge", chargeFn, calltree.WithChains("audit"))

Calls of charge record on "audit" whether or not it is entered. A bound
name that is not registered when the call happens is ignored.

# Checkpoints

	_ = chain.Checkpoint(ctx) // records up to here are committed
	// ... more calls ...
	_ = chain.RestoreLast()   // drop everything after the checkpoint

Restore never touches History, which keeps every top-level record the
chain completed.

# Persistence

	store, err := jsonfile.NewStore("calls.json", persist.WithMultiRun(true))
	if err != nil {
	    return err
	}
	chain := reg.NewChain("math", calltree.WithStrategy(store))

The chain is written when its scope exits, on Checkpoint and on Persist.
Which of the four strategies is used is decided by the multi-run and
incremental flags; see package persist.

# Errors and Panics

An error returned by a recorded function is appended to the Errors of
every record of the call and returned unchanged. A panic is recorded as a
PanicError message, then re-raised with its original value. Either way
the records are closed before control returns to the caller.

# Thread Safety

  - Registry and Chain ARE safe for concurrent use
  - Scopes are carried by context.Context, so goroutines only see the
    chains entered in the context they were given
  - Concurrent top-level calls on one chain are recorded as separate trees

# Subpackages

  - record: the recorded call node
  - persist: strategies, the selector and backends (jsonfile, sqlite)
  - query: named read-only queries over chains
  - observability: logging, metrics, and tracing helpers
  - config: loading persistence settings
*/
package calltree
