package calltree

import (
	"errors"
	"fmt"
)

// Sentinel errors for lookups.
var (
	// ErrFunctionNotFound indicates a call by name with no registered function.
	ErrFunctionNotFound = errors.New("function not registered")

	// ErrCheckpointOutOfRange indicates Restore was given an index outside
	// [0, len(checkpoints)).
	ErrCheckpointOutOfRange = errors.New("checkpoint index out of range")

	// ErrInvalidArgument indicates a typed function adapter received an
	// argument of the wrong type or too few arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// LookupError wraps a failed lookup by name.
type LookupError struct {
	// Kind is what was looked up ("function").
	Kind string
	// Name is the name that was not found.
	Name string
	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LookupError) Unwrap() error {
	return e.Err
}

// RestoreError reports a restore to a checkpoint that does not exist.
type RestoreError struct {
	// Chain is the key of the chain being restored.
	Chain string
	// Index is the requested checkpoint index.
	Index int
	// Count is the number of checkpoints the chain has.
	Count int
}

// Error implements the error interface.
func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore chain %s to checkpoint %d: %v (have %d)",
		e.Chain, e.Index, ErrCheckpointOutOfRange, e.Count)
}

// Unwrap returns ErrCheckpointOutOfRange.
func (e *RestoreError) Unwrap() error {
	return ErrCheckpointOutOfRange
}

// PersistError wraps a failed write through a chain's strategy.
type PersistError struct {
	// Chain is the key of the chain being written.
	Chain string
	// Op is what triggered the write ("checkpoint", "exit", "persist").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("persist chain %s on %s: %v", e.Chain, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a recorded function.
// Its message is what the record's Errors receives; the original panic
// value is re-raised to the caller.
type PanicError struct {
	// Function is the registered name of the function that panicked.
	Function string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ArgumentError reports an argument a typed adapter could not use.
type ArgumentError struct {
	// Index is the positional index of the argument.
	Index int
	// Want is the expected Go type.
	Want string
	// Got is the value received; nil when the argument was missing.
	Got any
	// Missing is true when fewer arguments were passed than required.
	Missing bool
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if e.Missing {
		return fmt.Sprintf("argument %d: missing, want %s", e.Index, e.Want)
	}
	return fmt.Sprintf("argument %d: got %T, want %s", e.Index, e.Got, e.Want)
}

// Unwrap returns ErrInvalidArgument.
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}
