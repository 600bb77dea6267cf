// Package record defines the recorded-invocation node shared by the
// recorder and the persistence layer.
package record

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Input is the argument snapshot taken when a call starts.
type Input struct {
	Args   []any          `json:"args" yaml:"args"`
	Kwargs map[string]any `json:"kwargs" yaml:"kwargs"`
}

// Arg returns the i-th positional argument, or nil if out of range.
func (in Input) Arg(i int) any {
	if i < 0 || i >= len(in.Args) {
		return nil
	}
	return in.Args[i]
}

// Kwarg returns the named keyword argument and whether it was passed.
func (in Input) Kwarg(name string) (any, bool) {
	v, ok := in.Kwargs[name]
	return v, ok
}

// Record is one recorded invocation.
//
// A Record is mutated only by the invocation that opened it. Once closed it
// is never modified again.
type Record struct {
	Function string    `json:"function" yaml:"function"`
	Input    Input     `json:"input" yaml:"input"`
	Output   any       `json:"output" yaml:"output"`
	Errors   []string  `json:"errors" yaml:"errors"`
	Children []*Record `json:"children" yaml:"children"`
}

// New returns an empty record for function.
func New(function string) *Record {
	return &Record{
		Function: function,
		Input:    Input{Args: []any{}, Kwargs: map[string]any{}},
		Errors:   []string{},
		Children: []*Record{},
	}
}

// Failed reports whether the call produced at least one error.
func (r *Record) Failed() bool {
	return len(r.Errors) > 0
}

// Clone returns a deep copy of the tree structure.
// Argument and output values are shared, not copied.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{
		Function: r.Function,
		Input: Input{
			Args:   append([]any{}, r.Input.Args...),
			Kwargs: make(map[string]any, len(r.Input.Kwargs)),
		},
		Output:   r.Output,
		Errors:   append([]string{}, r.Errors...),
		Children: make([]*Record, len(r.Children)),
	}
	for k, v := range r.Input.Kwargs {
		c.Input.Kwargs[k] = v
	}
	for i, child := range r.Children {
		c.Children[i] = child.Clone()
	}
	return c
}

// Walk visits records and their descendants in pre-order.
// depth is 0 for the records passed in. Returning false stops the walk.
func Walk(records []*Record, fn func(r *Record, depth int) bool) {
	walk(records, 0, fn)
}

func walk(records []*Record, depth int, fn func(*Record, int) bool) bool {
	for _, r := range records {
		if !fn(r, depth) {
			return false
		}
		if !walk(r.Children, depth+1, fn) {
			return false
		}
	}
	return true
}

// Flatten returns every record of the trees in pre-order.
func Flatten(records []*Record) []*Record {
	var out []*Record
	Walk(records, func(r *Record, _ int) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Find returns all records, at any depth, whose Function equals function.
func Find(records []*Record, function string) []*Record {
	var out []*Record
	Walk(records, func(r *Record, _ int) bool {
		if r.Function == function {
			out = append(out, r)
		}
		return true
	})
	return out
}

// Count returns the number of records in the trees, descendants included.
func Count(records []*Record) int {
	n := 0
	Walk(records, func(*Record, int) bool {
		n++
		return true
	})
	return n
}

// Decode parses a persisted single-run entry.
func Decode(data []byte) ([]*Record, error) {
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// DecodeRuns parses a persisted multi-run entry.
func DecodeRuns(data []byte) ([][]*Record, error) {
	var runs [][]*Record
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return runs, nil
}
