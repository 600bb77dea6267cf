// Package jsonfile stores a persistence document in a single local file.
//
// The whole document is rewritten on every store, pretty-printed with a
// two-space indent. The encoding is chosen from the file extension:
// ".json" uses JSON, ".yaml" and ".yml" use YAML. Writes are not atomic.
//
// Usage:
//
//	store, err := jsonfile.NewStore("runs.json", persist.WithMultiRun(true))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	chain := reg.NewChain("checkout", calltree.WithStrategy(store))
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/calltree/pkg/calltree/persist"
)

// ErrUnsupportedFormat is returned when the file extension names no known
// encoding.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Format is the on-disk encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor returns the format implied by path's extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// File is a persist.Backend over one file.
type File struct {
	path   string
	format Format

	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ persist.Backend = (*File)(nil)

// New creates a file backend for path. The file is not touched until the
// first Load or Store.
func New(path string) (*File, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, format: format}, nil
}

// NewStore creates a file backend for path and wraps it in a strategy
// selector.
func NewStore(path string, opts ...persist.Option) (*persist.Selector, error) {
	f, err := New(path)
	if err != nil {
		return nil, err
	}
	return persist.NewSelector(f, opts...), nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Format returns the file encoding.
func (f *File) Format() Format {
	return f.format
}

// Load implements persist.Backend.
// A missing or empty file loads as nil.
func (f *File) Load(_ context.Context) (persist.Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, persist.ErrBackendClosed
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	doc, err := f.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return doc, nil
}

// Store implements persist.Backend.
func (f *File) Store(_ context.Context, doc persist.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return persist.ErrBackendClosed
	}
	if doc == nil {
		doc = persist.Document{}
	}

	data, err := f.encode(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// Close implements persist.Backend. Closing twice is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *File) encode(doc persist.Document) ([]byte, error) {
	if f.format == FormatJSON {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}

	// YAML goes through generic values so entries nest as YAML, not as
	// embedded JSON strings.
	tree := make(map[string]any, len(doc))
	for key, entry := range doc {
		var v any
		if err := json.Unmarshal(entry, &v); err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		tree[key] = v
	}

	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func (f *File) decode(data []byte) (persist.Document, error) {
	if f.format == FormatJSON {
		var doc persist.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}
	doc := make(persist.Document, len(tree))
	for key, v := range tree {
		entry, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		doc[key] = entry
	}
	return doc, nil
}
