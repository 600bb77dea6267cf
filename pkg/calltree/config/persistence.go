package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/randalmurphal/calltree/pkg/calltree/persist"
	"github.com/randalmurphal/calltree/pkg/calltree/persist/jsonfile"
	"github.com/randalmurphal/calltree/pkg/calltree/persist/sqlite"
)

// ErrInvalidConfig is returned for configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Backend names a persist.Backend implementation.
type Backend string

// Supported backends.
const (
	BackendJSON   Backend = "json"
	BackendYAML   Backend = "yaml"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Persistence describes where and how chains are persisted.
//
// In a config file it lives under the "persistence" key:
//
//	persistence:
//	  backend: sqlite      # json, yaml, sqlite or memory; inferred from path if omitted
//	  path: ./calls.db
//	  multirun: true
//	  incremental: false
type Persistence struct {
	Backend     Backend
	Path        string
	MultiRun    bool
	Incremental bool
}

// BackendFor infers the backend from a path's extension.
// Returns "" for extensions no backend claims.
func BackendFor(path string) Backend {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return BackendJSON
	case ".yaml", ".yml":
		return BackendYAML
	case ".db", ".sqlite", ".sqlite3":
		return BackendSQLite
	}
	return ""
}

// ParsePersistence reads the "persistence" section of cfg and validates it.
func ParsePersistence(cfg Config) (Persistence, error) {
	section := cfg.Sub("persistence")
	p := Persistence{
		Backend:     Backend(strings.ToLower(section.String("backend", ""))),
		Path:        section.String("path", ""),
		MultiRun:    section.Bool("multirun", false),
		Incremental: section.Bool("incremental", false),
	}
	if p.Backend == "" {
		p.Backend = BackendFor(p.Path)
	}
	if err := p.Validate(); err != nil {
		return Persistence{}, err
	}
	return p, nil
}

// Validate checks that the backend is known and has what it needs.
func (p Persistence) Validate() error {
	switch p.Backend {
	case BackendMemory:
		return nil
	case BackendJSON, BackendYAML:
		if p.Path == "" {
			return fmt.Errorf("%w: %s backend needs a path", ErrInvalidConfig, p.Backend)
		}
		format, err := jsonfile.FormatFor(p.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if string(format) != string(p.Backend) {
			return fmt.Errorf("%w: %s backend with %s path %q", ErrInvalidConfig, p.Backend, format, p.Path)
		}
		return nil
	case BackendSQLite:
		if p.Path == "" {
			return fmt.Errorf("%w: sqlite backend needs a path", ErrInvalidConfig)
		}
		return nil
	case "":
		return fmt.Errorf("%w: no backend given and none implied by path %q", ErrInvalidConfig, p.Path)
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, p.Backend)
	}
}

// OpenStrategy opens the configured backend and returns the strategy
// selected by the multi-run and incremental flags. Closing the selector
// closes the backend.
func OpenStrategy(p Persistence) (*persist.Selector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	opts := []persist.Option{
		persist.WithMultiRun(p.MultiRun),
		persist.WithIncremental(p.Incremental),
	}
	switch p.Backend {
	case BackendMemory:
		return persist.NewSelector(persist.NewMemoryBackend(), opts...), nil
	case BackendSQLite:
		return sqlite.NewStore(p.Path, opts...)
	default:
		return jsonfile.NewStore(p.Path, opts...)
	}
}
