// Package sqlite stores persistence documents in SQLite, one row per chain
// key. It is suitable for single-process production use.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/calltree/pkg/calltree/persist"
)

// Info describes one stored chain entry.
type Info struct {
	Chain     string
	Sequence  int64
	UpdatedAt time.Time
	Size      int
}

// Backend is a persist.Backend over a SQLite database.
type Backend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ persist.Backend = (*Backend)(nil)

// Open opens (or creates) the database at path.
// The path should be a file path (e.g., "./calltree.db") or ":memory:" for testing.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chains (
			chain TEXT PRIMARY KEY,
			sequence INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	return &Backend{db: db}, nil
}

// NewStore opens the database at path and wraps it in a strategy selector.
func NewStore(path string, opts ...persist.Option) (*persist.Selector, error) {
	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	return persist.NewSelector(b, opts...), nil
}

// Load implements persist.Backend.
// Returns nil until the first Store, even if that store was empty.
func (b *Backend) Load(ctx context.Context) (persist.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persist.ErrBackendClosed
	}

	var stored int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meta WHERE key = 'stored'`).Scan(&stored); err != nil {
		return nil, fmt.Errorf("check stored: %w", err)
	}
	if stored == 0 {
		return nil, nil
	}

	rows, err := b.db.QueryContext(ctx, `SELECT chain, data FROM chains`)
	if err != nil {
		return nil, fmt.Errorf("load chains: %w", err)
	}
	defer rows.Close()

	doc := persist.Document{}
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		doc[key] = json.RawMessage(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chains: %w", err)
	}
	return doc, nil
}

// Store implements persist.Backend.
// All rows are replaced in one transaction. Rows whose data is unchanged
// keep their sequence.
func (b *Backend) Store(ctx context.Context, doc persist.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return persist.ErrBackendClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Drop entries the new document no longer has.
	prune := `DELETE FROM chains`
	args := make([]any, len(keys))
	if len(keys) > 0 {
		prune += ` WHERE chain NOT IN (?` + strings.Repeat(`, ?`, len(keys)-1) + `)`
		for i, key := range keys {
			args[i] = key
		}
	}
	if _, err := tx.ExecContext(ctx, prune, args...); err != nil {
		return fmt.Errorf("prune chains: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chains (chain, sequence, updated_at, data)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(chain) DO UPDATE SET
				sequence = chains.sequence + 1,
				updated_at = excluded.updated_at,
				data = excluded.data
			WHERE chains.data <> excluded.data
		`, key, now, []byte(doc[key])); err != nil {
			return fmt.Errorf("store chain %q: %w", key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO meta (key, value) VALUES ('stored', '1')`); err != nil {
		return fmt.Errorf("mark stored: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store: %w", err)
	}
	return nil
}

// Info lists the stored chain entries ordered by chain key.
func (b *Backend) Info(ctx context.Context) ([]Info, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persist.ErrBackendClosed
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT chain, sequence, updated_at, LENGTH(data)
		FROM chains
		ORDER BY chain
	`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var updated string
		if err := rows.Scan(&info.Chain, &info.Sequence, &updated, &info.Size); err != nil {
			return nil, fmt.Errorf("scan chain info: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chains: %w", err)
	}

	return infos, nil
}

// Close implements persist.Backend. Closing twice is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}
