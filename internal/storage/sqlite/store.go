// Package sqlite implements the storage interface using SQLite.
//
// Layout:
//   - store.go: Store struct, New() constructor, pragmas, lifecycle
//   - schema.go: base schema (tables, FTS5 index, triggers)
//   - migrations.go: ordered post-schema migrations
//   - users.go, orgs.go, projects.go: tenant entities
//   - memories.go, search.go: memory CRUD and FTS ranking
//   - apikeys.go, sessions.go, invites.go, waitlist.go: identity entities
//   - usage.go: quota counter rows
//   - audit.go: append-only hash chain
//   - jobs.go, stats.go: job failures and admin statistics
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/contextcache/contextcache/internal/storage"
)

// Store implements the storage.Storage interface using SQLite with FTS5.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// build is not re-JITed on every process start. Falls back to an in-memory
// cache if the filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "contextcache", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Options tunes the connection pool. Zero values take defaults.
type Options struct {
	MaxConns int // max open connections; default NumCPU+1
}

// New opens or creates the database at path, applies the schema and all
// migrations, and returns a ready Store. Transient open failures are retried
// twice (100ms, then 300ms) before surfacing.
func New(ctx context.Context, path string, opts Options) (*Store, error) {
	var store *Store
	policy := backoff.WithContext(openRetryPolicy(), ctx)
	err := backoff.Retry(func() error {
		s, err := open(ctx, path, opts)
		if err != nil {
			return err
		}
		store = s
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %s", storage.ErrUnavailable, path, err)
	}
	return store, nil
}

// openRetryPolicy yields two retries at roughly 100ms and 300ms.
func openRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 3
	b.RandomizationFactor = 0
	return backoff.WithMaxRetries(b, 2)
}

func open(ctx context.Context, path string, opts Options) (*Store, error) {
	// For :memory: databases, use shared cache so multiple pooled
	// connections see the same data. WAL does not work with shared
	// in-memory databases, so those use the default journal mode.
	var connStr string
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	switch {
	case path == ":memory:":
		connStr = "file:ccmem?mode=memory&cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isInMemory {
		// In-memory databases are isolated per connection by default;
		// force a single connection so all callers share one database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; bound the pool to keep
		// writers from piling up on the write lock.
		maxConns := opts.MaxConns
		if maxConns <= 0 {
			maxConns = runtime.NumCPU() + 1
		}
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Partial migrations abort startup.
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dbPath: path}, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", storage.ErrUnavailable)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %s", storage.ErrUnavailable, err)
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.dbPath }

// UnderlyingDB exposes the raw handle for migrations tooling and tests.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// Close releases the database. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
