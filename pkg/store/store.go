// Package store persists the shopping list, the shopping mode flags, the
// home region, pending alarms and the place search cache in a single SQLite
// database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/model"
)

// FileName is the database file created in the data directory.
const FileName = "shopsense.sqlite"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a unique name is already taken.
	ErrExists = errors.New("already exists")
)

// DefaultCategories are seeded on first open.
var DefaultCategories = []string{
	"Supermarket",
	"Pharmacy",
	"Bakery",
	"Electronics",
	"Household",
	"Stationery",
	"Pet Store",
	model.OtherCategory,
}

var log = logger.With("store")

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:"
	}
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps writes serialised and keeps a memory database
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	if err := s.seedCategories(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed categories: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		checked INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_items_checked ON items(checked);

	CREATE TABLE IF NOT EXISTS mode_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_on INTEGER NOT NULL DEFAULT 0,
		manual INTEGER NOT NULL DEFAULT 0,
		snoozed_until INTEGER
	);

	CREATE TABLE IF NOT EXISTS home (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		radius_m REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alarms (
		token TEXT PRIMARY KEY,
		fire_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_cache (
		key TEXT PRIMARY KEY,
		json TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_cache_fetched_at ON search_cache(fetched_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (s *Store) seedCategories() error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, name := range DefaultCategories {
		if _, err := s.db.Exec(`INSERT INTO categories(name) VALUES(?)`, name); err != nil {
			return err
		}
	}
	log.Debug("seeded default categories", "count", len(DefaultCategories))
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
