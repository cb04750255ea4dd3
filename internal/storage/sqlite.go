package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// SQLiteStore persists the flag set to a local SQLite database so it
// survives restarts. Init replaces all rows in one transaction.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	inits    atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	errs     atomic.Uint64
	size     atomic.Int64
	lastInit atomic.Int64
}

// NewSQLiteStore opens (or creates) the database at path.
// Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flags (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS store_meta (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	s := &SQLiteStore{db: db}

	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM flags`).Scan(&n); err == nil {
		s.size.Store(n)
	}

	return s, nil
}

func (s *SQLiteStore) Init(ctx context.Context, flags map[string]domain.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	flags = live(flags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.errs.Add(1)
		return domain.NewStoreError("init", "", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flags`); err != nil {
		s.errs.Add(1)
		return domain.NewStoreError("init", "", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO flags (key, version, data) VALUES (?, ?, ?)`)
	if err != nil {
		s.errs.Add(1)
		return domain.NewStoreError("init", "", err)
	}
	defer stmt.Close()

	for k, f := range flags {
		data, err := json.Marshal(f)
		if err != nil {
			return domain.NewStoreError("init", k, err)
		}
		if _, err := stmt.ExecContext(ctx, k, f.Version, data); err != nil {
			s.errs.Add(1)
			return domain.NewStoreError("init", k, err)
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO store_meta (name, value) VALUES ('inited', ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, now.UTC().Format(time.RFC3339Nano)); err != nil {
		s.errs.Add(1)
		return domain.NewStoreError("init", "", err)
	}

	if err := tx.Commit(); err != nil {
		s.errs.Add(1)
		return domain.NewStoreError("init", "", err)
	}

	s.inits.Add(1)
	s.size.Store(int64(len(flags)))
	s.lastInit.Store(now.UnixNano())
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.Flag, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM flags WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		s.errs.Add(1)
		return nil, false, domain.NewStoreError("get", key, err)
	}

	var flag domain.Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		s.errs.Add(1)
		return nil, false, domain.NewStoreError("get", key, fmt.Errorf("decode: %w", err))
	}

	s.hits.Add(1)
	return &flag, true, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string]domain.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, data FROM flags ORDER BY key`)
	if err != nil {
		return nil, domain.NewStoreError("all", "", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Flag)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, domain.NewStoreError("all", "", err)
		}
		var flag domain.Flag
		if err := json.Unmarshal(data, &flag); err != nil {
			return nil, domain.NewStoreError("all", key, fmt.Errorf("decode: %w", err))
		}
		out[key] = flag
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("all", "", err)
	}
	return out, nil
}

// Initialized is true once any process has completed an Init on this database.
func (s *SQLiteStore) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	var v string
	err := s.db.QueryRow(`SELECT value FROM store_meta WHERE name = 'inited'`).Scan(&v)
	return err == nil
}

func (s *SQLiteStore) Metrics() Metrics {
	var last time.Time
	if ns := s.lastInit.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Metrics{
		Backend:  "sqlite",
		Size:     s.size.Load(),
		Inits:    s.inits.Load(),
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
		Errors:   s.errs.Load(),
		LastInit: last,
	}
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
