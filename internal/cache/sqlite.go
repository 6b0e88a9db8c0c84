package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteStore keeps entries in a single SQLite database file.
type SQLiteStore struct {
	path string
	ttl  time.Duration

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// one writer keeps SQLITE_BUSY out of concurrent sessions
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache database: %w", err)
	}
	return &SQLiteStore{path: path, ttl: ttl, db: db}, nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Get returns the entry for key, deleting it when expired.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}
	var (
		value   string
		created int64
	)
	err = db.QueryRow(`SELECT value, created_at FROM entries WHERE key = ?`, key).Scan(&value, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache entry: %w", err)
	}
	if expired(time.Unix(0, created), s.ttl) {
		_, _ = db.Exec(`DELETE FROM entries WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

// Put inserts the entry, keeping an existing value for the same key.
func (s *SQLiteStore) Put(key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO entries (key, value, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING`, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Clear deletes all entries.
func (s *SQLiteStore) Clear() error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Stats counts entries and their total value size.
func (s *SQLiteStore) Stats() (StoreStats, error) {
	stats := StoreStats{Backend: BackendSQLite, Location: s.path}
	db, err := s.conn()
	if err != nil {
		return stats, err
	}
	var total sql.NullInt64
	if err := db.QueryRow(`SELECT COUNT(*), SUM(LENGTH(value)) FROM entries`).Scan(&stats.Entries, &total); err != nil {
		return stats, fmt.Errorf("reading cache stats: %w", err)
	}
	stats.TotalBytes = total.Int64
	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixNano()
		if err := db.QueryRow(`SELECT COUNT(*) FROM entries WHERE created_at < ?`, cutoff).Scan(&stats.Expired); err != nil {
			return stats, fmt.Errorf("reading cache stats: %w", err)
		}
	}
	return stats, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
