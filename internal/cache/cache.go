package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Backend is the key/value contract shared by the durable and in-memory stores.
// A ttl of zero stores the entry without expiry.
type Backend interface {
	Get(key string) (Result, error)
	Set(key string, value []byte, ttl time.Duration) error
	Close() error
}

type Result struct {
	Hit   bool
	Value []byte
	Age   time.Duration
}

// Store is a sqlite-backed cache that survives process restarts.
type Store struct {
	db         *sql.DB
	lock       *flock.Flock
	maxEntries int
	now        func() time.Time
}

// Open creates or opens the cache database. maxEntries <= 0 disables eviction.
func Open(path, lockPath string, maxEntries int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS entries (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_at INTEGER NOT NULL, accessed_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
		"CREATE INDEX IF NOT EXISTS entries_accessed_at ON entries (accessed_at);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), maxEntries: maxEntries, now: time.Now}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries whose TTL has expired. Entries without a TTL are kept.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	nowNano := s.now().UTC().UnixNano()
	_, err := s.db.Exec("DELETE FROM entries WHERE ttl_seconds > 0 AND created_at + ttl_seconds * 1000000000 < ?", nowNano)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(key string) (Result, error) {
	var value []byte
	var createdNano int64
	var ttlSeconds int64
	err := s.db.QueryRow("SELECT value, created_at, ttl_seconds FROM entries WHERE key = ?", key).Scan(&value, &createdNano, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	now := s.now().UTC()
	age := now.Sub(time.Unix(0, createdNano).UTC())
	if age < 0 {
		age = 0
	}
	if ttlSeconds > 0 && age > time.Duration(ttlSeconds)*time.Second {
		return Result{Hit: false}, nil
	}

	// Best-effort recency update; it only affects eviction order.
	_, _ = s.db.Exec("UPDATE entries SET accessed_at = ? WHERE key = ?", now.UnixNano(), key)

	return Result{Hit: true, Value: value, Age: age}, nil
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	nowNano := s.now().UTC().UnixNano()
	ttlSeconds := int64(ttl / time.Second)
	if ttl > 0 && ttlSeconds == 0 {
		ttlSeconds = 1
	}
	if ttlSeconds < 0 {
		ttlSeconds = 0
	}
	_, err = s.db.Exec(`
		INSERT INTO entries (key, value, created_at, accessed_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			accessed_at=excluded.accessed_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, value, nowNano, nowNano, ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}

	if s.maxEntries > 0 {
		_, err = s.db.Exec(`
			DELETE FROM entries WHERE key IN (
				SELECT key FROM entries ORDER BY accessed_at DESC LIMIT -1 OFFSET ?
			)
		`, s.maxEntries)
		if err != nil {
			return fmt.Errorf("evict cache: %w", err)
		}
	}
	return nil
}

// Len reports the number of stored entries, including expired ones not yet pruned.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache: %w", err)
	}
	return n, nil
}
