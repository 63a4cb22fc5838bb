package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Options tunes the record store
type Options struct {
	// BypassAccess lets access-checked queries see unpublished nodes
	BypassAccess bool
}

// SQLiteStore is the node record store backed by SQLite
type SQLiteStore struct {
	db      *sql.DB
	opts    Options
	closed  bool
	writeMu sync.Mutex
}

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Open opens (or creates) the record store at dbPath
func Open(dbPath string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	s := &SQLiteStore{db: db, opts: opts}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS node (
		nid INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 1,
		created INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_node_type_created ON node(type, created);

	CREATE TABLE IF NOT EXISTS node_revision (
		vid INTEGER PRIMARY KEY AUTOINCREMENT,
		nid INTEGER NOT NULL,
		created INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_node_revision_nid ON node_revision(nid);

	CREATE TABLE IF NOT EXISTS node_type (
		type TEXT PRIMARY KEY,
		label TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS path_alias (
		path TEXT PRIMARY KEY,
		alias TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS field_storage (
		field_name TEXT PRIMARY KEY,
		field_type TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// DSN configures WAL, a long busy timeout and immediate write transactions
func DSN(dbPath string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(60000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", dbPath)
}

// DB exposes the underlying handle
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}
	return nil
}

// RetryOnBusy retries operation with exponential backoff while SQLite is busy
func RetryOnBusy(operation func() error) error {
	maxRetries := 8
	baseDelay := 25 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
		}
	}
	return err
}

// IsBusy reports whether err is a transient SQLite lock error
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
