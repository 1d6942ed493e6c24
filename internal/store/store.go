// Package store is the embedded relational store for the orchestration
// kernel: violations, rule checks, delta history, rule schedules, watch
// sessions, and performance metrics (spec.md §3). Grounded on
// internal/core/db.go's Engine — same driver, same pragma-string open,
// same schema-in-a-string-then-Exec initialization — generalized from a
// hot-reloadable chat-assistant config store to a fixed, versioned
// violation-tracking schema.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// timeFormat is the ISO-8601 UTC representation spec.md §3 requires for
// every stored timestamp.
const timeFormat = time.RFC3339Nano

// Store is the single-writer embedded SQL store.
type Store struct {
	db     *sql.DB
	path   string
	log    *logrus.Logger
}

// Open opens (creating if necessary) the SQLite database at path with
// the pragmas spec.md §6 requires: WAL journal, NORMAL synchronous,
// 64MB cache, foreign keys on, temp_store in memory, 128MB mmap.
func Open(path string, log *logrus.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	dsn := path + "?" +
		"_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(2)" +
		"&_pragma=mmap_size(134217728)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer process, per spec.md §4.1

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, path: path, log: log}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return s, nil
}

// initSchema creates the schema if absent, and refuses to start if an
// existing database carries a different schema version (spec.md §6).
func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}

	var existing sql.NullInt64
	err := s.db.QueryRow(`SELECT version FROM schema_meta WHERE id = 1`).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.Exec(`INSERT INTO schema_meta (id, version) VALUES (1, ?)`, schemaVersion)
		return err
	case err != nil:
		return err
	case existing.Int64 != schemaVersion:
		return fmt.Errorf("schema version mismatch: database has %d, code expects %d", existing.Int64, schemaVersion)
	}
	return nil
}

// DB returns the underlying connection for callers that need raw access
// (e.g. tests asserting on sqlite_master).
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection, mirroring the
// teacher's Engine.Close.
func (s *Store) Close() error {
	if s.log != nil {
		s.log.Debug("store: checkpointing WAL before close")
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func nowString() string {
	return time.Now().UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func nullableTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func scanNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func scanNullableInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
