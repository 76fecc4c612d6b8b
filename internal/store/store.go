// Package store is the persistence layer for the autonomous core: goals,
// projects, tasks and their dependency edges, the budget ledger, goal
// outcomes, and the audit trail all live in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite handle configured for a single writer plus many
// readers: WAL journaling and a busy timeout absorb the brief lock
// contention from concurrent task claims without callers needing their
// own retry loops. _txlock=immediate makes every transaction take
// SQLite's RESERVED lock at BEGIN rather than on first write, which is
// what turns ClaimReadyTasks' conditional UPDATE into a safe
// compare-and-swap instead of a lost update: SQLite has no
// SELECT ... FOR UPDATE SKIP LOCKED.
type Store struct {
	db *sql.DB
}

// Open creates (if necessary) and migrates the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_txlock=immediate", path)
	return open(dsn)
}

// OpenMemory opens an in-memory database for tests.
func OpenMemory() (*Store, error) {
	return open("file::memory:?_pragma=foreign_keys(ON)&_txlock=immediate")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps WAL writer contention inside the Go
	// process visible as ordinary transaction retries instead of
	// cross-connection lock surprises.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// withTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nowUTC() time.Time { return time.Now().UTC() }

// execer and queryRower let helper methods accept either the Store's
// pooled *sql.DB or a caller-supplied *sql.Tx, so a multi-step update
// like AddProjectSpend can participate in a larger transaction without
// a second copy of the same SQL.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) queryRower(tx *sql.Tx) queryRower {
	if tx != nil {
		return tx
	}
	return s.db
}
