// Package sqlite provides the SQLite-backed persistent store. Transactions run
// against the in-memory working set and write changed rows through to SQLite
// before they become visible.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cureline/internal/infra/persistence/memory"
	"cureline/internal/infra/persistence/rowstore"
	"cureline/internal/infra/persistence/sqlbundle"
	"cureline/pkg/domain"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "cureline.db"

// Pragmas applied on every connection. busy_timeout lets concurrent writers
// queue instead of failing immediately.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

// Dialect describes SQLite to the shared row writer.
var Dialect = rowstore.Dialect{
	Name:        "sqlite",
	Placeholder: rowstore.QuestionMark,
	Classify:    classify,
}

// Store persists tracking state to SQLite.
type Store struct {
	*rowstore.ReloadingStore
	path string
}

// NewStore opens (creating if needed) the database at path, applies the schema
// and hydrates the working set from existing rows.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx := context.Background()
	if err := sqlbundle.Apply(ctx, db, sqlbundle.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	inner, err := rowstore.NewReloadingStore(ctx, memory.NewStore(engine, opts...), db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{ReloadingStore: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func classify(err error) error {
	if isBusyError(err) || isConstraintError(err) {
		return domain.ConcurrencyConflict(err)
	}
	return err
}

// isConstraintError matches unique and primary key violations, which signal
// that another writer inserted the same sequence number or open membership.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
