// Package postgres provides the Postgres-backed persistent store. It shares the
// row layout and optimistic write-through of the SQLite store and applies the
// Postgres schema bundle on startup.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"cureline/internal/infra/persistence/memory"
	"cureline/internal/infra/persistence/rowstore"
	"cureline/internal/infra/persistence/sqlbundle"
	"cureline/pkg/domain"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/cureline?sslmode=disable"
)

// SQLSTATE codes treated as lost optimistic races.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect describes Postgres to the shared row writer.
var Dialect = rowstore.Dialect{
	Name:        "postgres",
	Placeholder: rowstore.DollarNumber,
	Classify:    classify,
	SnapshotTx:  &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
}

// Store persists tracking state to Postgres.
type Store struct {
	*rowstore.ReloadingStore
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the schema bundle and hydrates the working set from existing rows.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlbundle.Apply(ctx, db, sqlbundle.Postgres()); err != nil {
		_ = db.Close()
		return nil, err
	}
	inner, err := rowstore.NewReloadingStore(ctx, memory.NewStore(engine, opts...), db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{ReloadingStore: inner}, nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return domain.ConcurrencyConflict(err)
	}
	return err
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
