package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubDBStoresUpdatesAndDeletesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	require.NoError(t, conn.Ping(ctx))

	_, err := conn.ExecContext(ctx, "INSERT INTO units (id, version, payload) VALUES ($1, $2, $3)", []driver.NamedValue{
		{Value: "u1"}, {Value: int64(1)}, {Value: `{"id":"u1"}`},
	})
	require.NoError(t, err)
	require.Len(t, conn.Tables["units"], 1)

	res, err := conn.ExecContext(ctx, "UPDATE units SET version = $1, payload = $2 WHERE id = $3 AND version = $4", []driver.NamedValue{
		{Value: int64(2)}, {Value: `{"id":"u1","v":2}`}, {Value: "u1"}, {Value: int64(1)},
	})
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(2), conn.Tables["units"][0]["version"])

	res, err = conn.ExecContext(ctx, "UPDATE units SET version = $1, payload = $2 WHERE id = $3 AND version = $4", []driver.NamedValue{
		{Value: int64(2)}, {Value: "{}"}, {Value: "u1"}, {Value: int64(1)},
	})
	require.NoError(t, err)
	n, _ = res.RowsAffected()
	assert.Zero(t, n, "stale version matches nothing")

	rows, err := conn.QueryContext(ctx, "SELECT payload FROM units", nil)
	require.NoError(t, err)
	dest := make([]driver.Value, 1)
	require.NoError(t, rows.Next(dest))
	assert.Equal(t, `{"id":"u1","v":2}`, dest[0])
	require.NoError(t, rows.Close())

	res, err = conn.ExecContext(ctx, "DELETE FROM units WHERE id = $1 AND version = $2", []driver.NamedValue{{Value: "u1"}, {Value: int64(2)}})
	require.NoError(t, err)
	n, _ = res.RowsAffected()
	assert.Equal(t, int64(1), n)
	assert.Empty(t, conn.Tables["units"])
}

func TestStubDBInjectsPostgresErrors(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.UniqueViolations = map[string]bool{"production_events": true}

	_, err := conn.ExecContext(ctx, "INSERT INTO production_events (id) VALUES ($1)", []driver.NamedValue{{Value: "e1"}})
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "23505", pgErr.Code)

	conn.SerializationFailure = true
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	require.NoError(t, err)
	require.True(t, errors.As(tx.Commit(), &pgErr))
	assert.Equal(t, "40001", pgErr.Code)
	require.NoError(t, tx.Commit(), "failure is one-shot")
}
