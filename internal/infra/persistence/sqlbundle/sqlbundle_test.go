package sqlbundle

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExec struct {
	stmts  []string
	failAt int
}

func (r *recordingExec) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.stmts = append(r.stmts, query)
	if r.failAt > 0 && len(r.stmts) == r.failAt {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestSplitStatementsDropsComments(t *testing.T) {
	for name, ddl := range map[string]string{"sqlite": SQLite(), "postgres": Postgres()} {
		stmts := SplitStatements(ddl)
		require.NotEmpty(t, stmts, name)
		for _, stmt := range stmts {
			assert.False(t, strings.HasPrefix(stmt, "--"), "%s: %q", name, stmt)
			assert.True(t, strings.HasSuffix(stmt, ";"), "%s: %q", name, stmt)
		}
	}
}

func TestBundlesDeclareConcurrencyGuards(t *testing.T) {
	for _, ddl := range []string{SQLite(), Postgres()} {
		assert.Contains(t, ddl, "UNIQUE (unit_id, seq)")
		assert.Contains(t, ddl, "batch_items_one_open_per_unit")
		assert.Contains(t, ddl, "optimizer_sessions")
	}
}

func TestSplitStatementsKeepsUnterminatedTail(t *testing.T) {
	stmts := SplitStatements("-- header\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT)")
	assert.Equal(t, []string{"CREATE TABLE a (x INT);", "CREATE TABLE b (y INT)"}, stmts)
}

func TestApplyExecutesInOrderAndStopsOnError(t *testing.T) {
	rec := &recordingExec{}
	require.NoError(t, Apply(context.Background(), rec, SQLite()))
	assert.Equal(t, SplitStatements(SQLite()), rec.stmts)

	failing := &recordingExec{failAt: 2}
	err := Apply(context.Background(), failing, Postgres())
	require.ErrorContains(t, err, "execute ddl")
	assert.Len(t, failing.stmts, 2)
}
