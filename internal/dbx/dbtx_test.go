package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		revoked INTEGER NOT NULL DEFAULT 0
	);`)
	require.NoError(t, err)
	return db
}

func countTokens(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tokens`).Scan(&n))
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tokens(id) VALUES ('t1')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countTokens(t, db))
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO tokens(id) VALUES ('t1')`)
		require.NoError(t, e)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, countTokens(t, db), "insert must not survive a failed fn")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countTokens(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO tokens(id) VALUES ('t1')`)
		require.NoError(t, e)
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err)
}

// rotate mirrors the refresh rotation commit: revoke the parent only if still
// live, then insert the child. A lost CAS leaves nothing behind.
func rotate(ctx context.Context, db *sql.DB, parent, child string) error {
	return WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE id = ? AND revoked = 0`, parent)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return sql.ErrNoRows
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO tokens(id, parent_id) VALUES (?, ?)`, child, parent)
		return err
	})
}

func TestWithTx_CompareAndSwapHasOneWinner(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	_, err := db.Exec(`INSERT INTO tokens(id) VALUES ('root')`)
	require.NoError(t, err)

	require.NoError(t, rotate(ctx, db, "root", "child-a"))
	require.ErrorIs(t, rotate(ctx, db, "root", "child-b"), sql.ErrNoRows)

	var live int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tokens WHERE revoked = 0`).Scan(&live))
	require.Equal(t, 1, live)
	require.Equal(t, 2, countTokens(t, db), "loser's child must be rolled back")
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	require.True(t, IsUniqueViolation(unique))
	require.True(t, IsUniqueViolation(fmt.Errorf("db error: %w", unique)))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("plain")))
	require.False(t, IsUniqueViolation(nil))
}
