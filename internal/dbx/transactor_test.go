package dbx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLTransactor_ConnIsTheDB(t *testing.T) {
	db := setupDB(t)
	tr := NewSQLTransactor(db, nil)

	_, err := tr.Conn().ExecContext(context.Background(), `INSERT INTO t(v) VALUES ('direct')`)
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, db))
}

func TestSQLTransactor_WithinTx(t *testing.T) {
	db := setupDB(t)
	tr := NewSQLTransactor(db, nil)
	ctx := context.Background()

	err := tr.WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO t(v) VALUES ('rolled back')`)
		require.NoError(t, e)
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	require.Equal(t, 0, countRows(t, db))

	err = tr.WithinTx(ctx, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO t(v) VALUES ('kept')`)
		return e
	})
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, db))
}
