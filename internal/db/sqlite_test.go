package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDatabaseAppliesPragmas(t *testing.T) {
	d, err := NewDatabase(filepath.Join(t.TempDir(), "a", "b", "osus.db"))
	require.NoError(t, err)
	defer d.Close()

	var mode string
	require.NoError(t, d.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, d.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	require.Equal(t, 5000, timeout)
}

func TestTransactionRollsBack(t *testing.T) {
	d, err := NewDatabase(filepath.Join(t.TempDir(), "osus.db"))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = d.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, d.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (2)")
		return err
	}))

	var n int
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	require.Equal(t, 1, n)
}
