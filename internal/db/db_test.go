package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE collections SET payload=?, version=? WHERE name=? AND version=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE collections SET payload=$1, version=$2 WHERE name=$3 AND version=$4`, Postgres.Rebind(q))
}

func TestConfigDialect(t *testing.T) {
	assert.Equal(t, SQLite, Config{}.Dialect())
	assert.Equal(t, SQLite, Config{Driver: "sqlite"}.Dialect())
	assert.Equal(t, Postgres, Config{Driver: " Postgres "}.Dialect())
}

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())

	_, err = os.Stat(filepath.Join(dir, ".certdesk", "certdesk.db"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".certdesk"), Dir(dir))
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	require.Error(t, err)
}
