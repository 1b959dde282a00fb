package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/db"
)

func TestLoadMigrationsPerDialect(t *testing.T) {
	for _, d := range []db.Dialect{db.SQLite, db.Postgres} {
		ms, err := loadMigrations(d)
		require.NoError(t, err, d)
		require.Len(t, ms, 2, d)
		assert.Equal(t, 1, ms[0].Version)
		assert.Equal(t, 2, ms[1].Version)
		assert.NotEmpty(t, ms[0].Statements())
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn, db.SQLite))
	require.NoError(t, Migrate(conn, db.SQLite))

	var version int
	require.NoError(t, conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, 2, version)

	_, err = conn.Exec(`INSERT INTO collections(name, payload, version, writer, updated_at) VALUES ('users','[]',1,'t','now')`)
	require.NoError(t, err)
}
