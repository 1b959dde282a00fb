package persist_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/db"
	"certdesk/internal/domain"
	"certdesk/internal/migrate"
	"certdesk/internal/persist"
	"certdesk/internal/repo"
)

func newAdapter(t *testing.T) persist.Adapter {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	return persist.Adapter{Repo: repo.Repo{DB: conn, Dialect: db.SQLite}, Writer: "test"}
}

func TestLoadAbsentCollection(t *testing.T) {
	a := newAdapter(t)
	items, version, found, err := persist.Load[domain.Client](context.Background(), a, persist.Clients)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, version)
	assert.Nil(t, items)
}

func TestSaveLoadRebuildsDates(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	issued := time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)
	renewed := issued.Add(48 * time.Hour)
	certs := []domain.Certificate{{
		ID:                "c1",
		CertificateNumber: "CERT-2025-001",
		IssueDate:         issued,
		ExpiryDate:        issued.AddDate(1, 0, 0),
		Format:            domain.FormatA4,
		Status:            domain.CertificateValid,
		RenewedAt:         &renewed,
	}}
	v, err := persist.Save(ctx, a, persist.Certificates, certs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	got, version, found, err := persist.Load[domain.Certificate](ctx, a, persist.Certificates)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), version)
	if diff := cmp.Diff(certs, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got[0].ExpiryDate.Equal(issued.AddDate(1, 0, 0)))
}

func TestLoadMalformed(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	_, err := persist.SaveValue(ctx, a, persist.Users, map[string]any{"not": "a list"})
	require.NoError(t, err)

	_, _, found, err := persist.Load[domain.User](ctx, a, persist.Users)
	assert.True(t, found)
	assert.ErrorIs(t, err, persist.ErrMalformed)
}

func TestSingletonValue(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	u := domain.User{ID: "u1", Name: "Ana", Roles: []string{"admin"}, Active: true}
	_, err := persist.SaveValue(ctx, a, persist.CurrentUser, u)
	require.NoError(t, err)

	got, _, found, err := persist.LoadValue[domain.User](ctx, a, persist.CurrentUser)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, u, *got)

	removed, err := persist.Remove(ctx, a, persist.CurrentUser)
	require.NoError(t, err)
	got, version, found, err := persist.LoadValue[domain.User](ctx, a, persist.CurrentUser)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
	assert.Equal(t, removed, version)

	// Versions keep rising across remove and re-create.
	again, err := persist.SaveValue(ctx, a, persist.CurrentUser, u)
	require.NoError(t, err)
	assert.Greater(t, again, removed)
}
