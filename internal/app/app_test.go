package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/app"
	"certdesk/internal/config"
	"certdesk/internal/engine"
	"certdesk/internal/syncbus"
)

func openApp(t *testing.T, dir, writer string) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.PollInterval = 20 * time.Millisecond
	cfg.Sync.NotifyDelay = 0
	a, err := app.Open(context.Background(), app.Options{Workspace: dir, Config: cfg, Writer: writer})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenSeedsFromConfig(t *testing.T) {
	a := openApp(t, t.TempDir(), "a")
	snap := a.Store.Snapshot()
	assert.NotEmpty(t, snap.Users)
	assert.NotEmpty(t, snap.Clients)
	_, _, ok := snap.User("u-supervisor")
	assert.True(t, ok)
}

func TestWatcherPicksUpOtherContextWrites(t *testing.T) {
	dir := t.TempDir()
	a := openApp(t, dir, "a")
	b := openApp(t, dir, "b")

	ch, unsub := b.Bus.SubscribeChan(8, syncbus.ClientsChanged)
	defer unsub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Watch(ctx) }()

	c, err := a.Engine.CreateClient(context.Background(), engine.ClientCreateOptions{Name: "PT Baja Prima"})
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, syncbus.External, e.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("no external signal")
	}
	_, _, ok := b.Store.Snapshot().Client(c.ID)
	assert.True(t, ok)

	cancel()
	require.NoError(t, <-done)
}

func TestSessionFollowsUserEdits(t *testing.T) {
	a := openApp(t, t.TempDir(), "a")
	ctx := context.Background()
	u, _, ok := a.Store.Snapshot().User("u-inspector")
	require.True(t, ok)
	_, err := a.Session.Login(ctx, u)
	require.NoError(t, err)

	name := "Inspector Renamed"
	_, err = a.Engine.UpdateUser(ctx, engine.UserUpdateOptions{ID: u.ID, Name: &name})
	require.NoError(t, err)
	a.Bus.Flush()
	require.Eventually(t, func() bool {
		cur := a.Store.CurrentUser()
		return cur != nil && cur.Name == name
	}, time.Second, 10*time.Millisecond)
}

func TestWatcherFollowsLogoutThenLogin(t *testing.T) {
	dir := t.TempDir()
	a := openApp(t, dir, "a")
	b := openApp(t, dir, "b")
	ctx := context.Background()
	snap := a.Store.Snapshot()
	inspector, _, _ := snap.User("u-inspector")
	supervisor, _, _ := snap.User("u-supervisor")

	_, err := a.Session.Login(ctx, inspector)
	require.NoError(t, err)
	_, err = b.Watcher.Check(ctx)
	require.NoError(t, err)
	require.NotNil(t, b.Store.CurrentUser())
	assert.Equal(t, "u-inspector", b.Store.CurrentUser().ID)

	require.NoError(t, a.Session.Logout(ctx))
	_, err = a.Session.Login(ctx, supervisor)
	require.NoError(t, err)

	_, err = b.Watcher.Check(ctx)
	require.NoError(t, err)
	require.NotNil(t, b.Store.CurrentUser())
	assert.Equal(t, "u-supervisor", b.Store.CurrentUser().ID)

	require.NoError(t, a.Session.Logout(ctx))
	_, err = b.Watcher.Check(ctx)
	require.NoError(t, err)
	assert.Nil(t, b.Store.CurrentUser())
}

func TestSessionReconcileOutlivesOpenContext(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.NotifyDelay = 0
	openCtx, cancelOpen := context.WithCancel(context.Background())
	a, err := app.Open(openCtx, app.Options{Workspace: t.TempDir(), Config: cfg, Writer: "a"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	cancelOpen()

	ctx := context.Background()
	u, _, ok := a.Store.Snapshot().User("u-inspector")
	require.True(t, ok)
	_, err = a.Session.Login(ctx, u)
	require.NoError(t, err)

	name := "Inspector After Open"
	_, err = a.Engine.UpdateUser(ctx, engine.UserUpdateOptions{ID: u.ID, Name: &name})
	require.NoError(t, err)
	a.Bus.Flush()
	require.Eventually(t, func() bool {
		cur := a.Store.CurrentUser()
		return cur != nil && cur.Name == name
	}, time.Second, 10*time.Millisecond)
}
