package syncbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"certdesk/internal/persist"
	"certdesk/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLocalSignalsAreDeferred(t *testing.T) {
	b := New(30*time.Millisecond, nil, nil)
	defer b.Close()

	var mu sync.Mutex
	var got []Event
	unsub := b.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, JobOrdersChanged)
	defer unsub()

	b.PublishLocal(JobOrdersChanged, UsersChanged, JobOrdersChanged)
	mu.Lock()
	assert.Empty(t, got, "delivery must not be synchronous")
	mu.Unlock()

	b.Flush()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, JobOrdersChanged, got[0].Signal)
	assert.Equal(t, Local, got[0].Origin)
}

func TestUnsubscribeAndPanicIsolation(t *testing.T) {
	b := New(0, nil, nil)
	defer b.Close()
	calls := 0
	b.Subscribe(func(Event) { panic("boom") })
	unsub := b.Subscribe(func(Event) { calls++ })

	b.PublishExternal(UsersChanged)
	assert.Equal(t, 1, calls)
	unsub()
	unsub()
	b.PublishExternal(UsersChanged)
	assert.Equal(t, 1, calls)
}

func TestSubscribeChanDrops(t *testing.T) {
	b := New(0, nil, nil)
	defer b.Close()
	ch, cancel := b.SubscribeChan(1)
	b.PublishExternal(UsersChanged)
	b.PublishExternal(ClientsChanged)
	e := <-ch
	assert.Equal(t, UsersChanged, e.Signal)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSignalFor(t *testing.T) {
	for _, c := range append(persist.Collections, persist.CurrentUser) {
		assert.NotEmpty(t, SignalFor(c), c)
	}
	assert.Equal(t, SessionUserChanged, SignalFor(persist.CurrentUser))
}

type fakeSource struct {
	mu     sync.Mutex
	stamps map[string]repo.Stamp
}

func (f *fakeSource) CollectionStamps(context.Context) (map[string]repo.Stamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]repo.Stamp{}
	for k, v := range f.stamps {
		out[k] = v
	}
	return out, nil
}

type fakeStore struct {
	mu       sync.Mutex
	seen     map[persist.Collection]int64
	source   *fakeSource
	reloaded []persist.Collection
}

func (f *fakeStore) Seen(c persist.Collection) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[c]
}

func (f *fakeStore) Reload(ctx context.Context, c persist.Collection) error {
	stamps, _ := f.source.CollectionStamps(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[c] = stamps[string(c)].Version
	f.reloaded = append(f.reloaded, c)
	return nil
}

func TestWatcherCheckReloadsStaleCollections(t *testing.T) {
	src := &fakeSource{stamps: map[string]repo.Stamp{
		"users":     {Version: 2, Writer: "other"},
		"jobOrders": {Version: 5, Writer: "me"},
	}}
	st := &fakeStore{seen: map[persist.Collection]int64{persist.Users: 1, persist.JobOrders: 5}, source: src}
	b := New(0, nil, nil)
	defer b.Close()
	var signals []Signal
	b.Subscribe(func(e Event) {
		assert.Equal(t, External, e.Origin)
		signals = append(signals, e.Signal)
	})
	w := &Watcher{Bus: b, Source: src, Store: st}

	changed, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []persist.Collection{persist.Users}, changed)
	assert.Equal(t, []Signal{UsersChanged}, signals)

	changed, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestWatcherRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{stamps: map[string]repo.Stamp{}}
	st := &fakeStore{seen: map[persist.Collection]int64{}, source: src}
	w := &Watcher{Source: src, Store: st, Interval: 10 * time.Millisecond, Dir: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	src.mu.Lock()
	src.stamps["clients"] = repo.Stamp{Version: 1, Writer: "other"}
	src.mu.Unlock()

	require.Eventually(t, func() bool { return st.Seen(persist.Clients) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
