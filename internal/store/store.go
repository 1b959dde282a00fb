// Package store holds the process-resident entity graph and mirrors it to
// the durable collection rows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certdesk/internal/domain"
	"certdesk/internal/events"
	"certdesk/internal/logging"
	"certdesk/internal/metrics"
	"certdesk/internal/persist"
	"certdesk/internal/repo"
	"certdesk/internal/syncbus"
)

const defaultMaxRetries = 3

type Options struct {
	Repo    repo.Repo
	Bus     *syncbus.Bus
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Writer identifies this execution context in durable rows. A random id
	// is used when empty.
	Writer string
	Now    func() time.Time
	// Defaults supplies the content of collections that are absent or unreadable.
	Defaults   func(now time.Time) State
	MaxRetries int
}

type Store struct {
	mu       sync.RWMutex
	state    State
	versions map[persist.Collection]int64
	current  *domain.User

	adapter    persist.Adapter
	events     events.Writer
	bus        *syncbus.Bus
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	defaults   func(time.Time) State
	maxRetries int
}

// Open loads every collection, persisting defaults for absent ones.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Repo.DB == nil {
		return nil, errors.New("store requires a database")
	}
	if opts.Writer == "" {
		opts.Writer = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Defaults == nil {
		opts.Defaults = func(time.Time) State { return State{} }
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	s := &Store{
		versions:   map[persist.Collection]int64{},
		adapter:    persist.Adapter{Repo: opts.Repo, Writer: opts.Writer, Now: opts.Now},
		events:     events.Writer{Dialect: opts.Repo.Dialect, Now: opts.Now},
		bus:        opts.Bus,
		logger:     logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		now:        opts.Now,
		defaults:   opts.Defaults,
		maxRetries: opts.MaxRetries,
	}
	defaults := s.defaults(s.now())
	for _, c := range persist.Collections {
		if err := s.hydrate(ctx, c, defaults); err != nil {
			return nil, err
		}
	}
	if err := s.Reload(ctx, persist.CurrentUser); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate(ctx context.Context, c persist.Collection, defaults State) error {
	rec, err := s.adapter.Repo.GetCollection(ctx, string(c))
	if errors.Is(err, repo.ErrNotFound) {
		payload, err := defaults.encode(c)
		if err != nil {
			return err
		}
		tx, err := s.adapter.Repo.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		v, err := s.adapter.Repo.PutCollectionTx(ctx, tx, string(c), payload, 0, s.adapter.Writer, s.now())
		if errors.Is(err, repo.ErrVersionConflict) {
			tx.Rollback()
			return s.Reload(ctx, c)
		}
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.state.assign(c, defaults)
		s.versions[c] = v
		return nil
	}
	if err != nil {
		return err
	}
	var loaded State
	if err := loaded.decode(c, rec.Payload); err != nil {
		s.logger.Error("collection unreadable, using defaults",
			zap.String("collection", string(c)), zap.Error(err))
		loaded = defaults
	}
	s.state.assign(c, loaded)
	s.versions[c] = rec.Version
	return nil
}

// Writer returns the identity written to durable rows by this store.
func (s *Store) Writer() string { return s.adapter.Writer }

// Repo exposes the underlying repository for read-only queries such as the event log.
func (s *Store) Repo() repo.Repo { return s.adapter.Repo }

func (s *Store) Now() time.Time { return s.now() }

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Users() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Users)
}

func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Notifications)
}

// Seen returns the durable version of c this store last loaded or wrote.
func (s *Store) Seen(c persist.Collection) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[c]
}

// Reload re-reads a collection from durable storage.
func (s *Store) Reload(ctx context.Context, c persist.Collection) error {
	if c == persist.CurrentUser {
		return s.reloadCurrentUser(ctx)
	}
	rec, err := s.adapter.Repo.GetCollection(ctx, string(c))
	if errors.Is(err, repo.ErrNotFound) {
		s.mu.Lock()
		s.state.assign(c, s.defaults(s.now()))
		s.versions[c] = 0
		s.mu.Unlock()
		s.metrics.Reload(string(c))
		return nil
	}
	if err != nil {
		return err
	}
	var loaded State
	decodeErr := loaded.decode(c, rec.Payload)
	s.mu.Lock()
	if decodeErr == nil {
		s.state.assign(c, loaded)
	}
	s.versions[c] = rec.Version
	s.mu.Unlock()
	s.metrics.Reload(string(c))
	if decodeErr != nil {
		s.logger.Error("reloaded collection unreadable, keeping in-memory copy",
			zap.String("collection", string(c)), zap.Error(decodeErr))
	}
	return nil
}

func (s *Store) reloadCurrentUser(ctx context.Context) error {
	u, v, _, err := persist.LoadValue[domain.User](ctx, s.adapter, persist.CurrentUser)
	if err != nil && !errors.Is(err, persist.ErrMalformed) {
		return err
	}
	if err != nil {
		s.logger.Error("session user unreadable, clearing session", zap.Error(err))
		u = nil
	}
	s.mu.Lock()
	s.current = u
	s.versions[persist.CurrentUser] = v
	s.mu.Unlock()
	s.metrics.Reload(string(persist.CurrentUser))
	return nil
}

// CurrentUser returns the session user pointer, or nil when logged out.
// The value must be treated as read-only.
func (s *Store) CurrentUser() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentUser persists u verbatim as the session user. A nil u logs out.
// The key is written last-writer-wins.
func (s *Store) SetCurrentUser(ctx context.Context, u *domain.User) error {
	var version int64
	if u == nil {
		v, err := persist.Remove(ctx, s.adapter, persist.CurrentUser)
		if err != nil {
			return fmt.Errorf("clear session user: %w", err)
		}
		version = v
	} else {
		v, err := persist.SaveValue(ctx, s.adapter, persist.CurrentUser, u)
		if err != nil {
			return fmt.Errorf("save session user: %w", err)
		}
		version = v
	}
	s.mu.Lock()
	s.current = u
	s.versions[persist.CurrentUser] = version
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.PublishLocal(syncbus.SessionUserChanged)
	}
	return nil
}

// Update runs fn against a working copy of the state and commits the
// collections it touched in one durable transaction, together with the
// recorded audit events. When another context committed first, the touched
// collections are reloaded and fn runs again, up to the retry limit.
// Change signals are published after the commit.
func (s *Store) Update(ctx context.Context, actor string, fn func(tx *Tx) error) error {
	for attempt := 0; ; attempt++ {
		s.mu.Lock()
		working := s.state.Clone()
		tx := newTx(&working, actor, s.now())
		if err := apply(fn, tx); err != nil {
			s.mu.Unlock()
			return err
		}
		if len(tx.dirty) == 0 {
			s.mu.Unlock()
			return nil
		}
		versions, err := s.commit(ctx, tx)
		if errors.Is(err, repo.ErrVersionConflict) {
			s.mu.Unlock()
			if attempt >= s.maxRetries {
				return err
			}
			s.logger.Debug("version conflict, reloading", zap.Strings("collections", tx.touched()), zap.Int("attempt", attempt+1))
			var reloaded []syncbus.Signal
			for _, c := range tx.order {
				s.metrics.Conflict(string(c))
				if rerr := s.Reload(ctx, c); rerr != nil {
					return rerr
				}
				reloaded = append(reloaded, syncbus.SignalFor(c))
			}
			if s.bus != nil {
				s.bus.PublishExternal(reloaded...)
			}
			continue
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}
		for _, c := range tx.order {
			s.state.assign(c, working)
			s.versions[c] = versions[c]
		}
		s.mu.Unlock()
		if s.bus != nil {
			signals := make([]syncbus.Signal, 0, len(tx.order))
			for _, c := range tx.order {
				signals = append(signals, syncbus.SignalFor(c))
			}
			s.bus.PublishLocal(signals...)
		}
		return nil
	}
}

func apply(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation aborted: %v", r)
		}
	}()
	return fn(tx)
}

func (s *Store) commit(ctx context.Context, tx *Tx) (map[persist.Collection]int64, error) {
	sqlTx, err := s.adapter.Repo.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer sqlTx.Rollback()
	versions := make(map[persist.Collection]int64, len(tx.order))
	for _, c := range tx.order {
		payload, err := tx.State.encode(c)
		if err != nil {
			return nil, err
		}
		v, err := s.adapter.Repo.PutCollectionTx(ctx, sqlTx, string(c), payload, s.versions[c], s.adapter.Writer, tx.now)
		if err != nil {
			return nil, err
		}
		versions[c] = v
	}
	for _, e := range tx.entries {
		if err := s.events.Append(ctx, sqlTx, s.adapter.Writer, e); err != nil {
			return nil, err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return versions, nil
}
