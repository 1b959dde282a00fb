// Package session keeps the logged-in user record in step with the users
// collection.
package session

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"certdesk/internal/domain"
	"certdesk/internal/logging"
	"certdesk/internal/syncbus"
)

type Outcome string

const (
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
	Missing   Outcome = "missing"
	NoSession Outcome = "no_session"
)

// Store is the part of the entity store the reconciler needs.
type Store interface {
	CurrentUser() *domain.User
	SetCurrentUser(ctx context.Context, u *domain.User) error
	Users() []domain.User
}

type Reconciler struct {
	Store  Store
	Logger *zap.Logger
}

func New(st Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{Store: st, Logger: logging.OrNop(logger)}
}

// Login stores u verbatim as the session user.
func (r *Reconciler) Login(ctx context.Context, u domain.User) (*domain.User, error) {
	if u.ID == "" {
		return nil, fmt.Errorf("login requires a user id")
	}
	p := &u
	if err := r.Store.SetCurrentUser(ctx, p); err != nil {
		return nil, err
	}
	r.logger().Info("session started", zap.String("user_id", u.ID), zap.String("role", u.CurrentRole))
	return p, nil
}

func (r *Reconciler) Logout(ctx context.Context) error {
	if err := r.Store.SetCurrentUser(ctx, nil); err != nil {
		return err
	}
	r.logger().Info("session ended")
	return nil
}

// Reconcile refreshes the session user from the users collection, matched
// by id. Every field except the active role follows the stored record. When
// the id is no longer present the session is left as it is.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	current := r.Store.CurrentUser()
	if current == nil {
		return NoSession, nil
	}
	var found *domain.User
	for _, u := range r.Store.Users() {
		if u.ID == current.ID {
			found = &u
			break
		}
	}
	if found == nil {
		r.logger().Warn("session user no longer exists", zap.String("user_id", current.ID))
		return Missing, nil
	}
	merged := *found
	merged.CurrentRole = current.CurrentRole
	if reflect.DeepEqual(merged, *current) {
		return Unchanged, nil
	}
	if err := r.Store.SetCurrentUser(ctx, &merged); err != nil {
		return "", fmt.Errorf("refresh session user: %w", err)
	}
	r.logger().Debug("session user refreshed", zap.String("user_id", merged.ID))
	return Updated, nil
}

// Attach runs Reconcile on every users-changed signal until the returned
// function is called.
func (r *Reconciler) Attach(ctx context.Context, bus *syncbus.Bus) func() {
	return bus.Subscribe(func(syncbus.Event) {
		if _, err := r.Reconcile(ctx); err != nil {
			r.logger().Error("session reconcile failed", zap.Error(err))
		}
	}, syncbus.UsersChanged)
}

func (r *Reconciler) logger() *zap.Logger {
	return logging.OrNop(r.Logger)
}
