// Package persist maps typed collections onto the durable key-value rows.
//
// Every collection is stored as one JSON document. Date fields travel as
// RFC 3339 text and are rebuilt into time.Time values here, so callers never
// see serialized dates.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"certdesk/internal/repo"
)

type Collection string

const (
	Clients          Collection = "clients"
	JobOrders        Collection = "jobOrders"
	Certificates     Collection = "certificates"
	Payments         Collection = "payments"
	TrainingSessions Collection = "trainingSessions"
	Users            Collection = "users"
	Notifications    Collection = "notifications"
	CurrentUser      Collection = "currentUser"
)

// Collections lists the entity collections in load order.
var Collections = []Collection{Clients, Users, JobOrders, Payments, Certificates, TrainingSessions, Notifications}

// ErrMalformed marks a stored payload that does not decode.
var ErrMalformed = errors.New("malformed collection payload")

// tombstone is the payload left by Remove. The row stays so its version keeps
// increasing across remove and re-create.
const tombstone = "null"

// Adapter binds the typed helpers to a repository and writer identity.
type Adapter struct {
	Repo   repo.Repo
	Writer string
	Now    func() time.Time
}

func (a Adapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func Encode[T any](v T) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func Decode[T any](c Collection, payload string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("%s: %w: %v", c, ErrMalformed, err)
	}
	return out, nil
}

// Load returns the stored items and version. found is false when the key is absent.
func Load[T any](ctx context.Context, a Adapter, c Collection) (items []T, version int64, found bool, err error) {
	rec, err := a.Repo.GetCollection(ctx, string(c))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	if rec.Payload == tombstone {
		return nil, rec.Version, false, nil
	}
	items, err = Decode[[]T](c, rec.Payload)
	if err != nil {
		return nil, rec.Version, true, err
	}
	return items, rec.Version, true, nil
}

// Save replaces the whole collection regardless of its stored version.
func Save[T any](ctx context.Context, a Adapter, c Collection, items []T) (int64, error) {
	if items == nil {
		items = []T{}
	}
	return put(ctx, a, c, items)
}

// LoadValue reads a singleton key such as the session user.
func LoadValue[T any](ctx context.Context, a Adapter, c Collection) (*T, int64, bool, error) {
	rec, err := a.Repo.GetCollection(ctx, string(c))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	if rec.Payload == tombstone {
		return nil, rec.Version, false, nil
	}
	v, err := Decode[*T](c, rec.Payload)
	if err != nil {
		return nil, rec.Version, true, err
	}
	return v, rec.Version, true, nil
}

func SaveValue[T any](ctx context.Context, a Adapter, c Collection, v T) (int64, error) {
	return put(ctx, a, c, v)
}

func put[T any](ctx context.Context, a Adapter, c Collection, v T) (int64, error) {
	payload, err := Encode(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", c, err)
	}
	tx, err := a.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	version, err := a.Repo.PutCollectionTx(ctx, tx, string(c), payload, repo.Unconditional, a.Writer, a.now())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// Remove clears the key for a collection. Later loads report it absent, and
// the returned version is higher than any version the key had before.
func Remove(ctx context.Context, a Adapter, c Collection) (int64, error) {
	tx, err := a.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	version, err := a.Repo.PutCollectionTx(ctx, tx, string(c), tombstone, repo.Unconditional, a.Writer, a.now())
	if err != nil {
		return 0, fmt.Errorf("%s: remove: %w", c, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}
