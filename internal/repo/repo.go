package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"certdesk/internal/db"
	"certdesk/internal/domain"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("collection version conflict")
)

// Unconditional disables the version check on PutCollectionTx.
const Unconditional int64 = -1

// Record is one durable collection row.
type Record struct {
	Name      string
	Payload   string
	Version   int64
	Writer    string
	UpdatedAt string
}

// Stamp identifies a collection revision without its payload.
type Stamp struct {
	Version int64
	Writer  string
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

func (r Repo) GetCollection(ctx context.Context, name string) (Record, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT name,payload,version,writer,updated_at FROM collections WHERE name=?`), name)
	return scanRecord(row)
}

func (r Repo) GetCollectionTx(ctx context.Context, tx *sql.Tx, name string) (Record, error) {
	row := tx.QueryRowContext(ctx, r.q(`SELECT name,payload,version,writer,updated_at FROM collections WHERE name=?`), name)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.Name, &rec.Payload, &rec.Version, &rec.Writer, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// CollectionStamps returns the current version and writer of every stored collection.
func (r Repo) CollectionStamps(ctx context.Context) (map[string]Stamp, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,version,writer FROM collections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]Stamp{}
	for rows.Next() {
		var name string
		var s Stamp
		if err := rows.Scan(&name, &s.Version, &s.Writer); err != nil {
			return nil, err
		}
		res[name] = s
	}
	return res, rows.Err()
}

// PutCollectionTx writes a collection payload. With expect >= 0 the write only
// succeeds if the stored version still equals expect (0 meaning absent);
// otherwise ErrVersionConflict is returned. The new version is returned.
func (r Repo) PutCollectionTx(ctx context.Context, tx *sql.Tx, name, payload string, expect int64, writer string, now time.Time) (int64, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	switch {
	case expect < 0:
		var v int64
		err := tx.QueryRowContext(ctx, r.q(`INSERT INTO collections(name,payload,version,writer,updated_at) VALUES (?,?,1,?,?)
ON CONFLICT(name) DO UPDATE SET payload=excluded.payload, version=collections.version+1, writer=excluded.writer, updated_at=excluded.updated_at
RETURNING version`), name, payload, writer, ts).Scan(&v)
		if err != nil {
			return 0, fmt.Errorf("upsert collection %s: %w", name, err)
		}
		return v, nil
	case expect == 0:
		res, err := tx.ExecContext(ctx, r.q(`INSERT INTO collections(name,payload,version,writer,updated_at) VALUES (?,?,1,?,?) ON CONFLICT(name) DO NOTHING`),
			name, payload, writer, ts)
		if err != nil {
			return 0, fmt.Errorf("insert collection %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%s: %w", name, ErrVersionConflict)
		}
		return 1, nil
	default:
		res, err := tx.ExecContext(ctx, r.q(`UPDATE collections SET payload=?, version=version+1, writer=?, updated_at=? WHERE name=? AND version=?`),
			payload, writer, ts, name, expect)
		if err != nil {
			return 0, fmt.Errorf("update collection %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%s: %w", name, ErrVersionConflict)
		}
		return expect + 1, nil
	}
}

func (r Repo) DeleteCollectionTx(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, r.q(`DELETE FROM collections WHERE name=?`), name)
	return err
}

// EventFilter narrows event log queries. Zero values match everything.
type EventFilter struct {
	Type       string
	Collection string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Collection != "" {
		clauses = append(clauses, "collection=?")
		args = append(args, f.Collection)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

// LatestEvents returns events newest first, starting below cursor when set.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,collection,entity_id,actor_id,writer,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,collection,entity_id,actor_id,writer,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, actorID, writer, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Collection, &entityID, &actorID, &writer, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.ActorID = actorID.String
		e.Writer = writer.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
