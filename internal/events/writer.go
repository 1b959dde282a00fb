package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"certdesk/internal/db"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Entry is an audit event queued by a store transaction.
type Entry struct {
	Type       string
	Collection string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, writer string, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,collection,entity_id,actor_id,writer,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, e.Type, e.Collection, nullable(e.EntityID), nullable(e.ActorID), nullable(writer), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
