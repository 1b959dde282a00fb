package store

import (
	"time"

	"certdesk/internal/events"
	"certdesk/internal/persist"
)

// Tx is the working copy handed to an Update function.
type Tx struct {
	State *State
	Actor string

	now     time.Time
	dirty   map[persist.Collection]bool
	order   []persist.Collection
	entries []events.Entry
}

func newTx(st *State, actor string, now time.Time) *Tx {
	return &Tx{State: st, Actor: actor, now: now, dirty: map[persist.Collection]bool{}}
}

// Now is the timestamp shared by everything written in this transaction.
func (t *Tx) Now() time.Time { return t.now }

// Touch marks collections as modified so they are persisted on commit.
func (t *Tx) Touch(cs ...persist.Collection) {
	for _, c := range cs {
		if c == persist.CurrentUser || t.dirty[c] {
			continue
		}
		t.dirty[c] = true
		t.order = append(t.order, c)
	}
}

// Record queues an audit event written in the same durable transaction.
func (t *Tx) Record(e events.Entry) {
	if e.ActorID == "" {
		e.ActorID = t.Actor
	}
	t.entries = append(t.entries, e)
}

func (t *Tx) touched() []string {
	out := make([]string, 0, len(t.order))
	for _, c := range t.order {
		out = append(out, string(c))
	}
	return out
}
