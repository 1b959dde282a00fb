package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/domain"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	user  *domain.User
	notes []domain.Notification
	users []domain.User
}

func (f fakeSource) CurrentUser() *domain.User            { return f.user }
func (f fakeSource) Notifications() []domain.Notification { return f.notes }
func (f fakeSource) Users() []domain.User                 { return f.users }
func (f fakeSource) Now() time.Time                       { return now }

func note(id, user string, age time.Duration, read bool) domain.Notification {
	return domain.Notification{ID: id, UserID: user, CreatedAt: now.Add(-age), Read: read}
}

func TestVisibleIncludesActiveDelegations(t *testing.T) {
	ended := now.Add(-time.Hour)
	users := []domain.User{
		{ID: "me"},
		{ID: "boss", Delegation: &domain.Delegation{DelegatedToID: "me", Active: true, StartDate: now.Add(-48 * time.Hour)}},
		{ID: "old", Delegation: &domain.Delegation{DelegatedToID: "me", Active: true, StartDate: now.Add(-48 * time.Hour), EndDate: &ended}},
		{ID: "future", Delegation: &domain.Delegation{DelegatedToID: "me", Active: true, StartDate: now.Add(time.Hour)}},
		{ID: "off", Delegation: &domain.Delegation{DelegatedToID: "me", Active: false, StartDate: now.Add(-time.Hour)}},
	}
	all := []domain.Notification{
		note("n1", "me", 3*time.Hour, false),
		note("n2", "boss", time.Hour, false),
		note("n3", "old", time.Minute, false),
		note("n4", "future", time.Minute, false),
		note("n5", "off", time.Minute, false),
		note("n6", "someone", time.Minute, false),
	}
	got := Visible(all, users[0], users, now)
	require.Len(t, got, 2)
	assert.Equal(t, "n2", got[0].ID, "newest first")
	assert.Equal(t, "n1", got[1].ID)
}

func TestFeedCountsUnread(t *testing.T) {
	me := domain.User{ID: "me"}
	src := fakeSource{
		user:  &me,
		users: []domain.User{me},
		notes: []domain.Notification{note("a", "me", time.Hour, true), note("b", "me", time.Minute, false)},
	}
	feed := ForCurrentUser(src)
	assert.Len(t, feed.Items, 2)
	assert.Equal(t, 1, feed.Unread)

	feed = ForCurrentUser(fakeSource{notes: src.notes})
	assert.Empty(t, feed.Items)
	assert.Zero(t, feed.Unread)
}
