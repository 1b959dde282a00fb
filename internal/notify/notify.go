// Package notify selects the notifications a user should see.
package notify

import (
	"sort"
	"time"

	"certdesk/internal/domain"
)

// Source is the read side of the entity store used by ForCurrentUser.
type Source interface {
	CurrentUser() *domain.User
	Notifications() []domain.Notification
	Users() []domain.User
	Now() time.Time
}

type Feed struct {
	Items  []domain.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

// Visible returns the notifications addressed to user plus those addressed
// to users whose delegation to user is active at now, newest first.
func Visible(all []domain.Notification, user domain.User, users []domain.User, now time.Time) []domain.Notification {
	owners := map[string]bool{user.ID: true}
	for _, u := range users {
		if u.ID == user.ID {
			continue
		}
		if u.Delegation.ActiveAt(now) && u.Delegation.DelegatedToID == user.ID {
			owners[u.ID] = true
		}
	}
	out := make([]domain.Notification, 0)
	for _, n := range all {
		if owners[n.UserID] {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// FeedFor wraps Visible with the unread count.
func FeedFor(all []domain.Notification, user domain.User, users []domain.User, now time.Time) Feed {
	items := Visible(all, user, users, now)
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return Feed{Items: items, Unread: unread}
}

// ForCurrentUser returns the feed of the session user, or an empty feed when
// nobody is logged in.
func ForCurrentUser(src Source) Feed {
	u := src.CurrentUser()
	if u == nil {
		return Feed{Items: []domain.Notification{}}
	}
	return FeedFor(src.Notifications(), *u, src.Users(), src.Now())
}
