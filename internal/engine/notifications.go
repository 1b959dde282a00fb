package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"certdesk/internal/domain"
	"certdesk/internal/events"
	"certdesk/internal/notify"
	"certdesk/internal/persist"
	"certdesk/internal/store"
)

const (
	NotifyJobOrderCreated   = "job_order_created"
	NotifyJobOrderAssigned  = "job_order_assigned"
	NotifyReportSubmitted   = "report_submitted"
	NotifyRevisionRequested = "revision_requested"
	NotifyJobOrderRejected  = "job_order_rejected"
	NotifyCertificateIssued = "certificate_issued"
)

type recipient struct {
	User domain.User
	Role string
}

type message struct {
	Type    string
	Title   string
	Message string
}

// notificationID derives a stable id from the job, recipient and position in
// the batch so that two notifications created in the same instant differ.
func notificationID(jobID, role, userID string, createdAt time.Time, ordinal int) string {
	name := strings.Join([]string{jobID, role, userID, createdAt.UTC().Format(time.RFC3339Nano), strconv.Itoa(ordinal)}, notificationSep)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// reviewers returns the fan-out recipients: users holding a supervisor role,
// then users holding a manager role. Each user gets one notification even when
// both scans match; the recorded role is the first that matched. Users with
// Active false are skipped; records stored without the flag decode as active.
func (e Engine) reviewers(users []domain.User) []recipient {
	seen := map[string]bool{}
	var out []recipient
	scan := func(roles []string) {
		for _, u := range users {
			if !u.Active || seen[u.ID] {
				continue
			}
			for _, role := range roles {
				if u.HasRole(role) {
					seen[u.ID] = true
					out = append(out, recipient{User: u, Role: role})
					break
				}
			}
		}
	}
	scan(e.Config.Workflow.SupervisorRoles)
	scan(e.Config.Workflow.ManagerRoles)
	return out
}

// addNotifications appends one notification per recipient for the job order.
func addNotifications(tx *store.Tx, job domain.JobOrder, to []recipient, msg message) []domain.Notification {
	if len(to) == 0 {
		return nil
	}
	now := tx.Now()
	out := make([]domain.Notification, 0, len(to))
	for i, r := range to {
		n := domain.Notification{
			ID:         notificationID(job.ID, r.Role, r.User.ID, now, len(tx.State.Notifications)+i),
			UserID:     r.User.ID,
			Type:       msg.Type,
			Title:      msg.Title,
			Message:    msg.Message,
			CreatedAt:  now,
			Link:       "/job-orders/" + job.ID,
			JobOrderID: job.ID,
		}
		out = append(out, n)
	}
	tx.State.Notifications = append(tx.State.Notifications, out...)
	tx.Touch(persist.Notifications)
	return out
}

// notifyUser addresses a single user when it exists.
func notifyUser(tx *store.Tx, job domain.JobOrder, userID, role string, msg message) {
	if userID == "" {
		return
	}
	u, _, ok := tx.State.User(userID)
	if !ok {
		return
	}
	addNotifications(tx, job, []recipient{{User: u, Role: role}}, msg)
}

// MarkNotificationAsRead flags one notification as read.
func (e Engine) MarkNotificationAsRead(ctx context.Context, id, actorID string) (domain.Notification, error) {
	var out domain.Notification
	err := e.run(ctx, "notification.read", actorID, func(tx *store.Tx) error {
		n, idx, ok := tx.State.Notification(id)
		if !ok {
			return notFound("notification", id)
		}
		if n.Read {
			out = n
			return nil
		}
		n.Read = true
		tx.State.Notifications[idx] = n
		tx.Touch(persist.Notifications)
		tx.Record(events.Entry{Type: "notification.read", Collection: string(persist.Notifications), EntityID: n.ID})
		out = n
		return nil
	})
	return out, err
}

// MarkAllNotificationsRead flags every unread notification visible to the
// user, including those reached through an active delegation.
func (e Engine) MarkAllNotificationsRead(ctx context.Context, userID, actorID string) (int, error) {
	count := 0
	err := e.run(ctx, "notification.read_all", actorID, func(tx *store.Tx) error {
		count = 0
		u, _, ok := tx.State.User(userID)
		if !ok {
			return notFound("user", userID)
		}
		ids := map[string]bool{}
		for _, n := range notify.Visible(tx.State.Notifications, u, tx.State.Users, tx.Now()) {
			if !n.Read {
				ids[n.ID] = true
			}
		}
		if len(ids) == 0 {
			return nil
		}
		for i, n := range tx.State.Notifications {
			if ids[n.ID] {
				n.Read = true
				tx.State.Notifications[i] = n
				count++
			}
		}
		tx.Touch(persist.Notifications)
		tx.Record(events.Entry{Type: "notification.read_all", Collection: string(persist.Notifications), EntityID: userID,
			Payload: events.EventPayload{"count": count}})
		return nil
	})
	return count, err
}
