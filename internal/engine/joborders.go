package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"certdesk/internal/domain"
	"certdesk/internal/events"
	"certdesk/internal/persist"
	"certdesk/internal/store"
)

type JobOrderCreateOptions struct {
	ClientID      string            `validate:"required"`
	ServiceTypes  []string          `validate:"min=1,dive,required"`
	ScheduledDate time.Time         `validate:"required"`
	Location      string
	Notes         string
	Priority      string `validate:"omitempty,oneof=low normal high urgent"`
	Assignments   map[string]string
	ActorID       string
}

type JobOrderUpdateOptions struct {
	ID            string `validate:"required"`
	ScheduledDate *time.Time
	Location      *string
	Notes         *string
	Priority      *string `validate:"omitempty,oneof=low normal high urgent"`
	// ServiceTypes replaces the list when non-nil; it may not become empty.
	ServiceTypes []string
	Assignments  map[string]string
	ActorID      string
}

type ReportSubmitOptions struct {
	ID         string `validate:"required"`
	ReportData domain.ReportData
	Evidence   []domain.Evidence
	Signatures []domain.Signature
	ActorID    string
}

func (e Engine) CreateJobOrder(ctx context.Context, opts JobOrderCreateOptions) (domain.JobOrder, error) {
	if err := validateStruct(opts); err != nil {
		return domain.JobOrder{}, err
	}
	var out domain.JobOrder
	err := e.run(ctx, "job_order.create", opts.ActorID, func(tx *store.Tx) error {
		client, _, ok := tx.State.Client(opts.ClientID)
		if !ok {
			return notFound("client", opts.ClientID)
		}
		now := tx.Now()
		job := domain.JobOrder{
			ID:            nextJobOrderID(tx.State.JobOrders, now.Year()),
			ClientID:      client.ID,
			ClientName:    client.Name,
			ServiceTypes:  cleanList(opts.ServiceTypes),
			ScheduledDate: opts.ScheduledDate.UTC(),
			Location:      strings.TrimSpace(opts.Location),
			Notes:         opts.Notes,
			Priority:      opts.Priority,
			Assignments:   maps.Clone(opts.Assignments),
			Status:        domain.JobPending,
			PaymentStatus: domain.PaymentPending,
			CreatedBy:     opts.ActorID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		tx.State.JobOrders = append(tx.State.JobOrders, job)
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.created", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"client_id": job.ClientID, "service_types": job.ServiceTypes}})
		addNotifications(tx, job, e.reviewers(tx.State.Users), message{
			Type:    NotifyJobOrderCreated,
			Title:   "New job order",
			Message: fmt.Sprintf("Job order %s for %s needs review", job.ID, job.ClientName),
		})
		out = job
		return nil
	})
	return out, err
}

func (e Engine) UpdateJobOrder(ctx context.Context, opts JobOrderUpdateOptions) (domain.JobOrder, error) {
	if err := validateStruct(opts); err != nil {
		return domain.JobOrder{}, err
	}
	if opts.ServiceTypes != nil && len(cleanList(opts.ServiceTypes)) == 0 {
		return domain.JobOrder{}, invalid("service types cannot be empty")
	}
	var out domain.JobOrder
	err := e.run(ctx, "job_order.update", opts.ActorID, func(tx *store.Tx) error {
		job, idx, ok := tx.State.JobOrder(opts.ID)
		if !ok {
			return notFound("job order", opts.ID)
		}
		changed := []string{}
		if opts.ScheduledDate != nil {
			job.ScheduledDate = opts.ScheduledDate.UTC()
			changed = append(changed, "scheduledDate")
		}
		if opts.Location != nil {
			job.Location = strings.TrimSpace(*opts.Location)
			changed = append(changed, "location")
		}
		if opts.Notes != nil {
			job.Notes = *opts.Notes
			changed = append(changed, "notes")
		}
		if opts.Priority != nil {
			job.Priority = *opts.Priority
			changed = append(changed, "priority")
		}
		if opts.ServiceTypes != nil {
			job.ServiceTypes = cleanList(opts.ServiceTypes)
			changed = append(changed, "serviceTypes")
		}
		if opts.Assignments != nil {
			job.Assignments = maps.Clone(opts.Assignments)
			changed = append(changed, "assignments")
		}
		job.UpdatedAt = tx.Now()
		tx.State.JobOrders[idx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.updated", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"fields": changed}})
		out = job
		return nil
	})
	return out, err
}

// AssignJobOrder hands the job to a user and moves it to In Progress.
func (e Engine) AssignJobOrder(ctx context.Context, jobID, userID, actorID string) (domain.JobOrder, error) {
	var out domain.JobOrder
	err := e.run(ctx, "job_order.assign", actorID, func(tx *store.Tx) error {
		job, idx, ok := tx.State.JobOrder(jobID)
		if !ok {
			return notFound("job order", jobID)
		}
		user, _, ok := tx.State.User(userID)
		if !ok {
			return notFound("user", userID)
		}
		from := job.Status
		job.AssignedTo = user.ID
		job.AssignedToName = user.Name
		job.Status = domain.JobInProgress
		job.UpdatedAt = tx.Now()
		tx.State.JobOrders[idx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.assigned", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"assigned_to": user.ID, "from": from, "to": job.Status}})
		notifyUser(tx, job, user.ID, user.CurrentRole, message{
			Type:    NotifyJobOrderAssigned,
			Title:   "Job order assigned",
			Message: fmt.Sprintf("You have been assigned job order %s for %s", job.ID, job.ClientName),
		})
		out = job
		return nil
	})
	return out, err
}

// SubmitJobOrderReport attaches the field report and completes the job.
func (e Engine) SubmitJobOrderReport(ctx context.Context, opts ReportSubmitOptions) (domain.JobOrder, error) {
	if err := validateStruct(opts); err != nil {
		return domain.JobOrder{}, err
	}
	if err := opts.ReportData.Validate(); err != nil {
		return domain.JobOrder{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var out domain.JobOrder
	err := e.run(ctx, "job_order.submit_report", opts.ActorID, func(tx *store.Tx) error {
		job, idx, ok := tx.State.JobOrder(opts.ID)
		if !ok {
			return notFound("job order", opts.ID)
		}
		if want, ok := e.Config.ReportKindFor(job.PrimaryServiceType()); ok && want != opts.ReportData.Kind {
			return invalid("service type %q expects a %s report, got %s", job.PrimaryServiceType(), want, opts.ReportData.Kind)
		}
		now := tx.Now()
		report := opts.ReportData
		job.ReportData = &report
		job.Evidence = slices.Clone(job.Evidence)
		for _, ev := range opts.Evidence {
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			if ev.UploadedAt.IsZero() {
				ev.UploadedAt = now
			}
			if ev.UploadedBy == "" {
				ev.UploadedBy = opts.ActorID
			}
			job.Evidence = append(job.Evidence, ev)
		}
		job.Signatures = slices.Clone(job.Signatures)
		for _, sig := range opts.Signatures {
			if sig.SignedAt.IsZero() {
				sig.SignedAt = now
			}
			job.Signatures = append(job.Signatures, sig)
		}
		from := job.Status
		job.Status = domain.JobCompleted
		job.UpdatedAt = now
		tx.State.JobOrders[idx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.report_submitted", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"kind": report.Kind, "from": from, "to": job.Status, "evidence": len(opts.Evidence)}})
		addNotifications(tx, job, e.reviewers(tx.State.Users), message{
			Type:    NotifyReportSubmitted,
			Title:   "Report submitted",
			Message: fmt.Sprintf("A %s report for job order %s is ready for approval", report.Kind, job.ID),
		})
		out = job
		return nil
	})
	return out, err
}

// ApproveJobOrder advances a Completed job with a report to Approved and a
// Pending job (or a Completed one missing its report) to In Progress.
func (e Engine) ApproveJobOrder(ctx context.Context, jobID, actorID string) (domain.JobOrder, error) {
	var out domain.JobOrder
	err := e.run(ctx, "job_order.approve", actorID, func(tx *store.Tx) error {
		job, idx, ok := tx.State.JobOrder(jobID)
		if !ok {
			return notFound("job order", jobID)
		}
		from := job.Status
		switch {
		case job.Status == domain.JobCompleted && job.ReportData != nil:
			job.Status = domain.JobApproved
		case job.Status == domain.JobCompleted || job.Status == domain.JobPending:
			job.Status = domain.JobInProgress
		default:
			return invalidTransition("job order", job.ID, from, "approve")
		}
		job.RejectionReason = ""
		job.UpdatedAt = tx.Now()
		tx.State.JobOrders[idx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.approved", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"from": from, "to": job.Status}})
		out = job
		return nil
	})
	return out, err
}

// RejectJobOrder sends the job back to Pending from any status.
func (e Engine) RejectJobOrder(ctx context.Context, jobID, reason, actorID string) (domain.JobOrder, error) {
	var out domain.JobOrder
	err := e.run(ctx, "job_order.reject", actorID, func(tx *store.Tx) error {
		job, idx, ok := tx.State.JobOrder(jobID)
		if !ok {
			return notFound("job order", jobID)
		}
		from := job.Status
		job.Status = domain.JobPending
		job.RejectionReason = strings.TrimSpace(reason)
		job.UpdatedAt = tx.Now()
		tx.State.JobOrders[idx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.rejected", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"from": from, "reason": job.RejectionReason}})
		msg := fmt.Sprintf("Job order %s was rejected", job.ID)
		if job.RejectionReason != "" {
			msg += ": " + job.RejectionReason
		}
		notifyUser(tx, job, job.AssignedTo, "assignee", message{Type: NotifyJobOrderRejected, Title: "Job order rejected", Message: msg})
		out = job
		return nil
	})
	return out, err
}

// RequestRevision returns the job to In Progress with reviewer comments.
func (e Engine) RequestRevision(ctx context.Context, jobID, comments, actorID string) (domain.JobOrder, error) {
	if strings.TrimSpace(comments) == "" {
		return domain.JobOrder{}, invalid("revision comments are required")
	}
	var out domain.JobOrder
	err := e.run(ctx, "job_order.request_revision", actorID, func(tx *store.Tx) error {
		job, idx, ok := tx.State.JobOrder(jobID)
		if !ok {
			return notFound("job order", jobID)
		}
		from := job.Status
		now := tx.Now()
		job.Status = domain.JobInProgress
		job.RevisionComments = comments
		job.RevisionRequestedAt = &now
		job.UpdatedAt = now
		tx.State.JobOrders[idx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "job_order.revision_requested", Collection: string(persist.JobOrders), EntityID: job.ID,
			Payload: events.EventPayload{"from": from, "comments": comments}})
		notifyUser(tx, job, job.AssignedTo, "assignee", message{
			Type:    NotifyRevisionRequested,
			Title:   "Revision requested",
			Message: fmt.Sprintf("Job order %s needs revision: %s", job.ID, comments),
		})
		out = job
		return nil
	})
	return out, err
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
