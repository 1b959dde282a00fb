package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"certdesk/internal/domain"
	"certdesk/internal/events"
	"certdesk/internal/persist"
	"certdesk/internal/store"
)

type PaymentCreateOptions struct {
	JobOrderID string  `validate:"required"`
	Amount     float64 `validate:"gt=0"`
	Method     string  `validate:"omitempty,oneof=transfer cash card cheque"`
	Reference  string
	ActorID    string
}

func (e Engine) CreatePayment(ctx context.Context, opts PaymentCreateOptions) (domain.Payment, error) {
	if err := validateStruct(opts); err != nil {
		return domain.Payment{}, err
	}
	var out domain.Payment
	err := e.run(ctx, "payment.create", opts.ActorID, func(tx *store.Tx) error {
		if _, _, ok := tx.State.JobOrder(opts.JobOrderID); !ok {
			return notFound("job order", opts.JobOrderID)
		}
		p := domain.Payment{
			ID:         uuid.NewString(),
			JobOrderID: opts.JobOrderID,
			Amount:     opts.Amount,
			Method:     opts.Method,
			Reference:  strings.TrimSpace(opts.Reference),
			Status:     domain.PaymentPending,
			CreatedAt:  tx.Now(),
		}
		tx.State.Payments = append(tx.State.Payments, p)
		tx.Touch(persist.Payments)
		tx.Record(events.Entry{Type: "payment.created", Collection: string(persist.Payments), EntityID: p.ID,
			Payload: events.EventPayload{"job_order_id": p.JobOrderID, "amount": p.Amount}})
		out = p
		return nil
	})
	return out, err
}

// ConfirmPayment confirms a pending payment, marks its job order Paid and
// issues the job's certificate in the default format. Confirming an already
// confirmed payment changes nothing.
func (e Engine) ConfirmPayment(ctx context.Context, paymentID, actorID string) (domain.Payment, error) {
	var out domain.Payment
	err := e.run(ctx, "payment.confirm", actorID, func(tx *store.Tx) error {
		p, idx, ok := tx.State.Payment(paymentID)
		if !ok {
			return notFound("payment", paymentID)
		}
		switch p.Status {
		case domain.PaymentConfirmed:
			out = p
			return nil
		case domain.PaymentPending:
		default:
			return invalidTransition("payment", p.ID, p.Status, "confirm")
		}
		job, jobIdx, ok := tx.State.JobOrder(p.JobOrderID)
		if !ok {
			return notFound("job order", p.JobOrderID)
		}
		now := tx.Now()
		p.Status = domain.PaymentConfirmed
		p.ConfirmedBy = actorID
		p.ConfirmedAt = &now
		tx.State.Payments[idx] = p
		tx.Touch(persist.Payments)

		from := job.Status
		job.Status = domain.JobPaid
		job.PaymentStatus = domain.PaymentConfirmed
		job.UpdatedAt = now
		tx.State.JobOrders[jobIdx] = job
		tx.Touch(persist.JobOrders)
		tx.Record(events.Entry{Type: "payment.confirmed", Collection: string(persist.Payments), EntityID: p.ID,
			Payload: events.EventPayload{"job_order_id": job.ID, "from": from, "to": job.Status}})

		if _, err := e.issueJobCertificate(tx, job, e.defaultFormat()); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (e Engine) RejectPayment(ctx context.Context, paymentID, reason, actorID string) (domain.Payment, error) {
	var out domain.Payment
	err := e.run(ctx, "payment.reject", actorID, func(tx *store.Tx) error {
		p, idx, ok := tx.State.Payment(paymentID)
		if !ok {
			return notFound("payment", paymentID)
		}
		if p.Status != domain.PaymentPending {
			return invalidTransition("payment", p.ID, p.Status, "reject")
		}
		p.Status = domain.PaymentFailed
		p.FailureReason = strings.TrimSpace(reason)
		tx.State.Payments[idx] = p
		tx.Touch(persist.Payments)
		if job, jobIdx, ok := tx.State.JobOrder(p.JobOrderID); ok {
			job.PaymentStatus = domain.PaymentFailed
			job.UpdatedAt = tx.Now()
			tx.State.JobOrders[jobIdx] = job
			tx.Touch(persist.JobOrders)
		}
		tx.Record(events.Entry{Type: "payment.rejected", Collection: string(persist.Payments), EntityID: p.ID,
			Payload: events.EventPayload{"job_order_id": p.JobOrderID, "reason": p.FailureReason}})
		out = p
		return nil
	})
	return out, err
}
