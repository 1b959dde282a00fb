package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"certdesk/internal/domain"
	"certdesk/internal/events"
	"certdesk/internal/persist"
	"certdesk/internal/store"
)

// ParseFormat accepts a certificate format name case-insensitively. The
// empty string selects def.
func ParseFormat(s string, def domain.CertificateFormat) (domain.CertificateFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "a4":
		return domain.FormatA4, nil
	case "card":
		return domain.FormatCard, nil
	}
	return "", invalid("unknown certificate format %q", s)
}

func (e Engine) defaultFormat() domain.CertificateFormat {
	f, err := ParseFormat(e.Config.Certificates.DefaultFormat, domain.FormatA4)
	if err != nil {
		return domain.FormatA4
	}
	return f
}

func (e Engine) expiryFrom(t time.Time) time.Time {
	years := e.Config.Certificates.ValidityYears
	if years <= 0 {
		years = 1
	}
	return t.AddDate(years, 0, 0)
}

func findJobCertificate(certs []domain.Certificate, jobID string, format domain.CertificateFormat) (domain.Certificate, bool) {
	for _, c := range certs {
		if c.JobOrderID == jobID && c.TrainingSessionID == "" && c.Format == format {
			return c, true
		}
	}
	return domain.Certificate{}, false
}

// issueJobCertificate returns the job's certificate in format, creating it
// when none exists yet.
func (e Engine) issueJobCertificate(tx *store.Tx, job domain.JobOrder, format domain.CertificateFormat) (domain.Certificate, error) {
	if existing, ok := findJobCertificate(tx.State.Certificates, job.ID, format); ok {
		return existing, nil
	}
	now := tx.Now()
	nums := allocateNumbers(tx.State, certPrefix, now.Year())
	cert := domain.Certificate{
		ID:                uuid.NewString(),
		CertificateNumber: nums.Certificate,
		JobOrderID:        job.ID,
		ClientID:          job.ClientID,
		ClientName:        job.ClientName,
		ServiceType:       job.PrimaryServiceType(),
		IssueDate:         now,
		ExpiryDate:        e.expiryFrom(now),
		VerificationCode:  nums.VerificationCode(),
		DocumentNumber:    nums.Document,
		StickerNumber:     nums.Sticker,
		Format:            format,
		Status:            domain.CertificateValid,
	}
	tx.State.Certificates = append(tx.State.Certificates, cert)
	tx.Touch(persist.Certificates)
	tx.Record(events.Entry{Type: "certificate.issued", Collection: string(persist.Certificates), EntityID: cert.ID,
		Payload: events.EventPayload{"number": cert.CertificateNumber, "job_order_id": job.ID, "format": format}})
	notifyUser(tx, job, job.AssignedTo, "assignee", message{
		Type:    NotifyCertificateIssued,
		Title:   "Certificate issued",
		Message: fmt.Sprintf("Certificate %s was issued for job order %s", cert.CertificateNumber, job.ID),
	})
	return cert, nil
}

// GenerateCertificate issues the certificate for a job order, or returns the
// one already issued in the same format.
func (e Engine) GenerateCertificate(ctx context.Context, jobID, format, actorID string) (domain.Certificate, error) {
	f, err := ParseFormat(format, domain.FormatA4)
	if err != nil {
		return domain.Certificate{}, err
	}
	var out domain.Certificate
	err = e.run(ctx, "certificate.generate", actorID, func(tx *store.Tx) error {
		job, _, ok := tx.State.JobOrder(jobID)
		if !ok {
			return notFound("job order", jobID)
		}
		cert, err := e.issueJobCertificate(tx, job, f)
		if err != nil {
			return err
		}
		out = cert
		return nil
	})
	return out, err
}

// VerifyCertificate looks a certificate up by number or verification code.
// A valid certificate past its expiry date is marked Expired and saved.
func (e Engine) VerifyCertificate(ctx context.Context, query string) (domain.Certificate, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.Certificate{}, invalid("certificate number required")
	}
	canonical := CanonicalCertificateNumber(q)
	var out domain.Certificate
	err := e.run(ctx, "certificate.verify", "", func(tx *store.Tx) error {
		for i, c := range tx.State.Certificates {
			if !strings.EqualFold(c.CertificateNumber, canonical) && !strings.EqualFold(c.VerificationCode, q) {
				continue
			}
			if c.Status == domain.CertificateValid && c.Overdue(tx.Now()) {
				c.Status = domain.CertificateExpired
				tx.State.Certificates[i] = c
				tx.Touch(persist.Certificates)
				tx.Record(events.Entry{Type: "certificate.expired", Collection: string(persist.Certificates), EntityID: c.ID,
					Payload: events.EventPayload{"number": c.CertificateNumber}})
			}
			out = c
			return nil
		}
		return notFound("certificate", q)
	})
	return out, err
}

// RenewCertificate restarts the validity window of a certificate, keeping
// its numbers.
func (e Engine) RenewCertificate(ctx context.Context, certID, actorID string) (domain.Certificate, error) {
	var out domain.Certificate
	err := e.run(ctx, "certificate.renew", actorID, func(tx *store.Tx) error {
		c, idx, ok := tx.State.Certificate(certID)
		if !ok {
			return notFound("certificate", certID)
		}
		now := tx.Now()
		c.IssueDate = now
		c.ExpiryDate = e.expiryFrom(now)
		c.Status = domain.CertificateValid
		c.RenewedAt = &now
		c.RenewalCount++
		tx.State.Certificates[idx] = c
		tx.Touch(persist.Certificates)
		tx.Record(events.Entry{Type: "certificate.renewed", Collection: string(persist.Certificates), EntityID: c.ID,
			Payload: events.EventPayload{"number": c.CertificateNumber, "renewal_count": c.RenewalCount}})
		out = c
		return nil
	})
	return out, err
}

// ExpireCertificates marks every overdue valid certificate Expired and
// returns how many changed.
func (e Engine) ExpireCertificates(ctx context.Context, actorID string) (int, error) {
	n := 0
	err := e.run(ctx, "certificate.expire", actorID, func(tx *store.Tx) error {
		n = 0
		now := tx.Now()
		for i, c := range tx.State.Certificates {
			if c.Status != domain.CertificateValid || !c.Overdue(now) {
				continue
			}
			c.Status = domain.CertificateExpired
			tx.State.Certificates[i] = c
			n++
		}
		if n == 0 {
			return nil
		}
		tx.Touch(persist.Certificates)
		tx.Record(events.Entry{Type: "certificate.expired", Collection: string(persist.Certificates),
			Payload: events.EventPayload{"count": n}})
		return nil
	})
	return n, err
}
