package engine_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"certdesk/internal/config"
	"certdesk/internal/db"
	"certdesk/internal/domain"
	"certdesk/internal/engine"
	"certdesk/internal/migrate"
	"certdesk/internal/persist"
	"certdesk/internal/repo"
	"certdesk/internal/store"
)

type testEnv struct {
	Engine engine.Engine
	Store  *store.Store
	Repo   repo.Repo
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func seedState(users ...domain.User) func(time.Time) store.State {
	return func(now time.Time) store.State {
		if users == nil {
			users = []domain.User{
				{ID: "u-admin", Name: "Admin", Roles: []string{"admin"}, CurrentRole: "admin", Active: true},
				{ID: "u-sup", Name: "Sari", Roles: []string{"supervisor"}, CurrentRole: "supervisor", Active: true},
				{ID: "u-insp", Name: "Budi", Roles: []string{"inspector"}, CurrentRole: "inspector", Active: true},
			}
		}
		return store.State{
			Users:   users,
			Clients: []domain.Client{{ID: "c-001", Name: "PT Maju Jaya", Status: domain.ClientActive, CreatedAt: now}},
		}
	}
}

func openEnv(t *testing.T, dir, writer string, defaults func(time.Time) store.State) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := repo.Repo{DB: conn, Dialect: db.SQLite}
	st, err := store.Open(context.Background(), store.Options{
		Repo:     r,
		Writer:   writer,
		Now:      func() time.Time { return clock },
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return testEnv{
		Engine: engine.New(st, config.Default(), nil, nil),
		Store:  st,
		Repo:   r,
		Ctx:    context.Background(),
		clock:  &clock,
	}
}

func newTestEnv(t *testing.T, users ...domain.User) testEnv {
	t.Helper()
	return openEnv(t, t.TempDir(), "test", seedState(users...))
}

func inspectionReport() domain.ReportData {
	return domain.ReportData{
		Kind: domain.ReportInspection,
		Inspection: &domain.InspectionReport{
			Equipment:     domain.Equipment{Description: "Overhead crane 5t", SerialNumber: "OC-55"},
			Checklist:     []domain.ChecklistItem{{Item: "Hook latch", Result: domain.CheckPass}},
			OverallResult: domain.CheckPass,
		},
	}
}

func createJob(t *testing.T, env testEnv) domain.JobOrder {
	t.Helper()
	job, err := env.Engine.CreateJobOrder(env.Ctx, engine.JobOrderCreateOptions{
		ClientID:      "c-001",
		ServiceTypes:  []string{"Lifting Inspection"},
		ScheduledDate: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		Location:      "Cikarang",
		ActorID:       "u-admin",
	})
	if err != nil {
		t.Fatalf("create job order: %v", err)
	}
	return job
}

func TestJobOrderLifecycleToPaid(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	if job.ID != "JO-2025001" {
		t.Fatalf("expected JO-2025001, got %s", job.ID)
	}
	if job.Status != domain.JobPending || job.PaymentStatus != domain.PaymentPending || job.ClientName != "PT Maju Jaya" {
		t.Fatalf("unexpected new job: %+v", job)
	}

	job, err := env.Engine.ApproveJobOrder(env.Ctx, job.ID, "u-sup")
	if err != nil || job.Status != domain.JobInProgress {
		t.Fatalf("approve pending: %v %s", err, job.Status)
	}
	job, err = env.Engine.SubmitJobOrderReport(env.Ctx, engine.ReportSubmitOptions{
		ID:         job.ID,
		ReportData: inspectionReport(),
		Evidence:   []domain.Evidence{{Name: "hook.jpg"}},
		ActorID:    "u-insp",
	})
	if err != nil || job.Status != domain.JobCompleted {
		t.Fatalf("submit report: %v %s", err, job.Status)
	}
	if len(job.Evidence) != 1 || job.Evidence[0].ID == "" {
		t.Fatalf("expected evidence with id, got %+v", job.Evidence)
	}
	job, err = env.Engine.ApproveJobOrder(env.Ctx, job.ID, "u-sup")
	if err != nil || job.Status != domain.JobApproved {
		t.Fatalf("approve completed: %v %s", err, job.Status)
	}

	pay, err := env.Engine.CreatePayment(env.Ctx, engine.PaymentCreateOptions{JobOrderID: job.ID, Amount: 1500000, Method: "transfer"})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	pay, err = env.Engine.ConfirmPayment(env.Ctx, pay.ID, "u-admin")
	if err != nil || pay.Status != domain.PaymentConfirmed {
		t.Fatalf("confirm payment: %v %s", err, pay.Status)
	}
	// a second confirmation is a no-op
	if _, err := env.Engine.ConfirmPayment(env.Ctx, pay.ID, "u-admin"); err != nil {
		t.Fatalf("reconfirm payment: %v", err)
	}

	snap := env.Store.Snapshot()
	got, _, _ := snap.JobOrder(job.ID)
	if got.Status != domain.JobPaid || got.PaymentStatus != domain.PaymentConfirmed {
		t.Fatalf("expected Paid/Confirmed, got %s/%s", got.Status, got.PaymentStatus)
	}
	if len(snap.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(snap.Certificates))
	}
	cert := snap.Certificates[0]
	if !regexp.MustCompile(`^CERT-2025-\d{3}$`).MatchString(cert.CertificateNumber) {
		t.Fatalf("unexpected certificate number %s", cert.CertificateNumber)
	}
	if cert.Format != domain.FormatA4 || cert.JobOrderID != job.ID || cert.ServiceType != "Lifting Inspection" {
		t.Fatalf("unexpected certificate: %+v", cert)
	}
	if cert.VerificationCode != cert.DocumentNumber+"-"+cert.StickerNumber+"-"+cert.CertificateNumber {
		t.Fatalf("unexpected verification code %s", cert.VerificationCode)
	}
	if !cert.ExpiryDate.Equal(cert.IssueDate.AddDate(1, 0, 0)) {
		t.Fatalf("expected one year validity, got %s..%s", cert.IssueDate, cert.ExpiryDate)
	}

	evts, err := env.Repo.LatestEvents(env.Ctx, 50, 0, repo.EventFilter{EntityID: job.ID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 4 {
		t.Fatalf("expected job order events, got %d", len(evts))
	}
}

func TestGenerateCertificateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	first, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "", "u-admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "a4", "u-admin")
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if first.ID != second.ID || first.CertificateNumber != second.CertificateNumber {
		t.Fatalf("expected the same certificate, got %s and %s", first.CertificateNumber, second.CertificateNumber)
	}
	card, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "Card", "u-admin")
	if err != nil {
		t.Fatalf("generate card: %v", err)
	}
	if card.ID == first.ID || card.Format != domain.FormatCard {
		t.Fatalf("expected a separate card certificate, got %+v", card)
	}
	if n := len(env.Store.Snapshot().Certificates); n != 2 {
		t.Fatalf("expected 2 certificates, got %d", n)
	}
	if _, err := env.Engine.GenerateCertificate(env.Ctx, "JO-missing", "", "u-admin"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "poster", "u-admin"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestRejectAlwaysReturnsToPending(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	if _, err := env.Engine.AssignJobOrder(env.Ctx, job.ID, "u-insp", "u-sup"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitJobOrderReport(env.Ctx, engine.ReportSubmitOptions{ID: job.ID, ReportData: inspectionReport()}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.ApproveJobOrder(env.Ctx, job.ID, "u-sup"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, err := env.Engine.RejectJobOrder(env.Ctx, job.ID, "wrong serial number", "u-sup")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.JobPending || got.RejectionReason != "wrong serial number" {
		t.Fatalf("expected Pending with reason, got %s %q", got.Status, got.RejectionReason)
	}
	got, err = env.Engine.RejectJobOrder(env.Ctx, job.ID, "", "u-sup")
	if err != nil || got.Status != domain.JobPending {
		t.Fatalf("reject pending: %v %s", err, got.Status)
	}
	if _, err := env.Engine.RejectJobOrder(env.Ctx, "JO-nope", "", "u-sup"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApproveRules(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	if _, err := env.Engine.AssignJobOrder(env.Ctx, job.ID, "u-insp", "u-sup"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.ApproveJobOrder(env.Ctx, job.ID, "u-sup"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from In Progress, got %v", err)
	}
	job, err := env.Engine.RequestRevision(env.Ctx, job.ID, "retake photos", "u-sup")
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if job.Status != domain.JobInProgress || job.RevisionComments != "retake photos" || job.RevisionRequestedAt == nil {
		t.Fatalf("unexpected revision state: %+v", job)
	}
	// a report of the wrong kind for the service type is refused
	calib := domain.ReportData{Kind: domain.ReportCalibration, Calibration: &domain.CalibrationReport{
		ReferenceStandard: "ISO 17025", Readings: []domain.Reading{{Nominal: 10, Measured: 10.1, Tolerance: 0.2}},
	}}
	if _, err := env.Engine.SubmitJobOrderReport(env.Ctx, engine.ReportSubmitOptions{ID: job.ID, ReportData: calib}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for mismatched kind, got %v", err)
	}
	if _, err := env.Engine.SubmitJobOrderReport(env.Ctx, engine.ReportSubmitOptions{ID: job.ID, ReportData: domain.ReportData{Kind: domain.ReportInspection}}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty report, got %v", err)
	}
}

func TestFanOutNotifiesSupervisorsAndManagers(t *testing.T) {
	env := newTestEnv(t,
		domain.User{ID: "s1", Name: "Sup One", Roles: []string{"supervisor"}, Active: true},
		domain.User{ID: "s2", Name: "Sup Two", Roles: []string{"inspector"}, CurrentRole: "Supervisor", Active: true},
		domain.User{ID: "m1", Name: "Manager", Roles: []string{"manager", "supervisor"}, Active: false},
		domain.User{ID: "m2", Name: "GM", Roles: []string{"gm"}, Active: true},
		domain.User{ID: "i1", Name: "Inspector", Roles: []string{"inspector"}, Active: true},
	)
	job := createJob(t, env)
	notes := env.Store.Snapshot().Notifications
	if len(notes) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(notes))
	}
	ids := map[string]bool{}
	users := map[string]bool{}
	for _, n := range notes {
		if n.Type != engine.NotifyJobOrderCreated || n.JobOrderID != job.ID || n.Link != "/job-orders/"+job.ID {
			t.Fatalf("unexpected notification: %+v", n)
		}
		ids[n.ID] = true
		users[n.UserID] = true
	}
	if len(ids) != 3 {
		t.Fatalf("expected unique ids, got %v", ids)
	}
	for _, want := range []string{"s1", "s2", "m2"} {
		if !users[want] {
			t.Fatalf("expected %s to be notified, got %v", want, users)
		}
	}
}

func TestFanOutNotifiesDualRoleUserOnce(t *testing.T) {
	env := newTestEnv(t,
		domain.User{ID: "a1", Name: "Acting Head", Roles: []string{"supervisor", "manager"}, Active: true},
		domain.User{ID: "m1", Name: "Manager", Roles: []string{"manager"}, Active: true},
	)
	createJob(t, env)
	counts := map[string]int{}
	for _, n := range env.Store.Snapshot().Notifications {
		counts[n.UserID]++
	}
	if counts["a1"] != 1 || counts["m1"] != 1 || len(counts) != 2 {
		t.Fatalf("expected one notification per user, got %v", counts)
	}
}

func TestVerifyCertificateExpiresLazily(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	cert, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "A4", "u-admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got, err := env.Engine.VerifyCertificate(env.Ctx, cert.VerificationCode)
	if err != nil || got.ID != cert.ID || got.Status != domain.CertificateValid {
		t.Fatalf("verify by code: %v %+v", err, got)
	}
	got, err = env.Engine.VerifyCertificate(env.Ctx, "  "+strings.ToLower(cert.CertificateNumber))
	if err != nil || got.ID != cert.ID {
		t.Fatalf("verify by number: %v", err)
	}

	env.advance(400 * 24 * time.Hour)
	got, err = env.Engine.VerifyCertificate(env.Ctx, cert.CertificateNumber)
	if err != nil {
		t.Fatalf("verify expired: %v", err)
	}
	if got.Status != domain.CertificateExpired {
		t.Fatalf("expected Expired, got %s", got.Status)
	}
	stored, _, found, err := persist.Load[domain.Certificate](env.Ctx, persist.Adapter{Repo: env.Repo}, persist.Certificates)
	if err != nil || !found || stored[0].Status != domain.CertificateExpired {
		t.Fatalf("expected persisted expiry, got %v %+v", err, stored)
	}

	renewed, err := env.Engine.RenewCertificate(env.Ctx, cert.ID, "u-admin")
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.Status != domain.CertificateValid || renewed.RenewalCount != 1 || renewed.CertificateNumber != cert.CertificateNumber {
		t.Fatalf("unexpected renewal: %+v", renewed)
	}
	if _, err := env.Engine.VerifyCertificate(env.Ctx, "CERT-1999-999"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpireCertificatesSweep(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	if _, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "A4", ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := env.Engine.GenerateCertificate(env.Ctx, job.ID, "Card", ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	n, err := env.Engine.ExpireCertificates(env.Ctx, "")
	if err != nil || n != 0 {
		t.Fatalf("expected nothing to expire, got %d %v", n, err)
	}
	env.advance(2 * 365 * 24 * time.Hour)
	n, err = env.Engine.ExpireCertificates(env.Ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 expired, got %d %v", n, err)
	}
}

func TestTrainingBatchIssuance(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	session, err := env.Engine.CreateTrainingSession(env.Ctx, engine.TrainingSessionCreateOptions{
		Title:         "Rigging Basics",
		ScheduledDate: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		JobOrderID:    job.ID,
		AttendanceList: []domain.Participant{
			{ID: "p1", Name: "Andi", Attendance: domain.AttendancePresent},
			{ID: "p2", Name: "Rina", Attendance: domain.AttendancePresent},
			{ID: "p3", Name: "Tono", Attendance: domain.AttendanceAbsent},
		},
		AssessmentResults: []domain.AssessmentResult{
			{ParticipantID: "p1", Outcome: domain.OutcomePass, Score: 88},
			{ParticipantID: "p2", ParticipantName: "Rina S.", Outcome: domain.OutcomePass, Score: 91},
			{ParticipantID: "p3", Outcome: domain.OutcomeFail},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ClientID != "c-001" {
		t.Fatalf("expected client from job order, got %q", session.ClientID)
	}

	certs, err := env.Engine.GenerateTrainingCertificates(env.Ctx, session.ID, "", "u-admin")
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("expected 2 certificates, got %d", len(certs))
	}
	pattern := regexp.MustCompile(`^CERT-TRAIN-2025-\d{3}$`)
	seen := map[string]bool{}
	for _, c := range certs {
		if c.TrainingSessionID != session.ID || c.ClientName != "PT Maju Jaya" || !pattern.MatchString(c.CertificateNumber) {
			t.Fatalf("unexpected certificate: %+v", c)
		}
		seen[c.CertificateNumber] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected distinct numbers, got %v", seen)
	}
	if certs[1].ParticipantName != "Rina S." || certs[0].ParticipantName != "Andi" {
		t.Fatalf("unexpected participant names: %s, %s", certs[0].ParticipantName, certs[1].ParticipantName)
	}

	again, err := env.Engine.GenerateTrainingCertificates(env.Ctx, session.ID, "A4", "u-admin")
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if len(again) != 2 || len(env.Store.Snapshot().Certificates) != 2 {
		t.Fatalf("expected no new certificates, have %d", len(env.Store.Snapshot().Certificates))
	}

	approved, issued, err := env.Engine.ApproveTrainingSession(env.Ctx, session.ID, "", "u-sup")
	if err != nil || approved.ApprovalStatus != domain.ApprovalApproved || len(issued) != 2 {
		t.Fatalf("approve session: %v %s %d", err, approved.ApprovalStatus, len(issued))
	}
	if _, err := env.Engine.RejectTrainingSession(env.Ctx, session.ID, "late", "u-sup"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTrainingRosterValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTrainingSession(env.Ctx, engine.TrainingSessionCreateOptions{
		Title:             "First Aid",
		ScheduledDate:     time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		AttendanceList:    []domain.Participant{{ID: "p1", Name: "Andi"}},
		AssessmentResults: []domain.AssessmentResult{{ParticipantID: "ghost", Outcome: domain.OutcomePass}},
	})
	if !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := env.Engine.CreateTrainingSession(env.Ctx, engine.TrainingSessionCreateOptions{Title: "x"}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing date, got %v", err)
	}
}

func TestTrainingSessionLinkedToJobKeepsJobClient(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	other, err := env.Engine.CreateClient(env.Ctx, engine.ClientCreateOptions{Name: "CV Sinar Laut", ActorID: "u-admin"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	opts := engine.TrainingSessionCreateOptions{
		Title:             "Forklift Safety",
		ScheduledDate:     time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		JobOrderID:        job.ID,
		ClientID:          other.ID,
		AttendanceList:    []domain.Participant{{ID: "p1", Name: "Dewi", Attendance: domain.AttendancePresent}},
		AssessmentResults: []domain.AssessmentResult{{ParticipantID: "p1", Outcome: domain.OutcomePass}},
	}
	if _, err := env.Engine.CreateTrainingSession(env.Ctx, opts); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for conflicting client, got %v", err)
	}

	opts.ClientID = job.ClientID
	session, err := env.Engine.CreateTrainingSession(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	certs, err := env.Engine.GenerateTrainingCertificates(env.Ctx, session.ID, "", "u-admin")
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if len(certs) != 1 || certs[0].ClientID != job.ClientID || certs[0].ClientName != job.ClientName {
		t.Fatalf("expected certificate for job client %s, got %+v", job.ClientID, certs)
	}
}

func TestPaymentTransitions(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	if _, err := env.Engine.CreatePayment(env.Ctx, engine.PaymentCreateOptions{JobOrderID: job.ID, Amount: 0}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for zero amount, got %v", err)
	}
	pay, err := env.Engine.CreatePayment(env.Ctx, engine.PaymentCreateOptions{JobOrderID: job.ID, Amount: 100})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	pay, err = env.Engine.RejectPayment(env.Ctx, pay.ID, "bounced", "u-admin")
	if err != nil || pay.Status != domain.PaymentFailed {
		t.Fatalf("reject payment: %v %s", err, pay.Status)
	}
	got, _, _ := env.Store.Snapshot().JobOrder(job.ID)
	if got.PaymentStatus != domain.PaymentFailed {
		t.Fatalf("expected job payment Failed, got %s", got.PaymentStatus)
	}
	if _, err := env.Engine.ConfirmPayment(env.Ctx, pay.ID, "u-admin"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(env.Store.Snapshot().Certificates) != 0 {
		t.Fatalf("no certificate expected for a failed payment")
	}
}

func TestNotificationsReadAndDelegation(t *testing.T) {
	env := newTestEnv(t)
	job := createJob(t, env)
	if _, err := env.Engine.AssignJobOrder(env.Ctx, job.ID, "u-insp", "u-sup"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SetDelegation(env.Ctx, engine.DelegationOptions{UserID: "u-sup", DelegateToID: "u-insp", ActorID: "u-sup"}); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	n, err := env.Engine.MarkAllNotificationsRead(env.Ctx, "u-insp", "u-insp")
	if err != nil {
		t.Fatalf("mark all: %v", err)
	}
	// the assignment notice plus the supervisor's creation notice
	if n != 2 {
		t.Fatalf("expected 2 marked, got %d", n)
	}
	for _, note := range env.Store.Snapshot().Notifications {
		if !note.Read {
			t.Fatalf("expected all read, got %+v", note)
		}
	}
	if _, err := env.Engine.MarkNotificationAsRead(env.Ctx, "missing", ""); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.SetDelegation(env.Ctx, engine.DelegationOptions{UserID: "u-sup", DelegateToID: "u-sup"}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for self delegation, got %v", err)
	}
	u, err := env.Engine.ClearDelegation(env.Ctx, "u-sup", "u-sup")
	if err != nil || u.Delegation != nil {
		t.Fatalf("clear delegation: %v", err)
	}
}

func TestAdminUsersAndClients(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: "Dewi", Email: "dewi@example.com", Roles: []string{"finance", "manager"}})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.CurrentRole != "finance" || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}
	role := "auditor"
	if _, err := env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: u.ID, CurrentRole: &role}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	u, err = env.Engine.UpdateUser(env.Ctx, engine.UserUpdateOptions{ID: u.ID, Roles: []string{"manager"}})
	if err != nil || u.CurrentRole != "manager" {
		t.Fatalf("update roles: %v %+v", err, u)
	}
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: "x", Email: "not-an-email", Roles: []string{"a"}}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for email, got %v", err)
	}

	c, err := env.Engine.CreateClient(env.Ctx, engine.ClientCreateOptions{Name: "CV Sinar", BusinessType: "Manufacturing"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	inactive := domain.ClientInactive
	c, err = env.Engine.UpdateClient(env.Ctx, engine.ClientUpdateOptions{ID: c.ID, Status: &inactive})
	if err != nil || c.Status != domain.ClientInactive {
		t.Fatalf("update client: %v %+v", err, c)
	}
	if _, err := env.Engine.CreateJobOrder(env.Ctx, engine.JobOrderCreateOptions{ClientID: "c-none", ServiceTypes: []string{"Inspection"}, ScheduledDate: time.Now()}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for client, got %v", err)
	}
}

func TestConcurrentIssuanceAcrossContexts(t *testing.T) {
	dir := t.TempDir()
	a := openEnv(t, dir, "ctx-a", seedState())
	job := createJob(t, a)
	b := openEnv(t, dir, "ctx-b", seedState())

	var wg sync.WaitGroup
	results := make([]domain.Certificate, 2)
	errs := make([]error, 2)
	for i, env := range []testEnv{a, b} {
		wg.Add(1)
		go func(i int, env testEnv) {
			defer wg.Done()
			results[i], errs[i] = env.Engine.GenerateCertificate(env.Ctx, job.ID, "A4", "")
		}(i, env)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if results[0].ID != results[1].ID {
		t.Fatalf("expected one certificate, got %s and %s", results[0].CertificateNumber, results[1].CertificateNumber)
	}
	stored, _, _, err := persist.Load[domain.Certificate](context.Background(), persist.Adapter{Repo: a.Repo}, persist.Certificates)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one stored certificate, got %d %v", len(stored), err)
	}
}

func TestJobOrderIDsSkipCollisions(t *testing.T) {
	env := newTestEnv(t)
	first := createJob(t, env)
	second := createJob(t, env)
	if first.ID != "JO-2025001" || second.ID != "JO-2025002" {
		t.Fatalf("unexpected ids %s %s", first.ID, second.ID)
	}
}
