package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"certdesk/internal/domain"
	"certdesk/internal/events"
	"certdesk/internal/persist"
	"certdesk/internal/store"
)

const trainingServiceType = "Training"

type TrainingSessionCreateOptions struct {
	Title             string    `validate:"required"`
	ScheduledDate     time.Time `validate:"required"`
	EndDate           *time.Time
	JobOrderID        string
	ClientID          string
	TrainerID         string
	Location          string
	AttendanceList    []domain.Participant
	AssessmentResults []domain.AssessmentResult
	ActorID           string
}

type TrainingSessionUpdateOptions struct {
	ID                string `validate:"required"`
	Title             *string
	ScheduledDate     *time.Time
	EndDate           *time.Time
	TrainerID         *string
	Location          *string
	Status            *domain.SessionStatus
	AttendanceList    []domain.Participant
	AssessmentResults []domain.AssessmentResult
	ActorID           string
}

func (e Engine) CreateTrainingSession(ctx context.Context, opts TrainingSessionCreateOptions) (domain.TrainingSession, error) {
	if err := validateStruct(opts); err != nil {
		return domain.TrainingSession{}, err
	}
	var out domain.TrainingSession
	err := e.run(ctx, "training.create", opts.ActorID, func(tx *store.Tx) error {
		now := tx.Now()
		s := domain.TrainingSession{
			ID:             uuid.NewString(),
			Title:          strings.TrimSpace(opts.Title),
			ScheduledDate:  opts.ScheduledDate.UTC(),
			EndDate:        opts.EndDate,
			Location:       opts.Location,
			ApprovalStatus: domain.ApprovalPending,
			Status:         domain.SessionScheduled,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := linkTraining(tx.State, &s, opts.JobOrderID, opts.ClientID); err != nil {
			return err
		}
		if err := setTrainer(tx.State, &s, opts.TrainerID); err != nil {
			return err
		}
		if err := setRoster(&s, opts.AttendanceList, opts.AssessmentResults); err != nil {
			return err
		}
		tx.State.TrainingSessions = append(tx.State.TrainingSessions, s)
		tx.Touch(persist.TrainingSessions)
		tx.Record(events.Entry{Type: "training.created", Collection: string(persist.TrainingSessions), EntityID: s.ID,
			Payload: events.EventPayload{"title": s.Title, "participants": len(s.AttendanceList)}})
		out = s
		return nil
	})
	return out, err
}

func (e Engine) UpdateTrainingSession(ctx context.Context, opts TrainingSessionUpdateOptions) (domain.TrainingSession, error) {
	if err := validateStruct(opts); err != nil {
		return domain.TrainingSession{}, err
	}
	if opts.Status != nil {
		switch *opts.Status {
		case domain.SessionScheduled, domain.SessionInProgress, domain.SessionCompleted, domain.SessionCancelled:
		default:
			return domain.TrainingSession{}, invalid("unknown session status %q", *opts.Status)
		}
	}
	var out domain.TrainingSession
	err := e.run(ctx, "training.update", opts.ActorID, func(tx *store.Tx) error {
		s, idx, ok := tx.State.TrainingSession(opts.ID)
		if !ok {
			return notFound("training session", opts.ID)
		}
		if opts.Title != nil {
			if strings.TrimSpace(*opts.Title) == "" {
				return invalid("title cannot be empty")
			}
			s.Title = strings.TrimSpace(*opts.Title)
		}
		if opts.ScheduledDate != nil {
			s.ScheduledDate = opts.ScheduledDate.UTC()
		}
		if opts.EndDate != nil {
			s.EndDate = opts.EndDate
		}
		if opts.Location != nil {
			s.Location = *opts.Location
		}
		if opts.TrainerID != nil {
			if err := setTrainer(tx.State, &s, *opts.TrainerID); err != nil {
				return err
			}
		}
		if opts.Status != nil {
			s.Status = *opts.Status
		}
		attendance, results := s.AttendanceList, s.AssessmentResults
		if opts.AttendanceList != nil {
			attendance = opts.AttendanceList
		}
		if opts.AssessmentResults != nil {
			results = opts.AssessmentResults
		}
		if err := setRoster(&s, attendance, results); err != nil {
			return err
		}
		s.UpdatedAt = tx.Now()
		tx.State.TrainingSessions[idx] = s
		tx.Touch(persist.TrainingSessions)
		tx.Record(events.Entry{Type: "training.updated", Collection: string(persist.TrainingSessions), EntityID: s.ID})
		out = s
		return nil
	})
	return out, err
}

// ApproveTrainingSession approves the session and issues certificates for
// every passing participant in the same write.
func (e Engine) ApproveTrainingSession(ctx context.Context, sessionID, format, actorID string) (domain.TrainingSession, []domain.Certificate, error) {
	f, err := ParseFormat(format, e.defaultFormat())
	if err != nil {
		return domain.TrainingSession{}, nil, err
	}
	var (
		out   domain.TrainingSession
		certs []domain.Certificate
	)
	err = e.run(ctx, "training.approve", actorID, func(tx *store.Tx) error {
		s, idx, ok := tx.State.TrainingSession(sessionID)
		if !ok {
			return notFound("training session", sessionID)
		}
		if s.ApprovalStatus == domain.ApprovalRejected {
			return invalidTransition("training session", s.ID, s.ApprovalStatus, "approve")
		}
		if s.ApprovalStatus != domain.ApprovalApproved {
			s.ApprovalStatus = domain.ApprovalApproved
			s.UpdatedAt = tx.Now()
			tx.State.TrainingSessions[idx] = s
			tx.Touch(persist.TrainingSessions)
			tx.Record(events.Entry{Type: "training.approved", Collection: string(persist.TrainingSessions), EntityID: s.ID})
		}
		certs = e.issueTrainingCertificates(tx, s, f)
		out = s
		return nil
	})
	return out, certs, err
}

func (e Engine) RejectTrainingSession(ctx context.Context, sessionID, reason, actorID string) (domain.TrainingSession, error) {
	var out domain.TrainingSession
	err := e.run(ctx, "training.reject", actorID, func(tx *store.Tx) error {
		s, idx, ok := tx.State.TrainingSession(sessionID)
		if !ok {
			return notFound("training session", sessionID)
		}
		if s.ApprovalStatus == domain.ApprovalApproved {
			return invalidTransition("training session", s.ID, s.ApprovalStatus, "reject")
		}
		s.ApprovalStatus = domain.ApprovalRejected
		s.UpdatedAt = tx.Now()
		tx.State.TrainingSessions[idx] = s
		tx.Touch(persist.TrainingSessions)
		tx.Record(events.Entry{Type: "training.rejected", Collection: string(persist.TrainingSessions), EntityID: s.ID,
			Payload: events.EventPayload{"reason": strings.TrimSpace(reason)}})
		out = s
		return nil
	})
	return out, err
}

// GenerateTrainingCertificates issues a certificate for every participant
// with a passing result. Participants who already hold one in the format
// keep it; the returned list covers all passing participants.
func (e Engine) GenerateTrainingCertificates(ctx context.Context, sessionID, format, actorID string) ([]domain.Certificate, error) {
	f, err := ParseFormat(format, domain.FormatA4)
	if err != nil {
		return nil, err
	}
	var certs []domain.Certificate
	err = e.run(ctx, "training.certificates", actorID, func(tx *store.Tx) error {
		s, _, ok := tx.State.TrainingSession(sessionID)
		if !ok {
			return notFound("training session", sessionID)
		}
		certs = e.issueTrainingCertificates(tx, s, f)
		return nil
	})
	return certs, err
}

func (e Engine) issueTrainingCertificates(tx *store.Tx, s domain.TrainingSession, format domain.CertificateFormat) []domain.Certificate {
	clientID, clientName, serviceType := s.ClientID, s.ClientName, trainingServiceType
	if job, _, ok := tx.State.JobOrder(s.JobOrderID); ok {
		clientID, clientName = job.ClientID, job.ClientName
		if st := job.PrimaryServiceType(); st != "" {
			serviceType = st
		}
	}
	now := tx.Now()
	out := []domain.Certificate{}
	issued := 0
	for _, r := range s.AssessmentResults {
		if r.Outcome != domain.OutcomePass {
			continue
		}
		if existing, ok := findTrainingCertificate(tx.State.Certificates, s.ID, r.ParticipantID, format); ok {
			out = append(out, existing)
			continue
		}
		name := r.ParticipantName
		if name == "" {
			if p, ok := s.Participant(r.ParticipantID); ok {
				name = p.Name
			}
		}
		nums := allocateNumbers(tx.State, trainingPrefix, now.Year())
		cert := domain.Certificate{
			ID:                uuid.NewString(),
			CertificateNumber: nums.Certificate,
			JobOrderID:        s.JobOrderID,
			TrainingSessionID: s.ID,
			ParticipantID:     r.ParticipantID,
			ParticipantName:   name,
			ClientID:          clientID,
			ClientName:        clientName,
			ServiceType:       serviceType,
			IssueDate:         now,
			ExpiryDate:        e.expiryFrom(now),
			VerificationCode:  nums.VerificationCode(),
			DocumentNumber:    nums.Document,
			StickerNumber:     nums.Sticker,
			Format:            format,
			Status:            domain.CertificateValid,
		}
		tx.State.Certificates = append(tx.State.Certificates, cert)
		out = append(out, cert)
		issued++
	}
	if issued > 0 {
		tx.Touch(persist.Certificates)
		tx.Record(events.Entry{Type: "certificate.batch_issued", Collection: string(persist.Certificates), EntityID: s.ID,
			Payload: events.EventPayload{"count": issued, "format": format}})
	}
	return out
}

func findTrainingCertificate(certs []domain.Certificate, sessionID, participantID string, format domain.CertificateFormat) (domain.Certificate, bool) {
	for _, c := range certs {
		if c.TrainingSessionID == sessionID && c.ParticipantID == participantID && c.Format == format {
			return c, true
		}
	}
	return domain.Certificate{}, false
}

// linkTraining attaches the session to a job order and its client. A session
// linked to a job always carries the job's client.
func linkTraining(st *store.State, s *domain.TrainingSession, jobID, clientID string) error {
	if jobID != "" {
		job, _, ok := st.JobOrder(jobID)
		if !ok {
			return notFound("job order", jobID)
		}
		if clientID != "" && clientID != job.ClientID {
			return invalid("client %s does not match job order %s client %s", clientID, job.ID, job.ClientID)
		}
		s.JobOrderID = job.ID
		s.ClientID, s.ClientName = job.ClientID, job.ClientName
		return nil
	}
	if clientID != "" {
		c, _, ok := st.Client(clientID)
		if !ok {
			return notFound("client", clientID)
		}
		s.ClientID, s.ClientName = c.ID, c.Name
	}
	return nil
}

func setTrainer(st *store.State, s *domain.TrainingSession, trainerID string) error {
	if trainerID == "" {
		s.TrainerID, s.TrainerName = "", ""
		return nil
	}
	u, _, ok := st.User(trainerID)
	if !ok {
		return notFound("user", trainerID)
	}
	s.TrainerID, s.TrainerName = u.ID, u.Name
	return nil
}

// setRoster replaces the attendance list and results. Participants without
// an id get one; every result must refer to a listed participant.
func setRoster(s *domain.TrainingSession, attendance []domain.Participant, results []domain.AssessmentResult) error {
	list := slices.Clone(attendance)
	ids := make(map[string]bool, len(list))
	for i, p := range list {
		if strings.TrimSpace(p.Name) == "" {
			return invalid("participant %d has no name", i+1)
		}
		switch p.Attendance {
		case domain.AttendanceUnknown, domain.AttendancePresent, domain.AttendanceAbsent:
		default:
			return invalid("participant %s: unknown attendance %q", p.Name, p.Attendance)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
			list[i] = p
		}
		if ids[p.ID] {
			return invalid("duplicate participant %s", p.ID)
		}
		ids[p.ID] = true
	}
	res := slices.Clone(results)
	for _, r := range res {
		if !ids[r.ParticipantID] {
			return invalid("assessment result for unknown participant %q", r.ParticipantID)
		}
		if r.Outcome != domain.OutcomePass && r.Outcome != domain.OutcomeFail {
			return invalid("participant %s: unknown outcome %q", r.ParticipantID, r.Outcome)
		}
	}
	if list == nil {
		list = []domain.Participant{}
	}
	if res == nil {
		res = []domain.AssessmentResult{}
	}
	s.AttendanceList = list
	s.AssessmentResults = res
	return nil
}
