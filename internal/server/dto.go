package server

import (
	"time"

	"certdesk/internal/domain"
	"certdesk/internal/notify"
)

// Request payloads

type CreateJobOrderRequest struct {
	ClientID      string            `json:"clientId"`
	ServiceTypes  []string          `json:"serviceTypes" minItems:"1"`
	ScheduledDate time.Time         `json:"scheduledDate"`
	Location      string            `json:"location,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Priority      string            `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	Assignments   map[string]string `json:"assignments,omitempty"`
}

type UpdateJobOrderRequest struct {
	ScheduledDate *time.Time        `json:"scheduledDate,omitempty"`
	Location      *string           `json:"location,omitempty"`
	Notes         *string           `json:"notes,omitempty"`
	Priority      *string           `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	ServiceTypes  []string          `json:"serviceTypes,omitempty"`
	Assignments   map[string]string `json:"assignments,omitempty"`
}

type AssignJobOrderRequest struct {
	UserID string `json:"userId"`
}

type EvidenceInput struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type SignatureInput struct {
	Role       string `json:"role"`
	SignerID   string `json:"signerId"`
	SignerName string `json:"signerName,omitempty"`
}

type SubmitReportRequest struct {
	ReportData domain.ReportData `json:"reportData"`
	Evidence   []EvidenceInput   `json:"evidence,omitempty"`
	Signatures []SignatureInput  `json:"signatures,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RevisionRequest struct {
	Comments string `json:"comments" minLength:"1"`
}

type CreatePaymentRequest struct {
	JobOrderID string  `json:"jobOrderId"`
	Amount     float64 `json:"amount" exclusiveMinimum:"0"`
	Method     string  `json:"method,omitempty" enum:"transfer,cash,card,cheque"`
	Reference  string  `json:"reference,omitempty"`
}

type GenerateCertificateRequest struct {
	JobOrderID string `json:"jobOrderId"`
	Format     string `json:"format,omitempty" enum:"A4,Card,a4,card"`
}

type FormatRequest struct {
	Format string `json:"format,omitempty" enum:"A4,Card,a4,card"`
}

type ParticipantInput struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	EmployeeID string `json:"employeeId,omitempty"`
	Attendance string `json:"attendance,omitempty" enum:"present,absent"`
}

type ResultInput struct {
	ParticipantID   string  `json:"participantId"`
	ParticipantName string  `json:"participantName,omitempty"`
	Outcome         string  `json:"outcome" enum:"Pass,Fail"`
	Score           float64 `json:"score,omitempty"`
}

type CreateTrainingRequest struct {
	Title             string             `json:"title" minLength:"1"`
	ScheduledDate     time.Time          `json:"scheduledDate"`
	EndDate           *time.Time         `json:"endDate,omitempty"`
	JobOrderID        string             `json:"jobOrderId,omitempty"`
	ClientID          string             `json:"clientId,omitempty"`
	TrainerID         string             `json:"trainerId,omitempty"`
	Location          string             `json:"location,omitempty"`
	AttendanceList    []ParticipantInput `json:"attendanceList,omitempty"`
	AssessmentResults []ResultInput      `json:"assessmentResults,omitempty"`
}

type UpdateTrainingRequest struct {
	Title             *string            `json:"title,omitempty"`
	ScheduledDate     *time.Time         `json:"scheduledDate,omitempty"`
	EndDate           *time.Time         `json:"endDate,omitempty"`
	TrainerID         *string            `json:"trainerId,omitempty"`
	Location          *string            `json:"location,omitempty"`
	Status            *string            `json:"status,omitempty" enum:"Scheduled,In Progress,Completed,Cancelled"`
	AttendanceList    []ParticipantInput `json:"attendanceList,omitempty"`
	AssessmentResults []ResultInput      `json:"assessmentResults,omitempty"`
}

type CreateUserRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles" minItems:"1"`
	CurrentRole string   `json:"currentRole,omitempty"`
	Region      string   `json:"region,omitempty"`
	Team        string   `json:"team,omitempty"`
}

type UpdateUserRequest struct {
	Name        *string  `json:"name,omitempty"`
	Email       *string  `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	CurrentRole *string  `json:"currentRole,omitempty"`
	Region      *string  `json:"region,omitempty"`
	Team        *string  `json:"team,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

type DelegationRequest struct {
	DelegateToID string     `json:"delegateToId"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

type CreateClientRequest struct {
	ID            string              `json:"id,omitempty"`
	Name          string              `json:"name"`
	ContactPerson string              `json:"contactPerson,omitempty"`
	Email         string              `json:"email,omitempty"`
	Phone         string              `json:"phone,omitempty"`
	Address       string              `json:"address,omitempty"`
	BusinessType  string              `json:"businessType,omitempty"`
	Assignments   []domain.Assignment `json:"assignments,omitempty"`
}

type UpdateClientRequest struct {
	Name          *string             `json:"name,omitempty"`
	ContactPerson *string             `json:"contactPerson,omitempty"`
	Email         *string             `json:"email,omitempty"`
	Phone         *string             `json:"phone,omitempty"`
	Address       *string             `json:"address,omitempty"`
	BusinessType  *string             `json:"businessType,omitempty"`
	Assignments   []domain.Assignment `json:"assignments,omitempty"`
	Status        *string             `json:"status,omitempty" enum:"Active,Inactive"`
}

type LoginRequest struct {
	UserID      string `json:"userId"`
	CurrentRole string `json:"currentRole,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"userId"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ApproveTrainingResponse struct {
	Session      domain.TrainingSession `json:"session"`
	Certificates []domain.Certificate   `json:"certificates"`
}

type SessionResponse struct {
	User *domain.User `json:"user"`
}

type ReconcileResponse struct {
	Outcome string       `json:"outcome"`
	User    *domain.User `json:"user"`
}

type FeedResponse = notify.Feed

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func evidenceFrom(in []EvidenceInput) []domain.Evidence {
	out := make([]domain.Evidence, 0, len(in))
	for _, e := range in {
		out = append(out, domain.Evidence{Name: e.Name, URL: e.URL, Kind: e.Kind})
	}
	return out
}

func signaturesFrom(in []SignatureInput) []domain.Signature {
	out := make([]domain.Signature, 0, len(in))
	for _, s := range in {
		out = append(out, domain.Signature{Role: s.Role, SignerID: s.SignerID, SignerName: s.SignerName})
	}
	return out
}

func participantsFrom(in []ParticipantInput) []domain.Participant {
	if in == nil {
		return nil
	}
	out := make([]domain.Participant, 0, len(in))
	for _, p := range in {
		out = append(out, domain.Participant{ID: p.ID, Name: p.Name, EmployeeID: p.EmployeeID, Attendance: domain.Attendance(p.Attendance)})
	}
	return out
}

func resultsFrom(in []ResultInput) []domain.AssessmentResult {
	if in == nil {
		return nil
	}
	out := make([]domain.AssessmentResult, 0, len(in))
	for _, r := range in {
		out = append(out, domain.AssessmentResult{
			ParticipantID:   r.ParticipantID,
			ParticipantName: r.ParticipantName,
			Outcome:         domain.Outcome(r.Outcome),
			Score:           r.Score,
		})
	}
	return out
}
