package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type JobOrderStatus string

const (
	JobPending    JobOrderStatus = "Pending"
	JobInProgress JobOrderStatus = "In Progress"
	JobCompleted  JobOrderStatus = "Completed"
	JobApproved   JobOrderStatus = "Approved"
	JobPaid       JobOrderStatus = "Paid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentConfirmed PaymentStatus = "Confirmed"
	PaymentFailed    PaymentStatus = "Failed"
)

type CertificateStatus string

const (
	CertificateValid   CertificateStatus = "Valid"
	CertificateExpired CertificateStatus = "Expired"
)

type CertificateFormat string

const (
	FormatA4   CertificateFormat = "A4"
	FormatCard CertificateFormat = "Card"
)

// Attendance is tri-state; the empty value means not yet recorded.
type Attendance string

const (
	AttendanceUnknown Attendance = ""
	AttendancePresent Attendance = "present"
	AttendanceAbsent  Attendance = "absent"
)

type Outcome string

const (
	OutcomePass Outcome = "Pass"
	OutcomeFail Outcome = "Fail"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "Scheduled"
	SessionInProgress SessionStatus = "In Progress"
	SessionCompleted  SessionStatus = "Completed"
	SessionCancelled  SessionStatus = "Cancelled"
)

type ClientStatus string

const (
	ClientActive   ClientStatus = "Active"
	ClientInactive ClientStatus = "Inactive"
)

type Assignment struct {
	Region string `json:"region"`
	Team   string `json:"team"`
}

type Client struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ContactPerson string       `json:"contactPerson,omitempty"`
	Email         string       `json:"email,omitempty"`
	Phone         string       `json:"phone,omitempty"`
	Address       string       `json:"address,omitempty"`
	BusinessType  string       `json:"businessType,omitempty"`
	Assignments   []Assignment `json:"assignments,omitempty"`
	Status        ClientStatus `json:"status" enum:"Active,Inactive"`
	CreatedAt     time.Time    `json:"createdAt"`
}

type Evidence struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Signature struct {
	Role       string    `json:"role"`
	SignerID   string    `json:"signerId"`
	SignerName string    `json:"signerName,omitempty"`
	SignedAt   time.Time `json:"signedAt"`
}

type JobOrder struct {
	ID                  string            `json:"id"`
	ClientID            string            `json:"clientId"`
	ClientName          string            `json:"clientName"`
	ServiceTypes        []string          `json:"serviceTypes"`
	ScheduledDate       time.Time         `json:"scheduledDate"`
	Location            string            `json:"location,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	Priority            string            `json:"priority,omitempty"`
	AssignedTo          string            `json:"assignedTo,omitempty"`
	AssignedToName      string            `json:"assignedToName,omitempty"`
	Assignments         map[string]string `json:"assignments,omitempty"`
	Status              JobOrderStatus    `json:"status" enum:"Pending,In Progress,Completed,Approved,Paid"`
	PaymentStatus       PaymentStatus     `json:"paymentStatus" enum:"Pending,Confirmed,Failed"`
	ReportData          *ReportData       `json:"reportData,omitempty"`
	Evidence            []Evidence        `json:"evidence,omitempty"`
	Signatures          []Signature       `json:"signatures,omitempty"`
	RevisionComments    string            `json:"revisionComments,omitempty"`
	RevisionRequestedAt *time.Time        `json:"revisionRequestedAt,omitempty"`
	RejectionReason     string            `json:"rejectionReason,omitempty"`
	CreatedBy           string            `json:"createdBy,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// PrimaryServiceType is the first service type, used for certificates and report kinds.
func (j JobOrder) PrimaryServiceType() string {
	if len(j.ServiceTypes) == 0 {
		return ""
	}
	return j.ServiceTypes[0]
}

type Certificate struct {
	ID                string            `json:"id"`
	CertificateNumber string            `json:"certificateNumber"`
	JobOrderID        string            `json:"jobOrderId,omitempty"`
	TrainingSessionID string            `json:"trainingSessionId,omitempty"`
	ParticipantID     string            `json:"participantId,omitempty"`
	ParticipantName   string            `json:"participantName,omitempty"`
	ClientID          string            `json:"clientId,omitempty"`
	ClientName        string            `json:"clientName,omitempty"`
	ServiceType       string            `json:"serviceType,omitempty"`
	IssueDate         time.Time         `json:"issueDate"`
	ExpiryDate        time.Time         `json:"expiryDate"`
	VerificationCode  string            `json:"verificationCode"`
	DocumentNumber    string            `json:"documentNumber"`
	StickerNumber     string            `json:"stickerNumber"`
	Format            CertificateFormat `json:"format" enum:"A4,Card"`
	Status            CertificateStatus `json:"status" enum:"Valid,Expired"`
	RenewedAt         *time.Time        `json:"renewedAt,omitempty"`
	RenewalCount      int               `json:"renewalCount,omitempty"`
}

// Overdue reports whether the certificate has passed its expiry date at now.
func (c Certificate) Overdue(now time.Time) bool {
	return c.ExpiryDate.Before(now)
}

type Payment struct {
	ID            string        `json:"id"`
	JobOrderID    string        `json:"jobOrderId"`
	Amount        float64       `json:"amount"`
	Method        string        `json:"method,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	Status        PaymentStatus `json:"status" enum:"Pending,Confirmed,Failed"`
	CreatedAt     time.Time     `json:"createdAt"`
	ConfirmedBy   string        `json:"confirmedBy,omitempty"`
	ConfirmedAt   *time.Time    `json:"confirmedAt,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
}

type Participant struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	EmployeeID string     `json:"employeeId,omitempty"`
	Attendance Attendance `json:"attendance,omitempty" enum:"present,absent"`
}

type AssessmentResult struct {
	ParticipantID   string  `json:"participantId"`
	ParticipantName string  `json:"participantName,omitempty"`
	Outcome         Outcome `json:"outcome" enum:"Pass,Fail"`
	Score           float64 `json:"score,omitempty"`
}

type TrainingSession struct {
	ID                string             `json:"id"`
	JobOrderID        string             `json:"jobOrderId,omitempty"`
	ClientID          string             `json:"clientId,omitempty"`
	ClientName        string             `json:"clientName,omitempty"`
	Title             string             `json:"title"`
	TrainerID         string             `json:"trainerId,omitempty"`
	TrainerName       string             `json:"trainerName,omitempty"`
	ScheduledDate     time.Time          `json:"scheduledDate"`
	EndDate           *time.Time         `json:"endDate,omitempty"`
	Location          string             `json:"location,omitempty"`
	AttendanceList    []Participant      `json:"attendanceList"`
	AssessmentResults []AssessmentResult `json:"assessmentResults"`
	ApprovalStatus    ApprovalStatus     `json:"approvalStatus" enum:"Pending,Approved,Rejected"`
	Status            SessionStatus      `json:"status" enum:"Scheduled,In Progress,Completed,Cancelled"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// Participant returns the attendance entry with the given id.
func (s TrainingSession) Participant(id string) (Participant, bool) {
	for _, p := range s.AttendanceList {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

type Delegation struct {
	DelegatedToID   string     `json:"delegatedToId"`
	DelegatedToName string     `json:"delegatedToName,omitempty"`
	DelegatedBy     string     `json:"delegatedBy,omitempty"`
	Active          bool       `json:"active"`
	StartDate       time.Time  `json:"startDate"`
	EndDate         *time.Time `json:"endDate,omitempty"`
}

// ActiveAt reports whether the delegation is in force at now.
func (d *Delegation) ActiveAt(now time.Time) bool {
	if d == nil || !d.Active || d.DelegatedToID == "" {
		return false
	}
	if now.Before(d.StartDate) {
		return false
	}
	return d.EndDate == nil || now.Before(*d.EndDate)
}

type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email,omitempty"`
	Roles       []string    `json:"roles"`
	CurrentRole string      `json:"currentRole,omitempty"`
	Region      string      `json:"region,omitempty"`
	Team        string      `json:"team,omitempty"`
	Delegation  *Delegation `json:"delegation,omitempty"`
	Active      bool        `json:"active"`
}

// UnmarshalJSON treats a record without an "active" field as active.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	v := plain{Active: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*u = User(v)
	return nil
}

// HasRole matches the role set and the active role, case-insensitively.
func (u User) HasRole(role string) bool {
	if strings.EqualFold(u.CurrentRole, role) {
		return true
	}
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
	Link       string    `json:"link,omitempty"`
	JobOrderID string    `json:"jobOrderId,omitempty"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Collection string `json:"collection"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Writer     string `json:"writer,omitempty"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
