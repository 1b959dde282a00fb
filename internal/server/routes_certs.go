package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"certdesk/internal/domain"
	"certdesk/internal/engine"
)

type certificateBody struct {
	Body domain.Certificate `json:"body"`
}

type certificatesBody struct {
	Body []domain.Certificate `json:"body"`
}

type trainingBody struct {
	Body domain.TrainingSession `json:"body"`
}

func registerCertificates(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-certificates",
		Method:      http.MethodGet,
		Path:        "/certificates",
		Summary:     "List certificates",
		Tags:        []string{"certificates"},
	}, func(ctx context.Context, input *struct {
		JobOrderID        string `query:"jobOrderId"`
		TrainingSessionID string `query:"trainingSessionId"`
		Status            string `query:"status" enum:"Valid,Expired,"`
	}) (*certificatesBody, error) {
		out := []domain.Certificate{}
		for _, c := range cfg.Store.Snapshot().Certificates {
			if input.JobOrderID != "" && c.JobOrderID != input.JobOrderID {
				continue
			}
			if input.TrainingSessionID != "" && c.TrainingSessionID != input.TrainingSessionID {
				continue
			}
			if input.Status != "" && string(c.Status) != input.Status {
				continue
			}
			out = append(out, c)
		}
		return &certificatesBody{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-certificate",
		Method:      http.MethodGet,
		Path:        "/certificates/verify",
		Summary:     "Verify a certificate by number or verification code",
		Tags:        []string{"certificates"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q" required:"true" minLength:"1"`
	}) (*certificateBody, error) {
		c, err := e.VerifyCertificate(ctx, input.Query)
		if err != nil {
			return nil, handleError(err)
		}
		return &certificateBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-certificate",
		Method:      http.MethodGet,
		Path:        "/certificates/{id}",
		Summary:     "Get certificate",
		Tags:        []string{"certificates"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*certificateBody, error) {
		c, _, ok := cfg.Store.Snapshot().Certificate(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "certificate "+input.ID+" not found", nil)
		}
		return &certificateBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-certificate",
		Method:        http.MethodPost,
		Path:          "/certificates",
		Summary:       "Generate the certificate of a paid job order",
		Tags:          []string{"certificates"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body GenerateCertificateRequest `json:"body"`
	}) (*certificateBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GenerateCertificate(ctx, input.Body.JobOrderID, input.Body.Format, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &certificateBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "renew-certificate",
		Method:      http.MethodPost,
		Path:        "/certificates/{id}/renew",
		Summary:     "Renew certificate",
		Tags:        []string{"certificates"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*certificateBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RenewCertificate(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &certificateBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-certificates",
		Method:      http.MethodPost,
		Path:        "/certificates/expire",
		Summary:     "Mark every overdue certificate expired",
		Tags:        []string{"certificates"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CountResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ExpireCertificates(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CountResponse `json:"body"`
		}{Body: CountResponse{Count: n}}, nil
	})
}

func registerTraining(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-training-sessions",
		Method:      http.MethodGet,
		Path:        "/training-sessions",
		Summary:     "List training sessions",
		Tags:        []string{"training"},
	}, func(ctx context.Context, input *struct {
		JobOrderID     string `query:"jobOrderId"`
		ApprovalStatus string `query:"approvalStatus" enum:"Pending,Approved,Rejected,"`
	}) (*struct {
		Body []domain.TrainingSession `json:"body"`
	}, error) {
		out := []domain.TrainingSession{}
		for _, s := range cfg.Store.Snapshot().TrainingSessions {
			if input.JobOrderID != "" && s.JobOrderID != input.JobOrderID {
				continue
			}
			if input.ApprovalStatus != "" && string(s.ApprovalStatus) != input.ApprovalStatus {
				continue
			}
			out = append(out, s)
		}
		return &struct {
			Body []domain.TrainingSession `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-training-session",
		Method:      http.MethodGet,
		Path:        "/training-sessions/{id}",
		Summary:     "Get training session",
		Tags:        []string{"training"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*trainingBody, error) {
		s, _, ok := cfg.Store.Snapshot().TrainingSession(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "training session "+input.ID+" not found", nil)
		}
		return &trainingBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-training-session",
		Method:        http.MethodPost,
		Path:          "/training-sessions",
		Summary:       "Schedule a training session",
		Tags:          []string{"training"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTrainingRequest `json:"body"`
	}) (*trainingBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		s, err := e.CreateTrainingSession(ctx, engine.TrainingSessionCreateOptions{
			Title:             b.Title,
			ScheduledDate:     b.ScheduledDate,
			EndDate:           b.EndDate,
			JobOrderID:        b.JobOrderID,
			ClientID:          b.ClientID,
			TrainerID:         b.TrainerID,
			Location:          b.Location,
			AttendanceList:    participantsFrom(b.AttendanceList),
			AssessmentResults: resultsFrom(b.AssessmentResults),
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &trainingBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-training-session",
		Method:      http.MethodPatch,
		Path:        "/training-sessions/{id}",
		Summary:     "Update training session, roster or results",
		Tags:        []string{"training"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateTrainingRequest `json:"body"`
	}) (*trainingBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		var status *domain.SessionStatus
		if b.Status != nil {
			st := domain.SessionStatus(*b.Status)
			status = &st
		}
		s, err := e.UpdateTrainingSession(ctx, engine.TrainingSessionUpdateOptions{
			ID:                input.ID,
			Title:             b.Title,
			ScheduledDate:     b.ScheduledDate,
			EndDate:           b.EndDate,
			TrainerID:         b.TrainerID,
			Location:          b.Location,
			Status:            status,
			AttendanceList:    participantsFrom(b.AttendanceList),
			AssessmentResults: resultsFrom(b.AssessmentResults),
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &trainingBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-training-session",
		Method:      http.MethodPost,
		Path:        "/training-sessions/{id}/approve",
		Summary:     "Approve training session and issue certificates to passing participants",
		Tags:        []string{"training"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *FormatRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body ApproveTrainingResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		format := ""
		if input.Body != nil {
			format = input.Body.Format
		}
		s, certs, err := e.ApproveTrainingSession(ctx, input.ID, format, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApproveTrainingResponse `json:"body"`
		}{Body: ApproveTrainingResponse{Session: s, Certificates: nonNilSlice(certs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-training-session",
		Method:      http.MethodPost,
		Path:        "/training-sessions/{id}/reject",
		Summary:     "Reject training session",
		Tags:        []string{"training"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *ReasonRequest `json:"body,omitempty" required:"false"`
	}) (*trainingBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		s, err := e.RejectTrainingSession(ctx, input.ID, reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &trainingBody{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-training-certificates",
		Method:      http.MethodPost,
		Path:        "/training-sessions/{id}/certificates",
		Summary:     "Issue certificates to every passing participant",
		Tags:        []string{"training"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *FormatRequest `json:"body,omitempty" required:"false"`
	}) (*certificatesBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		format := ""
		if input.Body != nil {
			format = input.Body.Format
		}
		certs, err := e.GenerateTrainingCertificates(ctx, input.ID, format, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &certificatesBody{Body: nonNilSlice(certs)}, nil
	})
}
