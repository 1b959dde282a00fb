package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"certdesk/internal/domain"
	"certdesk/internal/engine"
)

type idPath struct {
	ID string `path:"id"`
}

type jobOrderBody struct {
	Body domain.JobOrder `json:"body"`
}

type paymentBody struct {
	Body domain.Payment `json:"body"`
}

func registerJobOrders(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-job-orders",
		Method:      http.MethodGet,
		Path:        "/job-orders",
		Summary:     "List job orders",
		Tags:        []string{"job-orders"},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"Pending,In Progress,Completed,Approved,Paid,"`
		ClientID   string `query:"clientId"`
		AssignedTo string `query:"assignedTo"`
	}) (*struct {
		Body []domain.JobOrder `json:"body"`
	}, error) {
		out := []domain.JobOrder{}
		for _, j := range cfg.Store.Snapshot().JobOrders {
			if input.Status != "" && string(j.Status) != input.Status {
				continue
			}
			if input.ClientID != "" && j.ClientID != input.ClientID {
				continue
			}
			if input.AssignedTo != "" && j.AssignedTo != input.AssignedTo {
				continue
			}
			out = append(out, j)
		}
		return &struct {
			Body []domain.JobOrder `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job-order",
		Method:      http.MethodGet,
		Path:        "/job-orders/{id}",
		Summary:     "Get job order",
		Tags:        []string{"job-orders"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*jobOrderBody, error) {
		j, _, ok := cfg.Store.Snapshot().JobOrder(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "job order "+input.ID+" not found", nil)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-job-order",
		Method:        http.MethodPost,
		Path:          "/job-orders",
		Summary:       "Create job order",
		Tags:          []string{"job-orders"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateJobOrderRequest `json:"body"`
	}) (*jobOrderBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CreateJobOrder(ctx, engine.JobOrderCreateOptions{
			ClientID:      input.Body.ClientID,
			ServiceTypes:  input.Body.ServiceTypes,
			ScheduledDate: input.Body.ScheduledDate,
			Location:      input.Body.Location,
			Notes:         input.Body.Notes,
			Priority:      input.Body.Priority,
			Assignments:   input.Body.Assignments,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job-order",
		Method:      http.MethodPatch,
		Path:        "/job-orders/{id}",
		Summary:     "Update job order details",
		Tags:        []string{"job-orders"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateJobOrderRequest `json:"body"`
	}) (*jobOrderBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.UpdateJobOrder(ctx, engine.JobOrderUpdateOptions{
			ID:            input.ID,
			ScheduledDate: input.Body.ScheduledDate,
			Location:      input.Body.Location,
			Notes:         input.Body.Notes,
			Priority:      input.Body.Priority,
			ServiceTypes:  input.Body.ServiceTypes,
			Assignments:   input.Body.Assignments,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-job-order",
		Method:      http.MethodPost,
		Path:        "/job-orders/{id}/assign",
		Summary:     "Assign job order to a user",
		Tags:        []string{"job-orders"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AssignJobOrderRequest `json:"body"`
	}) (*jobOrderBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.AssignJobOrder(ctx, input.ID, input.Body.UserID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-job-order-report",
		Method:      http.MethodPost,
		Path:        "/job-orders/{id}/report",
		Summary:     "Submit field report",
		Tags:        []string{"job-orders"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SubmitReportRequest `json:"body"`
	}) (*jobOrderBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.SubmitJobOrderReport(ctx, engine.ReportSubmitOptions{
			ID:         input.ID,
			ReportData: input.Body.ReportData,
			Evidence:   evidenceFrom(input.Body.Evidence),
			Signatures: signaturesFrom(input.Body.Signatures),
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-job-order",
		Method:      http.MethodPost,
		Path:        "/job-orders/{id}/approve",
		Summary:     "Approve job order",
		Tags:        []string{"job-orders"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*jobOrderBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.ApproveJobOrder(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-job-order",
		Method:      http.MethodPost,
		Path:        "/job-orders/{id}/reject",
		Summary:     "Reject job order back to Pending",
		Tags:        []string{"job-orders"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *ReasonRequest `json:"body,omitempty" required:"false"`
	}) (*jobOrderBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		j, err := e.RejectJobOrder(ctx, input.ID, reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-job-order-revision",
		Method:      http.MethodPost,
		Path:        "/job-orders/{id}/revision",
		Summary:     "Request a revision of the field report",
		Tags:        []string{"job-orders"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body RevisionRequest `json:"body"`
	}) (*jobOrderBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.RequestRevision(ctx, input.ID, input.Body.Comments, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOrderBody{Body: j}, nil
	})
}

func registerPayments(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payments",
		Tags:        []string{"payments"},
	}, func(ctx context.Context, input *struct {
		JobOrderID string `query:"jobOrderId"`
	}) (*struct {
		Body []domain.Payment `json:"body"`
	}, error) {
		out := []domain.Payment{}
		for _, p := range cfg.Store.Snapshot().Payments {
			if input.JobOrderID == "" || p.JobOrderID == input.JobOrderID {
				out = append(out, p)
			}
		}
		return &struct {
			Body []domain.Payment `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Record a pending payment",
		Tags:          []string{"payments"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePaymentRequest `json:"body"`
	}) (*paymentBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePayment(ctx, engine.PaymentCreateOptions{
			JobOrderID: input.Body.JobOrderID,
			Amount:     input.Body.Amount,
			Method:     input.Body.Method,
			Reference:  input.Body.Reference,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{id}/confirm",
		Summary:     "Confirm payment, mark the job order paid and issue its certificate",
		Tags:        []string{"payments"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*paymentBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ConfirmPayment(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{id}/reject",
		Summary:     "Mark payment failed",
		Tags:        []string{"payments"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *ReasonRequest `json:"body,omitempty" required:"false"`
	}) (*paymentBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		p, err := e.RejectPayment(ctx, input.ID, reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: p}, nil
	})
}
