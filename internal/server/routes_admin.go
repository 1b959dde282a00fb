package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"certdesk/internal/domain"
	"certdesk/internal/engine"
	"certdesk/internal/notify"
	"certdesk/internal/repo"
)

const devTokenTTL = 12 * time.Hour

type userBody struct {
	Body domain.User `json:"body"`
}

type clientBody struct {
	Body domain.Client `json:"body"`
}

func registerNotifications(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notification feed of the caller, delegated notifications included",
		Tags:        []string{"notifications"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
	}) (*struct {
		Body FeedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap := cfg.Store.Snapshot()
		u, _, ok := snap.User(actorID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "user "+actorID+" not found", nil)
		}
		feed := notify.FeedFor(snap.Notifications, u, snap.Users, cfg.Store.Now())
		if input.Unread {
			items := make([]domain.Notification, 0, feed.Unread)
			for _, n := range feed.Items {
				if !n.Read {
					items = append(items, n)
				}
			}
			feed.Items = items
		}
		return &struct {
			Body FeedResponse `json:"body"`
		}{Body: feed}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notification-read",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark notification read",
		Tags:        []string{"notifications"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkNotificationAsRead(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-all-notifications-read",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark every notification in the caller's feed read",
		Tags:        []string{"notifications"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CountResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkAllNotificationsRead(ctx, actorID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CountResponse `json:"body"`
		}{Body: CountResponse{Count: n}}, nil
	})
}

func registerUsers(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Tags:        []string{"users"},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		out := []domain.User{}
		for _, u := range cfg.Store.Users() {
			if input.Role == "" || u.HasRole(input.Role) {
				out = append(out, u)
			}
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*userBody, error) {
		u, _, ok := cfg.Store.Snapshot().User(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "user "+input.ID+" not found", nil)
		}
		return &userBody{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		Tags:          []string{"users"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*userBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			ID:          b.ID,
			Name:        b.Name,
			Email:       b.Email,
			Roles:       b.Roles,
			CurrentRole: b.CurrentRole,
			Region:      b.Region,
			Team:        b.Team,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &userBody{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{id}",
		Summary:     "Update user",
		Tags:        []string{"users"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateUserRequest `json:"body"`
	}) (*userBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		u, err := e.UpdateUser(ctx, engine.UserUpdateOptions{
			ID:          input.ID,
			Name:        b.Name,
			Email:       b.Email,
			Roles:       b.Roles,
			CurrentRole: b.CurrentRole,
			Region:      b.Region,
			Team:        b.Team,
			Active:      b.Active,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &userBody{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-delegation",
		Method:      http.MethodPut,
		Path:        "/users/{id}/delegation",
		Summary:     "Delegate the user's notifications to another user",
		Tags:        []string{"users"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body DelegationRequest `json:"body"`
	}) (*userBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.DelegationOptions{
			UserID:       input.ID,
			DelegateToID: input.Body.DelegateToID,
			EndDate:      input.Body.EndDate,
			ActorID:      actorID,
		}
		if input.Body.StartDate != nil {
			opts.StartDate = *input.Body.StartDate
		}
		u, err := e.SetDelegation(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &userBody{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-user-delegation",
		Method:      http.MethodDelete,
		Path:        "/users/{id}/delegation",
		Summary:     "End the user's delegation",
		Tags:        []string{"users"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *idPath) (*userBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.ClearDelegation(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &userBody{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/users/{id}/api-keys",
		Summary:     "List API keys of a user",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, _, ok := cfg.Store.Snapshot().User(input.ID); !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "user "+input.ID+" not found", nil)
		}
		keys, err := cfg.Store.Repo().ListAPIKeys(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{id}/api-keys",
		Summary:       "Create an API key; the plain key is only returned once",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body *CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, _, ok := cfg.Store.Snapshot().User(input.ID); !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "user "+input.ID+" not found", nil)
		}
		name := ""
		if input.Body != nil {
			name = strings.TrimSpace(input.Body.Name)
		}
		key, plain := repo.NewAPIKey(input.ID, name, cfg.Store.Now())
		if err := cfg.Store.Repo().InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, UserID: key.UserID, Name: key.Name, Key: plain, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/users/{id}/api-keys/{keyId}",
		Summary:       "Revoke an API key",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		KeyID string `path:"keyId"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := cfg.Store.Repo().ListAPIKeys(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, k := range keys {
			if k.ID == input.KeyID {
				if err := cfg.Store.Repo().DeleteAPIKey(ctx, k.ID); err != nil {
					return nil, handleError(err)
				}
				return &struct{}{}, nil
			}
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "api key "+input.KeyID+" not found", nil)
	})
}

func registerClients(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
		Tags:        []string{"clients"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: nonNilSlice(cfg.Store.Snapshot().Clients)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{id}",
		Summary:     "Get client",
		Tags:        []string{"clients"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*clientBody, error) {
		c, _, ok := cfg.Store.Snapshot().Client(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "client "+input.ID+" not found", nil)
		}
		return &clientBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		Tags:          []string{"clients"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*clientBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		c, err := e.CreateClient(ctx, engine.ClientCreateOptions{
			ID:            b.ID,
			Name:          b.Name,
			ContactPerson: b.ContactPerson,
			Email:         b.Email,
			Phone:         b.Phone,
			Address:       b.Address,
			BusinessType:  b.BusinessType,
			Assignments:   b.Assignments,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &clientBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPatch,
		Path:        "/clients/{id}",
		Summary:     "Update client",
		Tags:        []string{"clients"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateClientRequest `json:"body"`
	}) (*clientBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		var status *domain.ClientStatus
		if b.Status != nil {
			st := domain.ClientStatus(*b.Status)
			status = &st
		}
		c, err := e.UpdateClient(ctx, engine.ClientUpdateOptions{
			ID:            input.ID,
			Name:          b.Name,
			ContactPerson: b.ContactPerson,
			Email:         b.Email,
			Phone:         b.Phone,
			Address:       b.Address,
			BusinessType:  b.BusinessType,
			Assignments:   b.Assignments,
			Status:        status,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &clientBody{Body: c}, nil
	})
}

func registerSession(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current session user of this workspace",
		Tags:        []string{"session"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{User: cfg.Store.CurrentUser()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-login",
		Method:      http.MethodPost,
		Path:        "/session/login",
		Summary:     "Start a session as the given user",
		Tags:        []string{"session"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if cfg.Session == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "session not configured", nil)
		}
		u, _, ok := cfg.Store.Snapshot().User(input.Body.UserID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "user "+input.Body.UserID+" not found", nil)
		}
		if role := strings.TrimSpace(input.Body.CurrentRole); role != "" {
			if !u.HasRole(role) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "user "+u.ID+" does not hold role "+role, nil)
			}
			u.CurrentRole = role
		}
		cur, err := cfg.Session.Login(ctx, u)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{User: cur}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "session-logout",
		Method:        http.MethodPost,
		Path:          "/session/logout",
		Summary:       "End the session",
		Tags:          []string{"session"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if cfg.Session == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "session not configured", nil)
		}
		if err := cfg.Session.Logout(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-reconcile",
		Method:      http.MethodPost,
		Path:        "/session/reconcile",
		Summary:     "Refresh the session user from the users collection",
		Tags:        []string{"session"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		if cfg.Session == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "session not configured", nil)
		}
		outcome, err := cfg.Session.Reconcile(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: ReconcileResponse{Outcome: string(outcome), User: cfg.Store.CurrentUser()}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		Collection string `query:"collection"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			v, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || v <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursor = v
		}
		filter := repo.EventFilter{Type: input.Type, Collection: input.Collection, EntityID: input.EntityID}
		items, err := cfg.Store.Repo().LatestEvents(ctx, limit+1, cursor, filter)
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			items = items[:limit]
			next = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: nonNilSlice(items), NextCursor: next}}, nil
	})
}

func registerDevAuth(api huma.API, cfg Config) {
	if !cfg.Auth.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Mint a token for an existing user (development only)",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		u, _, ok := cfg.Store.Snapshot().User(input.Body.UserID)
		if !ok || !u.Active {
			return nil, newAPIError(http.StatusNotFound, "not_found", "user "+input.Body.UserID+" not found", nil)
		}
		token, err := signToken(cfg.Auth.JWTSecret, u.ID, u.Roles, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
