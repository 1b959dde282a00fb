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

type UserCreateOptions struct {
	ID          string
	Name        string   `validate:"required"`
	Email       string   `validate:"omitempty,email"`
	Roles       []string `validate:"min=1,dive,required"`
	CurrentRole string
	Region      string
	Team        string
	ActorID     string
}

type UserUpdateOptions struct {
	ID          string  `validate:"required"`
	Name        *string `validate:"omitempty,min=1"`
	Email       *string `validate:"omitempty,email"`
	Roles       []string
	CurrentRole *string
	Region      *string
	Team        *string
	Active      *bool
	ActorID     string
}

type DelegationOptions struct {
	UserID       string `validate:"required"`
	DelegateToID string `validate:"required,nefield=UserID"`
	StartDate    time.Time
	EndDate      *time.Time
	ActorID      string
}

type ClientCreateOptions struct {
	ID            string
	Name          string `validate:"required"`
	ContactPerson string
	Email         string `validate:"omitempty,email"`
	Phone         string
	Address       string
	BusinessType  string
	Assignments   []domain.Assignment
	ActorID       string
}

type ClientUpdateOptions struct {
	ID            string  `validate:"required"`
	Name          *string `validate:"omitempty,min=1"`
	ContactPerson *string
	Email         *string `validate:"omitempty,email"`
	Phone         *string
	Address       *string
	BusinessType  *string
	Assignments   []domain.Assignment
	Status        *domain.ClientStatus
	ActorID       string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if err := validateStruct(opts); err != nil {
		return domain.User{}, err
	}
	roles := cleanList(opts.Roles)
	if len(roles) == 0 {
		return domain.User{}, invalid("at least one role required")
	}
	current := opts.CurrentRole
	if current == "" {
		current = roles[0]
	}
	if !hasRole(roles, current) {
		return domain.User{}, invalid("current role %q is not one of the user's roles", current)
	}
	var out domain.User
	err := e.run(ctx, "user.create", opts.ActorID, func(tx *store.Tx) error {
		id := opts.ID
		if id == "" {
			id = "u-" + uuid.NewString()[:8]
		}
		if _, _, exists := tx.State.User(id); exists {
			return invalid("user %s already exists", id)
		}
		u := domain.User{
			ID:          id,
			Name:        strings.TrimSpace(opts.Name),
			Email:       opts.Email,
			Roles:       roles,
			CurrentRole: current,
			Region:      opts.Region,
			Team:        opts.Team,
			Active:      true,
		}
		tx.State.Users = append(tx.State.Users, u)
		tx.Touch(persist.Users)
		tx.Record(events.Entry{Type: "user.created", Collection: string(persist.Users), EntityID: u.ID,
			Payload: events.EventPayload{"roles": u.Roles}})
		out = u
		return nil
	})
	return out, err
}

func (e Engine) UpdateUser(ctx context.Context, opts UserUpdateOptions) (domain.User, error) {
	if err := validateStruct(opts); err != nil {
		return domain.User{}, err
	}
	if opts.Roles != nil && len(cleanList(opts.Roles)) == 0 {
		return domain.User{}, invalid("roles cannot be empty")
	}
	var out domain.User
	err := e.run(ctx, "user.update", opts.ActorID, func(tx *store.Tx) error {
		u, idx, ok := tx.State.User(opts.ID)
		if !ok {
			return notFound("user", opts.ID)
		}
		if opts.Name != nil {
			u.Name = strings.TrimSpace(*opts.Name)
		}
		if opts.Email != nil {
			u.Email = *opts.Email
		}
		if opts.Roles != nil {
			u.Roles = cleanList(opts.Roles)
			if !hasRole(u.Roles, u.CurrentRole) {
				u.CurrentRole = u.Roles[0]
			}
		}
		if opts.CurrentRole != nil {
			if !hasRole(u.Roles, *opts.CurrentRole) {
				return invalid("current role %q is not one of the user's roles", *opts.CurrentRole)
			}
			u.CurrentRole = *opts.CurrentRole
		}
		if opts.Region != nil {
			u.Region = *opts.Region
		}
		if opts.Team != nil {
			u.Team = *opts.Team
		}
		if opts.Active != nil {
			u.Active = *opts.Active
		}
		tx.State.Users[idx] = u
		tx.Touch(persist.Users)
		tx.Record(events.Entry{Type: "user.updated", Collection: string(persist.Users), EntityID: u.ID})
		out = u
		return nil
	})
	return out, err
}

// SetDelegation lets another user see this user's notifications while the
// delegation window is open.
func (e Engine) SetDelegation(ctx context.Context, opts DelegationOptions) (domain.User, error) {
	if err := validateStruct(opts); err != nil {
		return domain.User{}, err
	}
	if opts.EndDate != nil && !opts.StartDate.IsZero() && !opts.EndDate.After(opts.StartDate) {
		return domain.User{}, invalid("delegation must end after it starts")
	}
	var out domain.User
	err := e.run(ctx, "user.delegate", opts.ActorID, func(tx *store.Tx) error {
		u, idx, ok := tx.State.User(opts.UserID)
		if !ok {
			return notFound("user", opts.UserID)
		}
		to, _, ok := tx.State.User(opts.DelegateToID)
		if !ok {
			return notFound("user", opts.DelegateToID)
		}
		start := opts.StartDate
		if start.IsZero() {
			start = tx.Now()
		}
		u.Delegation = &domain.Delegation{
			DelegatedToID:   to.ID,
			DelegatedToName: to.Name,
			DelegatedBy:     opts.ActorID,
			Active:          true,
			StartDate:       start.UTC(),
			EndDate:         opts.EndDate,
		}
		tx.State.Users[idx] = u
		tx.Touch(persist.Users)
		tx.Record(events.Entry{Type: "user.delegated", Collection: string(persist.Users), EntityID: u.ID,
			Payload: events.EventPayload{"delegated_to": to.ID}})
		out = u
		return nil
	})
	return out, err
}

func (e Engine) ClearDelegation(ctx context.Context, userID, actorID string) (domain.User, error) {
	var out domain.User
	err := e.run(ctx, "user.clear_delegation", actorID, func(tx *store.Tx) error {
		u, idx, ok := tx.State.User(userID)
		if !ok {
			return notFound("user", userID)
		}
		if u.Delegation == nil {
			out = u
			return nil
		}
		u.Delegation = nil
		tx.State.Users[idx] = u
		tx.Touch(persist.Users)
		tx.Record(events.Entry{Type: "user.delegation_cleared", Collection: string(persist.Users), EntityID: u.ID})
		out = u
		return nil
	})
	return out, err
}

func (e Engine) CreateClient(ctx context.Context, opts ClientCreateOptions) (domain.Client, error) {
	if err := validateStruct(opts); err != nil {
		return domain.Client{}, err
	}
	var out domain.Client
	err := e.run(ctx, "client.create", opts.ActorID, func(tx *store.Tx) error {
		id := opts.ID
		if id == "" {
			id = "c-" + uuid.NewString()[:8]
		}
		if _, _, exists := tx.State.Client(id); exists {
			return invalid("client %s already exists", id)
		}
		c := domain.Client{
			ID:            id,
			Name:          strings.TrimSpace(opts.Name),
			ContactPerson: opts.ContactPerson,
			Email:         opts.Email,
			Phone:         opts.Phone,
			Address:       opts.Address,
			BusinessType:  opts.BusinessType,
			Assignments:   slices.Clone(opts.Assignments),
			Status:        domain.ClientActive,
			CreatedAt:     tx.Now(),
		}
		tx.State.Clients = append(tx.State.Clients, c)
		tx.Touch(persist.Clients)
		tx.Record(events.Entry{Type: "client.created", Collection: string(persist.Clients), EntityID: c.ID,
			Payload: events.EventPayload{"name": c.Name}})
		out = c
		return nil
	})
	return out, err
}

func (e Engine) UpdateClient(ctx context.Context, opts ClientUpdateOptions) (domain.Client, error) {
	if err := validateStruct(opts); err != nil {
		return domain.Client{}, err
	}
	if opts.Status != nil && *opts.Status != domain.ClientActive && *opts.Status != domain.ClientInactive {
		return domain.Client{}, invalid("unknown client status %q", *opts.Status)
	}
	var out domain.Client
	err := e.run(ctx, "client.update", opts.ActorID, func(tx *store.Tx) error {
		c, idx, ok := tx.State.Client(opts.ID)
		if !ok {
			return notFound("client", opts.ID)
		}
		setString(&c.Name, opts.Name)
		setString(&c.ContactPerson, opts.ContactPerson)
		setString(&c.Email, opts.Email)
		setString(&c.Phone, opts.Phone)
		setString(&c.Address, opts.Address)
		setString(&c.BusinessType, opts.BusinessType)
		if opts.Assignments != nil {
			c.Assignments = slices.Clone(opts.Assignments)
		}
		if opts.Status != nil {
			c.Status = *opts.Status
		}
		tx.State.Clients[idx] = c
		tx.Touch(persist.Clients)
		tx.Record(events.Entry{Type: "client.updated", Collection: string(persist.Clients), EntityID: c.ID})
		out = c
		return nil
	})
	return out, err
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func hasRole(roles []string, role string) bool {
	return slices.ContainsFunc(roles, func(r string) bool { return strings.EqualFold(r, role) })
}
