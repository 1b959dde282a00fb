package store

import (
	"fmt"
	"slices"

	"certdesk/internal/domain"
	"certdesk/internal/persist"
)

// State is the in-memory object graph. Items are values; code that changes
// an item replaces it in its slice rather than writing through shared
// nested slices or maps.
type State struct {
	Clients          []domain.Client
	JobOrders        []domain.JobOrder
	Certificates     []domain.Certificate
	Payments         []domain.Payment
	TrainingSessions []domain.TrainingSession
	Users            []domain.User
	Notifications    []domain.Notification
}

// Clone copies every collection slice.
func (s State) Clone() State {
	return State{
		Clients:          slices.Clone(s.Clients),
		JobOrders:        slices.Clone(s.JobOrders),
		Certificates:     slices.Clone(s.Certificates),
		Payments:         slices.Clone(s.Payments),
		TrainingSessions: slices.Clone(s.TrainingSessions),
		Users:            slices.Clone(s.Users),
		Notifications:    slices.Clone(s.Notifications),
	}
}

func (s State) encode(c persist.Collection) (string, error) {
	switch c {
	case persist.Clients:
		return persist.Encode(nonNil(s.Clients))
	case persist.JobOrders:
		return persist.Encode(nonNil(s.JobOrders))
	case persist.Certificates:
		return persist.Encode(nonNil(s.Certificates))
	case persist.Payments:
		return persist.Encode(nonNil(s.Payments))
	case persist.TrainingSessions:
		return persist.Encode(nonNil(s.TrainingSessions))
	case persist.Users:
		return persist.Encode(nonNil(s.Users))
	case persist.Notifications:
		return persist.Encode(nonNil(s.Notifications))
	}
	return "", fmt.Errorf("unknown collection %s", c)
}

func (s *State) decode(c persist.Collection, payload string) error {
	var err error
	switch c {
	case persist.Clients:
		s.Clients, err = persist.Decode[[]domain.Client](c, payload)
	case persist.JobOrders:
		s.JobOrders, err = persist.Decode[[]domain.JobOrder](c, payload)
	case persist.Certificates:
		s.Certificates, err = persist.Decode[[]domain.Certificate](c, payload)
	case persist.Payments:
		s.Payments, err = persist.Decode[[]domain.Payment](c, payload)
	case persist.TrainingSessions:
		s.TrainingSessions, err = persist.Decode[[]domain.TrainingSession](c, payload)
	case persist.Users:
		s.Users, err = persist.Decode[[]domain.User](c, payload)
	case persist.Notifications:
		s.Notifications, err = persist.Decode[[]domain.Notification](c, payload)
	default:
		err = fmt.Errorf("unknown collection %s", c)
	}
	return err
}

// assign copies collection c from src.
func (s *State) assign(c persist.Collection, src State) {
	switch c {
	case persist.Clients:
		s.Clients = src.Clients
	case persist.JobOrders:
		s.JobOrders = src.JobOrders
	case persist.Certificates:
		s.Certificates = src.Certificates
	case persist.Payments:
		s.Payments = src.Payments
	case persist.TrainingSessions:
		s.TrainingSessions = src.TrainingSessions
	case persist.Users:
		s.Users = src.Users
	case persist.Notifications:
		s.Notifications = src.Notifications
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s State) JobOrder(id string) (domain.JobOrder, int, bool) {
	for i, j := range s.JobOrders {
		if j.ID == id {
			return j, i, true
		}
	}
	return domain.JobOrder{}, -1, false
}

func (s State) Client(id string) (domain.Client, int, bool) {
	for i, c := range s.Clients {
		if c.ID == id {
			return c, i, true
		}
	}
	return domain.Client{}, -1, false
}

func (s State) User(id string) (domain.User, int, bool) {
	for i, u := range s.Users {
		if u.ID == id {
			return u, i, true
		}
	}
	return domain.User{}, -1, false
}

func (s State) Payment(id string) (domain.Payment, int, bool) {
	for i, p := range s.Payments {
		if p.ID == id {
			return p, i, true
		}
	}
	return domain.Payment{}, -1, false
}

func (s State) Certificate(id string) (domain.Certificate, int, bool) {
	for i, c := range s.Certificates {
		if c.ID == id {
			return c, i, true
		}
	}
	return domain.Certificate{}, -1, false
}

func (s State) TrainingSession(id string) (domain.TrainingSession, int, bool) {
	for i, t := range s.TrainingSessions {
		if t.ID == id {
			return t, i, true
		}
	}
	return domain.TrainingSession{}, -1, false
}

func (s State) Notification(id string) (domain.Notification, int, bool) {
	for i, n := range s.Notifications {
		if n.ID == id {
			return n, i, true
		}
	}
	return domain.Notification{}, -1, false
}
