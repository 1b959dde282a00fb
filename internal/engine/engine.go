package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"certdesk/internal/config"
	"certdesk/internal/logging"
	"certdesk/internal/metrics"
	"certdesk/internal/repo"
	"certdesk/internal/store"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalid           = errors.New("invalid input")
)

var validate = validator.New()

type Engine struct {
	Store   *store.Store
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func New(st *store.Store, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:   st,
		Config:  cfg,
		Logger:  logging.OrNop(logger),
		Metrics: m,
	}
}

func (e Engine) logger() *zap.Logger {
	return logging.OrNop(e.Logger)
}

// run executes fn as one store transaction and records the outcome.
func (e Engine) run(ctx context.Context, op, actorID string, fn func(tx *store.Tx) error) error {
	if e.Store == nil {
		return errors.New("store not initialized")
	}
	start := time.Now()
	err := e.Store.Update(ctx, actorID, fn)
	e.Metrics.ObserveOperation(op, start, err, Classify)
	if err != nil {
		level := e.logger().Debug
		if Classify(err) == "error" || Classify(err) == "conflict" {
			level = e.logger().Warn
		}
		level("operation failed", zap.String("operation", op), zap.String("actor_id", actorID), zap.Error(err))
	}
	return err
}

// Classify maps an operation error to a short outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, repo.ErrVersionConflict):
		return "conflict"
	default:
		return "error"
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func invalidTransition(kind, id string, from, op any) error {
	return fmt.Errorf("%s %s: cannot %v from %v: %w", kind, id, op, from, ErrInvalidTransition)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
