package tariff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/KTo1/ai-friend-sub000/internal/quota"
)

// ErrUnknownLimitField is returned for setter names outside the allow-list.
var ErrUnknownLimitField = errors.New("unknown limit field")

// AllowedLimitFields is the closed set of plan limit fields that may be
// changed through the named setter. Anything else is rejected before
// touching storage.
var AllowedLimitFields = []string{
	"messages_per_minute",
	"messages_per_hour",
	"messages_per_day",
	"max_message_length",
	"max_context_messages",
	"max_context_length",
}

type planStore interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	GetDefaultPlan(ctx context.Context) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	GetUserPlan(ctx context.Context, userID string) (*Plan, *Assignment, error)
	AssignPlan(ctx context.Context, userID string, planID uuid.UUID, expiresAt *time.Time) error
	UpdateLimitColumn(ctx context.Context, planID uuid.UUID, column string, value int) error
}

// Service resolves per-user limits and manages plans. fallback is the
// config-level limit set used when neither the user's assignment nor the
// default plan can be read.
type Service struct {
	repo     planStore
	fallback quota.LimitConfig

	now func() time.Time
}

func NewService(repo planStore, fallback quota.LimitConfig) *Service {
	return &Service{
		repo:     repo,
		fallback: fallback,
		now:      time.Now,
	}
}

// Resolve returns the limit set in force for the user. A missing or
// expired assignment falls back to the default plan; a storage failure
// falls back to the configured defaults so admission keeps working while
// the tariff store is down.
func (s *Service) Resolve(ctx context.Context, userID string) quota.LimitConfig {
	plan, assignment, err := s.repo.GetUserPlan(ctx, userID)
	switch {
	case err == nil && assignment.Active(s.now()):
		return plan.Limits
	case err == nil:
		slog.Info("tariff assignment expired, using default plan",
			"user_id", userID,
			"plan", plan.Name,
		)
	case !errors.Is(err, ErrAssignmentNotFound):
		slog.Error("failed to resolve user tariff, using configured defaults",
			"user_id", userID,
			"error", err,
		)
		return s.fallback
	}

	def, err := s.repo.GetDefaultPlan(ctx)
	if err != nil {
		slog.Error("failed to load default plan, using configured defaults",
			"user_id", userID,
			"error", err,
		)
		return s.fallback
	}
	return def.Limits
}

func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return s.repo.GetPlan(ctx, id)
}

func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListPlans(ctx)
}

func (s *Service) AssignPlan(ctx context.Context, userID string, planID uuid.UUID, expiresAt *time.Time) error {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return err
	}
	if err := s.repo.AssignPlan(ctx, userID, planID, expiresAt); err != nil {
		return err
	}
	slog.Info("tariff plan assigned", "user_id", userID, "plan_id", planID)
	return nil
}

// UpdateLimitField sets one named limit on a plan. The field must be in
// the allow-list and the value non-negative (zero means unlimited).
func (s *Service) UpdateLimitField(ctx context.Context, planID uuid.UUID, field string, value int) error {
	if !isAllowedLimitField(field) {
		return fmt.Errorf("%w: %q", ErrUnknownLimitField, field)
	}
	if value < 0 {
		return fmt.Errorf("limit %q must be non-negative, got %d", field, value)
	}
	if err := s.repo.UpdateLimitColumn(ctx, planID, field, value); err != nil {
		return err
	}
	slog.Info("tariff limit updated", "plan_id", planID, "field", field, "value", value)
	return nil
}

func isAllowedLimitField(field string) bool {
	for _, f := range AllowedLimitFields {
		if f == field {
			return true
		}
	}
	return false
}
