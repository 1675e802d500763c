package tariff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPlanNotFound       = errors.New("tariff plan not found")
	ErrAssignmentNotFound = errors.New("tariff assignment not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const planColumns = `
	id, name, description, price_cents, is_default,
	messages_per_minute, messages_per_hour, messages_per_day,
	max_message_length, max_context_messages, max_context_length,
	created_at, updated_at`

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.IsDefault,
		&p.Limits.MessagesPerMinute, &p.Limits.MessagesPerHour, &p.Limits.MessagesPerDay,
		&p.Limits.MaxMessageLength, &p.Limits.MaxContextMessages, &p.Limits.MaxContextLength,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM tariff_plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", id, err)
	}
	return p, nil
}

func (r *Repository) GetDefaultPlan(ctx context.Context) (*Plan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM tariff_plans WHERE is_default = TRUE LIMIT 1`)
	p, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading default plan: %w", err)
	}
	return p, nil
}

func (r *Repository) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+planColumns+` FROM tariff_plans ORDER BY price_cents, name`)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetUserPlan returns the plan currently assigned to the user, joined
// through user_tariffs. Expiry is checked by the caller.
func (r *Repository) GetUserPlan(ctx context.Context, userID string) (*Plan, *Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT p.id, p.name, p.description, p.price_cents, p.is_default,
		       p.messages_per_minute, p.messages_per_hour, p.messages_per_day,
		       p.max_message_length, p.max_context_messages, p.max_context_length,
		       p.created_at, p.updated_at,
		       ut.user_id, ut.expires_at, ut.created_at, ut.updated_at
		FROM user_tariffs ut
		JOIN tariff_plans p ON p.id = ut.plan_id
		WHERE ut.user_id = $1`, userID)

	var p Plan
	var a Assignment
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.IsDefault,
		&p.Limits.MessagesPerMinute, &p.Limits.MessagesPerHour, &p.Limits.MessagesPerDay,
		&p.Limits.MaxMessageLength, &p.Limits.MaxContextMessages, &p.Limits.MaxContextLength,
		&p.CreatedAt, &p.UpdatedAt,
		&a.UserID, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading plan for user %s: %w", userID, err)
	}
	a.PlanID = p.ID
	return &p, &a, nil
}

// AssignPlan upserts the user's plan assignment.
func (r *Repository) AssignPlan(ctx context.Context, userID string, planID uuid.UUID, expiresAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO user_tariffs (user_id, plan_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id    = EXCLUDED.plan_id,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`,
		userID, planID, expiresAt)
	if err != nil {
		return fmt.Errorf("assigning plan %s to user %s: %w", planID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assigning plan %s to user %s: no rows affected", planID, userID)
	}
	return nil
}

// limitColumns maps the public limit field names onto their plan columns.
// Only names present here may be updated through the API.
var limitColumns = map[string]string{
	"messages_per_minute":  "messages_per_minute",
	"messages_per_hour":    "messages_per_hour",
	"messages_per_day":     "messages_per_day",
	"max_message_length":   "max_message_length",
	"max_context_messages": "max_context_messages",
	"max_context_length":   "max_context_length",
}

func (r *Repository) UpdateLimitColumn(ctx context.Context, planID uuid.UUID, column string, value int) error {
	col, ok := limitColumns[column]
	if !ok {
		return fmt.Errorf("unknown limit column %q", column)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE tariff_plans SET `+col+` = $1, updated_at = NOW() WHERE id = $2`,
		value, planID)
	if err != nil {
		return fmt.Errorf("updating %s on plan %s: %w", col, planID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}
