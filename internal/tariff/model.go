package tariff

import (
	"time"

	"github.com/google/uuid"

	"github.com/KTo1/ai-friend-sub000/internal/quota"
)

// Plan bundles a price point with the limit set it grants.
type Plan struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PriceCents  int               `json:"price_cents"`
	IsDefault   bool              `json:"is_default"`
	Limits      quota.LimitConfig `json:"limits"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Assignment links a user to a plan, optionally until an expiry.
type Assignment struct {
	UserID    string     `json:"user_id"`
	PlanID    uuid.UUID  `json:"plan_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Active reports whether the assignment still applies at the given time.
func (a *Assignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}
