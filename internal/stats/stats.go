package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserStats is the accumulated usage record for one user.
type UserStats struct {
	UserID              string    `json:"user_id"`
	TotalMessages       int64     `json:"total_messages"`
	TotalCharacters     int64     `json:"total_characters"`
	RejectedMessages    int64     `json:"rejected_messages"`
	RateLimitedMessages int64     `json:"rate_limited_messages"`
	LastMessageAt       time.Time `json:"last_message_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AverageMessageLength is derived from accepted traffic only.
func (s *UserStats) AverageMessageLength() float64 {
	accepted := s.TotalMessages - s.RejectedMessages - s.RateLimitedMessages
	if accepted <= 0 {
		return 0
	}
	return float64(s.TotalCharacters) / float64(accepted)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const upsertUsageSQL = `
INSERT INTO user_stats (
	user_id, total_messages, total_characters,
	rejected_messages, rate_limited_messages, last_message_at
)
VALUES ($1, 1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	total_messages        = user_stats.total_messages + 1,
	total_characters      = user_stats.total_characters + EXCLUDED.total_characters,
	rejected_messages     = user_stats.rejected_messages + EXCLUDED.rejected_messages,
	rate_limited_messages = user_stats.rate_limited_messages + EXCLUDED.rate_limited_messages,
	last_message_at       = EXCLUDED.last_message_at,
	updated_at            = NOW()`

// RecordUsage accumulates one inbound message into user_stats. Accepted
// characters count toward total_characters; rejected and rate limited
// messages only bump their own counters.
func (r *Repository) RecordUsage(ctx context.Context, userID string, messageLength int, wasRejected, wasRateLimited bool) error {
	chars := int64(messageLength)
	var rejected, limited int64
	if wasRejected {
		rejected = 1
		chars = 0
	}
	if wasRateLimited {
		limited = 1
		chars = 0
	}

	_, err := r.pool.Exec(ctx, upsertUsageSQL, userID, chars, rejected, limited, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording usage for user %s: %w", userID, err)
	}
	return nil
}

const getStatsSQL = `
SELECT user_id, total_messages, total_characters,
       rejected_messages, rate_limited_messages,
       last_message_at, created_at, updated_at
FROM user_stats
WHERE user_id = $1`

func (r *Repository) Get(ctx context.Context, userID string) (*UserStats, error) {
	var s UserStats
	err := r.pool.QueryRow(ctx, getStatsSQL, userID).Scan(
		&s.UserID, &s.TotalMessages, &s.TotalCharacters,
		&s.RejectedMessages, &s.RateLimitedMessages,
		&s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("loading stats for user %s: %w", userID, err)
	}
	return &s, nil
}
