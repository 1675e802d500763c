package stats

import (
	"context"
	"log/slog"
)

type usageWriter interface {
	RecordUsage(ctx context.Context, userID string, messageLength int, wasRejected, wasRateLimited bool) error
}

// Service wraps the repository with best-effort semantics: stats are
// bookkeeping, so a failed write is logged and dropped rather than
// surfaced to the admission path.
type Service struct {
	repo usageWriter
}

func NewService(repo usageWriter) *Service {
	return &Service{repo: repo}
}

func (s *Service) RecordUsage(ctx context.Context, userID string, messageLength int, wasRejected, wasRateLimited bool) {
	if err := s.repo.RecordUsage(ctx, userID, messageLength, wasRejected, wasRateLimited); err != nil {
		slog.Error("failed to record usage stats",
			"user_id", userID,
			"error", err,
		)
	}
}
