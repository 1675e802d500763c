package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KTo1/ai-friend-sub000/internal/metrics"
)

// StatsRecorder receives usage events. Recording is purely informational and
// must never affect admission decisions; implementations are expected to
// swallow their own failures.
type StatsRecorder interface {
	RecordUsage(ctx context.Context, userID string, messageLength int, wasRejected, wasRateLimited bool)
}

// Tracker decides whether an inbound message may be processed and records
// usage after acceptance.
type Tracker struct {
	store CounterStore
	stats StatsRecorder
	now   func() time.Time
}

func NewTracker(store CounterStore, stats StatsRecorder) *Tracker {
	return &Tracker{
		store: store,
		stats: stats,
		now:   time.Now,
	}
}

// CheckAndConsume runs the admission sequence: message length first, then
// the three rate windows. On acceptance all three counters advance in one
// atomic step; on denial no counter is touched. A returned error means the
// counter store failed and the message must not be admitted (fail-closed).
func (t *Tracker) CheckAndConsume(ctx context.Context, userID, message string, limits LimitConfig) (Decision, error) {
	msgLen := utf8.RuneCountInString(message)

	if limits.MaxMessageLength != Unlimited && msgLen > limits.MaxMessageLength {
		metrics.AdmissionDecisionsTotal.WithLabelValues("too_long").Inc()
		if t.stats != nil {
			t.stats.RecordUsage(ctx, userID, msgLen, true, false)
		}
		slog.Info("message rejected: too long",
			"user_id", userID,
			"message_length", msgLen,
			"limit", limits.MaxMessageLength,
		)
		return Decision{
			Reason:  DenyMessageTooLong,
			Message: tooLongMessage(msgLen, limits.MaxMessageLength),
		}, nil
	}

	now := t.now()
	ceilings := limits.Ceilings()

	var res ConsumeResult
	var err error
	if ceilings[Minute] == Unlimited && ceilings[Hour] == Unlimited && ceilings[Day] == Unlimited {
		// Nothing to admit against; record usage through the plain
		// increment-or-reset primitive.
		res.Allowed = true
		res.Counters = make(map[Granularity]Counter, len(Granularities))
		for _, g := range Granularities {
			res.Counters[g], err = t.store.IncrementOrReset(ctx, userID, g, now)
			if err != nil {
				break
			}
		}
	} else {
		res, err = t.store.Consume(ctx, userID, ceilings, now)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("consuming quota for user %s: %w", userID, err)
	}

	if !res.Allowed {
		metrics.AdmissionDecisionsTotal.WithLabelValues("rate_limited").Inc()
		metrics.RateLimitedWindowTotal.WithLabelValues(string(res.Exhausted)).Inc()
		if t.stats != nil {
			t.stats.RecordUsage(ctx, userID, msgLen, false, true)
		}
		d := denyDecision(res, ceilings, now)
		slog.Warn("rate limit exceeded",
			"user_id", userID,
			"window", string(d.Window),
			"remaining", d.Remaining,
		)
		return d, nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues("allowed").Inc()
	if t.stats != nil {
		t.stats.RecordUsage(ctx, userID, msgLen, false, false)
	}
	return Decision{
		Allowed:   true,
		Remaining: remainingMap(res.Counters, ceilings),
		ResetIn:   resetInMap(res.Counters, now),
	}, nil
}

// Status is a read-only quota view. Expired windows are repaired first so
// stale counters are not reported as still active; nothing else mutates.
func (t *Tracker) Status(ctx context.Context, userID string, limits LimitConfig) (*Status, error) {
	now := t.now()
	if err := t.store.ResetExpired(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("refreshing counters for user %s: %w", userID, err)
	}

	counters, err := t.store.Get(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("fetching counters for user %s: %w", userID, err)
	}

	ceilings := limits.Ceilings()
	used := make(map[Granularity]int, len(Granularities))
	for _, g := range Granularities {
		used[g] = counters[g].Count
	}
	return &Status{
		Used:      used,
		Limits:    ceilings,
		Remaining: remainingMap(counters, ceilings),
		ResetIn:   resetInMap(counters, now),
	}, nil
}

// ResetCounters clears all three windows immediately (admin action).
func (t *Tracker) ResetCounters(ctx context.Context, userID string) error {
	if err := t.store.ResetAll(ctx, userID, t.now()); err != nil {
		return err
	}
	slog.Info("quota counters reset", "user_id", userID)
	return nil
}

func denyDecision(res ConsumeResult, ceilings map[Granularity]int, now time.Time) Decision {
	rem := remainingMap(res.Counters, ceilings)
	resetIn := resetInMap(res.Counters, now)
	return Decision{
		Reason:    DenyRateLimited,
		Window:    res.Exhausted,
		Message:   rateLimitMessage(res.Exhausted, ceilings, rem, resetIn),
		Remaining: rem,
		ResetIn:   resetIn,
	}
}

func remainingMap(counters map[Granularity]Counter, ceilings map[Granularity]int) map[Granularity]int {
	out := make(map[Granularity]int, len(Granularities))
	for _, g := range Granularities {
		out[g] = remaining(ceilings[g], counters[g].Count)
	}
	return out
}

func resetInMap(counters map[Granularity]Counter, now time.Time) map[Granularity]string {
	out := make(map[Granularity]string, len(Granularities))
	for _, g := range Granularities {
		out[g] = FormatDuration(TimeUntilReset(g, counters[g].WindowStart, now))
	}
	return out
}

func tooLongMessage(length, limit int) string {
	return fmt.Sprintf(
		"Your message is too long (%d characters).\n"+
			"The maximum allowed length is %d characters.\n\n"+
			"Please shorten it or split it into several parts.",
		length, limit)
}

var windowNouns = map[Granularity]string{
	Minute: "Minute",
	Hour:   "Hourly",
	Day:    "Daily",
}

func rateLimitMessage(exhausted Granularity, ceilings, rem map[Granularity]int, resetIn map[Granularity]string) string {
	var b strings.Builder
	b.WriteString("Message limit reached.\n\n")
	fmt.Fprintf(&b, "%s limit: %d messages\n", windowNouns[exhausted], ceilings[exhausted])
	fmt.Fprintf(&b, "Please wait: %s\n\n", resetIn[exhausted])

	b.WriteString("Messages remaining:\n")
	fmt.Fprintf(&b, "- per minute: %s\n", remainingText(rem[Minute], ceilings[Minute]))
	fmt.Fprintf(&b, "- per hour: %s\n", remainingText(rem[Hour], ceilings[Hour]))
	fmt.Fprintf(&b, "- per day: %s\n\n", remainingText(rem[Day], ceilings[Day]))
	b.WriteString("Limits reset automatically.")
	return b.String()
}

func remainingText(rem, ceiling int) string {
	if rem < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%d", rem, ceiling)
}
