package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KTo1/ai-friend-sub000/internal/metrics"
	"github.com/KTo1/ai-friend-sub000/internal/platform"
)

// FailureKind classifies why a delivery was abandoned after the retry
// budget ran out.
type FailureKind string

const (
	FailRateLimited  FailureKind = "rate_limited"
	FailBurstLimited FailureKind = "burst_limited"
	FailTimeout      FailureKind = "timeout"
	FailUnreachable  FailureKind = "unreachable"
	FailProvider     FailureKind = "provider"
	FailInternal     FailureKind = "internal"
)

// ErrBurstLimited is the underlying cause when every attempt was denied by
// the per-conversation burst guard before reaching the platform.
var ErrBurstLimited = errors.New("conversation burst limit exceeded")

// DeliveryError is returned when all attempts for one message failed.
type DeliveryError struct {
	Kind           FailureKind
	ConversationID string
	Attempts       int
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed (%s) after %d attempts: %v",
		e.ConversationID, e.Kind, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Terminal reports whether the recipient should be disabled rather than
// retried later.
func (e *DeliveryError) Terminal() bool { return e.Kind == FailUnreachable }

// Dispatcher pushes messages to the platform behind the global token
// bucket and the per-conversation burst guard, retrying transient
// failures.
type Dispatcher struct {
	sender platform.Sender
	bucket *TokenBucket
	guard  *BurstGuard

	maxAttempts     int
	retryBaseDelay  time.Duration
	burstRetryDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(sender platform.Sender, bucket *TokenBucket, guard *BurstGuard, maxAttempts int, retryBaseDelay, burstRetryDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:          sender,
		bucket:          bucket,
		guard:           guard,
		maxAttempts:     maxAttempts,
		retryBaseDelay:  retryBaseDelay,
		burstRetryDelay: burstRetryDelay,
		sleep:           sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send delivers one message within a budget of maxAttempts attempts. A
// burst-guard denial consumes an attempt like any other failure, so a
// saturated conversation exhausts into a DeliveryError instead of pinning
// the caller. A nil return means the message is on the wire. Tokens spent
// on failed attempts are not refunded.
func (d *Dispatcher) Send(ctx context.Context, conversationID, text string) error {
	var lastErr error
	kind := FailInternal

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying send",
				"conversation_id", conversationID,
				"attempt", attempt+1,
			)
		}

		if !d.guard.TryAcquire(conversationID) {
			kind = FailBurstLimited
			lastErr = ErrBurstLimited
			metrics.PlatformSendsTotal.WithLabelValues("burst_limited").Inc()
			if attempt+1 < d.maxAttempts {
				if err := d.sleep(ctx, d.burstRetryDelay); err != nil {
					return err
				}
			}
			continue
		}

		if err := d.bucket.Acquire(ctx); err != nil {
			return err
		}

		err := d.sender.Send(ctx, conversationID, text)
		if err == nil {
			metrics.PlatformSendsTotal.WithLabelValues("success").Inc()
			return nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case isRetryAfterErr(err):
			kind = FailRateLimited
			wait, _ = platform.RetryAfter(err)
			metrics.PlatformSendsTotal.WithLabelValues("flood_wait").Inc()
			slog.Warn("platform flood wait",
				"conversation_id", conversationID,
				"wait", wait,
			)
		case platform.IsTimeout(err):
			kind = FailTimeout
			wait = d.backoff(attempt)
			metrics.PlatformSendsTotal.WithLabelValues("timeout").Inc()
		case platform.IsUnreachable(err):
			kind = FailUnreachable
			wait = d.backoff(attempt)
			metrics.PlatformSendsTotal.WithLabelValues("unreachable").Inc()
		case isProviderErr(err):
			kind = FailProvider
			wait = d.backoff(attempt)
			metrics.PlatformSendsTotal.WithLabelValues("provider_error").Inc()
		default:
			kind = FailInternal
			wait = d.backoff(attempt)
			metrics.PlatformSendsTotal.WithLabelValues("internal_error").Inc()
			slog.Error("unexpected send failure",
				"conversation_id", conversationID,
				"error", err,
			)
		}

		if attempt+1 < d.maxAttempts {
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	metrics.PlatformSendsTotal.WithLabelValues("abandoned").Inc()
	return &DeliveryError{
		Kind:           kind,
		ConversationID: conversationID,
		Attempts:       d.maxAttempts,
		Err:            lastErr,
	}
}

// backoff is base*2^attempt for the attempt that just failed.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	return d.retryBaseDelay * (1 << attempt)
}

func isRetryAfterErr(err error) bool {
	_, ok := platform.RetryAfter(err)
	return ok
}

func isProviderErr(err error) bool {
	var pe *platform.ProviderError
	return errors.As(err, &pe)
}
