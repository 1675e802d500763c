package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sender delivers one outbound message to a conversation on the chat
// platform. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// ErrTimeout marks a delivery attempt that did not complete in time.
var ErrTimeout = errors.New("platform: send timed out")

// ErrRecipientUnreachable marks a recipient the platform refuses to
// deliver to (blocked, deactivated, unsubscribed). This failure is
// permanent for the recipient, not just the attempt.
var ErrRecipientUnreachable = errors.New("platform: recipient unreachable")

// RetryAfterError carries a platform-issued flood wait: the sender must
// pause for After before the next attempt.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("platform: flood wait, retry after %s", e.After)
}

// ProviderError is a platform-side rejection that is not a flood wait
// and not a dead recipient. Class keeps the platform's own error label
// for logs and metrics.
type ProviderError struct {
	Class   string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("platform: %s: %s", e.Class, e.Message)
}

// RetryAfter extracts the mandated wait from err, if it carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}

// IsUnreachable reports whether err means the recipient can never be
// delivered to again.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrRecipientUnreachable)
}

// IsTimeout reports whether err was a delivery timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
