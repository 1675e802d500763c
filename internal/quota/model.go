package quota

import "time"

// Unlimited disables a limit when used as its value.
const Unlimited = 0

// LimitConfig is the per-user limit set resolved from a tariff plan.
// It is an immutable snapshot for the duration of one check.
type LimitConfig struct {
	MessagesPerMinute  int `json:"messages_per_minute"`
	MessagesPerHour    int `json:"messages_per_hour"`
	MessagesPerDay     int `json:"messages_per_day"`
	MaxMessageLength   int `json:"max_message_length"`
	MaxContextMessages int `json:"max_context_messages"`
	MaxContextLength   int `json:"max_context_length"`
}

// Ceiling returns the message ceiling for the given window.
func (c LimitConfig) Ceiling(g Granularity) int {
	switch g {
	case Minute:
		return c.MessagesPerMinute
	case Hour:
		return c.MessagesPerHour
	case Day:
		return c.MessagesPerDay
	}
	return Unlimited
}

// Ceilings returns all three window ceilings keyed by granularity.
func (c LimitConfig) Ceilings() map[Granularity]int {
	return map[Granularity]int{
		Minute: c.MessagesPerMinute,
		Hour:   c.MessagesPerHour,
		Day:    c.MessagesPerDay,
	}
}

// Counter is one durable window counter row.
type Counter struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DenyReason classifies why an inbound message was refused.
type DenyReason string

const (
	DenyMessageTooLong DenyReason = "message_too_long"
	DenyRateLimited    DenyReason = "rate_limited"
)

// Decision is the outcome of an admission check. When Allowed is false,
// Message carries a formatted explanation suitable for direct display to
// the end user.
type Decision struct {
	Allowed   bool                        `json:"allowed"`
	Reason    DenyReason                  `json:"reason,omitempty"`
	Window    Granularity                 `json:"window,omitempty"`
	Message   string                      `json:"message,omitempty"`
	Remaining map[Granularity]int         `json:"remaining,omitempty"`
	ResetIn   map[Granularity]string      `json:"reset_in,omitempty"`
}

// Status is the read-only quota view exposed over the admin API.
type Status struct {
	Used      map[Granularity]int    `json:"used"`
	Limits    map[Granularity]int    `json:"limits"`
	Remaining map[Granularity]int    `json:"remaining"`
	ResetIn   map[Granularity]string `json:"reset_in"`
}

// remaining computes max(0, ceiling-count); unlimited windows report -1.
func remaining(ceiling, count int) int {
	if ceiling == Unlimited {
		return -1
	}
	if count >= ceiling {
		return 0
	}
	return ceiling - count
}
