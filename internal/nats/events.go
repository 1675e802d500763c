package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamMessages = "AIFRIEND_MESSAGES"
	StreamTasks    = "AIFRIEND_TASKS"
	StreamEvents   = "AIFRIEND_EVENTS"
)

// Subject constants.
const (
	SubjectInboundMessage  = "aifriend.messages.inbound"
	SubjectOutboundMessage = "aifriend.messages.outbound"
	SubjectReplyTask       = "aifriend.tasks.reply"
	SubjectRecipientEvent  = "aifriend.events.recipient"
)

// InboundMessage is published when an XMPP message arrives at the component.
type InboundMessage struct {
	ID         string    `json:"id"`
	FromJID    string    `json:"from_jid"`
	ToJID      string    `json:"to_jid"`
	Body       string    `json:"body"`
	StanzaType string    `json:"stanza_type"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is published to send a message back via XMPP.
type OutboundMessage struct {
	ID        string `json:"id"`
	ToJID     string `json:"to_jid"`
	FromJID   string `json:"from_jid"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// ReplyTask is published when an admitted message is handed off to the
// reply producers. Context sizing limits ride along so producers do not
// need their own tariff lookup.
type ReplyTask struct {
	RequestID          string    `json:"request_id"`
	UserJID            string    `json:"user_jid"`
	CompanionJID       string    `json:"companion_jid"`
	Message            string    `json:"message"`
	MaxContextMessages int       `json:"max_context_messages"`
	MaxContextLength   int       `json:"max_context_length"`
	ReceivedAt         time.Time `json:"received_at"`
}

// RecipientEvent is published when delivery state for a recipient
// changes, e.g. the platform declared them unreachable.
type RecipientEvent struct {
	UserJID   string    `json:"user_jid"`
	EventType string    `json:"event_type"` // e.g. "unreachable", "delivery_failed"
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
