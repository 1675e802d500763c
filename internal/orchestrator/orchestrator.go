package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/KTo1/ai-friend-sub000/internal/nats"
	"github.com/KTo1/ai-friend-sub000/internal/quota"
)

// LimitsResolver yields the limit set in force for a user.
type LimitsResolver interface {
	Resolve(ctx context.Context, userID string) quota.LimitConfig
}

// Admitter decides whether an inbound message may enter the pipeline.
type Admitter interface {
	CheckAndConsume(ctx context.Context, userID, message string, limits quota.LimitConfig) (quota.Decision, error)
}

type eventPublisher interface {
	PublishOutboundMessage(ctx context.Context, msg inats.OutboundMessage) error
	PublishReplyTask(ctx context.Context, task inats.ReplyTask) error
}

// Orchestrator consumes inbound messages, runs quota admission, and hands
// admitted messages to the reply producers. Denied messages get an
// explanatory response instead.
type Orchestrator struct {
	publisher   eventPublisher
	consumerMgr *inats.ConsumerManager
	limits      LimitsResolver
	admitter    Admitter
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	publisher *inats.Publisher,
	consumerMgr *inats.ConsumerManager,
	limits LimitsResolver,
	admitter Admitter,
) *Orchestrator {
	return &Orchestrator{
		publisher:   publisher,
		consumerMgr: consumerMgr,
		limits:      limits,
		admitter:    admitter,
	}
}

// Start begins the orchestrator event loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	consumer, err := o.consumerMgr.EnsureConsumer(ctx, inats.StreamMessages, "orchestrator", inats.SubjectInboundMessage)
	if err != nil {
		return err
	}

	slog.Info("orchestrator started", "consumer", "orchestrator")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching inbound messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			o.processMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (o *Orchestrator) processMessage(ctx context.Context, msg jetstream.Msg) {
	var inbound inats.InboundMessage
	if err := json.Unmarshal(msg.Data(), &inbound); err != nil {
		slog.Error("unmarshaling inbound message", "error", err)
		_ = msg.Nak()
		return
	}

	slog.Debug("orchestrator processing message",
		"id", inbound.ID,
		"from", inbound.FromJID,
		"to", inbound.ToJID,
	)

	limits := o.limits.Resolve(ctx, inbound.FromJID)

	decision, err := o.admitter.CheckAndConsume(ctx, inbound.FromJID, inbound.Body, limits)
	if err != nil {
		// Counter store failure. Nak so the message is retried once the
		// store recovers; it must not slip through unmetered.
		slog.Error("admission check failed", "error", err, "from", inbound.FromJID)
		_ = msg.Nak()
		return
	}

	if !decision.Allowed {
		slog.Info("message denied",
			"id", inbound.ID,
			"from", inbound.FromJID,
			"reason", string(decision.Reason),
		)
		o.sendResponse(ctx, inbound, decision.Message)
		_ = msg.Ack()
		return
	}

	task := inats.ReplyTask{
		RequestID:          inbound.ID,
		UserJID:            inbound.FromJID,
		CompanionJID:       inbound.ToJID,
		Message:            inbound.Body,
		MaxContextMessages: limits.MaxContextMessages,
		MaxContextLength:   limits.MaxContextLength,
		ReceivedAt:         inbound.ReceivedAt,
	}
	if err := o.publisher.PublishReplyTask(ctx, task); err != nil {
		slog.Error("publishing reply task", "error", err, "id", inbound.ID)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
}

func (o *Orchestrator) sendResponse(ctx context.Context, inbound inats.InboundMessage, body string) {
	outbound := inats.OutboundMessage{
		ID:        uuid.New().String(),
		ToJID:     inbound.FromJID,
		FromJID:   inbound.ToJID,
		Body:      body,
		InReplyTo: inbound.ID,
	}
	if err := o.publisher.PublishOutboundMessage(ctx, outbound); err != nil {
		slog.Error("publishing denial response", "error", err)
	}
}
