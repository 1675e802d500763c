package xmpp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/KTo1/ai-friend-sub000/internal/dispatch"
	inats "github.com/KTo1/ai-friend-sub000/internal/nats"
)

// OutboundRelay consumes outbound messages from NATS and pushes them
// through the dispatcher onto XMPP. Terminal delivery failures become
// recipient events so collaborators can disable the recipient.
type OutboundRelay struct {
	dispatcher  *dispatch.Dispatcher
	publisher   *inats.Publisher
	consumerMgr *inats.ConsumerManager
}

// NewOutboundRelay creates a new OutboundRelay.
func NewOutboundRelay(dispatcher *dispatch.Dispatcher, publisher *inats.Publisher, consumerMgr *inats.ConsumerManager) *OutboundRelay {
	return &OutboundRelay{
		dispatcher:  dispatcher,
		publisher:   publisher,
		consumerMgr: consumerMgr,
	}
}

// Start begins consuming outbound messages and dispatching them.
func (r *OutboundRelay) Start(ctx context.Context) error {
	consumer, err := r.consumerMgr.EnsureConsumer(ctx, inats.StreamMessages, "outbound-relay", inats.SubjectOutboundMessage)
	if err != nil {
		return err
	}

	slog.Info("outbound relay started", "consumer", "outbound-relay")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching outbound messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			r.deliver(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *OutboundRelay) deliver(ctx context.Context, msg jetstream.Msg) {
	var outbound inats.OutboundMessage
	if err := json.Unmarshal(msg.Data(), &outbound); err != nil {
		slog.Error("unmarshaling outbound message", "error", err)
		_ = msg.Nak()
		return
	}

	err := r.dispatcher.Send(ctx, outbound.ToJID, outbound.Body)
	if err == nil {
		slog.Debug("sent outbound XMPP message", "to", outbound.ToJID, "from", outbound.FromJID)
		_ = msg.Ack()
		return
	}

	var de *dispatch.DeliveryError
	if errors.As(err, &de) && de.Terminal() {
		slog.Warn("recipient unreachable, dropping message",
			"to", outbound.ToJID,
			"error", err,
		)
		event := inats.RecipientEvent{
			UserJID:   outbound.ToJID,
			EventType: "unreachable",
			Detail:    de.Error(),
			Timestamp: time.Now().UTC(),
		}
		if perr := r.publisher.PublishRecipientEvent(ctx, event); perr != nil {
			slog.Error("publishing recipient event", "error", perr, "user_jid", outbound.ToJID)
		}
		// Retrying a dead recipient is pointless; drop the message.
		_ = msg.Ack()
		return
	}

	slog.Error("dispatching outbound message", "error", err, "to", outbound.ToJID)
	_ = msg.Nak()
}
