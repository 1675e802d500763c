package xmpp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"

	"github.com/KTo1/ai-friend-sub000/internal/platform"
)

// Sender adapts the XMPP component to the platform send primitive. A
// conversation is a bare JID; every message goes out as a chat stanza
// from the component domain.
type Sender struct {
	comp    xmpp.Sender
	fromJID string
}

func NewSender(comp xmpp.Sender, fromJID string) *Sender {
	return &Sender{comp: comp, fromJID: fromJID}
}

func (s *Sender) Send(ctx context.Context, conversationID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := stanza.Message{
		Attrs: stanza.Attrs{
			From: s.fromJID,
			To:   conversationID,
			Type: stanza.MessageTypeChat,
		},
		Body: text,
	}

	if err := s.comp.Send(msg); err != nil {
		return classifySendError(err)
	}
	return nil
}

// classifySendError maps transport failures onto the typed delivery
// errors. Stream-level write errors are provider errors; network
// timeouts keep their timeout identity so the retry policy backs off.
func classifySendError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", platform.ErrTimeout, err)
	}
	return &platform.ProviderError{Class: "stream-error", Message: err.Error()}
}
