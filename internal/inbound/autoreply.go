package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
	"github.com/convodesk/convodesk/internal/outbound"
)

// DefaultReplyMessage answers enabled channels whose template is empty.
const DefaultReplyMessage = "Thanks for your message! Our team will get back to you shortly."

// OutboundSender dispatches an outbound delivery and records it on success.
type OutboundSender interface {
	Send(ctx context.Context, req outbound.SendRequest) (message.Message, error)
}

// AutoReplyEngine answers inbound text messages according to the owning
// channel's auto-reply policy. Every qualifying inbound message triggers one
// reply while the policy is enabled; there is no cooldown.
type AutoReplyEngine struct {
	logger *slog.Logger
	sender OutboundSender
}

// NewAutoReplyEngine creates the auto-reply policy engine.
func NewAutoReplyEngine(log *slog.Logger, sender OutboundSender) *AutoReplyEngine {
	if log == nil {
		log = slog.Default()
	}
	return &AutoReplyEngine{
		logger: log.With(slog.String("service", "autoreply")),
		sender: sender,
	}
}

// Maybe sends the configured auto-reply for a recorded inbound text message.
// Disabled channels are a no-op. The reply goes out reply-scoped (same-turn)
// and is recorded as the bot with an automatic marker, so history
// distinguishes it from a human reply.
func (e *AutoReplyEngine) Maybe(ctx context.Context, ch channel.Channel, conv conversation.Conversation, event line.Event) error {
	if !ch.Config.AutoReplyEnabled {
		return nil
	}
	template := strings.TrimSpace(ch.Config.AutoReplyMessage)
	if template == "" {
		template = DefaultReplyMessage
	}
	if strings.TrimSpace(event.ReplyToken) == "" {
		return fmt.Errorf("auto-reply requires a reply token")
	}
	_, err := e.sender.Send(ctx, outbound.SendRequest{
		Channel:        ch,
		ConversationID: conv.ID,
		TenantID:       ch.TenantID,
		SenderType:     message.SenderBot,
		Content:        template,
		ReplyToken:     event.ReplyToken,
		Metadata:       map[string]any{"automatic": true},
	})
	if err != nil {
		return err
	}
	e.logger.Info("auto-reply sent",
		slog.String("channel_id", ch.ID),
		slog.String("conversation_id", conv.ID))
	return nil
}
