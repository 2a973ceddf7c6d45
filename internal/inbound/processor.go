// Package inbound turns verified webhook payloads into contacts,
// conversations, and recorded messages.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/contact"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
)

// ContactResolver resolves and maintains contact identities.
type ContactResolver interface {
	GetOrCreate(ctx context.Context, tenantID, externalID string) (contact.Contact, error)
	ApplyFollow(ctx context.Context, tenantID, externalID string, profile *line.Profile) (contact.Contact, error)
	MarkBlocked(ctx context.Context, tenantID, externalID string) (contact.Contact, error)
}

// ConversationResolver resolves the active thread for a contact and channel.
type ConversationResolver interface {
	GetOrCreateOpen(ctx context.Context, tenantID, contactID, channelID string) (conversation.Conversation, error)
}

// Recorder persists inbound messages.
type Recorder interface {
	Record(ctx context.Context, input message.RecordInput) (message.Message, error)
}

// AutoReplier decides whether to answer a recorded inbound text message.
type AutoReplier interface {
	Maybe(ctx context.Context, ch channel.Channel, conv conversation.Conversation, event line.Event) error
}

// ProfileFetcher performs the best-effort profile lookup on follow events.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, ch channel.Channel, externalID string) (*line.Profile, error)
}

// Processor routes webhook events through the ingestion pipeline.
type Processor struct {
	logger        *slog.Logger
	contacts      ContactResolver
	conversations ConversationResolver
	recorder      Recorder
	autoReply     AutoReplier
	profiles      ProfileFetcher
}

// NewProcessor creates an inbound event processor.
func NewProcessor(log *slog.Logger, contacts ContactResolver, conversations ConversationResolver, recorder Recorder, autoReply AutoReplier, profiles ProfileFetcher) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:        log.With(slog.String("service", "inbound")),
		contacts:      contacts,
		conversations: conversations,
		recorder:      recorder,
		autoReply:     autoReply,
		profiles:      profiles,
	}
}

// ProcessPayload handles every event of one verified webhook delivery.
// Events run strictly sequentially to preserve per-contact ordering. A
// failing event is logged and skipped rather than aborting the batch:
// failing the whole delivery would make the provider redeliver events that
// already succeeded, duplicating their side effects.
func (p *Processor) ProcessPayload(ctx context.Context, ch channel.Channel, payload line.WebhookPayload) {
	for i, event := range payload.Events {
		if err := p.processEvent(ctx, ch, event); err != nil {
			p.logger.Error("event processing failed",
				slog.String("channel_id", ch.ID),
				slog.String("event_type", string(event.Type)),
				slog.Int("index", i),
				slog.Any("error", err))
		}
	}
}

func (p *Processor) processEvent(ctx context.Context, ch channel.Channel, event line.Event) error {
	switch event.Type {
	case line.EventTypeMessage:
		return p.handleMessage(ctx, ch, event)
	case line.EventTypeFollow:
		return p.handleFollow(ctx, ch, event)
	case line.EventTypeUnfollow:
		return p.handleUnfollow(ctx, ch, event)
	default:
		p.logger.Debug("ignoring unknown event type",
			slog.String("channel_id", ch.ID),
			slog.String("event_type", string(event.Type)))
		return nil
	}
}

func (p *Processor) handleMessage(ctx context.Context, ch channel.Channel, event line.Event) error {
	externalID := event.ExternalUserID()
	if externalID == "" {
		return fmt.Errorf("message event has no source user id")
	}
	if event.Message == nil {
		return fmt.Errorf("message event has no message body")
	}

	ct, err := p.contacts.GetOrCreate(ctx, ch.TenantID, externalID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	conv, err := p.conversations.GetOrCreateOpen(ctx, ch.TenantID, ct.ID, ch.ID)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	content := strings.TrimSpace(event.Message.Text)
	contentType := string(event.Message.Type)
	if !event.IsTextMessage() {
		// Non-text payloads are preserved as typed placeholders; attachment
		// retrieval is handled outside this pipeline.
		content = "[" + contentType + "]"
	}

	metadata := map[string]any{
		"provider_message_id": event.Message.ID,
		"external_user_id":    externalID,
	}
	if receivedAt := event.ReceivedAt(); !receivedAt.IsZero() {
		metadata["received_at"] = receivedAt.Format(time.RFC3339)
	}

	if _, err := p.recorder.Record(ctx, message.RecordInput{
		ConversationID: conv.ID,
		TenantID:       ch.TenantID,
		SenderType:     message.SenderContact,
		Content:        content,
		ContentType:    contentType,
		Metadata:       metadata,
	}); err != nil {
		// Recording failed, so the auto-reply must not run: replying to a
		// message that was never persisted would desync history.
		return fmt.Errorf("record inbound message: %w", err)
	}

	if !event.IsTextMessage() {
		return nil
	}
	if err := p.autoReply.Maybe(ctx, ch, conv, event); err != nil {
		return fmt.Errorf("auto-reply: %w", err)
	}
	return nil
}

func (p *Processor) handleFollow(ctx context.Context, ch channel.Channel, event line.Event) error {
	externalID := event.ExternalUserID()
	if externalID == "" {
		return fmt.Errorf("follow event has no source user id")
	}
	profile, err := p.profiles.FetchProfile(ctx, ch, externalID)
	if err != nil {
		// Best effort: a missing profile still creates the contact with the
		// fallback display name.
		p.logger.Warn("profile fetch failed",
			slog.String("channel_id", ch.ID),
			slog.String("external_id", externalID),
			slog.Any("error", err))
		profile = nil
	}
	ct, err := p.contacts.ApplyFollow(ctx, ch.TenantID, externalID, profile)
	if err != nil {
		return fmt.Errorf("apply follow: %w", err)
	}
	p.logger.Info("contact followed",
		slog.String("channel_id", ch.ID),
		slog.String("contact_id", ct.ID))
	return nil
}

func (p *Processor) handleUnfollow(ctx context.Context, ch channel.Channel, event line.Event) error {
	externalID := event.ExternalUserID()
	if externalID == "" {
		return fmt.Errorf("unfollow event has no source user id")
	}
	ct, err := p.contacts.MarkBlocked(ctx, ch.TenantID, externalID)
	if errors.Is(err, contact.ErrNotFound) {
		// Unfollow from a never-seen identity carries nothing to update.
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark blocked: %w", err)
	}
	p.logger.Info("contact unfollowed",
		slog.String("channel_id", ch.ID),
		slog.String("contact_id", ct.ID))
	return nil
}

// LineProfileFetcher fetches profiles with the channel's own credentials.
type LineProfileFetcher struct {
	factory *line.Factory
}

// NewLineProfileFetcher wraps a line.Factory as a ProfileFetcher.
func NewLineProfileFetcher(factory *line.Factory) *LineProfileFetcher {
	return &LineProfileFetcher{factory: factory}
}

// FetchProfile looks up the external user's profile via the channel's client.
func (f *LineProfileFetcher) FetchProfile(ctx context.Context, ch channel.Channel, externalID string) (*line.Profile, error) {
	client, err := f.factory.ClientFor(ch.Config.AccessToken)
	if err != nil {
		return nil, err
	}
	return client.GetProfile(ctx, externalID)
}
