// Package outbound delivers replies through the external transport and
// records them on success.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
)

// Transport sends messages through the provider in one of two addressing
// modes: reply-scoped (one-time token from the triggering event) or
// persistent-push (durable external user id).
type Transport interface {
	Reply(ctx context.Context, replyToken string, messages ...line.TextMessage) error
	Push(ctx context.Context, to string, messages ...line.TextMessage) error
}

// TransportResolver builds the transport for a channel's credentials.
// Implementations must key any caching per credential, never per process.
type TransportResolver interface {
	TransportFor(ch channel.Channel) (Transport, error)
}

// Recorder persists a delivered message.
type Recorder interface {
	Record(ctx context.Context, input message.RecordInput) (message.Message, error)
}

// SendRequest describes one outbound delivery. Exactly one of ReplyToken or
// PushTo selects the addressing mode; ReplyToken wins when both are set.
type SendRequest struct {
	Channel        channel.Channel
	ConversationID string
	TenantID       string
	SenderType     message.SenderType
	SenderID       string
	Content        string
	ReplyToken     string
	PushTo         string
	Metadata       map[string]any
}

// Dispatcher sends through the transport, then records. Internal notes must
// never reach this component; they are recorded directly.
type Dispatcher struct {
	logger     *slog.Logger
	transports TransportResolver
	recorder   Recorder
}

// NewDispatcher creates an outbound dispatcher.
func NewDispatcher(log *slog.Logger, transports TransportResolver, recorder Recorder) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		logger:     log.With(slog.String("service", "outbound")),
		transports: transports,
		recorder:   recorder,
	}
}

// Send delivers the content and, only after the transport accepted it,
// records the message with delivery metadata. A transport failure leaves
// zero message rows: unsent content must never appear as delivered.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (message.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return message.Message{}, fmt.Errorf("%w: content is required", line.ErrSendFailed)
	}
	transport, err := d.transports.TransportFor(req.Channel)
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", line.ErrSendFailed, err)
	}

	mode := "push"
	if strings.TrimSpace(req.ReplyToken) != "" {
		mode = "reply"
		err = transport.Reply(ctx, req.ReplyToken, line.NewTextMessage(content))
	} else {
		err = transport.Push(ctx, req.PushTo, line.NewTextMessage(content))
	}
	if err != nil {
		d.logger.Error("outbound send failed",
			slog.String("conversation_id", req.ConversationID),
			slog.String("mode", mode),
			slog.Any("error", err))
		return message.Message{}, err
	}

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["delivery"] = mode

	msg, err := d.recorder.Record(ctx, message.RecordInput{
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		SenderType:     req.SenderType,
		SenderID:       req.SenderID,
		Content:        content,
		ContentType:    "text",
		Metadata:       metadata,
	})
	if err != nil {
		// Delivered but not recorded; surface the store error so the caller
		// sees the inconsistency instead of a silent success.
		return message.Message{}, fmt.Errorf("record delivered message: %w", err)
	}
	return msg, nil
}

// LineTransportResolver resolves transports from the per-token client factory.
type LineTransportResolver struct {
	factory *line.Factory
}

// NewLineTransportResolver wraps a line.Factory as a TransportResolver.
func NewLineTransportResolver(factory *line.Factory) *LineTransportResolver {
	return &LineTransportResolver{factory: factory}
}

// TransportFor returns the client for the channel's access token.
func (r *LineTransportResolver) TransportFor(ch channel.Channel) (Transport, error) {
	return r.factory.ClientFor(ch.Config.AccessToken)
}
