package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convodesk/convodesk/internal/auth"
	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/contact"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
	"github.com/convodesk/convodesk/internal/outbound"
)

type MessageHandler struct {
	conversations *conversation.Service
	channels      *channel.Service
	contacts      *contact.Service
	messages      *message.Service
	dispatcher    *outbound.Dispatcher
	logger        *slog.Logger
}

func NewMessageHandler(log *slog.Logger, conversations *conversation.Service, channels *channel.Service, contacts *contact.Service, messages *message.Service, dispatcher *outbound.Dispatcher) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		channels:      channels,
		contacts:      contacts,
		messages:      messages,
		dispatcher:    dispatcher,
		logger:        log.With(slog.String("handler", "message")),
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	e.POST("/api/messages/send", h.Send)
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Message        string `json:"message" validate:"required"`
	IsInternal     bool   `json:"is_internal"`
}

type SendMessageResponse struct {
	Success bool            `json:"success"`
	Message message.Message `json:"message"`
}

// Send delivers an agent message to the conversation's contact, or records
// an internal note visible only to the team. Internal notes never touch the
// provider.
func (h *MessageHandler) Send(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	var req SendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	conv, err := h.conversations.GetByID(ctx, claims.TenantID, req.ConversationID)
	if err != nil {
		return conversationError(err)
	}
	if err := conversation.AuthorizeAgentSend(conv, claims.AgentID); err != nil {
		return conversationError(err)
	}

	if req.IsInternal {
		msg, err := h.messages.Record(ctx, message.RecordInput{
			ConversationID: conv.ID,
			TenantID:       claims.TenantID,
			SenderType:     message.SenderAgent,
			SenderID:       claims.AgentID,
			Content:        req.Message,
			ContentType:    "text",
			IsInternal:     true,
		})
		if err != nil {
			h.logger.Error("internal note failed", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to record note")
		}
		return c.JSON(http.StatusOK, SendMessageResponse{Success: true, Message: msg})
	}

	ch, err := h.channels.GetByID(ctx, conv.ChannelID)
	if err != nil {
		h.logger.Error("channel lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "channel lookup failed")
	}
	if ch.Status != channel.StatusConnected {
		return echo.NewHTTPError(http.StatusConflict, channel.ErrNotConnected.Error())
	}
	cont, err := h.contacts.GetByID(ctx, claims.TenantID, conv.ContactID)
	if err != nil {
		h.logger.Error("contact lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "contact lookup failed")
	}

	msg, err := h.dispatcher.Send(ctx, outbound.SendRequest{
		Channel:        ch,
		ConversationID: conv.ID,
		TenantID:       claims.TenantID,
		SenderType:     message.SenderAgent,
		SenderID:       claims.AgentID,
		Content:        req.Message,
		PushTo:         cont.ExternalID,
	})
	if errors.Is(err, line.ErrSendFailed) || errors.Is(err, line.ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusBadGateway, "provider rejected the message")
	}
	if err != nil {
		h.logger.Error("send failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "send failed")
	}
	return c.JSON(http.StatusOK, SendMessageResponse{Success: true, Message: msg})
}
