package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convodesk/convodesk/internal/auth"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/message"
)

type ConversationHandler struct {
	conversations *conversation.Service
	messages      *message.Service
	logger        *slog.Logger
}

func NewConversationHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Service) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		logger:        log.With(slog.String("handler", "conversation")),
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	group := e.Group("/api/conversations")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.GET("/:id/messages", h.ListMessages)
	group.POST("/:id/claim", h.Claim)
	group.POST("/:id/release", h.Release)
	group.POST("/:id/resolve", h.Resolve)
	group.POST("/:id/archive", h.Archive)
}

func (h *ConversationHandler) List(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	items, err := h.conversations.List(c.Request().Context(), claims.TenantID)
	if err != nil {
		h.logger.Error("list conversations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list failed")
	}
	if c.QueryParam("active") == "true" {
		active := make([]conversation.Conversation, 0, len(items))
		for _, conv := range items {
			if conv.IsActive() {
				active = append(active, conv)
			}
		}
		items = active
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	conv, err := h.conversations.GetByID(c.Request().Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		return conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) ListMessages(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if _, err := h.conversations.GetByID(c.Request().Context(), claims.TenantID, c.Param("id")); err != nil {
		return conversationError(err)
	}
	items, err := h.messages.ListByConversation(c.Request().Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		h.logger.Error("list messages failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list failed")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ConversationHandler) Claim(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	conv, err := h.conversations.Claim(c.Request().Context(), claims.TenantID, c.Param("id"), claims.AgentID)
	if err != nil {
		return conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type ReleaseRequest struct {
	Override bool `json:"override"`
}

func (h *ConversationHandler) Release(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	var req ReleaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Override && !claims.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "override requires admin role")
	}
	conv, err := h.conversations.Release(c.Request().Context(), claims.TenantID, c.Param("id"), claims.AgentID, req.Override)
	if err != nil {
		return conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Resolve(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	conv, err := h.conversations.Resolve(c.Request().Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		return conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Archive(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	conv, err := h.conversations.Archive(c.Request().Context(), claims.TenantID, c.Param("id"))
	if err != nil {
		return conversationError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func conversationError(err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrAlreadyClaimed):
		return echo.NewHTTPError(http.StatusConflict, "conversation already claimed")
	case errors.Is(err, conversation.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, "conversation state does not allow this action")
	case errors.Is(err, conversation.ErrNotAssignee):
		return echo.NewHTTPError(http.StatusForbidden, "conversation is claimed by another agent")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
