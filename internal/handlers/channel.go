package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convodesk/convodesk/internal/auth"
	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/line"
)

type ChannelHandler struct {
	channels *channel.Service
	logger   *slog.Logger
}

func NewChannelHandler(log *slog.Logger, channels *channel.Service) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		logger:   log.With(slog.String("handler", "channel")),
	}
}

func (h *ChannelHandler) Register(e *echo.Echo) {
	group := e.Group("/api/channels")
	group.GET("", h.List)
	group.POST("", h.Connect)
	group.PUT("/:id/auto-reply", h.UpdateAutoReply)
}

func (h *ChannelHandler) List(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	items, err := h.channels.List(c.Request().Context(), claims.TenantID)
	if err != nil {
		h.logger.Error("list channels failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list failed")
	}
	return c.JSON(http.StatusOK, items)
}

// Connect validates the submitted credentials against the provider before
// persisting anything, so a channel row never exists with dead credentials.
func (h *ChannelHandler) Connect(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if !claims.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "channel management requires admin role")
	}
	var req channel.ConnectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ch, err := h.channels.Connect(c.Request().Context(), claims.TenantID, req)
	if errors.Is(err, line.ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusBadRequest, "provider rejected the credentials")
	}
	if err != nil {
		h.logger.Error("channel connect failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "connect failed")
	}
	return c.JSON(http.StatusCreated, ch)
}

type AutoReplyRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func (h *ChannelHandler) UpdateAutoReply(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if !claims.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "channel management requires admin role")
	}
	var req AutoReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ch, err := h.channels.UpdateAutoReply(c.Request().Context(), claims.TenantID, c.Param("id"), req.Enabled, req.Message)
	if errors.Is(err, channel.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		h.logger.Error("auto-reply update failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "update failed")
	}
	return c.JSON(http.StatusOK, ch)
}
