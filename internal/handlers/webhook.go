package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/inbound"
	"github.com/convodesk/convodesk/internal/line"
)

// maxWebhookBody caps how much of an inbound request is read before
// signature verification.
const maxWebhookBody = 1 << 20

// WebhookHandler receives inbound LINE platform events. Verification runs
// over the raw request bytes; the body is decoded only after the signature
// checks out.
type WebhookHandler struct {
	channels  *channel.Service
	processor *inbound.Processor
	logger    *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, channels *channel.Service, processor *inbound.Processor) *WebhookHandler {
	return &WebhookHandler{
		channels:  channels,
		processor: processor,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:channel_id", h.Receive)
	e.GET("/webhook/:channel_id", h.Probe)
}

// Probe answers the LINE console's endpoint verification check.
func (h *WebhookHandler) Probe(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *WebhookHandler) Receive(c echo.Context) error {
	channelID := strings.TrimSpace(c.Param("channel_id"))
	if channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id is required")
	}

	ch, err := h.channels.GetByID(c.Request().Context(), channelID)
	if errors.Is(err, channel.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		h.logger.Error("channel lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "channel lookup failed")
	}
	if ch.Status != channel.StatusConnected {
		return echo.NewHTTPError(http.StatusForbidden, channel.ErrNotConnected.Error())
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	signature := c.Request().Header.Get(line.SignatureHeader)
	if err := line.ValidateSignature(ch.Config.ChannelSecret, signature, body); err != nil {
		h.logger.Warn("webhook signature rejected",
			slog.String("channel_id", ch.ID),
			slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	var payload line.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed webhook payload")
	}

	// Event failures are contained per event; the platform always gets an
	// acknowledgement for an authenticated batch so it does not retry.
	h.processor.ProcessPayload(c.Request().Context(), ch, payload)

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
