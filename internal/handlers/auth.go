package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/convodesk/convodesk/internal/agent"
	"github.com/convodesk/convodesk/internal/auth"
	"github.com/convodesk/convodesk/internal/config"
)

type AuthHandler struct {
	agents    *agent.Service
	secret    string
	expiresIn time.Duration
	logger    *slog.Logger
}

func NewAuthHandler(log *slog.Logger, agents *agent.Service, cfg config.AuthConfig) *AuthHandler {
	expiresIn, err := time.ParseDuration(cfg.JWTExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return &AuthHandler{
		agents:    agents,
		secret:    cfg.JWTSecret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.GET("/auth/me", h.Me)
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Agent     agent.Agent `json:"agent"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req agent.LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.agents.Authenticate(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, agent.ErrInvalidLogin) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}
	if err != nil {
		h.logger.Error("login failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	token, expiresAt, err := auth.GenerateToken(a.ID, a.TenantID, string(a.Role), h.secret, h.expiresIn)
	if err != nil {
		h.logger.Error("token generation failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	return c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Agent:     a,
	})
}

func (h *AuthHandler) Me(c echo.Context) error {
	claims, err := auth.AgentFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	a, err := h.agents.GetByID(c.Request().Context(), claims.TenantID, claims.AgentID)
	if errors.Is(err, agent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "agent no longer exists")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
