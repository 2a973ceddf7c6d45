package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/contact"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/db"
	"github.com/convodesk/convodesk/internal/handlers"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/message"
	"github.com/convodesk/convodesk/internal/outbound"
)

type apiValidator struct {
	validate *validator.Validate
}

func (v apiValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

type sendFixture struct {
	handler        *handlers.MessageHandler
	router         *echo.Echo
	lineCalls      *int
	tenantID       string
	agentID        string
	conversationID string
}

func setupSendIntegrationTest(t *testing.T) (sendFixture, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}

	lineCalls := 0
	lineAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lineCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))

	var tenantID pgtype.UUID
	if err := pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ('send-integration') RETURNING id`).Scan(&tenantID); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	var agentID pgtype.UUID
	if err := pool.QueryRow(ctx,
		`INSERT INTO agents (tenant_id, username, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
		tenantID, "send-agent-"+uuid.NewString()).Scan(&agentID); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	var channelID pgtype.UUID
	if err := pool.QueryRow(ctx,
		`INSERT INTO channels (tenant_id, name, config) VALUES ($1, 'send-line', $2) RETURNING id`,
		tenantID, `{"access_token":"tok","channel_secret":"sec"}`).Scan(&channelID); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	var contactID pgtype.UUID
	if err := pool.QueryRow(ctx,
		`INSERT INTO contacts (tenant_id, external_id) VALUES ($1, $2) RETURNING id`,
		tenantID, "U-"+uuid.NewString()).Scan(&contactID); err != nil {
		t.Fatalf("create contact: %v", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	factory := line.NewFactory(log, lineAPI.URL)
	channels := channel.NewService(log, pool, factory)
	contacts := contact.NewService(log, pool)
	convs := conversation.NewService(log, pool)
	msgs := message.NewService(log, pool)
	dispatcher := outbound.NewDispatcher(log, outbound.NewLineTransportResolver(factory), msgs)
	handler := handlers.NewMessageHandler(log, convs, channels, contacts, msgs, dispatcher)

	conv, err := convs.GetOrCreateOpen(ctx,
		db.UUIDToString(tenantID), db.UUIDToString(contactID), db.UUIDToString(channelID))
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	e := echo.New()
	e.Validator = apiValidator{validate: validator.New()}
	handler.Register(e)

	fx := sendFixture{
		handler:        handler,
		router:         e,
		lineCalls:      &lineCalls,
		tenantID:       db.UUIDToString(tenantID),
		agentID:        db.UUIDToString(agentID),
		conversationID: conv.ID,
	}
	cleanup := func() {
		_, _ = pool.Exec(ctx, "DELETE FROM messages WHERE tenant_id = $1", tenantID)
		_, _ = pool.Exec(ctx, "DELETE FROM conversations WHERE tenant_id = $1", tenantID)
		_, _ = pool.Exec(ctx, "DELETE FROM contacts WHERE tenant_id = $1", tenantID)
		_, _ = pool.Exec(ctx, "DELETE FROM channels WHERE tenant_id = $1", tenantID)
		_, _ = pool.Exec(ctx, "DELETE FROM agents WHERE tenant_id = $1", tenantID)
		_, _ = pool.Exec(ctx, "DELETE FROM tenants WHERE id = $1", tenantID)
		lineAPI.Close()
		pool.Close()
	}
	return fx, cleanup
}

func (fx sendFixture) postSend(t *testing.T, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := fx.router.NewContext(req, rec)
	c.Set("user", &jwt.Token{
		Valid: true,
		Claims: jwt.MapClaims{
			"agent_id":  fx.agentID,
			"tenant_id": fx.tenantID,
			"role":      "agent",
		},
	})
	return rec, fx.handler.Send(c)
}

func TestIntegrationSendInternalNote(t *testing.T) {
	fx, cleanup := setupSendIntegrationTest(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]any{
		"conversation_id": fx.conversationID,
		"message":         "checking with billing",
		"is_internal":     true,
	})
	rec, err := fx.postSend(t, string(body))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp handlers.SendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("response success = false")
	}
	if resp.Message.Content != "checking with billing" || !resp.Message.IsInternal {
		t.Fatalf("unexpected recorded message: %+v", resp.Message)
	}
	if *fx.lineCalls != 0 {
		t.Fatalf("internal note reached the provider: %d calls", *fx.lineCalls)
	}
}

func TestIntegrationSendExternalMessage(t *testing.T) {
	fx, cleanup := setupSendIntegrationTest(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]any{
		"conversation_id": fx.conversationID,
		"message":         "promo 10%",
	})
	rec, err := fx.postSend(t, string(body))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp handlers.SendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("response success = false")
	}
	if resp.Message.SenderType != message.SenderAgent || resp.Message.Content != "promo 10%" {
		t.Fatalf("unexpected recorded message: %+v", resp.Message)
	}
	if *fx.lineCalls != 1 {
		t.Fatalf("provider called %d times, want 1", *fx.lineCalls)
	}
}

func TestIntegrationSendRejectsMissingMessage(t *testing.T) {
	fx, cleanup := setupSendIntegrationTest(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]any{
		"conversation_id": fx.conversationID,
	})
	_, err := fx.postSend(t, string(body))
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("error = %v, want 400", err)
	}
	if *fx.lineCalls != 0 {
		t.Fatalf("invalid request reached the provider: %d calls", *fx.lineCalls)
	}
}
