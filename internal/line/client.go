package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrSendFailed indicates the transport rejected an outbound message.
// No message row may be recorded for that attempt.
var ErrSendFailed = errors.New("line send failed")

// ErrInvalidCredentials indicates the channel access token was rejected by
// the platform. Surfaced by the connect-time capability probe.
var ErrInvalidCredentials = errors.New("line credentials rejected")

// Client is a REST client for one channel's access token.
type Client struct {
	logger      *slog.Logger
	httpClient  *http.Client
	apiBase     string
	accessToken string
}

// NewClient creates a Client for the given access token.
func NewClient(log *slog.Logger, apiBase, accessToken string) *Client {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.line.me"
	}
	return &Client{
		logger:      log.With(slog.String("adapter", "line")),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		apiBase:     strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		accessToken: accessToken,
	}
}

// Reply sends messages through the one-time reply token of a triggering
// inbound event. Reply tokens are valid once and expire shortly after the
// event, so this path is only usable for same-turn replies.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...TextMessage) error {
	if strings.TrimSpace(replyToken) == "" {
		return fmt.Errorf("%w: reply token is required", ErrSendFailed)
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrSendFailed)
	}
	body := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return c.post(ctx, "/v2/bot/message/reply", body, nil)
}

// Push sends messages to a contact's durable external user id. Usable at any
// time, independent of a triggering event.
func (c *Client) Push(ctx context.Context, to string, messages ...TextMessage) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: push target is required", ErrSendFailed)
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrSendFailed)
	}
	body := map[string]any{
		"to":       strings.TrimSpace(to),
		"messages": messages,
	}
	return c.post(ctx, "/v2/bot/message/push", body, nil)
}

// GetProfile fetches a user profile. Callers treat failures as best-effort;
// a nil profile with an error is tolerated on the follow path.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	var profile Profile
	if err := c.get(ctx, "/v2/bot/profile/"+userID, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetBotInfo fetches the bot's own identity. Used as the connect-time
// capability probe before channel credentials are persisted.
func (c *Client) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	var info BotInfo
	if err := c.get(ctx, "/v2/bot/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrSendFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	return c.do(req, out, ErrSendFailed)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	return c.do(req, out, nil)
}

func (c *Client) do(req *http.Request, out any, sentinel error) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if sentinel != nil {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if sentinel != nil {
			return fmt.Errorf("%w: read response: %v", sentinel, err)
		}
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d: %s", ErrInvalidCredentials, resp.StatusCode, summarizeBody(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if sentinel == nil {
			sentinel = errors.New("line api error")
		}
		return fmt.Errorf("%w: status %d: %s", sentinel, resp.StatusCode, summarizeBody(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func summarizeBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

// Factory hands out clients keyed by access token. The cache must stay keyed
// per credential: a single shared slot would leak one tenant's client into
// another tenant's sends.
type Factory struct {
	logger  *slog.Logger
	apiBase string
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewFactory creates a Factory for the configured API base.
func NewFactory(log *slog.Logger, apiBase string) *Factory {
	return &Factory{
		logger:  log,
		apiBase: apiBase,
		clients: make(map[string]*Client),
	}
}

// ClientFor returns the cached client for an access token, creating it on first use.
func (f *Factory) ClientFor(accessToken string) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	f.mu.RLock()
	client, ok := f.clients[accessToken]
	f.mu.RUnlock()
	if ok {
		return client, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[accessToken]; ok {
		return client, nil
	}
	client = NewClient(f.logger, f.apiBase, accessToken)
	f.clients[accessToken] = client
	return client, nil
}
