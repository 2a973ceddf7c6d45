package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convodesk/convodesk/internal/db"
	"github.com/convodesk/convodesk/internal/line"
)

// ErrNotFound indicates no channel row exists for the given id.
var ErrNotFound = errors.New("channel not found")

// ErrNotConnected indicates the channel exists but is not in the connected
// state. Fatal to the operation, never papered over with a global default
// credential.
var ErrNotConnected = errors.New("channel is not connected")

// ProberFactory builds a provider client for an access token. Connect uses
// it to probe credentials before anything is persisted.
type ProberFactory interface {
	ClientFor(accessToken string) (*line.Client, error)
}

// Service provides CRUD and connect-probe operations for channels.
type Service struct {
	logger  *slog.Logger
	pool    *pgxpool.Pool
	clients ProberFactory
}

// NewService creates a channel service.
func NewService(log *slog.Logger, pool *pgxpool.Pool, clients ProberFactory) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:  log.With(slog.String("service", "channel")),
		pool:    pool,
		clients: clients,
	}
}

const channelColumns = `id, tenant_id, channel_type, name, status, config, created_at, updated_at`

// GetByID returns one channel. The webhook path resolves the owning tenant
// from the channel row itself.
func (s *Service) GetByID(ctx context.Context, channelID string) (Channel, error) {
	pgID, err := db.ParseUUID(channelID)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, pgID)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	return ch, err
}

// List returns all channels of a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]Channel, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE tenant_id = $1 ORDER BY created_at`, pgTenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ch)
	}
	return items, rows.Err()
}

// Connect probes the credentials against the provider, then persists the
// channel as connected. Nothing is stored when the probe fails; credential
// rejections surface as line.ErrInvalidCredentials for classified feedback.
func (s *Service) Connect(ctx context.Context, tenantID string, req ConnectRequest) (Channel, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Channel{}, err
	}
	client, err := s.clients.ClientFor(req.AccessToken)
	if err != nil {
		return Channel{}, err
	}
	info, err := client.GetBotInfo(ctx)
	if err != nil {
		s.logger.Warn("channel probe failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return Channel{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(info.DisplayName)
	}
	cfg := Config{
		ChannelSecret:    strings.TrimSpace(req.ChannelSecret),
		AccessToken:      strings.TrimSpace(req.AccessToken),
		AutoReplyEnabled: req.AutoReplyEnabled,
		AutoReplyMessage: strings.TrimSpace(req.AutoReplyMessage),
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return Channel{}, fmt.Errorf("marshal channel config: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO channels (tenant_id, channel_type, name, status, config)
		 VALUES ($1, $2, $3, 'connected', $4)
		 RETURNING `+channelColumns, pgTenant, line.ChannelType, name, payload)
	ch, err := scanChannel(row)
	if err != nil {
		return Channel{}, err
	}
	s.logger.Info("channel connected",
		slog.String("tenant_id", tenantID),
		slog.String("channel_id", ch.ID),
		slog.String("bot", info.DisplayName))
	return ch, nil
}

// UpdateAutoReply updates only the auto-reply policy of a channel.
func (s *Service) UpdateAutoReply(ctx context.Context, tenantID, channelID string, enabled bool, message string) (Channel, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Channel{}, err
	}
	pgID, err := db.ParseUUID(channelID)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE channels
		 SET config = config || jsonb_build_object(
		         'auto_reply_enabled', $3::boolean,
		         'auto_reply_message', $4::text),
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+channelColumns, pgID, pgTenant, enabled, strings.TrimSpace(message))
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	return ch, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var (
		id, tenantID         pgtype.UUID
		channelType, name    string
		status               string
		config               []byte
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &channelType, &name, &status, &config, &createdAt, &updatedAt); err != nil {
		return Channel{}, err
	}
	var cfg Config
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return Channel{}, fmt.Errorf("decode channel config: %w", err)
		}
	}
	return Channel{
		ID:        db.UUIDToString(id),
		TenantID:  db.UUIDToString(tenantID),
		Type:      channelType,
		Name:      name,
		Status:    Status(status),
		Config:    cfg,
		AutoReply: AutoReplyPolicy{Enabled: cfg.AutoReplyEnabled, Message: cfg.AutoReplyMessage},
		CreatedAt: db.TimeFromPg(createdAt),
		UpdatedAt: db.TimeFromPg(updatedAt),
	}, nil
}
