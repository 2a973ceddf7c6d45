package contact

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

// ErrNotFound indicates no contact row exists for the lookup.
var ErrNotFound = errors.New("contact not found")

// Service resolves and stores contacts.
type Service struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewService creates a contact service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "contact")),
		pool:   pool,
	}
}

const contactColumns = `id, tenant_id, channel_type, external_id, display_name, avatar_url, tags, metadata, created_at, updated_at`

// GetOrCreate returns the contact for (tenant, external id), creating a
// minimal record when none exists. Profile data is deliberately not refreshed
// here; only a follow event does that. Two concurrent first-contact events
// race on insert: the unique index makes one insert win and the loser
// re-reads the winning row.
func (s *Service) GetOrCreate(ctx context.Context, tenantID, externalID string) (Contact, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Contact{}, fmt.Errorf("external user id is required")
	}
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}

	existing, err := s.get(ctx, pgTenant, externalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Contact{}, err
	}
	return s.insert(ctx, pgTenant, externalID, FallbackDisplayName, "", nil)
}

// ApplyFollow creates or refreshes a contact from an explicit follow event.
// The profile fetch upstream is best-effort; a nil profile falls back to the
// channel-specific display name. A follow also clears a prior blocked mark.
func (s *Service) ApplyFollow(ctx context.Context, tenantID, externalID string, profile *line.Profile) (Contact, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Contact{}, fmt.Errorf("external user id is required")
	}
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}

	displayName := FallbackDisplayName
	avatarURL := ""
	if profile != nil {
		if name := strings.TrimSpace(profile.DisplayName); name != "" {
			displayName = name
		}
		avatarURL = strings.TrimSpace(profile.PictureURL)
	}

	if _, err := s.get(ctx, pgTenant, externalID); err == nil {
		return s.refresh(ctx, pgTenant, externalID, displayName, avatarURL)
	} else if !errors.Is(err, ErrNotFound) {
		return Contact{}, err
	}
	return s.insert(ctx, pgTenant, externalID, displayName, avatarURL, profile)
}

// MarkBlocked records an unfollow in contact metadata. The row is kept.
func (s *Service) MarkBlocked(ctx context.Context, tenantID, externalID string) (Contact, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE contacts
		 SET metadata = metadata || '{"blocked": true}'::jsonb, updated_at = now()
		 WHERE tenant_id = $1 AND channel_type = $2 AND external_id = $3
		 RETURNING `+contactColumns, pgTenant, line.ChannelType, strings.TrimSpace(externalID))
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

// GetByID returns one contact scoped to a tenant.
func (s *Service) GetByID(ctx context.Context, tenantID, contactID string) (Contact, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, err
	}
	pgID, err := db.ParseUUID(contactID)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND tenant_id = $2`, pgID, pgTenant)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (s *Service) get(ctx context.Context, tenantID pgtype.UUID, externalID string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE tenant_id = $1 AND channel_type = $2 AND external_id = $3`,
		tenantID, line.ChannelType, externalID)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (s *Service) insert(ctx context.Context, tenantID pgtype.UUID, externalID, displayName, avatarURL string, profile *line.Profile) (Contact, error) {
	metadata := map[string]any{"provider_user_id": externalID}
	if profile != nil {
		metadata["profile_fetched"] = true
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return Contact{}, fmt.Errorf("marshal contact metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO contacts (tenant_id, channel_type, external_id, display_name, avatar_url, tags, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, channel_type, external_id) DO NOTHING
		 RETURNING `+contactColumns,
		tenantID, line.ChannelType, externalID, displayName, avatarURL, []string{line.ChannelType}, metaBytes)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race; the winning row is authoritative.
		return s.get(ctx, tenantID, externalID)
	}
	return c, err
}

func (s *Service) refresh(ctx context.Context, tenantID pgtype.UUID, externalID, displayName, avatarURL string) (Contact, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE contacts
		 SET display_name = $4,
		     avatar_url = CASE WHEN $5 = '' THEN avatar_url ELSE $5 END,
		     metadata = metadata - 'blocked',
		     updated_at = now()
		 WHERE tenant_id = $1 AND channel_type = $2 AND external_id = $3
		 RETURNING `+contactColumns,
		tenantID, line.ChannelType, externalID, displayName, avatarURL)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		id, tenantID            pgtype.UUID
		channelType, externalID string
		displayName, avatarURL  string
		tags                    []string
		metadata                []byte
		createdAt, updatedAt    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &channelType, &externalID, &displayName, &avatarURL, &tags, &metadata, &createdAt, &updatedAt); err != nil {
		return Contact{}, err
	}
	meta := map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return Contact{}, fmt.Errorf("decode contact metadata: %w", err)
		}
	}
	return Contact{
		ID:          db.UUIDToString(id),
		TenantID:    db.UUIDToString(tenantID),
		ChannelType: channelType,
		ExternalID:  externalID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		Tags:        tags,
		Metadata:    meta,
		CreatedAt:   db.TimeFromPg(createdAt),
		UpdatedAt:   db.TimeFromPg(updatedAt),
	}, nil
}
