package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/db"
)

// Service persists messages and keeps conversation activity in sync.
type Service struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewService creates a message service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "message")),
		pool:   pool,
	}
}

const messageColumns = `id, conversation_id, tenant_id, sender_type, sender_id,
	content, content_type, is_internal, metadata, created_at`

// Record inserts an immutable message and updates the owning conversation's
// last-activity timestamp in one transaction. An inbound contact message
// additionally flips a resolved or archived conversation back to open,
// clearing resolved_at but keeping the prior assignee. If either write
// fails, the whole step fails and the caller must not dispatch auto-replies.
func (s *Service) Record(ctx context.Context, input RecordInput) (Message, error) {
	if strings.TrimSpace(input.Content) == "" {
		return Message{}, fmt.Errorf("message content is required")
	}
	pgConversation, err := db.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", conversation.ErrNotFound, err)
	}
	pgTenant, err := db.ParseUUID(input.TenantID)
	if err != nil {
		return Message{}, err
	}
	pgSender := pgtype.UUID{}
	if strings.TrimSpace(input.SenderID) != "" {
		pgSender, err = db.ParseUUID(input.SenderID)
		if err != nil {
			return Message{}, fmt.Errorf("invalid sender id: %w", err)
		}
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "text"
	}
	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, tenant_id, sender_type, sender_id, content, content_type, is_internal, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+messageColumns,
		pgConversation, pgTenant, string(input.SenderType), pgSender,
		input.Content, contentType, input.IsInternal, metaBytes)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	inbound := input.SenderType == SenderContact
	tag, err := tx.Exec(ctx,
		`UPDATE conversations
		 SET last_message_at = $3,
		     updated_at = now(),
		     status = CASE WHEN $4 AND status IN ('resolved', 'archived') THEN 'open' ELSE status END,
		     resolved_at = CASE WHEN $4 AND status IN ('resolved', 'archived') THEN NULL ELSE resolved_at END
		 WHERE id = $1 AND tenant_id = $2`,
		pgConversation, pgTenant, msg.CreatedAt, inbound)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, fmt.Errorf("%w: id %s", conversation.ErrNotFound, input.ConversationID)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ListByConversation returns a conversation's messages in creation order.
func (s *Service) ListByConversation(ctx context.Context, tenantID, conversationID string) ([]Message, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	pgConversation, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", conversation.ErrNotFound, err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = $1 AND tenant_id = $2
		 ORDER BY created_at`, pgConversation, pgTenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		id, conversationID, tenantID pgtype.UUID
		senderType                   string
		senderID                     pgtype.UUID
		content, contentType         string
		isInternal                   bool
		metadata                     []byte
		createdAt                    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &conversationID, &tenantID, &senderType, &senderID,
		&content, &contentType, &isInternal, &metadata, &createdAt); err != nil {
		return Message{}, err
	}
	meta := map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return Message{}, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return Message{
		ID:             db.UUIDToString(id),
		ConversationID: db.UUIDToString(conversationID),
		TenantID:       db.UUIDToString(tenantID),
		SenderType:     SenderType(senderType),
		SenderID:       db.UUIDToString(senderID),
		Content:        content,
		ContentType:    contentType,
		IsInternal:     isInternal,
		Metadata:       meta,
		CreatedAt:      db.TimeFromPg(createdAt),
	}, nil
}
