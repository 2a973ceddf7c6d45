package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convodesk/convodesk/internal/db"
)

// ErrNotFound indicates no conversation row exists for the lookup.
var ErrNotFound = errors.New("conversation not found")

// ErrAlreadyClaimed indicates a claim attempt on a conversation another agent
// already owns. Claims never silently reassign.
var ErrAlreadyClaimed = errors.New("conversation already claimed")

// ErrInvalidTransition indicates the requested state change is not allowed
// from the conversation's current status.
var ErrInvalidTransition = errors.New("invalid conversation transition")

// ErrNotAssignee indicates the acting agent does not own the claimed
// conversation.
var ErrNotAssignee = errors.New("agent is not the assignee")

// Service persists conversations and drives the claim state machine.
type Service struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "conversation")),
		pool:   pool,
	}
}

const conversationColumns = `id, tenant_id, contact_id, channel_id, status, priority, risk_level,
	assigned_to, claimed_at, resolved_at, last_message_at, created_at, updated_at`

// GetOrCreateOpen returns the active (open or claimed) conversation for a
// contact and channel, creating a fresh open one when none exists. Reusing a
// claimed thread is what keeps follow-up messages in the same conversation
// instead of spawning duplicates. The partial unique index arbitrates
// concurrent creates; the loser re-reads the winning row.
func (s *Service) GetOrCreateOpen(ctx context.Context, tenantID, contactID, channelID string) (Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgContact, err := db.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, err
	}
	pgChannel, err := db.ParseUUID(channelID)
	if err != nil {
		return Conversation{}, err
	}

	existing, err := s.getActive(ctx, pgTenant, pgContact, pgChannel)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (tenant_id, contact_id, channel_id, status, priority)
		 VALUES ($1, $2, $3, 'open', 'medium')
		 ON CONFLICT (contact_id, channel_id) WHERE status IN ('open', 'claimed') DO NOTHING
		 RETURNING `+conversationColumns, pgTenant, pgContact, pgChannel)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.getActive(ctx, pgTenant, pgContact, pgChannel)
	}
	return conv, err
}

// GetByID returns one conversation scoped to a tenant.
func (s *Service) GetByID(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE id = $1 AND tenant_id = $2`, pgID, pgTenant)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// List returns a tenant's conversations, most recent activity first.
func (s *Service) List(ctx context.Context, tenantID string) ([]Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = $1
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, pgTenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, conv)
	}
	return items, rows.Err()
}

// Claim takes exclusive ownership of an open conversation. The guard is a
// conditional update ("claim where status is open"): zero rows affected under
// a concurrent claim means the other agent won, and the loser gets
// ErrAlreadyClaimed instead of a silent reassignment.
func (s *Service) Claim(ctx context.Context, tenantID, conversationID, agentID string) (Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	pgAgent, err := db.ParseUUID(agentID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations
		 SET status = 'claimed', assigned_to = $3, claimed_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'open'
		 RETURNING `+conversationColumns, pgID, pgTenant, pgAgent)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, s.classifyClaimFailure(ctx, tenantID, conversationID)
	}
	if err != nil {
		return Conversation{}, err
	}
	s.logger.Info("conversation claimed",
		slog.String("conversation_id", conv.ID), slog.String("agent_id", agentID))
	return conv, nil
}

// Release returns a claimed conversation to the open pool. Only the assignee
// or an admin override may release; ownership and claim time are cleared.
func (s *Service) Release(ctx context.Context, tenantID, conversationID, agentID string, override bool) (Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	pgAgent, err := db.ParseUUID(agentID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations
		 SET status = 'open', assigned_to = NULL, claimed_at = NULL, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'claimed'
		   AND (assigned_to = $3 OR $4)
		 RETURNING `+conversationColumns, pgID, pgTenant, pgAgent, override)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, s.classifyReleaseFailure(ctx, tenantID, conversationID, agentID, override)
	}
	if err != nil {
		return Conversation{}, err
	}
	s.logger.Info("conversation released",
		slog.String("conversation_id", conv.ID), slog.String("agent_id", agentID))
	return conv, nil
}

// Resolve closes an open or claimed conversation. The assignee is kept on
// the row so an automatic reopen does not strip ownership.
func (s *Service) Resolve(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations
		 SET status = 'resolved', resolved_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('open', 'claimed')
		 RETURNING `+conversationColumns, pgID, pgTenant)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, s.classifyTransitionFailure(ctx, tenantID, conversationID)
	}
	return conv, err
}

// Archive moves a resolved conversation out of active views.
func (s *Service) Archive(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE conversations
		 SET status = 'archived', updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status = 'resolved'
		 RETURNING `+conversationColumns, pgID, pgTenant)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, s.classifyTransitionFailure(ctx, tenantID, conversationID)
	}
	return conv, err
}

// AuthorizeAgentSend checks whether an agent may post into a conversation:
// the conversation must be open, or claimed by that agent. Internal notes
// follow the same rule.
func AuthorizeAgentSend(conv Conversation, agentID string) error {
	switch conv.Status {
	case StatusOpen:
		return nil
	case StatusClaimed:
		if conv.AssignedTo == agentID {
			return nil
		}
		return fmt.Errorf("%w: conversation %s is claimed by %s", ErrNotAssignee, conv.ID, conv.AssignedTo)
	default:
		return fmt.Errorf("%w: cannot send while %s", ErrInvalidTransition, conv.Status)
	}
}

func (s *Service) getActive(ctx context.Context, tenantID, contactID, channelID pgtype.UUID) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = $1 AND contact_id = $2 AND channel_id = $3 AND status IN ('open', 'claimed')
		 ORDER BY created_at DESC LIMIT 1`, tenantID, contactID, channelID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

func (s *Service) classifyClaimFailure(ctx context.Context, tenantID, conversationID string) error {
	conv, err := s.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == StatusClaimed {
		return fmt.Errorf("%w: by agent %s", ErrAlreadyClaimed, conv.AssignedTo)
	}
	return fmt.Errorf("%w: cannot claim while %s", ErrInvalidTransition, conv.Status)
}

func (s *Service) classifyReleaseFailure(ctx context.Context, tenantID, conversationID, agentID string, override bool) error {
	conv, err := s.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if conv.Status != StatusClaimed {
		return fmt.Errorf("%w: cannot release while %s", ErrInvalidTransition, conv.Status)
	}
	if conv.AssignedTo != agentID && !override {
		return fmt.Errorf("%w: assigned to %s", ErrNotAssignee, conv.AssignedTo)
	}
	return fmt.Errorf("%w: release guard failed", ErrInvalidTransition)
}

func (s *Service) classifyTransitionFailure(ctx context.Context, tenantID, conversationID string) error {
	conv, err := s.GetByID(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: from %s", ErrInvalidTransition, conv.Status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		id, tenantID, contactID, channelID pgtype.UUID
		status, priority, riskLevel        string
		assignedTo                         pgtype.UUID
		claimedAt, resolvedAt              pgtype.Timestamptz
		lastMessageAt                      pgtype.Timestamptz
		createdAt, updatedAt               pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &contactID, &channelID, &status, &priority, &riskLevel,
		&assignedTo, &claimedAt, &resolvedAt, &lastMessageAt, &createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:            db.UUIDToString(id),
		TenantID:      db.UUIDToString(tenantID),
		ContactID:     db.UUIDToString(contactID),
		ChannelID:     db.UUIDToString(channelID),
		Status:        Status(status),
		Priority:      Priority(priority),
		RiskLevel:     riskLevel,
		AssignedTo:    db.UUIDToString(assignedTo),
		ClaimedAt:     db.TimeFromPg(claimedAt),
		ResolvedAt:    db.TimeFromPg(resolvedAt),
		LastMessageAt: db.TimeFromPg(lastMessageAt),
		CreatedAt:     db.TimeFromPg(createdAt),
		UpdatedAt:     db.TimeFromPg(updatedAt),
	}, nil
}
