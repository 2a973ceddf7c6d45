package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/convodesk/convodesk/internal/config"
	"github.com/convodesk/convodesk/internal/db"
)

// ErrInvalidLogin indicates the username or password did not match.
var ErrInvalidLogin = errors.New("invalid username or password")

// ErrNotFound indicates no agent row exists for the lookup.
var ErrNotFound = errors.New("agent not found")

// Service manages agent accounts.
type Service struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewService creates an agent service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "agent")),
		pool:   pool,
	}
}

// Authenticate verifies a username/password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Agent, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Agent{}, ErrInvalidLogin
	}
	var (
		id, tenantID pgtype.UUID
		email, hash  string
		role         string
		createdAt    pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, password_hash, role, created_at
		 FROM agents WHERE username = $1`, username).
		Scan(&id, &tenantID, &email, &hash, &role, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrInvalidLogin
	}
	if err != nil {
		return Agent{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Agent{}, ErrInvalidLogin
	}
	return Agent{
		ID:        db.UUIDToString(id),
		TenantID:  db.UUIDToString(tenantID),
		Username:  username,
		Email:     email,
		Role:      Role(role),
		CreatedAt: db.TimeFromPg(createdAt),
	}, nil
}

// GetByID returns one agent scoped to a tenant.
func (s *Service) GetByID(ctx context.Context, tenantID, agentID string) (Agent, error) {
	pgTenant, err := db.ParseUUID(tenantID)
	if err != nil {
		return Agent{}, err
	}
	pgID, err := db.ParseUUID(agentID)
	if err != nil {
		return Agent{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var (
		username, email string
		role            string
		createdAt       pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`SELECT username, email, role, created_at
		 FROM agents WHERE id = $1 AND tenant_id = $2`, pgID, pgTenant).
		Scan(&username, &email, &role, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, err
	}
	return Agent{
		ID:        agentID,
		TenantID:  tenantID,
		Username:  username,
		Email:     email,
		Role:      Role(role),
		CreatedAt: db.TimeFromPg(createdAt),
	}, nil
}

// EnsureAdmin seeds the default tenant and admin account on an empty
// database so a fresh deployment can log in.
func (s *Service) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agents`).Scan(&count); err != nil {
		return fmt.Errorf("count agents: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var tenantID pgtype.UUID
	if err := tx.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ('Default') RETURNING id`).Scan(&tenantID); err != nil {
		return fmt.Errorf("create default tenant: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO agents (tenant_id, username, email, password_hash, role)
		 VALUES ($1, $2, $3, $4, 'admin')`,
		tenantID, cfg.Username, cfg.Email, string(hash)); err != nil {
		return fmt.Errorf("create admin agent: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info("seeded admin agent", slog.String("username", cfg.Username))
	return nil
}
