package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custos/internal/workspace/models"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

// Postgres persists workspaces. The partial unique index on branch_id (where
// kind = BRANCH_INSTANCE) is what makes concurrent duplicate creates safe.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Postgres) EnsureOrg(ctx context.Context, orgID id.OrgID) error {
	query := `
		INSERT INTO organizations (id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.handle(ctx).ExecContext(ctx, query, uuid.UUID(orgID), time.Now())
	if err != nil {
		return fmt.Errorf("ensure organization: %w", err)
	}
	return nil
}

func (s *Postgres) CreateIfBranchAvailable(ctx context.Context, ws *models.Workspace) error {
	query := `
		INSERT INTO workspaces (id, org_id, branch_id, kind, status, readiness_score, last_scored_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var branchID *uuid.UUID
	if ws.BranchID != nil {
		bid := uuid.UUID(*ws.BranchID)
		branchID = &bid
	}
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(ws.ID), uuid.UUID(ws.OrgID), branchID,
		string(ws.Kind), string(ws.Status),
		ws.ReadinessScore, ws.LastScoredAt, ws.CreatedAt, ws.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

const workspaceColumns = `id, org_id, branch_id, kind, status, readiness_score, last_scored_at, created_at, updated_at`

func (s *Postgres) FindByID(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, uuid.UUID(wsID))
	return scanWorkspace(row)
}

func (s *Postgres) FindByBranch(ctx context.Context, branchID id.BranchID) (*models.Workspace, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE branch_id = $1 AND kind = 'BRANCH_INSTANCE'`,
		uuid.UUID(branchID))
	return scanWorkspace(row)
}

func (s *Postgres) Update(ctx context.Context, ws *models.Workspace) error {
	query := `
		UPDATE workspaces
		SET status = $2, readiness_score = $3, last_scored_at = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(ws.ID), string(ws.Status), ws.ReadinessScore, ws.LastScoredAt, ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workspace rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByOrg(ctx context.Context, orgID id.OrgID, status models.Status) ([]models.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE org_id = $1`
	args := []any{uuid.UUID(orgID)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.handle(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace
	for rows.Next() {
		ws, err := scanWorkspaceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row *sql.Row) (*models.Workspace, error) {
	ws, err := scanWorkspaceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return ws, err
}

func scanWorkspaceRow(row rowScanner) (*models.Workspace, error) {
	var (
		ws       models.Workspace
		wsID     uuid.UUID
		orgID    uuid.UUID
		branchID *uuid.UUID
		kind     string
		status   string
	)
	err := row.Scan(&wsID, &orgID, &branchID, &kind, &status,
		&ws.ReadinessScore, &ws.LastScoredAt, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ws.ID = id.WorkspaceID(wsID)
	ws.OrgID = id.OrgID(orgID)
	if branchID != nil {
		bid := id.BranchID(*branchID)
		ws.BranchID = &bid
	}
	ws.Kind = models.Kind(kind)
	ws.Status = models.Status(status)
	return &ws, nil
}
