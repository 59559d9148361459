package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custos/internal/checklist"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

// Postgres persists checklist items.
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

const itemColumns = `id, workspace_id, category, code, title, status, risk,
	evidence_required, owner_id, verifier_id, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, item *checklist.Item) error {
	query := `
		INSERT INTO checklist_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(item.ID), uuid.UUID(item.WorkspaceID), item.Category, item.Code, item.Title,
		string(item.Status), string(item.Risk), item.EvidenceRequired,
		nullableActor(item.OwnerID), nullableActor(item.VerifierID),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checklist item: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, item *checklist.Item) error {
	query := `
		UPDATE checklist_items
		SET status = $2, owner_id = $3, verifier_id = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(item.ID), string(item.Status),
		nullableActor(item.OwnerID), nullableActor(item.VerifierID), item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update checklist item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update checklist item rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, itemID id.ItemID) (*checklist.Item, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM checklist_items WHERE id = $1`, uuid.UUID(itemID))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return item, err
}

func (s *Postgres) ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]checklist.Item, error) {
	rows, err := s.handle(ctx).QueryContext(ctx,
		`SELECT `+itemColumns+` FROM checklist_items WHERE workspace_id = $1 ORDER BY code ASC`,
		uuid.UUID(wsID))
	if err != nil {
		return nil, fmt.Errorf("list checklist items: %w", err)
	}
	defer rows.Close()

	var out []checklist.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *Postgres) CountByWorkspace(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	var count int
	err := s.handle(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checklist_items WHERE workspace_id = $1`, uuid.UUID(wsID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count checklist items: %w", err)
	}
	return count, nil
}

func (s *Postgres) CountCriticalOpen(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	var count int
	err := s.handle(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM checklist_items
		WHERE workspace_id = $1 AND risk = 'CRITICAL' AND status IN ('NOT_STARTED', 'NON_COMPLIANT')
	`, uuid.UUID(wsID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count critical open items: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*checklist.Item, error) {
	var (
		item     checklist.Item
		itemID   uuid.UUID
		wsID     uuid.UUID
		status   string
		risk     string
		owner    *uuid.UUID
		verifier *uuid.UUID
	)
	err := row.Scan(&itemID, &wsID, &item.Category, &item.Code, &item.Title, &status, &risk,
		&item.EvidenceRequired, &owner, &verifier, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.ID = id.ItemID(itemID)
	item.WorkspaceID = id.WorkspaceID(wsID)
	item.Status = checklist.ItemStatus(status)
	item.Risk = checklist.RiskLevel(risk)
	if owner != nil {
		oid := id.ActorID(*owner)
		item.OwnerID = &oid
	}
	if verifier != nil {
		vid := id.ActorID(*verifier)
		item.VerifierID = &vid
	}
	return &item, nil
}

func nullableActor(actorID *id.ActorID) any {
	if actorID == nil {
		return nil
	}
	return uuid.UUID(*actorID)
}
