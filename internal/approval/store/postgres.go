package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custos/internal/approval"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

// Postgres persists approval requests.
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

const requestColumns = `id, workspace_id, change_type, entity_type, entity_id, payload,
	requested_by, status, decided_by, decided_at, decision_notes,
	execution_state, execution_error, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, req *approval.Request) error {
	query := `
		INSERT INTO approval_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID), uuid.UUID(req.WorkspaceID), req.ChangeType,
		req.Entity.Type, req.Entity.ID, nullableJSON(req.Payload),
		uuid.UUID(req.RequestedBy), string(req.Status),
		nullableActor(req.DecidedBy), req.DecidedAt, req.DecisionNotes,
		string(req.ExecutionState), req.ExecutionError, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, req *approval.Request) error {
	query := `
		UPDATE approval_requests
		SET status = $2, decided_by = $3, decided_at = $4, decision_notes = $5,
		    execution_state = $6, execution_error = $7, updated_at = $8
		WHERE id = $1
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID), string(req.Status),
		nullableActor(req.DecidedBy), req.DecidedAt, req.DecisionNotes,
		string(req.ExecutionState), req.ExecutionError, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// RecordDecision is a conditional write: the verdict lands only if the row
// is still SUBMITTED, which is what makes "decided exactly once" hold under
// concurrent deciders.
func (s *Postgres) RecordDecision(ctx context.Context, req *approval.Request) error {
	query := `
		UPDATE approval_requests
		SET status = $2, decided_by = $3, decided_at = $4, decision_notes = $5,
		    execution_state = $6, execution_error = $7, updated_at = $8
		WHERE id = $1 AND status = 'SUBMITTED'
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID), string(req.Status),
		nullableActor(req.DecidedBy), req.DecidedAt, req.DecisionNotes,
		string(req.ExecutionState), req.ExecutionError, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record decision rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, approvalID id.ApprovalID) (*approval.Request, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, uuid.UUID(approvalID))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return req, err
}

func (s *Postgres) ListByWorkspace(ctx context.Context, wsID id.WorkspaceID, status approval.Status) ([]approval.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE workspace_id = $1`
	args := []any{uuid.UUID(wsID)}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.handle(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*approval.Request, error) {
	var (
		req       approval.Request
		reqID     uuid.UUID
		wsID      uuid.UUID
		requester uuid.UUID
		decider   *uuid.UUID
		status    string
		execState string
		payload   []byte
	)
	err := row.Scan(&reqID, &wsID, &req.ChangeType, &req.Entity.Type, &req.Entity.ID, &payload,
		&requester, &status, &decider, &req.DecidedAt, &req.DecisionNotes,
		&execState, &req.ExecutionError, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	req.ID = id.ApprovalID(reqID)
	req.WorkspaceID = id.WorkspaceID(wsID)
	req.RequestedBy = id.ActorID(requester)
	if decider != nil {
		did := id.ActorID(*decider)
		req.DecidedBy = &did
	}
	req.Status = approval.Status(status)
	req.ExecutionState = approval.ExecutionState(execState)
	req.Payload = payload
	return &req, nil
}

func nullableActor(actorID *id.ActorID) any {
	if actorID == nil {
		return nil
	}
	return uuid.UUID(*actorID)
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
