package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"custos/internal/ledger"
	id "custos/pkg/domain"
	txcontext "custos/pkg/platform/tx"
)

// Postgres persists ledger entries. Append joins the transaction found in
// context so the entry commits or rolls back with the mutation it documents.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (
			id, workspace_id, entity_type, entity_id, action,
			actor_id, before_snapshot, after_snapshot, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var actorID *uuid.UUID
	if entry.ActorID != nil {
		uid := uuid.UUID(*entry.ActorID)
		actorID = &uid
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.WorkspaceID),
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		actorID,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (s *Postgres) List(ctx context.Context, filter ledger.Filter, after *ledger.Position, limit int) ([]ledger.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !filter.WorkspaceID.IsNil() {
		add("workspace_id = $%d", uuid.UUID(filter.WorkspaceID))
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if !filter.ActorID.IsNil() {
		add("actor_id = $%d", uuid.UUID(filter.ActorID))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.Until.IsZero() {
		add("created_at <= $%d", filter.Until)
	}
	if after != nil {
		args = append(args, after.CreatedAt, uuid.UUID(after.ID))
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `
		SELECT id, workspace_id, entity_type, entity_id, action,
		       actor_id, before_snapshot, after_snapshot, created_at
		FROM ledger_entries
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			entryID   uuid.UUID
			wsID      uuid.UUID
			actorID   *uuid.UUID
			before    []byte
			afterSnap []byte
			createdAt time.Time
		)
		if err := rows.Scan(&entryID, &wsID, &e.EntityType, &e.EntityID, &e.Action,
			&actorID, &before, &afterSnap, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.ID = id.EntryID(entryID)
		e.WorkspaceID = id.WorkspaceID(wsID)
		if actorID != nil {
			aid := id.ActorID(*actorID)
			e.ActorID = &aid
		}
		e.Before = before
		e.After = afterSnap
		e.CreatedAt = createdAt
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
