package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custos/internal/evidence"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

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

const artifactColumns = `id, workspace_id, item_id, kind, uri, uploaded_by, expires_at, created_at`

func (s *Postgres) Create(ctx context.Context, a *evidence.Artifact) error {
	query := `
		INSERT INTO evidence_artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID), uuid.UUID(a.WorkspaceID), nullableItem(a.ItemID),
		a.Kind, a.URI, uuid.UUID(a.UploadedBy), a.ExpiresAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evidence artifact: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, aid id.ArtifactID) (*evidence.Artifact, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM evidence_artifacts WHERE id = $1`, uuid.UUID(aid))
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return artifact, err
}

func (s *Postgres) ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]evidence.Artifact, error) {
	rows, err := s.handle(ctx).QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM evidence_artifacts WHERE workspace_id = $1 ORDER BY created_at ASC`,
		uuid.UUID(wsID))
	if err != nil {
		return nil, fmt.Errorf("list evidence artifacts: %w", err)
	}
	defer rows.Close()

	var out []evidence.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *artifact)
	}
	return out, rows.Err()
}

func (s *Postgres) CountByItem(ctx context.Context, itemID id.ItemID) (int, error) {
	var count int
	err := s.handle(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_artifacts WHERE item_id = $1`, uuid.UUID(itemID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count evidence artifacts: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*evidence.Artifact, error) {
	var (
		artifact evidence.Artifact
		aid      uuid.UUID
		wsID     uuid.UUID
		itemID   *uuid.UUID
		uploader uuid.UUID
	)
	err := row.Scan(&aid, &wsID, &itemID, &artifact.Kind, &artifact.URI, &uploader,
		&artifact.ExpiresAt, &artifact.CreatedAt)
	if err != nil {
		return nil, err
	}
	artifact.ID = id.ArtifactID(aid)
	artifact.WorkspaceID = id.WorkspaceID(wsID)
	artifact.UploadedBy = id.ActorID(uploader)
	if itemID != nil {
		iid := id.ItemID(*itemID)
		artifact.ItemID = &iid
	}
	return &artifact, nil
}

func nullableItem(itemID *id.ItemID) any {
	if itemID == nil {
		return nil
	}
	return uuid.UUID(*itemID)
}
