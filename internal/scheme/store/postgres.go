package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custos/internal/scheme"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

// Postgres persists empanelments, rate cards and card line items.
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

const empanelmentColumns = `id, workspace_id, scheme_code, registration_no, registry_code,
	status, external_link_id, last_synced_at, created_at, updated_at`

func (s *Postgres) CreateEmpanelment(ctx context.Context, e *scheme.Empanelment) error {
	query := `
		INSERT INTO empanelments (` + empanelmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.WorkspaceID), e.SchemeCode, e.RegistrationNo, e.RegistryCode,
		string(e.Status), nullableExternal(e.ExternalLinkID), e.LastSyncedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert empanelment: %w", err)
	}
	return nil
}

func (s *Postgres) FindEmpanelment(ctx context.Context, eid id.EmpanelmentID) (*scheme.Empanelment, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+empanelmentColumns+` FROM empanelments WHERE id = $1`, uuid.UUID(eid))
	emp, err := scanEmpanelment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return emp, err
}

func (s *Postgres) UpdateEmpanelment(ctx context.Context, e *scheme.Empanelment) error {
	query := `
		UPDATE empanelments
		SET registration_no = $2, registry_code = $3, status = $4,
		    external_link_id = $5, last_synced_at = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID), e.RegistrationNo, e.RegistryCode, string(e.Status),
		nullableExternal(e.ExternalLinkID), e.LastSyncedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update empanelment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update empanelment rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListEmpanelments(ctx context.Context, wsID id.WorkspaceID) ([]scheme.Empanelment, error) {
	rows, err := s.handle(ctx).QueryContext(ctx,
		`SELECT `+empanelmentColumns+` FROM empanelments WHERE workspace_id = $1 ORDER BY scheme_code ASC`,
		uuid.UUID(wsID))
	if err != nil {
		return nil, fmt.Errorf("list empanelments: %w", err)
	}
	defer rows.Close()

	var out []scheme.Empanelment
	for rows.Next() {
		emp, err := scanEmpanelment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *emp)
	}
	return out, rows.Err()
}

func (s *Postgres) CountEmpanelments(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	var count int
	err := s.handle(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM empanelments WHERE workspace_id = $1`, uuid.UUID(wsID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count empanelments: %w", err)
	}
	return count, nil
}

const cardColumns = `id, workspace_id, scheme_code, version, status, expires_at, frozen_at, created_at, updated_at`

func (s *Postgres) CreateCard(ctx context.Context, c *scheme.RateCard) error {
	query := `
		INSERT INTO rate_cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.WorkspaceID), c.SchemeCode, c.Version, string(c.Status),
		c.ExpiresAt, c.FrozenAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert rate card: %w", err)
	}
	return nil
}

func (s *Postgres) FindCard(ctx context.Context, cid id.RateCardID) (*scheme.RateCard, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM rate_cards WHERE id = $1`, uuid.UUID(cid))
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return card, err
}

func (s *Postgres) UpdateCard(ctx context.Context, c *scheme.RateCard) error {
	query := `
		UPDATE rate_cards
		SET status = $2, expires_at = $3, frozen_at = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), string(c.Status), c.ExpiresAt, c.FrozenAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update rate card: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rate card rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListCards(ctx context.Context, wsID id.WorkspaceID) ([]scheme.RateCard, error) {
	rows, err := s.handle(ctx).QueryContext(ctx,
		`SELECT `+cardColumns+` FROM rate_cards WHERE workspace_id = $1 ORDER BY scheme_code ASC, version DESC`,
		uuid.UUID(wsID))
	if err != nil {
		return nil, fmt.Errorf("list rate cards: %w", err)
	}
	defer rows.Close()

	var out []scheme.RateCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *card)
	}
	return out, rows.Err()
}

func (s *Postgres) LatestFrozenCard(ctx context.Context, wsID id.WorkspaceID, schemeCode string) (*scheme.RateCard, error) {
	row := s.handle(ctx).QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM rate_cards
		WHERE workspace_id = $1 AND scheme_code = $2 AND status = 'FROZEN'
		ORDER BY version DESC
		LIMIT 1
	`, uuid.UUID(wsID), schemeCode)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return card, err
}

func (s *Postgres) AddItem(ctx context.Context, it *scheme.RateCardItem) error {
	query := `
		INSERT INTO rate_card_items (id, card_id, external_code, name, rate_paise, internal_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		it.ID, uuid.UUID(it.CardID), it.ExternalCode, it.Name, it.RatePaise, it.InternalRef, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rate card item: %w", err)
	}
	return nil
}

func (s *Postgres) ListItems(ctx context.Context, cardID id.RateCardID) ([]scheme.RateCardItem, error) {
	rows, err := s.handle(ctx).QueryContext(ctx, `
		SELECT id, card_id, external_code, name, rate_paise, internal_ref, created_at
		FROM rate_card_items WHERE card_id = $1 ORDER BY external_code ASC
	`, uuid.UUID(cardID))
	if err != nil {
		return nil, fmt.Errorf("list rate card items: %w", err)
	}
	defer rows.Close()

	var out []scheme.RateCardItem
	for rows.Next() {
		var (
			it     scheme.RateCardItem
			cardID uuid.UUID
		)
		if err := rows.Scan(&it.ID, &cardID, &it.ExternalCode, &it.Name, &it.RatePaise, &it.InternalRef, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.CardID = id.RateCardID(cardID)
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmpanelment(row rowScanner) (*scheme.Empanelment, error) {
	var (
		emp    scheme.Empanelment
		empID  uuid.UUID
		wsID   uuid.UUID
		status string
		link   *uuid.UUID
	)
	err := row.Scan(&empID, &wsID, &emp.SchemeCode, &emp.RegistrationNo, &emp.RegistryCode,
		&status, &link, &emp.LastSyncedAt, &emp.CreatedAt, &emp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	emp.ID = id.EmpanelmentID(empID)
	emp.WorkspaceID = id.WorkspaceID(wsID)
	emp.Status = scheme.EmpanelmentStatus(status)
	if link != nil {
		lid := id.ExternalRecordID(*link)
		emp.ExternalLinkID = &lid
	}
	return &emp, nil
}

func scanCard(row rowScanner) (*scheme.RateCard, error) {
	var (
		card   scheme.RateCard
		cardID uuid.UUID
		wsID   uuid.UUID
		status string
	)
	err := row.Scan(&cardID, &wsID, &card.SchemeCode, &card.Version, &status,
		&card.ExpiresAt, &card.FrozenAt, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	card.ID = id.RateCardID(cardID)
	card.WorkspaceID = id.WorkspaceID(wsID)
	card.Status = scheme.CardStatus(status)
	return &card, nil
}

func nullableExternal(linkID *id.ExternalRecordID) any {
	if linkID == nil {
		return nil
	}
	return uuid.UUID(*linkID)
}
