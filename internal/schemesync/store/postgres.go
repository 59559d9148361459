package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custos/internal/schemesync"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

// PostgresExternal backs the operational-store port with a local table,
// used when the billing system shares the governance database.
type PostgresExternal struct {
	db *sql.DB
}

func NewPostgresExternal(db *sql.DB) *PostgresExternal {
	return &PostgresExternal{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresExternal) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, branch_id, scheme_type, registration_no, registry_code,
	package_codes, package_names, package_rates_paise, package_items, linked_to, updated_at`

func (s *PostgresExternal) FindByID(ctx context.Context, rid id.ExternalRecordID) (*schemesync.ExternalRecord, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM external_scheme_records WHERE id = $1`, uuid.UUID(rid))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresExternal) FindByBranchScheme(ctx context.Context, branchID id.BranchID, schemeType string) (*schemesync.ExternalRecord, error) {
	row := s.handle(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM external_scheme_records WHERE branch_id = $1 AND scheme_type = $2`,
		uuid.UUID(branchID), schemeType)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresExternal) ListByBranch(ctx context.Context, branchID id.BranchID) ([]schemesync.ExternalRecord, error) {
	rows, err := s.handle(ctx).QueryContext(ctx,
		`SELECT `+recordColumns+` FROM external_scheme_records WHERE branch_id = $1 ORDER BY scheme_type ASC`,
		uuid.UUID(branchID))
	if err != nil {
		return nil, fmt.Errorf("list external records: %w", err)
	}
	defer rows.Close()

	var out []schemesync.ExternalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresExternal) Upsert(ctx context.Context, rec *schemesync.ExternalRecord) error {
	items, err := json.Marshal(rec.PackageItems)
	if err != nil {
		return fmt.Errorf("marshal package items: %w", err)
	}
	query := `
		INSERT INTO external_scheme_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			registration_no = EXCLUDED.registration_no,
			registry_code = EXCLUDED.registry_code,
			package_codes = EXCLUDED.package_codes,
			package_names = EXCLUDED.package_names,
			package_rates_paise = EXCLUDED.package_rates_paise,
			package_items = EXCLUDED.package_items,
			linked_to = EXCLUDED.linked_to,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.ID), uuid.UUID(rec.BranchID), rec.SchemeType,
		rec.RegistrationNo, rec.RegistryCode,
		pq.Array(rec.PackageCodes), pq.Array(rec.PackageNames), pq.Array(rec.PackageRatesPaise),
		items, nullableEmpanelment(rec.LinkedTo), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert external record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*schemesync.ExternalRecord, error) {
	var (
		rec      schemesync.ExternalRecord
		recID    uuid.UUID
		branchID uuid.UUID
		codes    pq.StringArray
		names    pq.StringArray
		rates    pq.Int64Array
		items    []byte
		linked   *uuid.UUID
	)
	err := row.Scan(&recID, &branchID, &rec.SchemeType, &rec.RegistrationNo, &rec.RegistryCode,
		&codes, &names, &rates, &items, &linked, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.ID = id.ExternalRecordID(recID)
	rec.BranchID = id.BranchID(branchID)
	rec.PackageCodes = []string(codes)
	rec.PackageNames = []string(names)
	rec.PackageRatesPaise = []int64(rates)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &rec.PackageItems); err != nil {
			return nil, fmt.Errorf("unmarshal package items: %w", err)
		}
	}
	if linked != nil {
		eid := id.EmpanelmentID(*linked)
		rec.LinkedTo = &eid
	}
	return &rec, nil
}

func nullableEmpanelment(eid *id.EmpanelmentID) any {
	if eid == nil {
		return nil
	}
	return uuid.UUID(*eid)
}
