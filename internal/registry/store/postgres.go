package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custos/internal/registry"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
	txcontext "custos/pkg/platform/tx"
)

// Postgres persists registry records. Config and profile are one row per
// workspace, written with upserts.
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

func (s *Postgres) GetConfig(ctx context.Context, wsID id.WorkspaceID) (*registry.Config, error) {
	var (
		cfg  registry.Config
		wsid uuid.UUID
	)
	err := s.handle(ctx).QueryRowContext(ctx, `
		SELECT workspace_id, facility_code, endpoint, callback_secret_ref, rotated_at, created_at, updated_at
		FROM registry_configs WHERE workspace_id = $1
	`, uuid.UUID(wsID)).Scan(&wsid, &cfg.FacilityCode, &cfg.Endpoint, &cfg.CallbackSecretRef,
		&cfg.RotatedAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registry config: %w", err)
	}
	cfg.WorkspaceID = id.WorkspaceID(wsid)
	return &cfg, nil
}

func (s *Postgres) SaveConfig(ctx context.Context, cfg *registry.Config) error {
	_, err := s.handle(ctx).ExecContext(ctx, `
		INSERT INTO registry_configs (workspace_id, facility_code, endpoint, callback_secret_ref, rotated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workspace_id) DO UPDATE SET
			facility_code = EXCLUDED.facility_code,
			endpoint = EXCLUDED.endpoint,
			callback_secret_ref = EXCLUDED.callback_secret_ref,
			rotated_at = EXCLUDED.rotated_at,
			updated_at = EXCLUDED.updated_at
	`, uuid.UUID(cfg.WorkspaceID), cfg.FacilityCode, cfg.Endpoint, cfg.CallbackSecretRef,
		cfg.RotatedAt, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save registry config: %w", err)
	}
	return nil
}

func (s *Postgres) GetProfile(ctx context.Context, wsID id.WorkspaceID) (*registry.Profile, error) {
	var (
		profile registry.Profile
		wsid    uuid.UUID
	)
	err := s.handle(ctx).QueryRowContext(ctx, `
		SELECT workspace_id, facility_name, facility_type, address, district, state, pincode,
		       contact_email, contact_phone, submitted, verified, created_at, updated_at
		FROM registry_profiles WHERE workspace_id = $1
	`, uuid.UUID(wsID)).Scan(&wsid, &profile.FacilityName, &profile.FacilityType, &profile.Address,
		&profile.District, &profile.State, &profile.Pincode, &profile.ContactEmail, &profile.ContactPhone,
		&profile.Submitted, &profile.Verified, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registry profile: %w", err)
	}
	profile.WorkspaceID = id.WorkspaceID(wsid)
	return &profile, nil
}

func (s *Postgres) SaveProfile(ctx context.Context, profile *registry.Profile) error {
	_, err := s.handle(ctx).ExecContext(ctx, `
		INSERT INTO registry_profiles (workspace_id, facility_name, facility_type, address, district, state,
			pincode, contact_email, contact_phone, submitted, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (workspace_id) DO UPDATE SET
			facility_name = EXCLUDED.facility_name,
			facility_type = EXCLUDED.facility_type,
			address = EXCLUDED.address,
			district = EXCLUDED.district,
			state = EXCLUDED.state,
			pincode = EXCLUDED.pincode,
			contact_email = EXCLUDED.contact_email,
			contact_phone = EXCLUDED.contact_phone,
			submitted = EXCLUDED.submitted,
			verified = EXCLUDED.verified,
			updated_at = EXCLUDED.updated_at
	`, uuid.UUID(profile.WorkspaceID), profile.FacilityName, profile.FacilityType, profile.Address,
		profile.District, profile.State, profile.Pincode, profile.ContactEmail, profile.ContactPhone,
		profile.Submitted, profile.Verified, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save registry profile: %w", err)
	}
	return nil
}

func (s *Postgres) AddProfessionalRecord(ctx context.Context, rec *registry.ProfessionalRecord) error {
	_, err := s.handle(ctx).ExecContext(ctx, `
		INSERT INTO registry_professionals (id, workspace_id, registry_ref, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, uuid.UUID(rec.WorkspaceID), rec.RegistryRef, rec.Name, rec.Role, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert professional record: %w", err)
	}
	return nil
}

func (s *Postgres) CountProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	var count int
	err := s.handle(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registry_professionals WHERE workspace_id = $1`,
		uuid.UUID(wsID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count professional records: %w", err)
	}
	return count, nil
}

func (s *Postgres) ListProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) ([]registry.ProfessionalRecord, error) {
	rows, err := s.handle(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, registry_ref, name, role, created_at
		FROM registry_professionals WHERE workspace_id = $1 ORDER BY created_at ASC
	`, uuid.UUID(wsID))
	if err != nil {
		return nil, fmt.Errorf("list professional records: %w", err)
	}
	defer rows.Close()

	var out []registry.ProfessionalRecord
	for rows.Next() {
		var (
			rec  registry.ProfessionalRecord
			wsid uuid.UUID
		)
		if err := rows.Scan(&rec.ID, &wsid, &rec.RegistryRef, &rec.Name, &rec.Role, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.WorkspaceID = id.WorkspaceID(wsid)
		out = append(out, rec)
	}
	return out, rows.Err()
}
