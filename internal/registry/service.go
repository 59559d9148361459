package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"custos/internal/approval"
	"custos/internal/ledger"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/requestcontext"
)

// Store persists registry records per workspace.
type Store interface {
	GetConfig(ctx context.Context, wsID id.WorkspaceID) (*Config, error)
	SaveConfig(ctx context.Context, cfg *Config) error
	GetProfile(ctx context.Context, wsID id.WorkspaceID) (*Profile, error)
	SaveProfile(ctx context.Context, profile *Profile) error
	AddProfessionalRecord(ctx context.Context, rec *ProfessionalRecord) error
	CountProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) (int, error)
	ListProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) ([]ProfessionalRecord, error)
}

// Ledger records one entry per logical change within the caller's unit of work.
type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType, entityID, action string, actor id.Actor, before, after any) error
}

// ApprovalGate defers sensitive changes behind the maker-checker rule.
type ApprovalGate interface {
	RequireApproval(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity approval.EntityRef, payload json.RawMessage) (*approval.PendingResult, error)
}

// Service manages registry enrollment records.
type Service struct {
	store  Store
	ledger Ledger
	gate   ApprovalGate
	runner tx.Runner
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, led Ledger, gate ApprovalGate, runner tx.Runner, opts ...Option) *Service {
	s := &Service{store: store, ledger: led, gate: gate, runner: runner, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConfig upserts the registry integration configuration.
func (s *Service) SetConfig(ctx context.Context, actor id.Actor, cfg *Config) (*Config, error) {
	if cfg.WorkspaceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workspace is required")
	}
	if cfg.FacilityCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "facility code is required")
	}

	now := requestcontext.Now(ctx)
	existing, err := s.store.GetConfig(ctx, cfg.WorkspaceID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry store failure")
	}
	if existing != nil {
		cfg.CreatedAt = existing.CreatedAt
		cfg.RotatedAt = existing.RotatedAt
		// Direct secret edits bypass the rotation gate; keep the stored ref.
		cfg.CallbackSecretRef = existing.CallbackSecretRef
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.SaveConfig(txCtx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registry config")
		}
		return s.ledger.Record(txCtx, cfg.WorkspaceID, ledger.EntityRegistry, cfg.WorkspaceID.String(), "registry.config_saved", actor, existing, cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// RotateSecret requests a callback-secret rotation. Rotation is a sensitive
// change: it is deferred behind the approval workflow and applied by the
// SECRET_ROTATION dispatch handler once a second actor approves.
func (s *Service) RotateSecret(ctx context.Context, actor id.Actor, wsID id.WorkspaceID, newSecretRef string) (*approval.PendingResult, error) {
	if newSecretRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "new secret reference is required")
	}
	if _, err := s.getConfig(ctx, wsID); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(rotationPayload{SecretRef: newSecretRef})
	return s.gate.RequireApproval(ctx, actor, wsID, approval.ChangeSecretRotation,
		approval.EntityRef{Type: ledger.EntityRegistry, ID: wsID.String()}, payload)
}

type rotationPayload struct {
	SecretRef string `json:"secret_ref"`
}

// ApplyRotation is the dispatch handler for SECRET_ROTATION. Idempotent: a
// retry with the same secret ref rewrites the same value.
func (s *Service) ApplyRotation(ctx context.Context, req *approval.Request) error {
	var payload rotationPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.SecretRef == "" {
		return dErrors.New(dErrors.CodeValidation, "malformed rotation payload")
	}

	cfg, err := s.getConfig(ctx, req.WorkspaceID)
	if err != nil {
		return err
	}

	before := *cfg
	now := requestcontext.Now(ctx)
	cfg.CallbackSecretRef = payload.SecretRef
	cfg.RotatedAt = &now
	cfg.UpdatedAt = now

	actor := id.Actor{ID: req.RequestedBy}
	if req.DecidedBy != nil {
		actor = id.Actor{ID: *req.DecidedBy}
	}
	return s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.SaveConfig(txCtx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate secret")
		}
		return s.ledger.Record(txCtx, cfg.WorkspaceID, ledger.EntityRegistry, cfg.WorkspaceID.String(), "registry.secret_rotated", actor, &before, cfg)
	})
}

// SaveProfile upserts the facility profile. Submitting is part of the same
// call: the Submitted flag travels on the model.
func (s *Service) SaveProfile(ctx context.Context, actor id.Actor, profile *Profile) (*Profile, error) {
	if profile.WorkspaceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workspace is required")
	}

	now := requestcontext.Now(ctx)
	existing, err := s.store.GetProfile(ctx, profile.WorkspaceID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry store failure")
	}
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.SaveProfile(txCtx, profile); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save registry profile")
		}
		return s.ledger.Record(txCtx, profile.WorkspaceID, ledger.EntityRegistry, profile.WorkspaceID.String(), "registry.profile_saved", actor, existing, profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// AddProfessionalRecord links one professional-registry entry.
func (s *Service) AddProfessionalRecord(ctx context.Context, actor id.Actor, rec *ProfessionalRecord) (*ProfessionalRecord, error) {
	if rec.WorkspaceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workspace is required")
	}
	if rec.RegistryRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "registry reference is required")
	}
	rec.ID = uuid.New()
	rec.CreatedAt = requestcontext.Now(ctx)

	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.AddProfessionalRecord(txCtx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to add professional record")
		}
		return s.ledger.Record(txCtx, rec.WorkspaceID, ledger.EntityRegistry, rec.ID.String(), "registry.professional_linked", actor, nil, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// HasConfig implements the activation gate's registry config check.
func (s *Service) HasConfig(ctx context.Context, wsID id.WorkspaceID) (bool, error) {
	_, err := s.store.GetConfig(ctx, wsID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProfileState implements the activation gate's registry profile check.
func (s *Service) ProfileState(ctx context.Context, wsID id.WorkspaceID) (bool, bool, error) {
	profile, err := s.store.GetProfile(ctx, wsID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, profile.Submitted, nil
}

// GetConfig reads the registry integration configuration.
func (s *Service) GetConfig(ctx context.Context, wsID id.WorkspaceID) (*Config, error) {
	return s.getConfig(ctx, wsID)
}

// GetProfile reads the facility profile.
func (s *Service) GetProfile(ctx context.Context, wsID id.WorkspaceID) (*Profile, error) {
	profile, err := s.store.GetProfile(ctx, wsID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "facility profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry store failure")
	}
	return profile, nil
}

// ListProfessionalRecords lists the linked professional-registry records.
func (s *Service) ListProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) ([]ProfessionalRecord, error) {
	records, err := s.store.ListProfessionalRecords(ctx, wsID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry store failure")
	}
	return records, nil
}

// ReadinessView is the registry state snapshot the readiness validator scores.
type ReadinessView struct {
	HasConfig         bool
	ProfileExists     bool
	ProfileSubmitted  bool
	ProfileVerified   bool
	EmptyRequired     int
	ProfessionalCount int
}

// Readiness gathers the registry signals in one pass.
func (s *Service) Readiness(ctx context.Context, wsID id.WorkspaceID) (ReadinessView, error) {
	var view ReadinessView

	_, err := s.store.GetConfig(ctx, wsID)
	switch {
	case err == nil:
		view.HasConfig = true
	case !errors.Is(err, sentinel.ErrNotFound):
		return view, err
	}

	profile, err := s.store.GetProfile(ctx, wsID)
	switch {
	case err == nil:
		view.ProfileExists = true
		view.ProfileSubmitted = profile.Submitted
		view.ProfileVerified = profile.Verified
		view.EmptyRequired = profile.EmptyRequiredCount()
	case !errors.Is(err, sentinel.ErrNotFound):
		return view, err
	}

	view.ProfessionalCount, err = s.store.CountProfessionalRecords(ctx, wsID)
	if err != nil {
		return view, err
	}
	return view, nil
}

func (s *Service) getConfig(ctx context.Context, wsID id.WorkspaceID) (*Config, error) {
	cfg, err := s.store.GetConfig(ctx, wsID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registry config not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry store failure")
	}
	return cfg, nil
}
