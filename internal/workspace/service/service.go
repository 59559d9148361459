// Package service implements the workspace lifecycle manager: creation,
// template cloning, and status transitions including the activation gate.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"custos/internal/ledger"
	"custos/internal/opslog"
	wsmetrics "custos/internal/workspace/metrics"
	"custos/internal/workspace/models"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/requestcontext"
)

// Store persists workspaces. CreateIfBranchAvailable must reject a second
// BRANCH_INSTANCE for the same branch with sentinel.ErrConflict; correctness
// under concurrent creates relies on the store-level unique constraint, not
// on in-process locking.
type Store interface {
	CreateIfBranchAvailable(ctx context.Context, ws *models.Workspace) error
	FindByID(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error)
	FindByBranch(ctx context.Context, branchID id.BranchID) (*models.Workspace, error)
	Update(ctx context.Context, ws *models.Workspace) error
	ListByOrg(ctx context.Context, orgID id.OrgID, status models.Status) ([]models.Workspace, error)
	EnsureOrg(ctx context.Context, orgID id.OrgID) error
}

// Ledger records one entry per logical change within the caller's unit of work.
type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType, entityID, action string, actor id.Actor, before, after any) error
}

// RegistryReader exposes the registry facts the activation gate needs.
type RegistryReader interface {
	HasConfig(ctx context.Context, wsID id.WorkspaceID) (bool, error)
	// ProfileState reports whether a registry profile exists and whether it
	// has been submitted to the registry.
	ProfileState(ctx context.Context, wsID id.WorkspaceID) (present bool, submitted bool, err error)
}

// EmpanelmentCounter counts scheme empanelments per workspace.
type EmpanelmentCounter interface {
	CountByWorkspace(ctx context.Context, wsID id.WorkspaceID) (int, error)
}

// ChecklistReader exposes the checklist facts the gate and cloner need.
type ChecklistReader interface {
	CountByWorkspace(ctx context.Context, wsID id.WorkspaceID) (int, error)
	// CountCriticalOpen counts CRITICAL items still NOT_STARTED or NON_COMPLIANT.
	CountCriticalOpen(ctx context.Context, wsID id.WorkspaceID) (int, error)
}

// ItemCloner deep-copies checklist items from a template into a target
// workspace with fresh NOT_STARTED status. Approvals, evidence links, and
// audit history are never copied.
type ItemCloner interface {
	CloneInto(ctx context.Context, actor id.Actor, templateID, targetID id.WorkspaceID) (int, error)
}

// EvidenceChecker counts expired evidence artifacts per workspace.
type EvidenceChecker interface {
	CountExpired(ctx context.Context, wsID id.WorkspaceID) (int, error)
}

// Service orchestrates the workspace lifecycle.
type Service struct {
	workspaces   Store
	registry     RegistryReader
	empanelments EmpanelmentCounter
	checklist    ChecklistReader
	cloner       ItemCloner
	evidence     EvidenceChecker
	ledger       Ledger
	runner       tx.Runner
	sink         opslog.Sink
	logger       *slog.Logger
	metrics      *wsmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *wsmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithOpsSink(sink opslog.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// New constructs the lifecycle service.
func New(workspaces Store, registry RegistryReader, empanelments EmpanelmentCounter, checklist ChecklistReader, cloner ItemCloner, evidence EvidenceChecker, led Ledger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		workspaces:   workspaces,
		registry:     registry,
		empanelments: empanelments,
		checklist:    checklist,
		cloner:       cloner,
		evidence:     evidence,
		ledger:       led,
		runner:       runner,
		sink:         opslog.Noop{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new workspace in DRAFT. For BRANCH_INSTANCE the branch
// must not already carry an instance; the owning organization is resolved or
// created as needed.
func (s *Service) Create(ctx context.Context, actor id.Actor, kind models.Kind, orgID id.OrgID, branchID *id.BranchID) (*models.Workspace, error) {
	now := requestcontext.Now(ctx)
	ws, err := models.NewWorkspace(id.WorkspaceID(uuid.New()), orgID, branchID, kind, now)
	if err != nil {
		return nil, err
	}

	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.workspaces.EnsureOrg(txCtx, orgID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve organization")
		}
		if err := s.workspaces.CreateIfBranchAvailable(txCtx, ws); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeValidation, "branch already has a workspace")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create workspace")
		}
		return s.ledger.Record(txCtx, ws.ID, ledger.EntityWorkspace, ws.ID.String(), "workspace.created", actor, nil, ws)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
	s.sink.Log(ctx, opslog.Event{
		Action:     "workspace.created",
		ActorID:    actor.ID.String(),
		EntityType: ledger.EntityWorkspace,
		EntityID:   ws.ID.String(),
	})
	return ws, nil
}

// CloneTemplateToBranch materializes a branch workspace from a template,
// deep-copying its checklist items with fresh NOT_STARTED status. Cloning is
// idempotent in the failure direction: a branch workspace that already
// contains items cannot be cloned into again.
func (s *Service) CloneTemplateToBranch(ctx context.Context, actor id.Actor, templateID id.WorkspaceID, branchID id.BranchID) (*models.Workspace, error) {
	if branchID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "branch id is required")
	}

	template, err := s.workspaces.FindByID(ctx, templateID)
	if err != nil {
		return nil, wrapWorkspaceErr(err)
	}
	if template.Kind != models.KindTemplate {
		return nil, dErrors.New(dErrors.CodeValidation, "source workspace is not a template")
	}

	var target *models.Workspace
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.workspaces.FindByBranch(txCtx, branchID)
		switch {
		case err == nil:
			count, err := s.checklist.CountByWorkspace(txCtx, existing.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to inspect target checklist")
			}
			if count > 0 {
				return dErrors.New(dErrors.CodeValidation, "branch workspace already contains items")
			}
			target = existing
		case errors.Is(err, sentinel.ErrNotFound):
			now := requestcontext.Now(txCtx)
			bid := branchID
			ws, err := models.NewWorkspace(id.WorkspaceID(uuid.New()), template.OrgID, &bid, models.KindBranchInstance, now)
			if err != nil {
				return err
			}
			if err := s.workspaces.CreateIfBranchAvailable(txCtx, ws); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					// Raced with a concurrent clone; the unique constraint
					// turned it into a benign duplicate rejection.
					return dErrors.New(dErrors.CodeValidation, "branch already has a workspace")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create branch workspace")
			}
			target = ws
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up branch workspace")
		}

		copied, err := s.cloner.CloneInto(txCtx, actor, template.ID, target.ID)
		if err != nil {
			return err
		}
		return s.ledger.Record(txCtx, target.ID, ledger.EntityWorkspace, target.ID.String(), "workspace.cloned", actor,
			nil, map[string]any{"template_id": template.ID.String(), "items_copied": copied})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementCloned()
	}
	return target, nil
}

// Get fetches one workspace.
func (s *Service) Get(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error) {
	ws, err := s.workspaces.FindByID(ctx, wsID)
	if err != nil {
		return nil, wrapWorkspaceErr(err)
	}
	return ws, nil
}

// RecordReadinessScore caches the latest composite readiness score on the
// workspace record. The readiness run writes its own ledger entry, so this
// only persists the cached value.
func (s *Service) RecordReadinessScore(ctx context.Context, wsID id.WorkspaceID, score int) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		ws, err := s.workspaces.FindByID(ctx, wsID)
		if err != nil {
			return wrapWorkspaceErr(err)
		}
		ws.ApplyScore(score, requestcontext.Now(ctx))
		if err := s.workspaces.Update(ctx, ws); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update workspace score")
		}
		return nil
	})
}

// ListByOrg lists workspaces for one organization, optionally filtered by status.
func (s *Service) ListByOrg(ctx context.Context, orgID id.OrgID, status models.Status) ([]models.Workspace, error) {
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "organization is required")
	}
	return s.workspaces.ListByOrg(ctx, orgID, status)
}

// SetStatus transitions a workspace. Transition to ACTIVE re-evaluates the
// full activation gate and reports every unmet condition at once so the
// caller can resolve all of them before retrying.
func (s *Service) SetStatus(ctx context.Context, actor id.Actor, wsID id.WorkspaceID, next models.Status) (*models.Workspace, error) {
	ws, err := s.workspaces.FindByID(ctx, wsID)
	if err != nil {
		return nil, wrapWorkspaceErr(err)
	}
	if err := ws.CanSetStatus(next); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid status transition")
		}
		return nil, err
	}

	if next == models.StatusActive {
		unmet, err := s.evaluateActivationGate(ctx, ws)
		if err != nil {
			return nil, err
		}
		if len(unmet) > 0 {
			if s.metrics != nil {
				s.metrics.ObserveActivation("blocked")
			}
			return nil, dErrors.NewWithDetails(dErrors.CodeValidation, "workspace cannot be activated", unmet)
		}
		if s.metrics != nil {
			s.metrics.ObserveActivation("passed")
		}
	}

	before := *ws
	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		ws.ApplyStatus(next, now)
		if err := s.workspaces.Update(txCtx, ws); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update workspace")
		}
		return s.ledger.Record(txCtx, ws.ID, ledger.EntityWorkspace, ws.ID.String(), "workspace.status_changed", actor, &before, ws)
	})
	if err != nil {
		return nil, err
	}

	s.sink.Log(ctx, opslog.Event{
		Action:     "workspace.status_changed",
		ActorID:    actor.ID.String(),
		EntityType: ledger.EntityWorkspace,
		EntityID:   ws.ID.String(),
		Metadata:   map[string]string{"from": string(before.Status), "to": string(next)},
	})
	return ws, nil
}

// evaluateActivationGate checks the fixed list of blocking conditions and
// returns every unmet one. Never short-circuits: reporting gaps one at a
// time is the failure mode this engine exists to avoid.
func (s *Service) evaluateActivationGate(ctx context.Context, ws *models.Workspace) ([]string, error) {
	var unmet []string

	hasConfig, err := s.registry.HasConfig(ctx, ws.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activation gate: registry config check failed")
	}
	if !hasConfig {
		unmet = append(unmet, "registry configuration is missing")
	}

	present, submitted, err := s.registry.ProfileState(ctx, ws.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activation gate: registry profile check failed")
	}
	if !present {
		unmet = append(unmet, "registry profile is missing")
	} else if !submitted {
		unmet = append(unmet, "registry profile has not been submitted")
	}

	empanelments, err := s.empanelments.CountByWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activation gate: empanelment check failed")
	}
	if empanelments == 0 {
		unmet = append(unmet, "no scheme empanelment exists")
	}

	criticalOpen, err := s.checklist.CountCriticalOpen(ctx, ws.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activation gate: checklist check failed")
	}
	if criticalOpen > 0 {
		unmet = append(unmet, "critical checklist items remain unresolved")
	}

	expired, err := s.evidence.CountExpired(ctx, ws.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "activation gate: evidence check failed")
	}
	if expired > 0 {
		unmet = append(unmet, "expired evidence artifacts are present")
	}

	return unmet, nil
}

func wrapWorkspaceErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "workspace not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "workspace store failure")
}
