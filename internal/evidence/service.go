package evidence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custos/internal/ledger"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, a *Artifact) error
	FindByID(ctx context.Context, aid id.ArtifactID) (*Artifact, error)
	ListByWorkspace(ctx context.Context, workspaceID id.WorkspaceID) ([]Artifact, error)
	CountByItem(ctx context.Context, itemID id.ItemID) (int, error)
}

type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType string, entityID string, action string, actor id.Actor, before, after any) error
}

type Service struct {
	store  Store
	ledger Ledger
	runner tx.Runner
	log    *slog.Logger
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func New(store Store, led Ledger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{store: store, ledger: led, runner: runner, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach records artifact metadata, optionally bound to a checklist item.
func (s *Service) Attach(ctx context.Context, actor id.Actor, workspaceID id.WorkspaceID, itemID *id.ItemID, kind, uri string, expiresAt *time.Time) (*Artifact, error) {
	if uri == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "artifact uri is required")
	}
	if kind == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "artifact kind is required")
	}
	artifact := &Artifact{
		ID:          id.ArtifactID(uuid.New()),
		WorkspaceID: workspaceID,
		ItemID:      itemID,
		Kind:        kind,
		URI:         uri,
		UploadedBy:  actor.ID,
		ExpiresAt:   expiresAt,
		CreatedAt:   requestcontext.Now(ctx),
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, artifact); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "create artifact")
		}
		return s.ledger.Record(ctx, workspaceID, ledger.EntityChecklist, artifact.ID.String(), "evidence.attached", actor, nil, artifact)
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (s *Service) Get(ctx context.Context, aid id.ArtifactID) (*Artifact, error) {
	artifact, err := s.store.FindByID(ctx, aid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "artifact not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find artifact")
	}
	return artifact, nil
}

func (s *Service) ListByWorkspace(ctx context.Context, workspaceID id.WorkspaceID) ([]Artifact, error) {
	artifacts, err := s.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list artifacts")
	}
	return artifacts, nil
}

// LinkExists satisfies the checklist verification precondition: at least one
// artifact attached to the item.
func (s *Service) LinkExists(ctx context.Context, itemID id.ItemID) (bool, error) {
	count, err := s.store.CountByItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountExpired satisfies the workspace activation gate's evidence check.
func (s *Service) CountExpired(ctx context.Context, workspaceID id.WorkspaceID) (int, error) {
	artifacts, err := s.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	now := requestcontext.Now(ctx)
	n := 0
	for i := range artifacts {
		if artifacts[i].Expired(now) {
			n++
		}
	}
	return n, nil
}

// CountExpiringWithin reports artifacts still valid but lapsing inside the
// window. Used by readiness scoring as an early warning.
func (s *Service) CountExpiringWithin(ctx context.Context, workspaceID id.WorkspaceID, window time.Duration) (int, error) {
	artifacts, err := s.store.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	now := requestcontext.Now(ctx)
	n := 0
	for i := range artifacts {
		if artifacts[i].ExpiringWithin(now, window) {
			n++
		}
	}
	return n, nil
}
