package checklist

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

// Store persists checklist items.
type Store interface {
	Create(ctx context.Context, item *Item) error
	FindByID(ctx context.Context, itemID id.ItemID) (*Item, error)
	Update(ctx context.Context, item *Item) error
	ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]Item, error)
	CountByWorkspace(ctx context.Context, wsID id.WorkspaceID) (int, error)
	CountCriticalOpen(ctx context.Context, wsID id.WorkspaceID) (int, error)
}

// Ledger records one entry per logical change within the caller's unit of work.
type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType, entityID, action string, actor id.Actor, before, after any) error
}

// ApprovalGate defers sensitive changes behind the maker-checker rule.
type ApprovalGate interface {
	RequireApproval(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity approval.EntityRef, payload json.RawMessage) (*approval.PendingResult, error)
}

// EvidenceChecker answers whether an evidence artifact is linked to an item.
type EvidenceChecker interface {
	LinkExists(ctx context.Context, itemID id.ItemID) (bool, error)
}

// Service manages checklist items.
type Service struct {
	items    Store
	ledger   Ledger
	gate     ApprovalGate
	evidence EvidenceChecker
	runner   tx.Runner
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(items Store, led Ledger, gate ApprovalGate, evidence EvidenceChecker, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		items:    items,
		ledger:   led,
		gate:     gate,
		evidence: evidence,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateItem adds an item to a template workspace. Branch workspaces receive
// items exclusively through cloning.
func (s *Service) CreateItem(ctx context.Context, actor id.Actor, item *Item) (*Item, error) {
	if item.Code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "item code is required")
	}
	if item.WorkspaceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workspace is required")
	}
	if item.Status == "" {
		item.Status = StatusNotStarted
	}
	if !item.Status.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown item status")
	}

	now := requestcontext.Now(ctx)
	item.ID = id.ItemID(uuid.New())
	item.CreatedAt = now
	item.UpdatedAt = now

	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.items.Create(txCtx, item); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create checklist item")
		}
		return s.ledger.Record(txCtx, item.WorkspaceID, ledger.EntityChecklist, item.ID.String(), "checklist.item_created", actor, nil, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CloneInto deep-copies every item of the template workspace into the target
// with fresh NOT_STARTED status and no owner, verifier, or evidence linkage.
// The caller guarantees the target has zero items.
func (s *Service) CloneInto(ctx context.Context, actor id.Actor, templateID, targetID id.WorkspaceID) (int, error) {
	source, err := s.items.ListByWorkspace(ctx, templateID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read template items")
	}

	now := requestcontext.Now(ctx)
	copied := 0
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		for _, tmpl := range source {
			item := Item{
				ID:               id.ItemID(uuid.New()),
				WorkspaceID:      targetID,
				Category:         tmpl.Category,
				Code:             tmpl.Code,
				Title:            tmpl.Title,
				Status:           StatusNotStarted,
				Risk:             tmpl.Risk,
				EvidenceRequired: tmpl.EvidenceRequired,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.items.Create(txCtx, &item); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to copy checklist item")
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

// SetStatus moves an item. Transitions are free-form except VERIFIED, which
// requires mandatory evidence to be linked and, for CRITICAL-risk items,
// routes through the approval workflow instead of applying directly. When
// the change is deferred, the returned PendingResult is non-nil and the item
// is unchanged.
func (s *Service) SetStatus(ctx context.Context, actor id.Actor, itemID id.ItemID, next ItemStatus) (*Item, *approval.PendingResult, error) {
	if !next.Valid() {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "unknown item status")
	}
	item, err := s.find(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}

	if next == StatusVerified {
		if err := s.checkEvidence(ctx, item); err != nil {
			return nil, nil, err
		}
		if item.Risk == RiskCritical {
			payload, _ := json.Marshal(verifyPayload{ItemID: item.ID.String()})
			pending, err := s.gate.RequireApproval(ctx, actor, item.WorkspaceID, approval.ChangeCriticalItemVerify,
				approval.EntityRef{Type: ledger.EntityChecklist, ID: item.ID.String()}, payload)
			if err != nil {
				return nil, nil, err
			}
			return item, pending, nil
		}
	}

	updated, err := s.applyStatus(ctx, actor, item, next)
	if err != nil {
		return nil, nil, err
	}
	return updated, nil, nil
}

// verifyPayload is the draft payload for CRITICAL_ITEM_VERIFY approvals.
type verifyPayload struct {
	ItemID string `json:"item_id"`
}

// ApplyVerify is the dispatch handler for CRITICAL_ITEM_VERIFY: it performs
// the verification the approval deferred. Idempotent: verifying an already
// VERIFIED item is a no-op.
func (s *Service) ApplyVerify(ctx context.Context, req *approval.Request) error {
	var payload verifyPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return dErrors.New(dErrors.CodeValidation, "malformed verify payload")
	}
	itemID, err := id.ParseItemID(payload.ItemID)
	if err != nil {
		return err
	}

	item, err := s.find(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status == StatusVerified {
		return nil
	}
	if err := s.checkEvidence(ctx, item); err != nil {
		return err
	}

	decider := id.Actor{ID: req.RequestedBy}
	if req.DecidedBy != nil {
		decider = id.Actor{ID: *req.DecidedBy}
	}
	_, err = s.applyStatus(ctx, decider, item, StatusVerified)
	return err
}

func (s *Service) applyStatus(ctx context.Context, actor id.Actor, item *Item, next ItemStatus) (*Item, error) {
	before := *item
	now := requestcontext.Now(ctx)
	item.Status = next
	item.UpdatedAt = now
	if next == StatusVerified {
		verifier := actor.ID
		item.VerifierID = &verifier
	}

	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.items.Update(txCtx, item); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update checklist item")
		}
		return s.ledger.Record(txCtx, item.WorkspaceID, ledger.EntityChecklist, item.ID.String(), "checklist.status_changed", actor, &before, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) checkEvidence(ctx context.Context, item *Item) error {
	if !item.EvidenceRequired {
		return nil
	}
	linked, err := s.evidence.LinkExists(ctx, item.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "evidence lookup failed")
	}
	if !linked {
		return dErrors.New(dErrors.CodeValidation, "item requires linked evidence before verification")
	}
	return nil
}

// List returns every item in a workspace.
func (s *Service) List(ctx context.Context, wsID id.WorkspaceID) ([]Item, error) {
	return s.items.ListByWorkspace(ctx, wsID)
}

// ListByWorkspace is an alias for List, matching the reader ports other
// modules declare.
func (s *Service) ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]Item, error) {
	return s.items.ListByWorkspace(ctx, wsID)
}

// CountByWorkspace reports how many items the workspace carries.
func (s *Service) CountByWorkspace(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	return s.items.CountByWorkspace(ctx, wsID)
}

// CountCriticalOpen counts CRITICAL items still NOT_STARTED or NON_COMPLIANT.
func (s *Service) CountCriticalOpen(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	return s.items.CountCriticalOpen(ctx, wsID)
}

func (s *Service) find(ctx context.Context, itemID id.ItemID) (*Item, error) {
	item, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "checklist item not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "checklist store failure")
	}
	return item, nil
}
