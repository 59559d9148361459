package scheme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custos/internal/approval"
	"custos/internal/ledger"
	"custos/internal/opslog"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/requestcontext"
)

// Store is the persistence contract for empanelments and rate cards.
type Store interface {
	CreateEmpanelment(ctx context.Context, e *Empanelment) error
	FindEmpanelment(ctx context.Context, eid id.EmpanelmentID) (*Empanelment, error)
	UpdateEmpanelment(ctx context.Context, e *Empanelment) error
	ListEmpanelments(ctx context.Context, workspaceID id.WorkspaceID) ([]Empanelment, error)
	CountEmpanelments(ctx context.Context, workspaceID id.WorkspaceID) (int, error)

	CreateCard(ctx context.Context, c *RateCard) error
	FindCard(ctx context.Context, cid id.RateCardID) (*RateCard, error)
	UpdateCard(ctx context.Context, c *RateCard) error
	ListCards(ctx context.Context, workspaceID id.WorkspaceID) ([]RateCard, error)
	LatestFrozenCard(ctx context.Context, workspaceID id.WorkspaceID, schemeCode string) (*RateCard, error)

	AddItem(ctx context.Context, it *RateCardItem) error
	ListItems(ctx context.Context, cardID id.RateCardID) ([]RateCardItem, error)
}

type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType string, entityID string, action string, actor id.Actor, before, after any) error
}

// ApprovalGate routes sensitive changes through the maker-checker workflow.
type ApprovalGate interface {
	RequireApproval(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity approval.EntityRef, payload json.RawMessage) (*approval.PendingResult, error)
}

type Service struct {
	store  Store
	gate   ApprovalGate
	ledger Ledger
	runner tx.Runner
	log    *slog.Logger
	ops    opslog.Sink
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }
func WithOpsSink(o opslog.Sink) Option { return func(s *Service) { s.ops = o } }

func New(store Store, gate ApprovalGate, led Ledger, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		gate:   gate,
		ledger: led,
		runner: runner,
		log:    slog.Default(),
		ops:    opslog.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEmpanelment registers a scheme participation. One empanelment per
// (workspace, scheme) is enforced by the store.
func (s *Service) CreateEmpanelment(ctx context.Context, actor id.Actor, workspaceID id.WorkspaceID, schemeCode, registrationNo, registryCode string) (*Empanelment, error) {
	if schemeCode == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "scheme code is required")
	}
	now := requestcontext.Now(ctx)
	emp := &Empanelment{
		ID:             id.EmpanelmentID(uuid.New()),
		WorkspaceID:    workspaceID,
		SchemeCode:     schemeCode,
		RegistrationNo: registrationNo,
		RegistryCode:   registryCode,
		Status:         EmpanelmentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateEmpanelment(ctx, emp); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeValidation, "workspace already empanelled for scheme %s", schemeCode)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create empanelment")
		}
		return s.ledger.Record(ctx, workspaceID, ledger.EntityEmpanelment, emp.ID.String(), "empanelment.created", actor, nil, emp)
	})
	if err != nil {
		return nil, err
	}
	s.ops.Log(ctx, opslog.Event{
		Action:     "empanelment.created",
		ActorID:    actor.ID.String(),
		EntityType: ledger.EntityEmpanelment,
		EntityID:   emp.ID.String(),
		Metadata:   map[string]string{"scheme": schemeCode},
		Timestamp:  now,
	})
	return emp, nil
}

// SetEmpanelmentStatus moves an empanelment between PENDING, ACTIVE and
// SUSPENDED.
func (s *Service) SetEmpanelmentStatus(ctx context.Context, actor id.Actor, eid id.EmpanelmentID, status EmpanelmentStatus) (*Empanelment, error) {
	if !status.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown empanelment status %q", status)
	}
	var emp *Empanelment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		emp, err = s.findEmpanelment(ctx, eid)
		if err != nil {
			return err
		}
		before := *emp
		emp.Status = status
		emp.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.UpdateEmpanelment(ctx, emp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update empanelment")
		}
		return s.ledger.Record(ctx, emp.WorkspaceID, ledger.EntityEmpanelment, emp.ID.String(), "empanelment.status_changed", actor, &before, emp)
	})
	if err != nil {
		return nil, err
	}
	return emp, nil
}

func (s *Service) GetEmpanelment(ctx context.Context, eid id.EmpanelmentID) (*Empanelment, error) {
	return s.findEmpanelment(ctx, eid)
}

func (s *Service) ListEmpanelments(ctx context.Context, workspaceID id.WorkspaceID) ([]Empanelment, error) {
	emps, err := s.store.ListEmpanelments(ctx, workspaceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list empanelments")
	}
	return emps, nil
}

// CountByWorkspace satisfies the workspace activation gate's counter port.
func (s *Service) CountByWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (int, error) {
	return s.store.CountEmpanelments(ctx, workspaceID)
}

// CreateCard opens a new DRAFT rate card version for a scheme.
func (s *Service) CreateCard(ctx context.Context, actor id.Actor, workspaceID id.WorkspaceID, schemeCode string, version int, expiresAt *time.Time) (*RateCard, error) {
	if schemeCode == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "scheme code is required")
	}
	if version < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "version must be positive")
	}
	now := requestcontext.Now(ctx)
	card := &RateCard{
		ID:          id.RateCardID(uuid.New()),
		WorkspaceID: workspaceID,
		SchemeCode:  schemeCode,
		Version:     version,
		Status:      CardDraft,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateCard(ctx, card); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeValidation, "rate card version %d already exists for scheme %s", version, schemeCode)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "create rate card")
		}
		return s.ledger.Record(ctx, workspaceID, ledger.EntityRateCard, card.ID.String(), "ratecard.created", actor, nil, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// AddCardItem appends a package line to a mutable card.
func (s *Service) AddCardItem(ctx context.Context, actor id.Actor, cardID id.RateCardID, externalCode, name string, ratePaise int64, internalRef string) (*RateCardItem, error) {
	if externalCode == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "external code is required")
	}
	var item *RateCardItem
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		card, err := s.findCard(ctx, cardID)
		if err != nil {
			return err
		}
		if !card.Mutable() {
			return dErrors.Newf(dErrors.CodeValidation, "%s rate card cannot be modified", card.Status)
		}
		item = &RateCardItem{
			ID:           uuid.New(),
			CardID:       cardID,
			ExternalCode: externalCode,
			Name:         name,
			RatePaise:    ratePaise,
			InternalRef:  internalRef,
			CreatedAt:    requestcontext.Now(ctx),
		}
		if err := s.store.AddItem(ctx, item); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "add rate card item")
		}
		return s.ledger.Record(ctx, card.WorkspaceID, ledger.EntityRateCard, card.ID.String(), "ratecard.item_added", actor, nil, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SetCardStatus handles the non-sensitive transitions (ACTIVE, ARCHIVED).
// FROZEN is reserved for the approval-gated FreezeCard path.
func (s *Service) SetCardStatus(ctx context.Context, actor id.Actor, cardID id.RateCardID, status CardStatus) (*RateCard, error) {
	if !status.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown card status %q", status)
	}
	if status == CardFrozen {
		return nil, dErrors.New(dErrors.CodeValidation, "freezing requires an approval request")
	}
	var card *RateCard
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		card, err = s.findCard(ctx, cardID)
		if err != nil {
			return err
		}
		if !card.Status.CanTransitionTo(status) {
			return dErrors.Newf(dErrors.CodeValidation, "cannot move rate card from %s to %s", card.Status, status)
		}
		before := *card
		card.Status = status
		card.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.UpdateCard(ctx, card); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update rate card")
		}
		return s.ledger.Record(ctx, card.WorkspaceID, ledger.EntityRateCard, card.ID.String(), "ratecard.status_changed", actor, &before, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

type freezePayload struct {
	CardID string `json:"card_id"`
}

// FreezeCard submits a RATE_CARD_FREEZE approval request. The card stays in
// its current state until a checker approves; the returned result carries the
// approval id the caller polls.
func (s *Service) FreezeCard(ctx context.Context, actor id.Actor, cardID id.RateCardID) (*approval.PendingResult, error) {
	card, err := s.findCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := card.CanFreeze(); err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(freezePayload{CardID: cardID.String()})
	return s.gate.RequireApproval(ctx, actor, card.WorkspaceID,
		approval.ChangeRateCardFreeze,
		approval.EntityRef{Type: ledger.EntityRateCard, ID: cardID.String()}, payload)
}

// ApplyFreeze is the dispatch handler for approved RATE_CARD_FREEZE requests.
// It re-reads the card so a concurrent archive is caught, and is idempotent
// on re-delivery of an already frozen card.
func (s *Service) ApplyFreeze(ctx context.Context, req *approval.Request) error {
	var payload freezePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("decode freeze payload: %w", err)
	}
	cardID, err := id.ParseRateCardID(payload.CardID)
	if err != nil {
		return fmt.Errorf("freeze payload card id: %w", err)
	}
	actor := req.RequestedBy
	if req.DecidedBy != nil {
		actor = *req.DecidedBy
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		card, err := s.findCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Status == CardFrozen {
			return nil
		}
		if !card.Status.CanTransitionTo(CardFrozen) {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "rate card moved to %s before freeze executed", card.Status)
		}
		before := *card
		card.ApplyFreeze(requestcontext.Now(ctx))
		if err := s.store.UpdateCard(ctx, card); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "freeze rate card")
		}
		return s.ledger.Record(ctx, card.WorkspaceID, ledger.EntityRateCard, card.ID.String(), "ratecard.frozen", id.Actor{ID: actor}, &before, card)
	})
}

func (s *Service) GetCard(ctx context.Context, cardID id.RateCardID) (*RateCard, []RateCardItem, error) {
	card, err := s.findCard(ctx, cardID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListItems(ctx, cardID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rate card items")
	}
	return card, items, nil
}

func (s *Service) ListCards(ctx context.Context, workspaceID id.WorkspaceID) ([]RateCard, error) {
	cards, err := s.store.ListCards(ctx, workspaceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rate cards")
	}
	return cards, nil
}

// LatestFrozenCard returns the highest frozen version for a scheme, used by
// the sync reconciler when pushing pricing to the operational store.
func (s *Service) LatestFrozenCard(ctx context.Context, workspaceID id.WorkspaceID, schemeCode string) (*RateCard, []RateCardItem, error) {
	card, err := s.store.LatestFrozenCard(ctx, workspaceID, schemeCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.Newf(dErrors.CodeNotFound, "no frozen rate card for scheme %s", schemeCode)
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "find frozen rate card")
	}
	items, err := s.store.ListItems(ctx, card.ID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rate card items")
	}
	return card, items, nil
}

// RecordSyncLink stamps the external link and sync time on an empanelment.
// Called by the reconciler after a successful push or manual link.
func (s *Service) RecordSyncLink(ctx context.Context, eid id.EmpanelmentID, linkID *id.ExternalRecordID, syncedAt time.Time) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		emp, err := s.findEmpanelment(ctx, eid)
		if err != nil {
			return err
		}
		emp.ExternalLinkID = linkID
		emp.LastSyncedAt = &syncedAt
		emp.UpdatedAt = syncedAt
		if err := s.store.UpdateEmpanelment(ctx, emp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update empanelment link")
		}
		return nil
	})
}

// ApplyPulledRegistration overwrites the registration identifiers from the
// operational store and refreshes the sync time. The reconciler records the
// ledger entry for the pull, so none is written here.
func (s *Service) ApplyPulledRegistration(ctx context.Context, eid id.EmpanelmentID, registrationNo, registryCode string, syncedAt time.Time) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		emp, err := s.findEmpanelment(ctx, eid)
		if err != nil {
			return err
		}
		emp.RegistrationNo = registrationNo
		emp.RegistryCode = registryCode
		emp.LastSyncedAt = &syncedAt
		emp.UpdatedAt = syncedAt
		if err := s.store.UpdateEmpanelment(ctx, emp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "apply pulled registration")
		}
		return nil
	})
}

func (s *Service) findEmpanelment(ctx context.Context, eid id.EmpanelmentID) (*Empanelment, error) {
	emp, err := s.store.FindEmpanelment(ctx, eid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "empanelment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find empanelment")
	}
	return emp, nil
}

func (s *Service) findCard(ctx context.Context, cardID id.RateCardID) (*RateCard, error) {
	card, err := s.store.FindCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rate card not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find rate card")
	}
	return card, nil
}
