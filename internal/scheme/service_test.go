package scheme_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custos/internal/approval"
	approvalStore "custos/internal/approval/store"
	ledgersvc "custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	"custos/internal/scheme"
	schemeStore "custos/internal/scheme/store"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/tx"
	"custos/pkg/testutil"
)

// =============================================================================
// Scheme Service Test Suite
// =============================================================================
// The freeze flow is wired through a real approval engine and dispatcher so
// the deferred execution path is exercised end to end.

type SchemeServiceSuite struct {
	suite.Suite
	store     *schemeStore.InMemory
	entries   *ledgerStore.InMemory
	approvals *approval.Service
	service   *scheme.Service

	maker   id.Actor
	checker id.Actor
	wsID    id.WorkspaceID
	ctx     context.Context
	now     time.Time
}

func TestSchemeServiceSuite(t *testing.T) {
	suite.Run(t, new(SchemeServiceSuite))
}

func (s *SchemeServiceSuite) SetupTest() {
	s.store = schemeStore.NewInMemory()
	s.entries = ledgerStore.NewInMemory()

	runner := tx.NewMemoryRunner()
	led := ledgersvc.New(s.entries)
	dispatcher := approval.NewDispatcher()
	s.approvals = approval.New(approvalStore.NewInMemory(), led, dispatcher, runner)
	s.service = scheme.New(s.store, s.approvals, led, runner)
	dispatcher.Register(approval.ChangeRateCardFreeze, s.service.ApplyFreeze)

	s.maker = testutil.NewActor()
	s.checker = testutil.NewActor()
	s.wsID = id.WorkspaceID(uuid.New())
	s.now = time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC)
	s.ctx = testutil.Ctx(s.T(), s.maker, s.now)
}

func (s *SchemeServiceSuite) newCard(version int) *scheme.RateCard {
	card, err := s.service.CreateCard(s.ctx, s.maker, s.wsID, "PMJAY", version, nil)
	s.Require().NoError(err)
	return card
}

// =============================================================================
// Empanelments
// =============================================================================

func (s *SchemeServiceSuite) TestEmpanelments() {
	s.Run("create starts pending", func() {
		emp, err := s.service.CreateEmpanelment(s.ctx, s.maker, s.wsID, "PMJAY", "HOSP-001", "NHA")
		s.Require().NoError(err)
		s.Equal(scheme.EmpanelmentPending, emp.Status)
		s.Nil(emp.LastSyncedAt)
	})

	s.Run("duplicate scheme rejected", func() {
		wsID := id.WorkspaceID(uuid.New())
		_, err := s.service.CreateEmpanelment(s.ctx, s.maker, wsID, "CGHS", "", "")
		s.Require().NoError(err)

		_, err = s.service.CreateEmpanelment(s.ctx, s.maker, wsID, "CGHS", "", "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("status moves between the three states", func() {
		emp, err := s.service.CreateEmpanelment(s.ctx, s.maker, id.WorkspaceID(uuid.New()), "ECHS", "", "")
		s.Require().NoError(err)

		updated, err := s.service.SetEmpanelmentStatus(s.ctx, s.maker, emp.ID, scheme.EmpanelmentActive)
		s.Require().NoError(err)
		s.Equal(scheme.EmpanelmentActive, updated.Status)

		_, err = s.service.SetEmpanelmentStatus(s.ctx, s.maker, emp.ID, scheme.EmpanelmentStatus("CLOSED"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("count feeds the activation gate", func() {
		wsID := id.WorkspaceID(uuid.New())
		count, err := s.service.CountByWorkspace(s.ctx, wsID)
		s.Require().NoError(err)
		s.Zero(count)

		_, err = s.service.CreateEmpanelment(s.ctx, s.maker, wsID, "PMJAY", "", "")
		s.Require().NoError(err)
		count, err = s.service.CountByWorkspace(s.ctx, wsID)
		s.Require().NoError(err)
		s.Equal(1, count)
	})
}

// =============================================================================
// Rate Cards
// =============================================================================

func (s *SchemeServiceSuite) TestRateCards() {
	s.Run("draft card accepts items", func() {
		card := s.newCard(1)
		item, err := s.service.AddCardItem(s.ctx, s.maker, card.ID, "HBP-001", "Appendectomy", 2500000, "SURG-17")
		s.Require().NoError(err)
		s.Equal(int64(2500000), item.RatePaise)

		_, items, err := s.service.GetCard(s.ctx, card.ID)
		s.Require().NoError(err)
		s.Len(items, 1)
	})

	s.Run("duplicate version rejected", func() {
		s.newCard(7)
		_, err := s.service.CreateCard(s.ctx, s.maker, s.wsID, "PMJAY", 7, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("direct freeze via status change rejected", func() {
		card := s.newCard(2)
		_, err := s.service.SetCardStatus(s.ctx, s.maker, card.ID, scheme.CardFrozen)
		s.Require().Error(err)
		s.Contains(err.Error(), "freezing requires an approval request")
	})

	s.Run("archived card cannot be reactivated", func() {
		card := s.newCard(3)
		_, err := s.service.SetCardStatus(s.ctx, s.maker, card.ID, scheme.CardArchived)
		s.Require().NoError(err)

		_, err = s.service.SetCardStatus(s.ctx, s.maker, card.ID, scheme.CardActive)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Freeze Flow (maker-checker)
// =============================================================================

func (s *SchemeServiceSuite) TestFreezeFlow() {
	s.Run("freeze defers until a checker approves", func() {
		card := s.newCard(1)
		_, err := s.service.AddCardItem(s.ctx, s.maker, card.ID, "HBP-001", "Appendectomy", 2500000, "")
		s.Require().NoError(err)

		pending, err := s.service.FreezeCard(s.ctx, s.maker, card.ID)
		s.Require().NoError(err)
		s.True(pending.RequiresApproval)

		// Still mutable until the decision lands.
		fresh, _, err := s.service.GetCard(s.ctx, card.ID)
		s.Require().NoError(err)
		s.Equal(scheme.CardDraft, fresh.Status)

		_, err = s.approvals.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionApproved, "rates verified")
		s.Require().NoError(err)

		frozen, _, err := s.service.GetCard(s.ctx, card.ID)
		s.Require().NoError(err)
		s.Equal(scheme.CardFrozen, frozen.Status)
		s.Require().NotNil(frozen.FrozenAt)

		// Frozen cards refuse modification.
		_, err = s.service.AddCardItem(s.ctx, s.maker, card.ID, "HBP-002", "Cholecystectomy", 3000000, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejection leaves the card untouched", func() {
		card := s.newCard(2)
		pending, err := s.service.FreezeCard(s.ctx, s.maker, card.ID)
		s.Require().NoError(err)

		_, err = s.approvals.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionRejected, "rates look stale")
		s.Require().NoError(err)

		fresh, _, err := s.service.GetCard(s.ctx, card.ID)
		s.Require().NoError(err)
		s.Equal(scheme.CardDraft, fresh.Status)
	})

	s.Run("maker cannot approve own freeze", func() {
		card := s.newCard(3)
		pending, err := s.service.FreezeCard(s.ctx, s.maker, card.ID)
		s.Require().NoError(err)

		_, err = s.approvals.Decide(s.ctx, s.maker, pending.ApprovalID, approval.DecisionApproved, "")
		s.Require().Error(err)
	})

	s.Run("freezing a frozen card rejected upfront", func() {
		card := s.newCard(4)
		pending, err := s.service.FreezeCard(s.ctx, s.maker, card.ID)
		s.Require().NoError(err)
		_, err = s.approvals.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionApproved, "")
		s.Require().NoError(err)

		_, err = s.service.FreezeCard(s.ctx, s.maker, card.ID)
		s.Require().Error(err)
	})

	s.Run("freeze writes a ledger entry with the decider as actor", func() {
		card := s.newCard(5)
		pending, err := s.service.FreezeCard(s.ctx, s.maker, card.ID)
		s.Require().NoError(err)
		_, err = s.approvals.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionApproved, "")
		s.Require().NoError(err)

		entries, err := s.entries.List(s.ctx, ledgersvc.Filter{EntityID: card.ID.String(), Action: "ratecard.frozen"}, nil, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Require().NotNil(entries[0].ActorID)
		s.Equal(s.checker.ID, *entries[0].ActorID)
	})
}

// =============================================================================
// Latest Frozen Card
// =============================================================================

func (s *SchemeServiceSuite) TestLatestFrozenCard() {
	s.Run("not found when nothing is frozen", func() {
		_, _, err := s.service.LatestFrozenCard(s.ctx, s.wsID, "PMJAY")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("picks the highest frozen version", func() {
		for _, version := range []int{1, 2} {
			card := s.newCard(version)
			pending, err := s.service.FreezeCard(s.ctx, s.maker, card.ID)
			s.Require().NoError(err)
			_, err = s.approvals.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionApproved, "")
			s.Require().NoError(err)
		}
		s.newCard(3) // draft, must not win

		card, _, err := s.service.LatestFrozenCard(s.ctx, s.wsID, "PMJAY")
		s.Require().NoError(err)
		s.Equal(2, card.Version)
		s.Equal(scheme.CardFrozen, card.Status)
	})
}
