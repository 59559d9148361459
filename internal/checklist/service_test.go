package checklist_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custos/internal/approval"
	"custos/internal/checklist"
	checklistStore "custos/internal/checklist/store"
	ledgersvc "custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/tx"
	"custos/pkg/testutil"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeGate struct {
	calls   int
	lastReq struct {
		changeType string
		payload    json.RawMessage
	}
	approvalID id.ApprovalID
}

func (f *fakeGate) RequireApproval(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity approval.EntityRef, payload json.RawMessage) (*approval.PendingResult, error) {
	f.calls++
	f.lastReq.changeType = changeType
	f.lastReq.payload = payload
	return &approval.PendingResult{RequiresApproval: true, ApprovalID: f.approvalID}, nil
}

type fakeEvidence struct {
	linked map[id.ItemID]bool
}

func (f *fakeEvidence) LinkExists(ctx context.Context, itemID id.ItemID) (bool, error) {
	return f.linked[itemID], nil
}

// =============================================================================
// Checklist Service Test Suite
// =============================================================================

type ChecklistServiceSuite struct {
	suite.Suite
	items    *checklistStore.InMemory
	entries  *ledgerStore.InMemory
	gate     *fakeGate
	evidence *fakeEvidence
	service  *checklist.Service

	actor id.Actor
	wsID  id.WorkspaceID
	ctx   context.Context
}

func TestChecklistServiceSuite(t *testing.T) {
	suite.Run(t, new(ChecklistServiceSuite))
}

func (s *ChecklistServiceSuite) SetupTest() {
	s.items = checklistStore.NewInMemory()
	s.entries = ledgerStore.NewInMemory()
	s.gate = &fakeGate{approvalID: id.ApprovalID(uuid.New())}
	s.evidence = &fakeEvidence{linked: map[id.ItemID]bool{}}

	runner := tx.NewMemoryRunner()
	s.service = checklist.New(s.items, ledgersvc.New(s.entries), s.gate, s.evidence, runner)

	s.actor = testutil.NewActor()
	s.wsID = id.WorkspaceID(uuid.New())
	s.ctx = testutil.Ctx(s.T(), s.actor, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC))
}

func (s *ChecklistServiceSuite) newItem(risk checklist.RiskLevel, evidenceRequired bool) *checklist.Item {
	item := &checklist.Item{
		WorkspaceID:      s.wsID,
		Category:         "SAFETY",
		Code:             "IPS-" + uuid.NewString()[:8],
		Title:            "Measurable element",
		Risk:             risk,
		EvidenceRequired: evidenceRequired,
	}
	created, err := s.service.CreateItem(s.ctx, s.actor, item)
	s.Require().NoError(err)
	return created
}

// =============================================================================
// Create
// =============================================================================

func (s *ChecklistServiceSuite) TestCreateItem() {
	s.Run("defaults to not started", func() {
		item := s.newItem(checklist.RiskMinor, false)
		s.Equal(checklist.StatusNotStarted, item.Status)
		s.False(item.ID.IsNil())
	})

	s.Run("code required", func() {
		_, err := s.service.CreateItem(s.ctx, s.actor, &checklist.Item{WorkspaceID: s.wsID})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Status Transitions
// =============================================================================

func (s *ChecklistServiceSuite) TestSetStatus() {
	s.Run("free-form moves apply directly", func() {
		item := s.newItem(checklist.RiskMinor, false)
		updated, pending, err := s.service.SetStatus(s.ctx, s.actor, item.ID, checklist.StatusInProgress)
		s.Require().NoError(err)
		s.Nil(pending)
		s.Equal(checklist.StatusInProgress, updated.Status)
	})

	s.Run("verify without mandatory evidence rejected", func() {
		item := s.newItem(checklist.RiskMinor, true)
		_, _, err := s.service.SetStatus(s.ctx, s.actor, item.ID, checklist.StatusVerified)
		s.Require().Error(err)
		s.Contains(err.Error(), "requires linked evidence")
	})

	s.Run("verify with evidence records the verifier", func() {
		item := s.newItem(checklist.RiskMajor, true)
		s.evidence.linked[item.ID] = true

		updated, pending, err := s.service.SetStatus(s.ctx, s.actor, item.ID, checklist.StatusVerified)
		s.Require().NoError(err)
		s.Nil(pending)
		s.Equal(checklist.StatusVerified, updated.Status)
		s.Require().NotNil(updated.VerifierID)
		s.Equal(s.actor.ID, *updated.VerifierID)
	})

	s.Run("critical verify defers behind the gate", func() {
		item := s.newItem(checklist.RiskCritical, false)

		unchanged, pending, err := s.service.SetStatus(s.ctx, s.actor, item.ID, checklist.StatusVerified)
		s.Require().NoError(err)
		s.Require().NotNil(pending)
		s.True(pending.RequiresApproval)
		s.Equal(s.gate.approvalID, pending.ApprovalID)
		s.Equal(approval.ChangeCriticalItemVerify, s.gate.lastReq.changeType)
		s.Equal(checklist.StatusNotStarted, unchanged.Status)

		fresh, err := s.items.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(checklist.StatusNotStarted, fresh.Status)
	})

	s.Run("unknown status rejected", func() {
		item := s.newItem(checklist.RiskMinor, false)
		_, _, err := s.service.SetStatus(s.ctx, s.actor, item.ID, checklist.ItemStatus("DONE"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Deferred Verification (dispatch handler)
// =============================================================================

func (s *ChecklistServiceSuite) TestApplyVerify() {
	s.Run("applies the deferred verification with the decider as verifier", func() {
		item := s.newItem(checklist.RiskCritical, false)
		decider := testutil.NewActor()
		deciderID := decider.ID

		payload, _ := json.Marshal(map[string]string{"item_id": item.ID.String()})
		req := &approval.Request{
			Payload:     payload,
			RequestedBy: s.actor.ID,
			DecidedBy:   &deciderID,
		}
		s.Require().NoError(s.service.ApplyVerify(s.ctx, req))

		fresh, err := s.items.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(checklist.StatusVerified, fresh.Status)
		s.Require().NotNil(fresh.VerifierID)
		s.Equal(deciderID, *fresh.VerifierID)
	})

	s.Run("idempotent on already verified items", func() {
		item := s.newItem(checklist.RiskCritical, false)
		payload, _ := json.Marshal(map[string]string{"item_id": item.ID.String()})
		req := &approval.Request{Payload: payload, RequestedBy: s.actor.ID}

		s.Require().NoError(s.service.ApplyVerify(s.ctx, req))
		before, err := s.entries.List(s.ctx, ledgersvc.Filter{EntityID: item.ID.String()}, nil, 50)
		s.Require().NoError(err)

		s.Require().NoError(s.service.ApplyVerify(s.ctx, req))
		after, err := s.entries.List(s.ctx, ledgersvc.Filter{EntityID: item.ID.String()}, nil, 50)
		s.Require().NoError(err)
		s.Len(after, len(before))
	})

	s.Run("evidence is re-checked at execution time", func() {
		item := s.newItem(checklist.RiskCritical, true)
		payload, _ := json.Marshal(map[string]string{"item_id": item.ID.String()})
		req := &approval.Request{Payload: payload, RequestedBy: s.actor.ID}

		err := s.service.ApplyVerify(s.ctx, req)
		s.Require().Error(err)
		s.Contains(err.Error(), "requires linked evidence")
	})

	s.Run("malformed payload rejected", func() {
		req := &approval.Request{Payload: json.RawMessage(`{bad`), RequestedBy: s.actor.ID}
		err := s.service.ApplyVerify(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Counts
// =============================================================================

func (s *ChecklistServiceSuite) TestCounts() {
	s.newItem(checklist.RiskCritical, false)
	critDone := s.newItem(checklist.RiskCritical, false)
	s.newItem(checklist.RiskMinor, false)

	_, _, err := s.service.SetStatus(s.ctx, s.actor, critDone.ID, checklist.StatusImplemented)
	s.Require().NoError(err)

	total, err := s.service.CountByWorkspace(s.ctx, s.wsID)
	s.Require().NoError(err)
	s.Equal(3, total)

	open, err := s.service.CountCriticalOpen(s.ctx, s.wsID)
	s.Require().NoError(err)
	s.Equal(1, open)
}
