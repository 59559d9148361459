package approval_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custos/internal/approval"
	approvalStore "custos/internal/approval/store"
	ledgersvc "custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/testutil"
)

const changeTestEcho = "TEST_ECHO"

// =============================================================================
// Approval Workflow Test Suite
// =============================================================================

type ApprovalServiceSuite struct {
	suite.Suite
	requests   *approvalStore.InMemory
	entries    *ledgerStore.InMemory
	dispatcher *approval.Dispatcher
	service    *approval.Service

	executions int
	failNext   bool

	maker   id.Actor
	checker id.Actor
	wsID    id.WorkspaceID
	ctx     context.Context
}

func TestApprovalServiceSuite(t *testing.T) {
	suite.Run(t, new(ApprovalServiceSuite))
}

func (s *ApprovalServiceSuite) SetupTest() {
	s.requests = approvalStore.NewInMemory()
	s.entries = ledgerStore.NewInMemory()
	s.dispatcher = approval.NewDispatcher()
	s.executions = 0
	s.failNext = false

	s.dispatcher.Register(changeTestEcho, func(ctx context.Context, req *approval.Request) error {
		if s.failNext {
			s.failNext = false
			return errors.New("downstream unavailable")
		}
		s.executions++
		return nil
	})

	runner := tx.NewMemoryRunner()
	s.service = approval.New(s.requests, ledgersvc.New(s.entries), s.dispatcher, runner)

	s.maker = testutil.NewActor()
	s.checker = testutil.NewActor()
	s.wsID = id.WorkspaceID(uuid.New())
	s.ctx = testutil.Ctx(s.T(), s.maker, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func (s *ApprovalServiceSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *ApprovalServiceSuite) submitted() *approval.Request {
	pending, err := s.service.RequireApproval(s.ctx, s.maker, s.wsID, changeTestEcho,
		approval.EntityRef{Type: "workspace", ID: s.wsID.String()}, json.RawMessage(`{"k":"v"}`))
	s.Require().NoError(err)
	req, err := s.service.Get(s.ctx, pending.ApprovalID)
	s.Require().NoError(err)
	return req
}

// =============================================================================
// Request Creation
// =============================================================================

func (s *ApprovalServiceSuite) TestCreate() {
	s.Run("draft requires change type", func() {
		_, err := s.service.Create(s.ctx, s.maker, s.wsID, "", approval.EntityRef{}, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("draft starts undecided", func() {
		req, err := s.service.Create(s.ctx, s.maker, s.wsID, changeTestEcho, approval.EntityRef{Type: "workspace", ID: s.wsID.String()}, nil)
		s.Require().NoError(err)
		s.Equal(approval.StatusDraft, req.Status)
		s.Nil(req.DecidedBy)
		s.Equal(approval.ExecutionNone, req.ExecutionState)
	})

	s.Run("gate entry point creates directly submitted", func() {
		req := s.submitted()
		s.Equal(approval.StatusSubmitted, req.Status)
		s.Equal(s.maker.ID, req.RequestedBy)

		page, err := s.entries.List(s.ctx, ledgersvc.Filter{EntityID: req.ID.String(), Action: "approval.submitted"}, nil, 10)
		s.NoError(err)
		s.Len(page, 1)
	})
}

// =============================================================================
// Submit
// =============================================================================

func (s *ApprovalServiceSuite) TestSubmit() {
	s.Run("draft becomes submitted", func() {
		req, err := s.service.Create(s.ctx, s.maker, s.wsID, changeTestEcho, approval.EntityRef{}, nil)
		s.Require().NoError(err)

		updated, err := s.service.Submit(s.ctx, s.maker, req.ID)
		s.NoError(err)
		s.Equal(approval.StatusSubmitted, updated.Status)
	})

	s.Run("submitting twice rejected", func() {
		req := s.submitted()
		_, err := s.service.Submit(s.ctx, s.maker, req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Decide (maker-checker rule)
// =============================================================================

func (s *ApprovalServiceSuite) TestDecide() {
	s.Run("requester cannot decide own request", func() {
		req := s.submitted()
		_, err := s.service.Decide(s.ctx, s.maker, req.ID, approval.DecisionApproved, "")
		s.Require().Error(err)
		s.Contains(err.Error(), "requester cannot decide their own request")
		s.Zero(s.executions)
	})

	s.Run("approval records decider and executes once", func() {
		req := s.submitted()
		decided, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionApproved, "looks right")
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, decided.Status)
		s.Require().NotNil(decided.DecidedBy)
		s.Equal(s.checker.ID, *decided.DecidedBy)
		s.Equal("looks right", decided.DecisionNotes)
		s.Equal(approval.ExecutionSucceeded, decided.ExecutionState)
		s.Equal(1, s.executions)
	})

	s.Run("rejection never executes", func() {
		req := s.submitted()
		decided, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionRejected, "not yet")
		s.Require().NoError(err)
		s.Equal(approval.StatusRejected, decided.Status)
		s.Equal(approval.ExecutionNone, decided.ExecutionState)
		s.Zero(s.executions)
	})

	s.Run("decided requests cannot be decided again", func() {
		req := s.submitted()
		_, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionApproved, "")
		s.Require().NoError(err)

		other := testutil.NewActor()
		_, err = s.service.Decide(s.ctx, other, req.ID, approval.DecisionRejected, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("two checkers racing on one request land exactly one verdict", func() {
		req := s.submitted()
		now := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

		// Both checkers loaded the request while it was still SUBMITTED.
		first := *req
		first.Status = approval.StatusApproved
		firstBy := s.checker.ID
		first.DecidedBy = &firstBy
		first.DecidedAt = &now
		s.Require().NoError(s.requests.RecordDecision(s.ctx, &first))

		second := *req
		second.Status = approval.StatusRejected
		secondBy := testutil.NewActor().ID
		second.DecidedBy = &secondBy
		second.DecidedAt = &now
		err := s.requests.RecordDecision(s.ctx, &second)
		s.ErrorIs(err, sentinel.ErrInvalidState)

		stored, err := s.service.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, stored.Status)
		s.Require().NotNil(stored.DecidedBy)
		s.Equal(s.checker.ID, *stored.DecidedBy)
	})

	s.Run("invalid verdict rejected", func() {
		req := s.submitted()
		_, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.Decision("MAYBE"), "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Execution Failure and Retry
// =============================================================================

func (s *ApprovalServiceSuite) TestExecutionFailure() {
	s.Run("failure preserves the decision", func() {
		req := s.submitted()
		s.failNext = true

		decided, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionApproved, "")
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, decided.Status)
		s.Equal(approval.ExecutionFailed, decided.ExecutionState)
		s.Contains(decided.ExecutionError, "downstream unavailable")

		stored, err := s.service.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(approval.StatusApproved, stored.Status)
		s.Require().NotNil(stored.DecidedBy)
		s.Equal(s.checker.ID, *stored.DecidedBy)
	})

	s.Run("retry re-runs a failed execution", func() {
		req := s.submitted()
		s.failNext = true
		_, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionApproved, "")
		s.Require().NoError(err)

		retried, err := s.service.RetryExecution(s.ctx, s.checker, req.ID)
		s.Require().NoError(err)
		s.Equal(approval.ExecutionSucceeded, retried.ExecutionState)
		s.Empty(retried.ExecutionError)
		s.Equal(1, s.executions)
	})

	s.Run("retry rejected when execution already succeeded", func() {
		req := s.submitted()
		_, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionApproved, "")
		s.Require().NoError(err)

		_, err = s.service.RetryExecution(s.ctx, s.checker, req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(1, s.executions)
	})

	s.Run("retry rejected on rejected requests", func() {
		req := s.submitted()
		_, err := s.service.Decide(s.ctx, s.checker, req.ID, approval.DecisionRejected, "")
		s.Require().NoError(err)

		_, err = s.service.RetryExecution(s.ctx, s.checker, req.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing handler marks execution failed", func() {
		pending, err := s.service.RequireApproval(s.ctx, s.maker, s.wsID, "UNWIRED_CHANGE", approval.EntityRef{}, nil)
		s.Require().NoError(err)

		decided, err := s.service.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionApproved, "")
		s.Require().NoError(err)
		s.Equal(approval.ExecutionFailed, decided.ExecutionState)
		s.Contains(decided.ExecutionError, "no handler registered")
	})
}

// =============================================================================
// Pending Queue
// =============================================================================

func (s *ApprovalServiceSuite) TestListPending() {
	first := s.submitted()
	second := s.submitted()
	_, err := s.service.Decide(s.ctx, s.checker, first.ID, approval.DecisionApproved, "")
	s.Require().NoError(err)

	pending, err := s.service.ListPending(s.ctx, s.wsID)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second.ID, pending[0].ID)
}
