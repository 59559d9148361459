package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"custos/internal/ledger"
	"custos/internal/opslog"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/requestcontext"
)

// Store persists approval requests. RecordDecision writes the verdict only
// while the stored row is still SUBMITTED, so concurrent deciders cannot
// both land; the loser gets sentinel.ErrInvalidState.
type Store interface {
	Create(ctx context.Context, req *Request) error
	FindByID(ctx context.Context, approvalID id.ApprovalID) (*Request, error)
	Update(ctx context.Context, req *Request) error
	RecordDecision(ctx context.Context, req *Request) error
	ListByWorkspace(ctx context.Context, wsID id.WorkspaceID, status Status) ([]Request, error)
}

// Ledger records one entry per logical change within the caller's unit of work.
type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType, entityID, action string, actor id.Actor, before, after any) error
}

// Service is the approval workflow engine.
type Service struct {
	requests   Store
	ledger     Ledger
	dispatcher *Dispatcher
	runner     tx.Runner
	sink       opslog.Sink
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithOpsSink(sink opslog.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func New(requests Store, led Ledger, dispatcher *Dispatcher, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		requests:   requests,
		ledger:     led,
		dispatcher: dispatcher,
		runner:     runner,
		sink:       opslog.Noop{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a request in DRAFT for the human-initiated two-step path,
// where the draft may still be edited before submission.
func (s *Service) Create(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity EntityRef, payload json.RawMessage) (*Request, error) {
	req, err := s.newRequest(ctx, requester, wsID, changeType, entity, payload, StatusDraft)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RequireApproval is the entry point other components use to short-circuit
// an otherwise-direct sensitive mutation. The caller has already validated
// intent, so the request is created directly in SUBMITTED. The returned
// sentinel lets the caller answer "pending" instead of "done".
func (s *Service) RequireApproval(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity EntityRef, payload json.RawMessage) (*PendingResult, error) {
	req, err := s.newRequest(ctx, requester, wsID, changeType, entity, payload, StatusSubmitted)
	if err != nil {
		return nil, err
	}
	return &PendingResult{RequiresApproval: true, ApprovalID: req.ID}, nil
}

func (s *Service) newRequest(ctx context.Context, requester id.Actor, wsID id.WorkspaceID, changeType string, entity EntityRef, payload json.RawMessage, status Status) (*Request, error) {
	if changeType == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "change type is required")
	}
	if requester.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "requester is required")
	}
	if wsID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "workspace is required")
	}

	now := requestcontext.Now(ctx)
	req := &Request{
		ID:          id.ApprovalID(uuid.New()),
		WorkspaceID: wsID,
		ChangeType:  changeType,
		Entity:      entity,
		Payload:     payload,
		RequestedBy: requester.ID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	action := "approval.created"
	if status == StatusSubmitted {
		action = "approval.submitted"
	}
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.requests.Create(txCtx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval request")
		}
		return s.ledger.Record(txCtx, wsID, ledger.EntityApproval, req.ID.String(), action, requester, nil, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Submit moves a DRAFT request to SUBMITTED.
func (s *Service) Submit(ctx context.Context, actor id.Actor, approvalID id.ApprovalID) (*Request, error) {
	req, err := s.find(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if err := req.CanSubmit(); err != nil {
		return nil, err
	}

	before := *req
	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		req.ApplySubmit(now)
		if err := s.requests.Update(txCtx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to submit approval request")
		}
		return s.ledger.Record(txCtx, req.WorkspaceID, ledger.EntityApproval, req.ID.String(), "approval.submitted", actor, &before, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Decide records the checker's verdict. The decision is durable before any
// execution starts; on APPROVED the deferred change then runs outside the
// decision transaction. Execution failure never reverts the decision; it is
// recorded on the request, logged, and surfaced to operators for retry.
func (s *Service) Decide(ctx context.Context, decider id.Actor, approvalID id.ApprovalID, decision Decision, notes string) (*Request, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, dErrors.New(dErrors.CodeValidation, "decision must be APPROVED or REJECTED")
	}
	req, err := s.find(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if err := req.CanDecide(decider.ID); err != nil {
		return nil, err
	}

	before := *req
	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		req.ApplyDecision(decider.ID, decision, notes, now)
		if err := s.requests.RecordDecision(txCtx, req); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeValidation, "request is no longer SUBMITTED")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
		}
		return s.ledger.Record(txCtx, req.WorkspaceID, ledger.EntityApproval, req.ID.String(), "approval.decided", decider, &before, req)
	})
	if err != nil {
		return nil, err
	}

	if req.Status == StatusApproved {
		s.execute(ctx, decider, req)
	}
	return req, nil
}

// RetryExecution re-runs the dispatched side effect for an APPROVED request
// whose previous execution failed.
func (s *Service) RetryExecution(ctx context.Context, actor id.Actor, approvalID id.ApprovalID) (*Request, error) {
	req, err := s.find(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusApproved {
		return nil, dErrors.New(dErrors.CodeValidation, "only approved requests have executions")
	}
	if req.ExecutionState != ExecutionFailed {
		return nil, dErrors.Newf(dErrors.CodeValidation, "execution is %s, not FAILED", req.ExecutionState)
	}
	s.execute(ctx, actor, req)
	return req, nil
}

// execute runs the dispatched side effect and records its outcome. Best
// effort: failures mark the request FAILED and alert the ops sink; they must
// never propagate into the decision path.
func (s *Service) execute(ctx context.Context, actor id.Actor, req *Request) {
	handler, err := s.dispatcher.lookup(req.ChangeType)
	if err == nil {
		err = handler(ctx, req)
	}

	now := requestcontext.Now(ctx)
	before := *req
	if err != nil {
		req.ExecutionState = ExecutionFailed
		req.ExecutionError = err.Error()
	} else {
		req.ExecutionState = ExecutionSucceeded
		req.ExecutionError = ""
	}
	req.UpdatedAt = now

	recordErr := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.requests.Update(txCtx, req); err != nil {
			return err
		}
		return s.ledger.Record(txCtx, req.WorkspaceID, ledger.EntityApproval, req.ID.String(), "approval.executed", actor, &before, req)
	})
	if recordErr != nil {
		s.logger.Error("failed to record approval execution outcome",
			"approval_id", req.ID.String(), "error", recordErr)
	}

	if err != nil {
		s.logger.Error("approval execution failed",
			"approval_id", req.ID.String(), "change_type", req.ChangeType, "error", err)
		s.sink.Log(ctx, opslog.Event{
			Action:     "approval.execution_failed",
			ActorID:    actor.ID.String(),
			EntityType: ledger.EntityApproval,
			EntityID:   req.ID.String(),
			Metadata:   map[string]string{"change_type": req.ChangeType, "error": err.Error()},
		})
	}
}

// Get fetches one request.
func (s *Service) Get(ctx context.Context, approvalID id.ApprovalID) (*Request, error) {
	return s.find(ctx, approvalID)
}

// ListPending lists SUBMITTED requests awaiting a checker for one workspace.
func (s *Service) ListPending(ctx context.Context, wsID id.WorkspaceID) ([]Request, error) {
	return s.requests.ListByWorkspace(ctx, wsID, StatusSubmitted)
}

func (s *Service) find(ctx context.Context, approvalID id.ApprovalID) (*Request, error) {
	req, err := s.requests.FindByID(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "approval store failure")
	}
	return req, nil
}
