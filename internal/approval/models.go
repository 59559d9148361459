// Package approval implements the maker-checker gate: a change proposed by
// one actor takes effect only after a second, different actor approves it.
// Execution of the deferred change is dispatched through a registry keyed by
// change-type, injected at startup.
package approval

import (
	"encoding/json"
	"time"

	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
)

// Status is the request lifecycle state. Only DRAFT requests are
// submittable; only SUBMITTED requests are decidable.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// Decision is the checker's verdict.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// ExecutionState tracks the deferred side effect separately from the
// decision. The decision record is the durable, legally meaningful fact;
// execution is best-effort and retryable.
type ExecutionState string

const (
	ExecutionNone      ExecutionState = ""
	ExecutionPending   ExecutionState = "PENDING"
	ExecutionSucceeded ExecutionState = "SUCCEEDED"
	ExecutionFailed    ExecutionState = "FAILED"
)

// Well-known change types. The enumeration is open: dispatch handlers for
// new types register at startup without touching this package.
const (
	ChangeSecretRotation     = "SECRET_ROTATION"
	ChangeRateCardFreeze     = "RATE_CARD_FREEZE"
	ChangeCriticalItemVerify = "CRITICAL_ITEM_VERIFY"
)

// EntityRef names the entity the deferred change targets.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Request is a deferred, two-party-gated change.
//
// Invariants:
//   - DecidedBy always differs from RequestedBy (anti-self-approval).
//   - A request is decided exactly once.
//   - On APPROVED, the deferred change executes exactly once per decision;
//     retries only re-run after a recorded failure.
type Request struct {
	ID             id.ApprovalID   `json:"id"`
	WorkspaceID    id.WorkspaceID  `json:"workspace_id"`
	ChangeType     string          `json:"change_type"`
	Entity         EntityRef       `json:"entity"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RequestedBy    id.ActorID      `json:"requested_by"`
	Status         Status          `json:"status"`
	DecidedBy      *id.ActorID     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	DecisionNotes  string          `json:"decision_notes,omitempty"`
	ExecutionState ExecutionState  `json:"execution_state,omitempty"`
	ExecutionError string          `json:"execution_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CanSubmit checks the DRAFT → SUBMITTED transition.
func (r *Request) CanSubmit() error {
	if r.Status != StatusDraft {
		return dErrors.Newf(dErrors.CodeValidation, "only draft requests can be submitted, request is %s", r.Status)
	}
	return nil
}

// ApplySubmit transitions the request to SUBMITTED.
func (r *Request) ApplySubmit(now time.Time) {
	r.Status = StatusSubmitted
	r.UpdatedAt = now
}

// CanDecide checks that the request is decidable and the decider is not the
// requester.
func (r *Request) CanDecide(decider id.ActorID) error {
	if r.Status != StatusSubmitted {
		return dErrors.Newf(dErrors.CodeValidation, "only submitted requests can be decided, request is %s", r.Status)
	}
	if decider == r.RequestedBy {
		return dErrors.New(dErrors.CodeValidation, "requester cannot decide their own request")
	}
	return nil
}

// ApplyDecision records the verdict. Approved requests enter execution
// PENDING until the dispatched side effect reports back.
func (r *Request) ApplyDecision(decider id.ActorID, decision Decision, notes string, now time.Time) {
	did := decider
	r.DecidedBy = &did
	r.DecidedAt = &now
	r.DecisionNotes = notes
	r.UpdatedAt = now
	if decision == DecisionApproved {
		r.Status = StatusApproved
		r.ExecutionState = ExecutionPending
	} else {
		r.Status = StatusRejected
	}
}

// PendingResult is the sentinel returned to callers whose direct mutation
// was intercepted by the gate: the operation was accepted but deferred.
type PendingResult struct {
	RequiresApproval bool          `json:"requires_approval"`
	ApprovalID       id.ApprovalID `json:"approval_id"`
}
