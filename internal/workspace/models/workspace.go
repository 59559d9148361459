package models

import (
	"time"

	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
)

// Kind distinguishes reusable templates from concrete branch instances.
type Kind string

const (
	KindTemplate       Kind = "TEMPLATE"
	KindBranchInstance Kind = "BRANCH_INSTANCE"
)

func (k Kind) Valid() bool {
	return k == KindTemplate || k == KindBranchInstance
}

// Status is the workspace lifecycle state.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

var statusTransitions = map[Status][]Status{
	StatusDraft:    {StatusActive, StatusArchived},
	StatusActive:   {StatusArchived},
	StatusArchived: {},
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// ARCHIVED is terminal for active use; records stay for audit.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Workspace is the root tenant-scoped unit of compliance tracking.
//
// Invariants:
//   - At most one BRANCH_INSTANCE workspace exists per branch (store-level
//     unique constraint).
//   - A BRANCH_INSTANCE always carries a branch id; a TEMPLATE never does.
//   - Transition to ACTIVE passes the activation gate, which re-evaluates
//     every blocking condition and reports all unmet ones at once.
type Workspace struct {
	ID             id.WorkspaceID `json:"id"`
	OrgID          id.OrgID       `json:"org_id"`
	BranchID       *id.BranchID   `json:"branch_id,omitempty"` // nil for templates
	Kind           Kind           `json:"kind"`
	Status         Status         `json:"status"`
	ReadinessScore *int           `json:"readiness_score,omitempty"`
	LastScoredAt   *time.Time     `json:"last_scored_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewWorkspace validates invariants and constructs a workspace in DRAFT.
func NewWorkspace(wsID id.WorkspaceID, orgID id.OrgID, branchID *id.BranchID, kind Kind, now time.Time) (*Workspace, error) {
	if !kind.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown workspace kind")
	}
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "organization is required")
	}
	if kind == KindBranchInstance && (branchID == nil || branchID.IsNil()) {
		return nil, dErrors.New(dErrors.CodeValidation, "branch workspace requires a branch id")
	}
	if kind == KindTemplate && branchID != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "template workspace must not carry a branch id")
	}
	return &Workspace{
		ID:        wsID,
		OrgID:     orgID,
		BranchID:  branchID,
		Kind:      kind,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanSetStatus checks whether the transition is allowed by the state machine
// alone. The ACTIVE gate conditions are enforced at the service layer on top
// of this.
func (w *Workspace) CanSetStatus(next Status) error {
	if !next.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unknown workspace status")
	}
	if !w.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot transition workspace from %s to %s", w.Status, next)
	}
	return nil
}

// ApplyStatus transitions the workspace. Call CanSetStatus first.
func (w *Workspace) ApplyStatus(next Status, now time.Time) {
	w.Status = next
	w.UpdatedAt = now
}

// ApplyScore caches a readiness score on the record.
func (w *Workspace) ApplyScore(score int, now time.Time) {
	w.ReadinessScore = &score
	w.LastScoredAt = &now
	w.UpdatedAt = now
}
