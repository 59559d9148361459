// Package checklist manages accreditation checklist items. Items enter a
// workspace only by cloning from a template; status moves freely except
// VERIFIED, which demands linked evidence when mandatory and a maker-checker
// approval for CRITICAL-risk items.
package checklist

import (
	"time"

	id "custos/pkg/domain"
)

// ItemStatus tracks progress on a single measurable element.
type ItemStatus string

const (
	StatusNotStarted   ItemStatus = "NOT_STARTED"
	StatusInProgress   ItemStatus = "IN_PROGRESS"
	StatusImplemented  ItemStatus = "IMPLEMENTED"
	StatusVerified     ItemStatus = "VERIFIED"
	StatusNonCompliant ItemStatus = "NON_COMPLIANT"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusImplemented, StatusVerified, StatusNonCompliant:
		return true
	}
	return false
}

// Done reports whether the item counts toward the outcome-based checklist
// sub-score.
func (s ItemStatus) Done() bool {
	return s == StatusImplemented || s == StatusVerified
}

// RiskLevel weights an item's compliance impact.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskMajor    RiskLevel = "MAJOR"
	RiskMinor    RiskLevel = "MINOR"
)

// Item is one checklist entry (e.g. an accreditation measurable element).
type Item struct {
	ID               id.ItemID      `json:"id"`
	WorkspaceID      id.WorkspaceID `json:"workspace_id"`
	Category         string         `json:"category"`
	Code             string         `json:"code"`
	Title            string         `json:"title"`
	Status           ItemStatus     `json:"status"`
	Risk             RiskLevel      `json:"risk"`
	EvidenceRequired bool           `json:"evidence_required"`
	OwnerID          *id.ActorID    `json:"owner_id,omitempty"`
	VerifierID       *id.ActorID    `json:"verifier_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Open reports whether a CRITICAL item blocks activation.
func (i *Item) Open() bool {
	return i.Status == StatusNotStarted || i.Status == StatusNonCompliant
}
