// Package scheme manages government insurance-scheme empanelments and their
// versioned rate cards. A frozen rate card and its line items are immutable;
// freezing is a sensitive change routed through the approval workflow.
package scheme

import (
	"time"

	"github.com/google/uuid"

	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
)

// EmpanelmentStatus is the scheme participation state.
type EmpanelmentStatus string

const (
	EmpanelmentPending   EmpanelmentStatus = "PENDING"
	EmpanelmentActive    EmpanelmentStatus = "ACTIVE"
	EmpanelmentSuspended EmpanelmentStatus = "SUSPENDED"
)

func (s EmpanelmentStatus) Valid() bool {
	return s == EmpanelmentPending || s == EmpanelmentActive || s == EmpanelmentSuspended
}

// Empanelment is one row per (workspace, scheme): the facility's registered
// participation in a government insurance scheme, optionally linked to the
// record the external operational store keeps for billing.
type Empanelment struct {
	ID             id.EmpanelmentID     `json:"id"`
	WorkspaceID    id.WorkspaceID       `json:"workspace_id"`
	SchemeCode     string               `json:"scheme_code"`
	RegistrationNo string               `json:"registration_no"`
	RegistryCode   string               `json:"registry_code"`
	Status         EmpanelmentStatus    `json:"status"`
	ExternalLinkID *id.ExternalRecordID `json:"external_link_id,omitempty"`
	LastSyncedAt   *time.Time           `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// CardStatus is the rate card lifecycle state.
type CardStatus string

const (
	CardDraft    CardStatus = "DRAFT"
	CardActive   CardStatus = "ACTIVE"
	CardFrozen   CardStatus = "FROZEN"
	CardArchived CardStatus = "ARCHIVED"
)

var cardTransitions = map[CardStatus][]CardStatus{
	CardDraft:    {CardActive, CardFrozen, CardArchived},
	CardActive:   {CardFrozen, CardArchived},
	CardFrozen:   {CardArchived},
	CardArchived: {},
}

func (s CardStatus) CanTransitionTo(next CardStatus) bool {
	for _, allowed := range cardTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s CardStatus) Valid() bool {
	_, ok := cardTransitions[s]
	return ok
}

// RateCard is one versioned price list per (workspace, scheme, version).
type RateCard struct {
	ID          id.RateCardID  `json:"id"`
	WorkspaceID id.WorkspaceID `json:"workspace_id"`
	SchemeCode  string         `json:"scheme_code"`
	Version     int            `json:"version"`
	Status      CardStatus     `json:"status"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	FrozenAt    *time.Time     `json:"frozen_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Mutable reports whether the card still accepts edits. FROZEN and ARCHIVED
// cards and their items reject every change.
func (c *RateCard) Mutable() bool {
	return c.Status == CardDraft || c.Status == CardActive
}

// CanFreeze checks the freeze precondition. A race between two freeze
// requests resolves as a benign duplicate rejection here.
func (c *RateCard) CanFreeze() error {
	if c.Status == CardFrozen {
		return dErrors.New(dErrors.CodeValidation, "rate card is already frozen")
	}
	if !c.Status.CanTransitionTo(CardFrozen) {
		return dErrors.Newf(dErrors.CodeValidation, "cannot freeze a %s rate card", c.Status)
	}
	return nil
}

// ApplyFreeze transitions the card to FROZEN.
func (c *RateCard) ApplyFreeze(now time.Time) {
	c.Status = CardFrozen
	c.FrozenAt = &now
	c.UpdatedAt = now
}

// Expired reports whether the card is past its expiry and not archived.
func (c *RateCard) Expired(now time.Time) bool {
	return c.Status != CardArchived && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// RateCardItem is one package line on a rate card. ExternalCode is the
// scheme's package code; InternalRef maps it to the facility's own service
// or tariff item and may be empty (unmapped).
type RateCardItem struct {
	ID           uuid.UUID     `json:"id"`
	CardID       id.RateCardID `json:"card_id"`
	ExternalCode string        `json:"external_code"`
	Name         string        `json:"name"`
	RatePaise    int64         `json:"rate_paise"`
	InternalRef  string        `json:"internal_ref,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
