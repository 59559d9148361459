// Package schemesync reconciles scheme empanelments with the operational
// billing store that actually processes scheme claims. Governance data is
// authoritative for registration identity and frozen pricing; the
// operational store is authoritative for nothing but must mirror both.
package schemesync

import (
	"time"

	id "custos/pkg/domain"
)

// PackageItem is the structured form of one package mapping line, carried
// alongside the flat arrays the operational store's billing engine reads.
type PackageItem struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	RatePaise int64  `json:"rate_paise"`
}

// ExternalRecord mirrors one scheme registration as the operational store
// holds it, keyed by (branch, scheme type). A record is linked to at most
// one empanelment. The package mapping is the operational store's shape:
// parallel code/name/rate arrays plus the structured item list.
type ExternalRecord struct {
	ID                id.ExternalRecordID `json:"id"`
	BranchID          id.BranchID         `json:"branch_id"`
	SchemeType        string              `json:"scheme_type"`
	RegistrationNo    string              `json:"registration_no"`
	RegistryCode      string              `json:"registry_code"`
	PackageCodes      []string            `json:"package_codes,omitempty"`
	PackageNames      []string            `json:"package_names,omitempty"`
	PackageRatesPaise []int64             `json:"package_rates_paise,omitempty"`
	PackageItems      []PackageItem       `json:"package_items,omitempty"`
	LinkedTo          *id.EmpanelmentID   `json:"linked_to,omitempty"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// PushReport summarizes one push to the operational store.
type PushReport struct {
	EmpanelmentID id.EmpanelmentID    `json:"empanelment_id"`
	ExternalID    id.ExternalRecordID `json:"external_id"`
	Created       bool                `json:"created"`
	ItemsSynced   int                 `json:"items_synced"`
	CardVersion   int                 `json:"card_version,omitempty"`
	SyncedAt      time.Time           `json:"synced_at"`
}

// PullReport summarizes one pull from the operational store. Fields lists
// what actually changed; an empty list means the pull only refreshed the
// sync timestamp.
type PullReport struct {
	EmpanelmentID id.EmpanelmentID `json:"empanelment_id"`
	Fields        []string         `json:"fields,omitempty"`
	SyncedAt      time.Time        `json:"synced_at"`
}

// Health of a linked operational record.
const (
	HealthOK      = "OK"
	HealthMissing = "MISSING"
)

// EmpanelmentSync is the per-empanelment line in a status report.
// RecordHealth is set only for linked lines: OK when the operational record
// resolves, MISSING when the link points at a vanished record.
type EmpanelmentSync struct {
	EmpanelmentID id.EmpanelmentID     `json:"empanelment_id"`
	SchemeCode    string               `json:"scheme_code"`
	Linked        bool                 `json:"linked"`
	ExternalID    *id.ExternalRecordID `json:"external_id,omitempty"`
	RecordHealth  string               `json:"record_health,omitempty"`
	LastSyncedAt  *time.Time           `json:"last_synced_at,omitempty"`
}

// StatusReport shows link health for a workspace plus orphans on both
// sides: empanelments never pushed, and operational records nothing in
// governance claims.
type StatusReport struct {
	WorkspaceID     id.WorkspaceID        `json:"workspace_id"`
	Empanelments    []EmpanelmentSync     `json:"empanelments"`
	OrphanExternal  []id.ExternalRecordID `json:"orphan_external,omitempty"`
	GeneratedAt     time.Time             `json:"generated_at"`
}
