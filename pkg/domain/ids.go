// Package domain holds the typed identifiers and actor value shared by all
// core components. Distinct UUID types keep a workspace ID from ever being
// passed where a branch ID is expected; the compiler enforces it.
package domain

import (
	"github.com/google/uuid"

	dErrors "custos/pkg/domain-errors"
)

type (
	// WorkspaceID identifies a compliance workspace (template or branch instance).
	WorkspaceID uuid.UUID
	// OrgID identifies the owning healthcare organization.
	OrgID uuid.UUID
	// BranchID identifies a facility branch within an organization.
	BranchID uuid.UUID
	// ActorID identifies the already-authenticated administrative actor.
	ActorID uuid.UUID
	// ApprovalID identifies a maker-checker approval request.
	ApprovalID uuid.UUID
	// ItemID identifies a readiness checklist item.
	ItemID uuid.UUID
	// EmpanelmentID identifies a scheme empanelment row.
	EmpanelmentID uuid.UUID
	// RateCardID identifies a versioned scheme rate card.
	RateCardID uuid.UUID
	// ArtifactID identifies an evidence artifact held by the evidence store.
	ArtifactID uuid.UUID
	// EntryID identifies an immutable ledger entry.
	EntryID uuid.UUID
	// ExternalRecordID identifies a record in the external operational store.
	ExternalRecordID uuid.UUID
)

func parse(kind, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is required", kind)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is not a valid uuid", kind)
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id must not be the nil uuid", kind)
	}
	return id, nil
}

func ParseWorkspaceID(raw string) (WorkspaceID, error) {
	id, err := parse("workspace", raw)
	return WorkspaceID(id), err
}

func ParseOrgID(raw string) (OrgID, error) {
	id, err := parse("org", raw)
	return OrgID(id), err
}

func ParseBranchID(raw string) (BranchID, error) {
	id, err := parse("branch", raw)
	return BranchID(id), err
}

func ParseActorID(raw string) (ActorID, error) {
	id, err := parse("actor", raw)
	return ActorID(id), err
}

func ParseApprovalID(raw string) (ApprovalID, error) {
	id, err := parse("approval", raw)
	return ApprovalID(id), err
}

func ParseItemID(raw string) (ItemID, error) {
	id, err := parse("item", raw)
	return ItemID(id), err
}

func ParseEmpanelmentID(raw string) (EmpanelmentID, error) {
	id, err := parse("empanelment", raw)
	return EmpanelmentID(id), err
}

func ParseRateCardID(raw string) (RateCardID, error) {
	id, err := parse("rate card", raw)
	return RateCardID(id), err
}

func ParseArtifactID(raw string) (ArtifactID, error) {
	id, err := parse("artifact", raw)
	return ArtifactID(id), err
}

func ParseExternalRecordID(raw string) (ExternalRecordID, error) {
	id, err := parse("external record", raw)
	return ExternalRecordID(id), err
}

// The text forms below keep JSON and database round-trips on the canonical
// uuid string representation; without them a defined uuid type encodes as a
// raw byte array.

func (id WorkspaceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id WorkspaceID) String() string { return uuid.UUID(id).String() }
func (id WorkspaceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *WorkspaceID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = WorkspaceID(u)
	return err
}
func (id OrgID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrgID) String() string { return uuid.UUID(id).String() }
func (id OrgID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *OrgID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = OrgID(u)
	return err
}
func (id BranchID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BranchID) String() string { return uuid.UUID(id).String() }
func (id BranchID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *BranchID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = BranchID(u)
	return err
}
func (id ActorID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) String() string { return uuid.UUID(id).String() }
func (id ActorID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ActorID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ActorID(u)
	return err
}
func (id ApprovalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id ApprovalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ApprovalID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ApprovalID(u)
	return err
}
func (id ItemID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ItemID) String() string { return uuid.UUID(id).String() }
func (id ItemID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ItemID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ItemID(u)
	return err
}
func (id EmpanelmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EmpanelmentID) String() string { return uuid.UUID(id).String() }
func (id EmpanelmentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *EmpanelmentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = EmpanelmentID(u)
	return err
}
func (id RateCardID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RateCardID) String() string { return uuid.UUID(id).String() }
func (id RateCardID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *RateCardID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = RateCardID(u)
	return err
}
func (id ArtifactID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ArtifactID) String() string { return uuid.UUID(id).String() }
func (id ArtifactID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ArtifactID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ArtifactID(u)
	return err
}
func (id EntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) String() string { return uuid.UUID(id).String() }
func (id EntryID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = EntryID(u)
	return err
}
func (id ExternalRecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ExternalRecordID) String() string { return uuid.UUID(id).String() }
func (id ExternalRecordID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ExternalRecordID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ExternalRecordID(u)
	return err
}
