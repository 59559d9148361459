package domain

// Actor is the already-authorized caller identity every core operation
// receives. Authentication and permission checks happen upstream; the core
// performs only the maker-checker minimum of "decider differs from
// requester". An empty scope means the actor acts platform-wide (system
// reconciliation jobs, super admins).
type Actor struct {
	ID       ActorID
	OrgID    OrgID    // optional organizational scope
	BranchID BranchID // optional branch scope
}

// System is the actor recorded for system-initiated mutations. Ledger
// entries for it carry a null actor id.
var System = Actor{}

// IsSystem reports whether this is a system-initiated action.
func (a Actor) IsSystem() bool { return a.ID.IsNil() }
