// Package readiness computes a weighted compliance score across four
// categories: registry enrollment, scheme participation, checklist
// completion and evidence freshness. A run is read-only over the other
// modules; its only writes are the cached score on the workspace and one
// ledger entry for the run itself.
package readiness

import (
	"time"

	"custos/internal/checklist"
	"custos/internal/evidence"
	"custos/internal/registry"
	"custos/internal/scheme"
	id "custos/pkg/domain"
)

// Category names one scored dimension.
type Category string

const (
	CategoryRegistry  Category = "registry"
	CategoryScheme    Category = "scheme"
	CategoryChecklist Category = "checklist"
	CategoryEvidence  Category = "evidence"
)

// Composite weights. They sum to 1; checklist completion dominates.
var weights = map[Category]float64{
	CategoryRegistry:  0.20,
	CategoryScheme:    0.25,
	CategoryChecklist: 0.40,
	CategoryEvidence:  0.15,
}

// Severity splits gaps into activation blockers and advisories.
type Severity string

const (
	SeverityBlocking Severity = "BLOCKING"
	SeverityWarning  Severity = "WARNING"
)

// Stable gap codes. Clients branch on these; messages are for humans and
// may change wording.
const (
	GapConfigMissing       = "registry.config_missing"
	GapProfileMissing      = "registry.profile_missing"
	GapProfileIncomplete   = "registry.profile_incomplete"
	GapProfileUnverified   = "registry.profile_unverified"
	GapNoProfessionals     = "registry.no_professionals"
	GapNoActiveEmpanelment = "scheme.no_active_empanelment"
	GapNoRateCard          = "scheme.no_rate_card"
	GapCardExpired         = "scheme.card_expired"
	GapUnmappedPackages    = "scheme.unmapped_packages"
	GapLinkMissing         = "scheme.link_missing"
	GapLinkBroken          = "scheme.link_broken"
	GapChecklistEmpty      = "checklist.empty"
	GapCriticalOpen        = "checklist.critical_open"
	GapMajorNotStarted     = "checklist.major_not_started"
	GapEvidenceUnlinked    = "checklist.evidence_missing"
	GapEvidenceExpired     = "evidence.expired"
	GapEvidenceExpiring    = "evidence.expiring_soon"
)

// Gap is one actionable finding from a readiness run. Ref names the entity
// that produced the gap when a single one did.
type Gap struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Ref      string   `json:"ref,omitempty"`
}

// CategoryResult is the per-category breakdown.
type CategoryResult struct {
	Score    int `json:"score"`
	Blocking int `json:"blocking"`
	Warning  int `json:"warning"`
}

// Result is the outcome of one readiness run.
type Result struct {
	WorkspaceID id.WorkspaceID              `json:"workspace_id"`
	Score       int                         `json:"score"`
	Categories  map[Category]CategoryResult `json:"categories"`
	Gaps        []Gap                       `json:"gaps"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// BlockingCount sums blocking gaps across categories.
func (r *Result) BlockingCount() int {
	n := 0
	for _, g := range r.Gaps {
		if g.Severity == SeverityBlocking {
			n++
		}
	}
	return n
}

// CardSnapshot pairs a rate card with its line items for export.
type CardSnapshot struct {
	Card  scheme.RateCard       `json:"card"`
	Items []scheme.RateCardItem `json:"items"`
}

// Snapshot is the exportable readiness report: the scored result plus every
// compliance sub-record of the workspace, suitable for handing to an auditor
// for offline review. Producing one never mutates anything beyond the score
// caching a normal run already does.
type Snapshot struct {
	WorkspaceID   id.WorkspaceID               `json:"workspace_id"`
	OrgID         id.OrgID                     `json:"org_id"`
	Status        string                       `json:"status"`
	Result        Result                       `json:"result"`
	Profile       *registry.Profile            `json:"profile,omitempty"`
	Professionals []registry.ProfessionalRecord `json:"professionals"`
	Empanelments  []scheme.Empanelment         `json:"empanelments"`
	RateCards     []CardSnapshot               `json:"rate_cards"`
	Checklist     []checklist.Item             `json:"checklist"`
	Evidence      []evidence.Artifact          `json:"evidence"`
	ExportedAt    time.Time                    `json:"exported_at"`
}
