package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"custos/internal/checklist"
	"custos/internal/evidence"
	"custos/internal/ledger"
	"custos/internal/readiness/metrics"
	"custos/internal/registry"
	"custos/internal/scheme"
	"custos/internal/schemesync"
	"custos/internal/workspace/models"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/requestcontext"
)

// evidenceWarningWindow is how far ahead an artifact expiry counts as a
// warning rather than being ignored.
const evidenceWarningWindow = 30 * 24 * time.Hour

// unmappedWarnRatio is the share of rate card lines without an internal
// tariff mapping above which the scheme category takes a warning.
const unmappedWarnRatio = 0.20

type WorkspaceSource interface {
	Get(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error)
	RecordReadinessScore(ctx context.Context, wsID id.WorkspaceID, score int) error
}

type RegistrySource interface {
	Readiness(ctx context.Context, wsID id.WorkspaceID) (registry.ReadinessView, error)
	GetProfile(ctx context.Context, wsID id.WorkspaceID) (*registry.Profile, error)
	ListProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) ([]registry.ProfessionalRecord, error)
}

type SchemeSource interface {
	ListEmpanelments(ctx context.Context, wsID id.WorkspaceID) ([]scheme.Empanelment, error)
	ListCards(ctx context.Context, wsID id.WorkspaceID) ([]scheme.RateCard, error)
	GetCard(ctx context.Context, cardID id.RateCardID) (*scheme.RateCard, []scheme.RateCardItem, error)
}

type ChecklistSource interface {
	ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]checklist.Item, error)
}

type EvidenceSource interface {
	ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]evidence.Artifact, error)
	LinkExists(ctx context.Context, itemID id.ItemID) (bool, error)
}

// ExternalSource resolves operational-store records so the scheme category
// can judge link health per empanelment.
type ExternalSource interface {
	FindByID(ctx context.Context, rid id.ExternalRecordID) (*schemesync.ExternalRecord, error)
}

type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType string, entityID string, action string, actor id.Actor, before, after any) error
}

// Cache holds recent results so repeated dashboard polls do not re-score.
type Cache interface {
	Get(ctx context.Context, wsID id.WorkspaceID) (*Result, bool)
	Set(ctx context.Context, wsID id.WorkspaceID, res *Result)
}

// Validator runs readiness scoring. Category scorers run concurrently; a
// failure in any category fails the whole run rather than reporting a
// partial score.
type Validator struct {
	workspaces WorkspaceSource
	registry   RegistrySource
	schemes    SchemeSource
	checklist  ChecklistSource
	evidence   EvidenceSource
	external   ExternalSource
	ledger     Ledger
	cache      Cache
	log        *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Validator)

func WithLogger(l *slog.Logger) Option      { return func(v *Validator) { v.log = l } }
func WithCache(c Cache) Option              { return func(v *Validator) { v.cache = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(v *Validator) { v.metrics = m } }

func New(workspaces WorkspaceSource, reg RegistrySource, schemes SchemeSource, cl ChecklistSource, ev EvidenceSource, external ExternalSource, led Ledger, opts ...Option) *Validator {
	v := &Validator{
		workspaces: workspaces,
		registry:   reg,
		schemes:    schemes,
		checklist:  cl,
		evidence:   ev,
		external:   external,
		ledger:     led,
		cache:      noopCache{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run scores the workspace, persists the composite on the workspace record
// and writes one ledger entry for the run.
func (v *Validator) Run(ctx context.Context, actor id.Actor, wsID id.WorkspaceID) (*Result, error) {
	ctx, span := otel.Tracer("custos/readiness").Start(ctx, "readiness.run")
	defer span.End()
	span.SetAttributes(attribute.String("workspace.id", wsID.String()))
	started := time.Now()

	ws, err := v.workspaces.Get(ctx, wsID)
	if err != nil {
		return nil, err
	}

	var (
		regResult CategoryResult
		schResult CategoryResult
		chkResult CategoryResult
		evResult  CategoryResult
		regGaps   []Gap
		schGaps   []Gap
		chkGaps   []Gap
		evGaps    []Gap
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		regResult, regGaps, err = v.scoreRegistry(gctx, wsID)
		return err
	})
	g.Go(func() error {
		var err error
		schResult, schGaps, err = v.scoreScheme(gctx, wsID)
		return err
	})
	g.Go(func() error {
		var err error
		chkResult, chkGaps, err = v.scoreChecklist(gctx, wsID)
		return err
	})
	g.Go(func() error {
		var err error
		evResult, evGaps, err = v.scoreEvidence(gctx, wsID)
		return err
	})
	if err := g.Wait(); err != nil {
		if v.metrics != nil {
			v.metrics.ObserveRun("error", time.Since(started))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "readiness scoring")
	}

	result := &Result{
		WorkspaceID: wsID,
		Categories: map[Category]CategoryResult{
			CategoryRegistry:  regResult,
			CategoryScheme:    schResult,
			CategoryChecklist: chkResult,
			CategoryEvidence:  evResult,
		},
		GeneratedAt: requestcontext.Now(ctx),
	}
	result.Gaps = append(result.Gaps, regGaps...)
	result.Gaps = append(result.Gaps, schGaps...)
	result.Gaps = append(result.Gaps, chkGaps...)
	result.Gaps = append(result.Gaps, evGaps...)

	composite := 0.0
	for cat, res := range result.Categories {
		composite += weights[cat] * float64(res.Score)
	}
	result.Score = int(math.Round(composite))
	span.SetAttributes(attribute.Int("readiness.score", result.Score))

	if err := v.workspaces.RecordReadinessScore(ctx, wsID, result.Score); err != nil {
		return nil, err
	}
	summary := struct {
		Score    int `json:"score"`
		Blocking int `json:"blocking"`
		Gaps     int `json:"gaps"`
	}{result.Score, result.BlockingCount(), len(result.Gaps)}
	if err := v.ledger.Record(ctx, wsID, ledger.EntityReadiness, ws.ID.String(), "readiness.scored", actor, nil, summary); err != nil {
		return nil, err
	}

	v.cache.Set(ctx, wsID, result)
	if v.metrics != nil {
		v.metrics.ObserveRun("ok", time.Since(started))
		v.metrics.ObserveScore(result.Score)
	}
	v.log.InfoContext(ctx, "readiness run complete",
		"workspace_id", wsID, "score", result.Score, "gaps", len(result.Gaps))
	return result, nil
}

// Latest serves the cached result when fresh, falling back to a full run.
func (v *Validator) Latest(ctx context.Context, actor id.Actor, wsID id.WorkspaceID) (*Result, error) {
	if res, ok := v.cache.Get(ctx, wsID); ok {
		return res, nil
	}
	return v.Run(ctx, actor, wsID)
}

// Export produces the full audit snapshot: a freshly scored result plus
// every compliance sub-record of the workspace. A workspace without a
// facility profile exports with a nil profile rather than failing.
func (v *Validator) Export(ctx context.Context, actor id.Actor, wsID id.WorkspaceID) (*Snapshot, error) {
	ws, err := v.workspaces.Get(ctx, wsID)
	if err != nil {
		return nil, err
	}
	result, err := v.Run(ctx, actor, wsID)
	if err != nil {
		return nil, err
	}

	profile, err := v.registry.GetProfile(ctx, wsID)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, err
	}
	professionals, err := v.registry.ListProfessionalRecords(ctx, wsID)
	if err != nil {
		return nil, err
	}
	emps, err := v.schemes.ListEmpanelments(ctx, wsID)
	if err != nil {
		return nil, err
	}
	cards, err := v.schemes.ListCards(ctx, wsID)
	if err != nil {
		return nil, err
	}
	cardSnaps := make([]CardSnapshot, 0, len(cards))
	for i := range cards {
		_, items, err := v.schemes.GetCard(ctx, cards[i].ID)
		if err != nil {
			return nil, err
		}
		cardSnaps = append(cardSnaps, CardSnapshot{Card: cards[i], Items: items})
	}
	items, err := v.checklist.ListByWorkspace(ctx, wsID)
	if err != nil {
		return nil, err
	}
	artifacts, err := v.evidence.ListByWorkspace(ctx, wsID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		WorkspaceID:   ws.ID,
		OrgID:         ws.OrgID,
		Status:        string(ws.Status),
		Result:        *result,
		Profile:       profile,
		Professionals: professionals,
		Empanelments:  emps,
		RateCards:     cardSnaps,
		Checklist:     items,
		Evidence:      artifacts,
		ExportedAt:    requestcontext.Now(ctx),
	}, nil
}

// maxEmptyWarn is how many empty required profile fields stay a warning.
// Above it the profile counts as critically incomplete and blocks.
const maxEmptyWarn = 3

// scoreRegistry: 100 minus 25 per blocking and 10 per warning, floored at 0.
func (v *Validator) scoreRegistry(ctx context.Context, wsID id.WorkspaceID) (CategoryResult, []Gap, error) {
	view, err := v.registry.Readiness(ctx, wsID)
	if err != nil {
		return CategoryResult{}, nil, fmt.Errorf("registry view: %w", err)
	}
	var gaps []Gap
	if !view.HasConfig {
		gaps = append(gaps, blocking(CategoryRegistry, GapConfigMissing, "registry integration is not configured"))
	}
	if !view.ProfileExists {
		gaps = append(gaps, blocking(CategoryRegistry, GapProfileMissing, "facility profile has not been created"))
	} else {
		msg := fmt.Sprintf("facility profile has %d empty required fields", view.EmptyRequired)
		switch {
		case view.EmptyRequired > maxEmptyWarn:
			gaps = append(gaps, blocking(CategoryRegistry, GapProfileIncomplete, msg))
		case view.EmptyRequired > 0:
			gaps = append(gaps, warning(CategoryRegistry, GapProfileIncomplete, msg))
		}
		if !view.ProfileVerified {
			gaps = append(gaps, warning(CategoryRegistry, GapProfileUnverified, "facility profile has not been verified"))
		}
	}
	if view.ProfessionalCount == 0 {
		gaps = append(gaps, warning(CategoryRegistry, GapNoProfessionals, "no professional registry records linked"))
	}
	return tally(gaps, 25, 10), gaps, nil
}

// scoreScheme: 100 minus 30 per blocking and 10 per warning, floored at 0.
func (v *Validator) scoreScheme(ctx context.Context, wsID id.WorkspaceID) (CategoryResult, []Gap, error) {
	emps, err := v.schemes.ListEmpanelments(ctx, wsID)
	if err != nil {
		return CategoryResult{}, nil, fmt.Errorf("list empanelments: %w", err)
	}
	cards, err := v.schemes.ListCards(ctx, wsID)
	if err != nil {
		return CategoryResult{}, nil, fmt.Errorf("list rate cards: %w", err)
	}

	var gaps []Gap
	activeEmps := 0
	for i := range emps {
		emp := &emps[i]
		if emp.Status != scheme.EmpanelmentActive {
			continue
		}
		activeEmps++
		g, err := v.linkGap(ctx, emp)
		if err != nil {
			return CategoryResult{}, nil, err
		}
		if g != nil {
			gaps = append(gaps, *g)
		}
	}
	if activeEmps == 0 {
		gaps = append(gaps, blocking(CategoryScheme, GapNoActiveEmpanelment, "no active scheme empanelment"))
	}

	now := requestcontext.Now(ctx)
	nonArchived := 0
	var items, unmapped int
	for i := range cards {
		card := &cards[i]
		if card.Status != scheme.CardArchived {
			nonArchived++
		}
		if card.Status == scheme.CardFrozen || card.Status == scheme.CardActive {
			_, lines, err := v.schemes.GetCard(ctx, card.ID)
			if err != nil {
				return CategoryResult{}, nil, fmt.Errorf("card %s items: %w", card.ID, err)
			}
			items += len(lines)
			for j := range lines {
				if lines[j].InternalRef == "" {
					unmapped++
				}
			}
		}
		if card.Expired(now) {
			gaps = append(gaps, warningAt(CategoryScheme, GapCardExpired, card.ID.String(),
				fmt.Sprintf("rate card %s v%d expired but is not archived", card.SchemeCode, card.Version)))
		}
	}
	if nonArchived == 0 {
		gaps = append(gaps, blocking(CategoryScheme, GapNoRateCard, "no rate card outside ARCHIVED"))
	}
	if items > 0 && float64(unmapped)/float64(items) > unmappedWarnRatio {
		gaps = append(gaps, warning(CategoryScheme, GapUnmappedPackages, fmt.Sprintf("%d of %d package lines lack an internal tariff mapping", unmapped, items)))
	}
	return tally(gaps, 30, 10), gaps, nil
}

// linkGap judges the external-store linkage of one active empanelment:
// unlinked, linked to a vanished record, or linked to a record the
// operational side no longer claims for it.
func (v *Validator) linkGap(ctx context.Context, emp *scheme.Empanelment) (*Gap, error) {
	if emp.ExternalLinkID == nil {
		g := warningAt(CategoryScheme, GapLinkMissing, emp.ID.String(),
			fmt.Sprintf("active empanelment %s is not linked to the operational store", emp.SchemeCode))
		return &g, nil
	}
	rec, err := v.external.FindByID(ctx, *emp.ExternalLinkID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		g := warningAt(CategoryScheme, GapLinkBroken, emp.ID.String(),
			fmt.Sprintf("operational record linked to empanelment %s no longer exists", emp.SchemeCode))
		return &g, nil
	case err != nil:
		return nil, fmt.Errorf("find external record: %w", err)
	}
	if rec.LinkedTo == nil || *rec.LinkedTo != emp.ID {
		g := warningAt(CategoryScheme, GapLinkBroken, emp.ID.String(),
			fmt.Sprintf("operational record no longer claims empanelment %s", emp.SchemeCode))
		return &g, nil
	}
	return nil, nil
}

// scoreChecklist is the completion percentage. An empty checklist scores 0:
// a workspace with nothing to comply with is not ready, it is unconfigured.
func (v *Validator) scoreChecklist(ctx context.Context, wsID id.WorkspaceID) (CategoryResult, []Gap, error) {
	items, err := v.checklist.ListByWorkspace(ctx, wsID)
	if err != nil {
		return CategoryResult{}, nil, fmt.Errorf("list checklist items: %w", err)
	}
	var gaps []Gap
	if len(items) == 0 {
		gaps = append(gaps, blocking(CategoryChecklist, GapChecklistEmpty, "compliance checklist is empty"))
		return CategoryResult{Score: 0, Blocking: 1}, gaps, nil
	}
	done := 0
	for i := range items {
		item := &items[i]
		if item.Status.Done() {
			done++
		}
		if item.Risk == checklist.RiskCritical && item.Open() {
			gaps = append(gaps, blockingAt(CategoryChecklist, GapCriticalOpen, item.ID.String(),
				fmt.Sprintf("critical item %s is %s", item.Code, item.Status)))
		}
		if item.Risk == checklist.RiskMajor && item.Status == checklist.StatusNotStarted {
			gaps = append(gaps, warningAt(CategoryChecklist, GapMajorNotStarted, item.ID.String(),
				fmt.Sprintf("major item %s has not been started", item.Code)))
		}
		if item.EvidenceRequired {
			linked, err := v.evidence.LinkExists(ctx, item.ID)
			if err != nil {
				return CategoryResult{}, nil, fmt.Errorf("item %s evidence link: %w", item.ID, err)
			}
			if !linked {
				gaps = append(gaps, warningAt(CategoryChecklist, GapEvidenceUnlinked, item.ID.String(),
					fmt.Sprintf("item %s requires evidence but none is linked", item.Code)))
			}
		}
	}
	score := int(math.Round(100 * float64(done) / float64(len(items))))
	res := CategoryResult{Score: score}
	for _, g := range gaps {
		if g.Severity == SeverityBlocking {
			res.Blocking++
		} else {
			res.Warning++
		}
	}
	return res, gaps, nil
}

// scoreEvidence: 100 minus 20 per expired and 5 per expiring-soon artifact,
// floored at 0. One gap per offending artifact.
func (v *Validator) scoreEvidence(ctx context.Context, wsID id.WorkspaceID) (CategoryResult, []Gap, error) {
	artifacts, err := v.evidence.ListByWorkspace(ctx, wsID)
	if err != nil {
		return CategoryResult{}, nil, fmt.Errorf("list evidence: %w", err)
	}
	now := requestcontext.Now(ctx)
	var gaps []Gap
	expired, expiring := 0, 0
	for i := range artifacts {
		a := &artifacts[i]
		switch {
		case a.Expired(now):
			expired++
			gaps = append(gaps, blockingAt(CategoryEvidence, GapEvidenceExpired, a.ID.String(),
				fmt.Sprintf("%s artifact expired on %s", a.Kind, a.ExpiresAt.Format(time.DateOnly))))
		case a.ExpiringWithin(now, evidenceWarningWindow):
			expiring++
			gaps = append(gaps, warningAt(CategoryEvidence, GapEvidenceExpiring, a.ID.String(),
				fmt.Sprintf("%s artifact expires on %s", a.Kind, a.ExpiresAt.Format(time.DateOnly))))
		}
	}
	score := 100 - 20*expired - 5*expiring
	if score < 0 {
		score = 0
	}
	return CategoryResult{Score: score, Blocking: expired, Warning: expiring}, gaps, nil
}

func blocking(cat Category, code, msg string) Gap {
	return Gap{Category: cat, Severity: SeverityBlocking, Code: code, Message: msg}
}

func blockingAt(cat Category, code, ref, msg string) Gap {
	return Gap{Category: cat, Severity: SeverityBlocking, Code: code, Message: msg, Ref: ref}
}

func warning(cat Category, code, msg string) Gap {
	return Gap{Category: cat, Severity: SeverityWarning, Code: code, Message: msg}
}

func warningAt(cat Category, code, ref, msg string) Gap {
	return Gap{Category: cat, Severity: SeverityWarning, Code: code, Message: msg, Ref: ref}
}

// tally applies the deduction schedule to a gap list.
func tally(gaps []Gap, blockingPenalty, warningPenalty int) CategoryResult {
	res := CategoryResult{Score: 100}
	for _, g := range gaps {
		if g.Severity == SeverityBlocking {
			res.Blocking++
			res.Score -= blockingPenalty
		} else {
			res.Warning++
			res.Score -= warningPenalty
		}
	}
	if res.Score < 0 {
		res.Score = 0
	}
	return res
}

type noopCache struct{}

func (noopCache) Get(context.Context, id.WorkspaceID) (*Result, bool) { return nil, false }
func (noopCache) Set(context.Context, id.WorkspaceID, *Result)       {}
