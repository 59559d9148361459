package schemesync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"custos/internal/ledger"
	"custos/internal/scheme"
	"custos/internal/schemesync/metrics"
	"custos/internal/workspace/models"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/requestcontext"
)

// ExternalStore is the adapter port over the operational billing store.
type ExternalStore interface {
	FindByID(ctx context.Context, rid id.ExternalRecordID) (*ExternalRecord, error)
	FindByBranchScheme(ctx context.Context, branchID id.BranchID, schemeType string) (*ExternalRecord, error)
	ListByBranch(ctx context.Context, branchID id.BranchID) ([]ExternalRecord, error)
	Upsert(ctx context.Context, rec *ExternalRecord) error
}

type WorkspaceSource interface {
	Get(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error)
}

type SchemeSource interface {
	GetEmpanelment(ctx context.Context, eid id.EmpanelmentID) (*scheme.Empanelment, error)
	ListEmpanelments(ctx context.Context, wsID id.WorkspaceID) ([]scheme.Empanelment, error)
	LatestFrozenCard(ctx context.Context, wsID id.WorkspaceID, schemeCode string) (*scheme.RateCard, []scheme.RateCardItem, error)
	RecordSyncLink(ctx context.Context, eid id.EmpanelmentID, linkID *id.ExternalRecordID, syncedAt time.Time) error
	ApplyPulledRegistration(ctx context.Context, eid id.EmpanelmentID, registrationNo, registryCode string, syncedAt time.Time) error
}

type Ledger interface {
	Record(ctx context.Context, workspaceID id.WorkspaceID, entityType string, entityID string, action string, actor id.Actor, before, after any) error
}

// Reconciler moves scheme data between governance and the operational
// store. Pushes carry registration identity plus the latest frozen pricing;
// pulls take back only the registration identifiers the operational side is
// allowed to correct.
type Reconciler struct {
	external   ExternalStore
	workspaces WorkspaceSource
	schemes    SchemeSource
	ledger     Ledger
	log        *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option      { return func(r *Reconciler) { r.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

func New(external ExternalStore, workspaces WorkspaceSource, schemes SchemeSource, led Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		external:   external,
		workspaces: workspaces,
		schemes:    schemes,
		ledger:     led,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Push mirrors an empanelment into the operational store. Only branch
// instances sync; templates have no operational counterpart. The pricing
// block comes from the latest frozen rate card and is omitted when no
// version has been frozen yet.
func (r *Reconciler) Push(ctx context.Context, actor id.Actor, eid id.EmpanelmentID) (*PushReport, error) {
	ctx, span := otel.Tracer("custos/schemesync").Start(ctx, "schemesync.push")
	defer span.End()

	emp, branchID, err := r.syncTarget(ctx, eid)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("scheme.code", emp.SchemeCode))

	rec, created, err := r.resolveRecord(ctx, emp, branchID)
	if err != nil {
		return nil, err
	}

	rec.RegistrationNo = emp.RegistrationNo
	rec.RegistryCode = emp.RegistryCode

	var cardVersion, itemCount int
	card, items, err := r.schemes.LatestFrozenCard(ctx, emp.WorkspaceID, emp.SchemeCode)
	switch {
	case err == nil:
		rec.PackageCodes = make([]string, 0, len(items))
		rec.PackageNames = make([]string, 0, len(items))
		rec.PackageRatesPaise = make([]int64, 0, len(items))
		rec.PackageItems = make([]PackageItem, 0, len(items))
		for i := range items {
			rec.PackageCodes = append(rec.PackageCodes, items[i].ExternalCode)
			rec.PackageNames = append(rec.PackageNames, items[i].Name)
			rec.PackageRatesPaise = append(rec.PackageRatesPaise, items[i].RatePaise)
			rec.PackageItems = append(rec.PackageItems, PackageItem{
				Code:      items[i].ExternalCode,
				Name:      items[i].Name,
				RatePaise: items[i].RatePaise,
			})
		}
		cardVersion = card.Version
		itemCount = len(items)
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		// No frozen pricing yet; push identity only and leave any
		// pricing the operational store already has untouched.
	default:
		return nil, err
	}

	now := requestcontext.Now(ctx)
	rec.LinkedTo = &emp.ID
	rec.UpdatedAt = now
	if err := r.external.Upsert(ctx, rec); err != nil {
		r.observe("push", "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "upsert external record")
	}
	if err := r.schemes.RecordSyncLink(ctx, emp.ID, &rec.ID, now); err != nil {
		return nil, err
	}

	report := &PushReport{
		EmpanelmentID: emp.ID,
		ExternalID:    rec.ID,
		Created:       created,
		ItemsSynced:   itemCount,
		CardVersion:   cardVersion,
		SyncedAt:      now,
	}
	if err := r.ledger.Record(ctx, emp.WorkspaceID, ledger.EntitySyncLink, emp.ID.String(), "sync.pushed", actor, nil, report); err != nil {
		return nil, err
	}
	r.observe("push", "ok")
	r.log.InfoContext(ctx, "empanelment pushed",
		"empanelment_id", emp.ID, "external_id", rec.ID, "items", itemCount, "created", created)
	return report, nil
}

// Pull takes the operational store's registration identifiers back into the
// empanelment. Nothing else crosses in this direction; pricing flows push
// only. The sync timestamp refreshes even when nothing changed.
func (r *Reconciler) Pull(ctx context.Context, actor id.Actor, eid id.EmpanelmentID) (*PullReport, error) {
	ctx, span := otel.Tracer("custos/schemesync").Start(ctx, "schemesync.pull")
	defer span.End()

	emp, _, err := r.syncTarget(ctx, eid)
	if err != nil {
		return nil, err
	}
	if emp.ExternalLinkID == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "empanelment is not linked to an operational record")
	}
	rec, err := r.external.FindByID(ctx, *emp.ExternalLinkID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeConflict, "linked operational record no longer exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find external record")
	}

	var fields []string
	if rec.RegistrationNo != emp.RegistrationNo {
		fields = append(fields, "registration_no")
	}
	if rec.RegistryCode != emp.RegistryCode {
		fields = append(fields, "registry_code")
	}

	now := requestcontext.Now(ctx)
	if len(fields) > 0 {
		if err := r.schemes.ApplyPulledRegistration(ctx, emp.ID, rec.RegistrationNo, rec.RegistryCode, now); err != nil {
			r.observe("pull", "error")
			return nil, err
		}
	} else {
		if err := r.schemes.RecordSyncLink(ctx, emp.ID, emp.ExternalLinkID, now); err != nil {
			return nil, err
		}
	}

	report := &PullReport{EmpanelmentID: emp.ID, Fields: fields, SyncedAt: now}
	if err := r.ledger.Record(ctx, emp.WorkspaceID, ledger.EntitySyncLink, emp.ID.String(), "sync.pulled", actor, nil, report); err != nil {
		return nil, err
	}
	r.observe("pull", "ok")
	return report, nil
}

// Status reports link health for every empanelment in the workspace and
// flags orphans on both sides.
func (r *Reconciler) Status(ctx context.Context, wsID id.WorkspaceID) (*StatusReport, error) {
	ws, err := r.workspaces.Get(ctx, wsID)
	if err != nil {
		return nil, err
	}
	emps, err := r.schemes.ListEmpanelments(ctx, wsID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{WorkspaceID: wsID, GeneratedAt: requestcontext.Now(ctx)}
	linked := make(map[id.ExternalRecordID]bool, len(emps))
	for i := range emps {
		emp := &emps[i]
		line := EmpanelmentSync{
			EmpanelmentID: emp.ID,
			SchemeCode:    emp.SchemeCode,
			Linked:        emp.ExternalLinkID != nil,
			ExternalID:    emp.ExternalLinkID,
			LastSyncedAt:  emp.LastSyncedAt,
		}
		if emp.ExternalLinkID != nil {
			linked[*emp.ExternalLinkID] = true
			_, err := r.external.FindByID(ctx, *emp.ExternalLinkID)
			switch {
			case err == nil:
				line.RecordHealth = HealthOK
			case errors.Is(err, sentinel.ErrNotFound):
				line.RecordHealth = HealthMissing
			default:
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find external record")
			}
		}
		report.Empanelments = append(report.Empanelments, line)
	}

	if ws.BranchID != nil {
		records, err := r.external.ListByBranch(ctx, *ws.BranchID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list external records")
		}
		for i := range records {
			if !linked[records[i].ID] {
				report.OrphanExternal = append(report.OrphanExternal, records[i].ID)
			}
		}
	}
	return report, nil
}

// Link manually binds an empanelment to an existing operational record,
// for facilities that were registered on the billing side first.
func (r *Reconciler) Link(ctx context.Context, actor id.Actor, eid id.EmpanelmentID, externalID id.ExternalRecordID) error {
	emp, branchID, err := r.syncTarget(ctx, eid)
	if err != nil {
		return err
	}
	if emp.ExternalLinkID != nil {
		return dErrors.New(dErrors.CodeConflict, "empanelment is already linked")
	}
	rec, err := r.external.FindByID(ctx, externalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "operational record not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "find external record")
	}
	if rec.BranchID != branchID {
		return dErrors.New(dErrors.CodeConflict, "operational record belongs to a different branch")
	}
	if rec.SchemeType != emp.SchemeCode {
		return dErrors.New(dErrors.CodeConflict, "operational record is for a different scheme")
	}
	if rec.LinkedTo != nil && *rec.LinkedTo != emp.ID {
		return dErrors.New(dErrors.CodeConflict, "operational record is already linked to another empanelment")
	}

	now := requestcontext.Now(ctx)
	rec.LinkedTo = &emp.ID
	rec.UpdatedAt = now
	if err := r.external.Upsert(ctx, rec); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "upsert external record")
	}
	if err := r.schemes.RecordSyncLink(ctx, emp.ID, &rec.ID, now); err != nil {
		return err
	}
	return r.ledger.Record(ctx, emp.WorkspaceID, ledger.EntitySyncLink, emp.ID.String(), "sync.linked", actor, nil,
		struct {
			ExternalID string `json:"external_id"`
		}{rec.ID.String()})
}

// Unlink detaches an empanelment from its operational record. The record
// itself stays; only the binding goes.
func (r *Reconciler) Unlink(ctx context.Context, actor id.Actor, eid id.EmpanelmentID) error {
	emp, err := r.schemes.GetEmpanelment(ctx, eid)
	if err != nil {
		return err
	}
	if emp.ExternalLinkID == nil {
		return dErrors.New(dErrors.CodeValidation, "empanelment is not linked")
	}
	rec, err := r.external.FindByID(ctx, *emp.ExternalLinkID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "find external record")
	}
	now := requestcontext.Now(ctx)
	if rec != nil {
		rec.LinkedTo = nil
		rec.UpdatedAt = now
		if err := r.external.Upsert(ctx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "upsert external record")
		}
	}
	if err := r.schemes.RecordSyncLink(ctx, emp.ID, nil, now); err != nil {
		return err
	}
	return r.ledger.Record(ctx, emp.WorkspaceID, ledger.EntitySyncLink, emp.ID.String(), "sync.unlinked", actor, nil, nil)
}

// syncTarget loads the empanelment and checks it belongs to a branch
// instance. Templates never sync.
func (r *Reconciler) syncTarget(ctx context.Context, eid id.EmpanelmentID) (*scheme.Empanelment, id.BranchID, error) {
	emp, err := r.schemes.GetEmpanelment(ctx, eid)
	if err != nil {
		return nil, id.BranchID{}, err
	}
	ws, err := r.workspaces.Get(ctx, emp.WorkspaceID)
	if err != nil {
		return nil, id.BranchID{}, err
	}
	if ws.Kind != models.KindBranchInstance || ws.BranchID == nil {
		return nil, id.BranchID{}, dErrors.New(dErrors.CodeValidation, "only branch workspaces sync with the operational store")
	}
	return emp, *ws.BranchID, nil
}

// resolveRecord finds the operational record to push into: the linked one,
// an unlinked match on (branch, scheme), or a fresh record.
func (r *Reconciler) resolveRecord(ctx context.Context, emp *scheme.Empanelment, branchID id.BranchID) (*ExternalRecord, bool, error) {
	if emp.ExternalLinkID != nil {
		rec, err := r.external.FindByID(ctx, *emp.ExternalLinkID)
		if err == nil {
			return rec, false, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "find external record")
		}
		// Linked record vanished on the operational side; recreate below.
	}
	rec, err := r.external.FindByBranchScheme(ctx, branchID, emp.SchemeCode)
	switch {
	case err == nil:
		if rec.LinkedTo != nil && *rec.LinkedTo != emp.ID {
			return nil, false, dErrors.New(dErrors.CodeConflict, "operational record is already linked to another empanelment")
		}
		return rec, false, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return &ExternalRecord{
			ID:         id.ExternalRecordID(uuid.New()),
			BranchID:   branchID,
			SchemeType: emp.SchemeCode,
		}, true, nil
	default:
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "find external record by scheme")
	}
}

func (r *Reconciler) observe(direction, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveSync(direction, outcome)
	}
}
