package schemesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custos/internal/approval"
	approvalStore "custos/internal/approval/store"
	ledgersvc "custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	"custos/internal/scheme"
	schemeStore "custos/internal/scheme/store"
	"custos/internal/schemesync"
	syncStore "custos/internal/schemesync/store"
	"custos/internal/workspace/models"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/sentinel"
	"custos/pkg/platform/tx"
	"custos/pkg/testutil"
)

// fakeWorkspaces serves just the lookup the reconciler needs.
type fakeWorkspaces struct {
	byID map[id.WorkspaceID]*models.Workspace
}

func (f *fakeWorkspaces) Get(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error) {
	ws, ok := f.byID[wsID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "workspace not found")
	}
	return ws, nil
}

// flakyExternal hides chosen records so tests can simulate deletions on the
// operational side, which the in-memory store has no API for.
type flakyExternal struct {
	*syncStore.InMemoryExternal
	gone map[id.ExternalRecordID]bool
}

func (f *flakyExternal) FindByID(ctx context.Context, rid id.ExternalRecordID) (*schemesync.ExternalRecord, error) {
	if f.gone[rid] {
		return nil, sentinel.ErrNotFound
	}
	return f.InMemoryExternal.FindByID(ctx, rid)
}

func (f *flakyExternal) FindByBranchScheme(ctx context.Context, branchID id.BranchID, schemeType string) (*schemesync.ExternalRecord, error) {
	rec, err := f.InMemoryExternal.FindByBranchScheme(ctx, branchID, schemeType)
	if err == nil && f.gone[rec.ID] {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

// =============================================================================
// Scheme Sync Reconciler Test Suite
// =============================================================================

type SchemeSyncSuite struct {
	suite.Suite
	external   *flakyExternal
	entries    *ledgerStore.InMemory
	schemes    *scheme.Service
	approvals  *approval.Service
	reconciler *schemesync.Reconciler

	maker    id.Actor
	checker  id.Actor
	branchWS *models.Workspace
	branchID id.BranchID
	ctx      context.Context
	now      time.Time

	workspaces *fakeWorkspaces
}

func TestSchemeSyncSuite(t *testing.T) {
	suite.Run(t, new(SchemeSyncSuite))
}

func (s *SchemeSyncSuite) SetupTest() {
	s.entries = ledgerStore.NewInMemory()
	runner := tx.NewMemoryRunner()
	led := ledgersvc.New(s.entries)

	dispatcher := approval.NewDispatcher()
	s.approvals = approval.New(approvalStore.NewInMemory(), led, dispatcher, runner)
	s.schemes = scheme.New(schemeStore.NewInMemory(), s.approvals, led, runner)
	dispatcher.Register(approval.ChangeRateCardFreeze, s.schemes.ApplyFreeze)

	s.external = &flakyExternal{
		InMemoryExternal: syncStore.NewInMemoryExternal(),
		gone:             map[id.ExternalRecordID]bool{},
	}

	s.branchID = id.BranchID(uuid.New())
	s.branchWS = &models.Workspace{
		ID:       id.WorkspaceID(uuid.New()),
		OrgID:    id.OrgID(uuid.New()),
		BranchID: &s.branchID,
		Kind:     models.KindBranchInstance,
		Status:   models.StatusDraft,
	}
	s.workspaces = &fakeWorkspaces{byID: map[id.WorkspaceID]*models.Workspace{s.branchWS.ID: s.branchWS}}

	s.reconciler = schemesync.New(s.external, s.workspaces, s.schemes, led)

	s.maker = testutil.NewActor()
	s.checker = testutil.NewActor()
	s.now = time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)
	s.ctx = testutil.Ctx(s.T(), s.maker, s.now)
}

func (s *SchemeSyncSuite) empanelment(registrationNo, registryCode string) *scheme.Empanelment {
	emp, err := s.schemes.CreateEmpanelment(s.ctx, s.maker, s.branchWS.ID, "PMJAY", registrationNo, registryCode)
	s.Require().NoError(err)
	return emp
}

func (s *SchemeSyncSuite) freezeCard(version int) {
	card, err := s.schemes.CreateCard(s.ctx, s.maker, s.branchWS.ID, "PMJAY", version, nil)
	s.Require().NoError(err)
	_, err = s.schemes.AddCardItem(s.ctx, s.maker, card.ID, "HBP-001", "Appendectomy", 2500000, "SURG-17")
	s.Require().NoError(err)
	_, err = s.schemes.AddCardItem(s.ctx, s.maker, card.ID, "HBP-002", "Cataract", 800000, "OPTH-03")
	s.Require().NoError(err)
	pending, err := s.schemes.FreezeCard(s.ctx, s.maker, card.ID)
	s.Require().NoError(err)
	_, err = s.approvals.Decide(s.ctx, s.checker, pending.ApprovalID, approval.DecisionApproved, "")
	s.Require().NoError(err)
}

// =============================================================================
// Push
// =============================================================================

func (s *SchemeSyncSuite) TestPush() {
	s.Run("first push creates a record carrying identity only", func() {
		emp := s.empanelment("REG-7001", "NHA")

		report, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.True(report.Created)
		s.Zero(report.ItemsSynced)
		s.Zero(report.CardVersion)
		s.Equal(s.now, report.SyncedAt)

		rec, err := s.external.FindByID(s.ctx, report.ExternalID)
		s.Require().NoError(err)
		s.Equal("REG-7001", rec.RegistrationNo)
		s.Equal("NHA", rec.RegistryCode)
		s.Empty(rec.PackageCodes)
		s.Require().NotNil(rec.LinkedTo)
		s.Equal(emp.ID, *rec.LinkedTo)

		linked, err := s.schemes.GetEmpanelment(s.ctx, emp.ID)
		s.Require().NoError(err)
		s.Require().NotNil(linked.ExternalLinkID)
		s.Equal(report.ExternalID, *linked.ExternalLinkID)
		s.Require().NotNil(linked.LastSyncedAt)
		s.Equal(s.now, *linked.LastSyncedAt)
	})

	s.Run("push after a freeze carries the frozen pricing block", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")
		_, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.freezeCard(1)

		report, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.False(report.Created)
		s.Equal(2, report.ItemsSynced)
		s.Equal(1, report.CardVersion)

		rec, err := s.external.FindByID(s.ctx, report.ExternalID)
		s.Require().NoError(err)
		s.Equal([]string{"HBP-001", "HBP-002"}, rec.PackageCodes)
		s.Equal([]string{"Appendectomy", "Cataract"}, rec.PackageNames)
		s.Equal([]int64{2500000, 800000}, rec.PackageRatesPaise)
		s.Equal([]schemesync.PackageItem{
			{Code: "HBP-001", Name: "Appendectomy", RatePaise: 2500000},
			{Code: "HBP-002", Name: "Cataract", RatePaise: 800000},
		}, rec.PackageItems)
	})

	s.Run("push adopts an unlinked record registered on the billing side first", func() {
		s.SetupTest()
		seeded := &schemesync.ExternalRecord{
			ID:         id.ExternalRecordID(uuid.New()),
			BranchID:   s.branchID,
			SchemeType: "PMJAY",
		}
		s.Require().NoError(s.external.Upsert(s.ctx, seeded))
		emp := s.empanelment("REG-7001", "NHA")

		report, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.False(report.Created)
		s.Equal(seeded.ID, report.ExternalID)
	})

	s.Run("push refuses a record claimed by another empanelment", func() {
		s.SetupTest()
		other := id.EmpanelmentID(uuid.New())
		s.Require().NoError(s.external.Upsert(s.ctx, &schemesync.ExternalRecord{
			ID:         id.ExternalRecordID(uuid.New()),
			BranchID:   s.branchID,
			SchemeType: "PMJAY",
			LinkedTo:   &other,
		}))
		emp := s.empanelment("REG-7001", "NHA")

		_, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("vanished linked record is recreated under a fresh id", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")
		first, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.external.gone[first.ExternalID] = true

		second, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.True(second.Created)
		s.NotEqual(first.ExternalID, second.ExternalID)
	})

	s.Run("template workspaces do not sync", func() {
		s.SetupTest()
		template := &models.Workspace{
			ID:     id.WorkspaceID(uuid.New()),
			OrgID:  s.branchWS.OrgID,
			Kind:   models.KindTemplate,
			Status: models.StatusDraft,
		}
		s.workspaces.byID[template.ID] = template
		emp, err := s.schemes.CreateEmpanelment(s.ctx, s.maker, template.ID, "PMJAY", "REG-1", "NHA")
		s.Require().NoError(err)

		_, err = s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "only branch workspaces sync")
	})
}

// =============================================================================
// Pull
// =============================================================================

func (s *SchemeSyncSuite) TestPull() {
	s.Run("pull without a link is rejected", func() {
		emp := s.empanelment("REG-7001", "NHA")
		_, err := s.reconciler.Pull(s.ctx, s.maker, emp.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("pull takes back corrected registration identifiers", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")
		report, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)

		rec, err := s.external.FindByID(s.ctx, report.ExternalID)
		s.Require().NoError(err)
		rec.RegistrationNo = "REG-7001-CORRECTED"
		rec.RegistryCode = "SHA"
		s.Require().NoError(s.external.Upsert(s.ctx, rec))

		pulled, err := s.reconciler.Pull(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.ElementsMatch([]string{"registration_no", "registry_code"}, pulled.Fields)

		updated, err := s.schemes.GetEmpanelment(s.ctx, emp.ID)
		s.Require().NoError(err)
		s.Equal("REG-7001-CORRECTED", updated.RegistrationNo)
		s.Equal("SHA", updated.RegistryCode)
	})

	s.Run("pull with nothing changed still refreshes the sync timestamp", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")
		_, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)

		later := testutil.Ctx(s.T(), s.maker, s.now.Add(time.Hour))
		pulled, err := s.reconciler.Pull(later, s.maker, emp.ID)
		s.Require().NoError(err)
		s.Empty(pulled.Fields)

		updated, err := s.schemes.GetEmpanelment(s.ctx, emp.ID)
		s.Require().NoError(err)
		s.Require().NotNil(updated.LastSyncedAt)
		s.Equal(s.now.Add(time.Hour), *updated.LastSyncedAt)
	})

	s.Run("pull conflicts when the linked record is gone", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")
		report, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)
		s.external.gone[report.ExternalID] = true

		_, err = s.reconciler.Pull(s.ctx, s.maker, emp.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "no longer exists")
	})
}

// =============================================================================
// Status
// =============================================================================

func (s *SchemeSyncSuite) TestStatus() {
	pushed := s.empanelment("REG-7001", "NHA")
	_, err := s.reconciler.Push(s.ctx, s.maker, pushed.ID)
	s.Require().NoError(err)
	never, err := s.schemes.CreateEmpanelment(s.ctx, s.maker, s.branchWS.ID, "CGHS", "REG-8001", "CGHS")
	s.Require().NoError(err)
	vanished, err := s.schemes.CreateEmpanelment(s.ctx, s.maker, s.branchWS.ID, "MEDISEP", "REG-9001", "SHA")
	s.Require().NoError(err)
	vanishedPush, err := s.reconciler.Push(s.ctx, s.maker, vanished.ID)
	s.Require().NoError(err)
	s.external.gone[vanishedPush.ExternalID] = true

	orphan := &schemesync.ExternalRecord{
		ID:         id.ExternalRecordID(uuid.New()),
		BranchID:   s.branchID,
		SchemeType: "ESI",
	}
	s.Require().NoError(s.external.Upsert(s.ctx, orphan))

	report, err := s.reconciler.Status(s.ctx, s.branchWS.ID)
	s.Require().NoError(err)
	s.Require().Len(report.Empanelments, 3)

	byID := map[id.EmpanelmentID]schemesync.EmpanelmentSync{}
	for _, line := range report.Empanelments {
		byID[line.EmpanelmentID] = line
	}
	s.True(byID[pushed.ID].Linked)
	s.NotNil(byID[pushed.ID].LastSyncedAt)
	s.Equal(schemesync.HealthOK, byID[pushed.ID].RecordHealth)
	s.False(byID[never.ID].Linked)
	s.Nil(byID[never.ID].ExternalID)
	s.Empty(byID[never.ID].RecordHealth)
	s.True(byID[vanished.ID].Linked)
	s.Equal(schemesync.HealthMissing, byID[vanished.ID].RecordHealth)

	s.Equal([]id.ExternalRecordID{orphan.ID}, report.OrphanExternal)
}

// =============================================================================
// Link and Unlink
// =============================================================================

func (s *SchemeSyncSuite) TestLink() {
	seed := func(schemeType string, linkedTo *id.EmpanelmentID) *schemesync.ExternalRecord {
		rec := &schemesync.ExternalRecord{
			ID:         id.ExternalRecordID(uuid.New()),
			BranchID:   s.branchID,
			SchemeType: schemeType,
			LinkedTo:   linkedTo,
		}
		s.Require().NoError(s.external.Upsert(s.ctx, rec))
		return rec
	}

	s.Run("link binds both sides and writes a ledger entry", func() {
		emp := s.empanelment("REG-7001", "NHA")
		rec := seed("PMJAY", nil)

		s.Require().NoError(s.reconciler.Link(s.ctx, s.maker, emp.ID, rec.ID))

		linked, err := s.schemes.GetEmpanelment(s.ctx, emp.ID)
		s.Require().NoError(err)
		s.Require().NotNil(linked.ExternalLinkID)
		s.Equal(rec.ID, *linked.ExternalLinkID)

		stored, err := s.external.FindByID(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Require().NotNil(stored.LinkedTo)
		s.Equal(emp.ID, *stored.LinkedTo)

		entries, err := s.entries.List(s.ctx, ledgersvc.Filter{WorkspaceID: s.branchWS.ID, Action: "sync.linked"}, nil, 10)
		s.Require().NoError(err)
		s.Len(entries, 1)
	})

	s.Run("link rejects every mismatch", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")

		missing := id.ExternalRecordID(uuid.New())
		err := s.reconciler.Link(s.ctx, s.maker, emp.ID, missing)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		foreignBranch := &schemesync.ExternalRecord{
			ID:         id.ExternalRecordID(uuid.New()),
			BranchID:   id.BranchID(uuid.New()),
			SchemeType: "PMJAY",
		}
		s.Require().NoError(s.external.Upsert(s.ctx, foreignBranch))
		err = s.reconciler.Link(s.ctx, s.maker, emp.ID, foreignBranch.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "different branch")

		wrongScheme := seed("ESI", nil)
		err = s.reconciler.Link(s.ctx, s.maker, emp.ID, wrongScheme.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "different scheme")

		other := id.EmpanelmentID(uuid.New())
		claimed := seed("PMJAY", &other)
		err = s.reconciler.Link(s.ctx, s.maker, emp.ID, claimed.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "another empanelment")

		free := seed("PMJAY", nil)
		s.Require().NoError(s.reconciler.Link(s.ctx, s.maker, emp.ID, free.ID))
		err = s.reconciler.Link(s.ctx, s.maker, emp.ID, free.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "already linked")
	})
}

func (s *SchemeSyncSuite) TestUnlink() {
	s.Run("unlink detaches both sides but keeps the record", func() {
		emp := s.empanelment("REG-7001", "NHA")
		report, err := s.reconciler.Push(s.ctx, s.maker, emp.ID)
		s.Require().NoError(err)

		s.Require().NoError(s.reconciler.Unlink(s.ctx, s.maker, emp.ID))

		detached, err := s.schemes.GetEmpanelment(s.ctx, emp.ID)
		s.Require().NoError(err)
		s.Nil(detached.ExternalLinkID)

		rec, err := s.external.FindByID(s.ctx, report.ExternalID)
		s.Require().NoError(err)
		s.Nil(rec.LinkedTo)
	})

	s.Run("unlink without a link is rejected", func() {
		s.SetupTest()
		emp := s.empanelment("REG-7001", "NHA")
		err := s.reconciler.Unlink(s.ctx, s.maker, emp.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
