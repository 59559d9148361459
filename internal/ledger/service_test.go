package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/testutil"
)

func recordN(t *testing.T, svc *ledger.Service, wsID id.WorkspaceID, actor id.Actor, n int, start time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		ctx := testutil.Ctx(t, actor, start.Add(time.Duration(i)*time.Minute))
		err := svc.Record(ctx, wsID, ledger.EntityChecklist, uuid.NewString(), "checklist.status_changed", actor, nil, map[string]string{"n": uuid.NewString()})
		require.NoError(t, err)
	}
}

func TestRecord(t *testing.T) {
	store := ledgerStore.NewInMemory()
	svc := ledger.New(store)
	actor := testutil.NewActor()
	wsID := id.WorkspaceID(uuid.New())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	t.Run("records actor and snapshots", func(t *testing.T) {
		ctx := testutil.Ctx(t, actor, now)
		before := map[string]string{"status": "DRAFT"}
		after := map[string]string{"status": "ACTIVE"}
		err := svc.Record(ctx, wsID, ledger.EntityWorkspace, wsID.String(), "workspace.status_changed", actor, before, after)
		require.NoError(t, err)

		page, err := svc.List(ctx, ledger.Filter{WorkspaceID: wsID}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		entry := page.Entries[0]
		require.NotNil(t, entry.ActorID)
		assert.Equal(t, actor.ID, *entry.ActorID)
		assert.JSONEq(t, `{"status":"DRAFT"}`, string(entry.Before))
		assert.JSONEq(t, `{"status":"ACTIVE"}`, string(entry.After))
		assert.Equal(t, now, entry.CreatedAt)
	})

	t.Run("system actor leaves actor id empty", func(t *testing.T) {
		ctx := testutil.Ctx(t, actor, now)
		sysWS := id.WorkspaceID(uuid.New())
		err := svc.Record(ctx, sysWS, ledger.EntityWorkspace, sysWS.String(), "workspace.created", id.System, nil, nil)
		require.NoError(t, err)

		page, err := svc.List(ctx, ledger.Filter{WorkspaceID: sysWS}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Nil(t, page.Entries[0].ActorID)
	})
}

func TestListFiltering(t *testing.T) {
	store := ledgerStore.NewInMemory()
	svc := ledger.New(store)
	actorA := testutil.NewActor()
	actorB := testutil.NewActor()
	wsID := id.WorkspaceID(uuid.New())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	ctxA := testutil.Ctx(t, actorA, now)
	require.NoError(t, svc.Record(ctxA, wsID, ledger.EntityWorkspace, wsID.String(), "workspace.created", actorA, nil, nil))
	ctxB := testutil.Ctx(t, actorB, now.Add(time.Hour))
	require.NoError(t, svc.Record(ctxB, wsID, ledger.EntityApproval, uuid.NewString(), "approval.decided", actorB, nil, nil))

	t.Run("by entity type", func(t *testing.T) {
		page, err := svc.List(ctxA, ledger.Filter{WorkspaceID: wsID, EntityType: ledger.EntityApproval}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "approval.decided", page.Entries[0].Action)
	})

	t.Run("by actor", func(t *testing.T) {
		page, err := svc.List(ctxA, ledger.Filter{WorkspaceID: wsID, ActorID: actorA.ID}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "workspace.created", page.Entries[0].Action)
	})

	t.Run("by time window", func(t *testing.T) {
		page, err := svc.List(ctxA, ledger.Filter{WorkspaceID: wsID, From: now.Add(30 * time.Minute)}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "approval.decided", page.Entries[0].Action)

		page, err = svc.List(ctxA, ledger.Filter{WorkspaceID: wsID, Until: now.Add(30 * time.Minute)}, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "workspace.created", page.Entries[0].Action)
	})

	t.Run("other workspaces never leak", func(t *testing.T) {
		page, err := svc.List(ctxA, ledger.Filter{WorkspaceID: id.WorkspaceID(uuid.New())}, "", 10)
		require.NoError(t, err)
		assert.Empty(t, page.Entries)
	})
}

func TestListPagination(t *testing.T) {
	store := ledgerStore.NewInMemory()
	svc := ledger.New(store)
	actor := testutil.NewActor()
	wsID := id.WorkspaceID(uuid.New())
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	recordN(t, svc, wsID, actor, 7, start)
	ctx := testutil.Ctx(t, actor, start)

	t.Run("pages walk the full set newest first without overlap", func(t *testing.T) {
		seen := map[string]bool{}
		cursor := ""
		var last time.Time
		pages := 0
		for {
			page, err := svc.List(ctx, ledger.Filter{WorkspaceID: wsID}, cursor, 3)
			require.NoError(t, err)
			for _, e := range page.Entries {
				require.False(t, seen[e.ID.String()], "entry repeated across pages")
				seen[e.ID.String()] = true
				if !last.IsZero() {
					require.False(t, e.CreatedAt.After(last), "ordering not descending")
				}
				last = e.CreatedAt
			}
			pages++
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		assert.Equal(t, 7, len(seen))
		assert.Equal(t, 3, pages)
	})

	t.Run("malformed cursor rejected", func(t *testing.T) {
		_, err := svc.List(ctx, ledger.Filter{WorkspaceID: wsID}, "not-base64!!", 3)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("zero limit falls back to default", func(t *testing.T) {
		page, err := svc.List(ctx, ledger.Filter{WorkspaceID: wsID}, "", 0)
		require.NoError(t, err)
		assert.Len(t, page.Entries, 7)
		assert.Empty(t, page.NextCursor)
	})
}

func TestAppendOnly(t *testing.T) {
	// The store interface has no update or delete; the strongest guarantee a
	// unit test can add is that returned entries are copies.
	store := ledgerStore.NewInMemory()
	svc := ledger.New(store)
	actor := testutil.NewActor()
	wsID := id.WorkspaceID(uuid.New())
	ctx := testutil.Ctx(t, actor, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	require.NoError(t, svc.Record(ctx, wsID, ledger.EntityWorkspace, wsID.String(), "workspace.created", actor, nil, map[string]string{"status": "DRAFT"}))

	page, err := svc.List(ctx, ledger.Filter{WorkspaceID: wsID}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	page.Entries[0].After[0] = 'X'

	again, err := svc.List(ctx, ledger.Filter{WorkspaceID: wsID}, "", 10)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"DRAFT"}`, string(again.Entries[0].After))
}
