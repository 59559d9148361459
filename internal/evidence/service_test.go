package evidence_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/evidence"
	"custos/internal/evidence/store"
	ledgersvc "custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/platform/tx"
	"custos/pkg/testutil"
)

var anchor = time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)

func newService() (*evidence.Service, *ledgerStore.InMemory) {
	entries := ledgerStore.NewInMemory()
	svc := evidence.New(store.NewInMemory(), ledgersvc.New(entries), tx.NewMemoryRunner())
	return svc, entries
}

func TestAttach(t *testing.T) {
	actor := testutil.NewActor()
	ctx := testutil.Ctx(t, actor, anchor)
	svc, entries := newService()
	wsID := id.WorkspaceID(uuid.New())

	t.Run("records metadata with the uploader and request time", func(t *testing.T) {
		itemID := id.ItemID(uuid.New())
		artifact, err := svc.Attach(ctx, actor, wsID, &itemID, "LICENSE", "s3://evidence/license.pdf", nil)
		require.NoError(t, err)
		assert.Equal(t, actor.ID, artifact.UploadedBy)
		assert.Equal(t, anchor, artifact.CreatedAt)
		require.NotNil(t, artifact.ItemID)
		assert.Equal(t, itemID, *artifact.ItemID)

		got, err := svc.Get(ctx, artifact.ID)
		require.NoError(t, err)
		assert.Equal(t, "s3://evidence/license.pdf", got.URI)

		recorded, err := entries.List(ctx, ledgersvc.Filter{WorkspaceID: wsID, Action: "evidence.attached"}, nil, 10)
		require.NoError(t, err)
		assert.Len(t, recorded, 1)
	})

	t.Run("kind and uri are required", func(t *testing.T) {
		_, err := svc.Attach(ctx, actor, wsID, nil, "LICENSE", "", nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

		_, err = svc.Attach(ctx, actor, wsID, nil, "", "s3://evidence/doc.pdf", nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("unknown artifact is not found", func(t *testing.T) {
		_, err := svc.Get(ctx, id.ArtifactID(uuid.New()))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestLinkExists(t *testing.T) {
	actor := testutil.NewActor()
	ctx := testutil.Ctx(t, actor, anchor)
	svc, _ := newService()
	wsID := id.WorkspaceID(uuid.New())

	linked := id.ItemID(uuid.New())
	_, err := svc.Attach(ctx, actor, wsID, &linked, "SOP", "s3://evidence/sop.pdf", nil)
	require.NoError(t, err)

	ok, err := svc.LinkExists(ctx, linked)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.LinkExists(ctx, id.ItemID(uuid.New()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiryCounts(t *testing.T) {
	actor := testutil.NewActor()
	ctx := testutil.Ctx(t, actor, anchor)
	svc, _ := newService()
	wsID := id.WorkspaceID(uuid.New())

	attach := func(expiresAt *time.Time) {
		t.Helper()
		_, err := svc.Attach(ctx, actor, wsID, nil, "CERT", "s3://evidence/"+uuid.NewString(), expiresAt)
		require.NoError(t, err)
	}
	expired := anchor.Add(-48 * time.Hour)
	lapsing := anchor.Add(12 * 24 * time.Hour)
	distant := anchor.Add(400 * 24 * time.Hour)
	attach(&expired)
	attach(&lapsing)
	attach(&distant)
	attach(nil)

	nExpired, err := svc.CountExpired(ctx, wsID)
	require.NoError(t, err)
	assert.Equal(t, 1, nExpired)

	nLapsing, err := svc.CountExpiringWithin(ctx, wsID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, nLapsing)

	// Other workspaces are invisible.
	n, err := svc.CountExpired(ctx, id.WorkspaceID(uuid.New()))
	require.NoError(t, err)
	assert.Zero(t, n)
}
