//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custos/internal/ledger"
	"custos/internal/ledger/store"
	id "custos/pkg/domain"
	"custos/pkg/platform/tx"
	"custos/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.Postgres
	ctx   context.Context

	orgID uuid.UUID
	wsID  id.WorkspaceID
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresLedgerSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "ledger_entries", "workspaces", "organizations"))

	s.orgID = uuid.New()
	s.wsID = id.WorkspaceID(uuid.New())
	now := time.Now().UTC()
	_, err := s.pg.DB.ExecContext(s.ctx,
		`INSERT INTO organizations (id, created_at) VALUES ($1, $2)`, s.orgID, now)
	s.Require().NoError(err)
	_, err = s.pg.DB.ExecContext(s.ctx,
		`INSERT INTO workspaces (id, org_id, kind, status, created_at, updated_at)
		 VALUES ($1, $2, 'TEMPLATE', 'DRAFT', $3, $3)`, uuid.UUID(s.wsID), s.orgID, now)
	s.Require().NoError(err)
}

func (s *PostgresLedgerSuite) entry(action string, actor *id.ActorID, createdAt time.Time) *ledger.Entry {
	after, _ := json.Marshal(map[string]string{"action": action})
	return &ledger.Entry{
		ID:          id.EntryID(uuid.New()),
		WorkspaceID: s.wsID,
		EntityType:  ledger.EntityWorkspace,
		EntityID:    s.wsID.String(),
		Action:      action,
		ActorID:     actor,
		After:       after,
		CreatedAt:   createdAt,
	}
}

func (s *PostgresLedgerSuite) TestAppendAndList() {
	actorID := id.ActorID(uuid.New())
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(s.ctx, s.entry("workspace.created", &actorID, base)))
	s.Require().NoError(s.store.Append(s.ctx, s.entry("workspace.updated", &actorID, base.Add(time.Minute))))
	s.Require().NoError(s.store.Append(s.ctx, s.entry("workspace.archived", nil, base.Add(2*time.Minute))))

	entries, err := s.store.List(s.ctx, ledger.Filter{WorkspaceID: s.wsID}, nil, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)

	// Newest first.
	s.Equal("workspace.archived", entries[0].Action)
	s.Equal("workspace.created", entries[2].Action)
	s.Nil(entries[0].ActorID)
	s.Require().NotNil(entries[2].ActorID)
	s.Equal(actorID, *entries[2].ActorID)
	s.JSONEq(`{"action":"workspace.created"}`, string(entries[2].After))

	filtered, err := s.store.List(s.ctx, ledger.Filter{WorkspaceID: s.wsID, Action: "workspace.updated"}, nil, 10)
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)

	windowed, err := s.store.List(s.ctx, ledger.Filter{
		WorkspaceID: s.wsID,
		From:        base.Add(30 * time.Second),
		Until:       base.Add(90 * time.Second),
	}, nil, 10)
	s.Require().NoError(err)
	s.Require().Len(windowed, 1)
	s.Equal("workspace.updated", windowed[0].Action)
}

func (s *PostgresLedgerSuite) TestCursorPagination() {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.store.Append(s.ctx, s.entry("workspace.updated", nil, base.Add(time.Duration(i)*time.Minute))))
	}

	var seen []id.EntryID
	var after *ledger.Position
	for {
		page, err := s.store.List(s.ctx, ledger.Filter{WorkspaceID: s.wsID}, after, 2)
		s.Require().NoError(err)
		if len(page) == 0 {
			break
		}
		for i := range page {
			seen = append(seen, page[i].ID)
		}
		last := page[len(page)-1]
		after = &ledger.Position{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	s.Len(seen, 5)

	unique := map[id.EntryID]bool{}
	for _, eid := range seen {
		s.False(unique[eid], "entry %s returned twice", eid)
		unique[eid] = true
	}
}

func (s *PostgresLedgerSuite) TestAppendJoinsCallerTransaction() {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	sqlTx, err := s.pg.DB.BeginTx(s.ctx, nil)
	s.Require().NoError(err)
	txCtx := tx.WithTx(s.ctx, sqlTx)
	s.Require().NoError(s.store.Append(txCtx, s.entry("workspace.updated", nil, base)))
	s.Require().NoError(sqlTx.Rollback())

	entries, err := s.store.List(s.ctx, ledger.Filter{WorkspaceID: s.wsID}, nil, 10)
	s.Require().NoError(err)
	s.Empty(entries)
}
