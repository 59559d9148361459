package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/checklist"
	checklistStore "custos/internal/checklist/store"
	ledgersvc "custos/internal/ledger"
	ledgerStore "custos/internal/ledger/store"
	httptransport "custos/internal/transport/http"
	"custos/internal/transport/http/shared"
	"custos/internal/workspace/models"
	"custos/internal/workspace/service"
	wsStore "custos/internal/workspace/store"
	id "custos/pkg/domain"
	"custos/pkg/platform/tx"
)

type gateStub struct {
	hasConfig        bool
	profilePresent   bool
	profileSubmitted bool
	empanelments     int
	expired          int
}

func (g *gateStub) HasConfig(context.Context, id.WorkspaceID) (bool, error) {
	return g.hasConfig, nil
}

func (g *gateStub) ProfileState(context.Context, id.WorkspaceID) (bool, bool, error) {
	return g.profilePresent, g.profileSubmitted, nil
}

func (g *gateStub) CountByWorkspace(context.Context, id.WorkspaceID) (int, error) {
	return g.empanelments, nil
}

func (g *gateStub) CountExpired(context.Context, id.WorkspaceID) (int, error) {
	return g.expired, nil
}

func newServer(t *testing.T) (*httptest.Server, *gateStub) {
	t.Helper()
	runner := tx.NewMemoryRunner()
	led := ledgersvc.New(ledgerStore.NewInMemory())
	gate := &gateStub{}
	items := checklist.New(checklistStore.NewInMemory(), led, nil, nil, runner)
	workspaces := service.New(wsStore.NewInMemory(), gate, gate, items, items, gate, led, runner)

	log := slog.New(slog.DiscardHandler)
	router := httptransport.NewRouter(log, nil, httptransport.NewWorkspaceHandler(workspaces))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, gate
}

func doJSON(t *testing.T, method, url string, actor string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestWorkspaceRoutes(t *testing.T) {
	srv, gate := newServer(t)
	actor := uuid.NewString()

	t.Run("governed routes require an actor header", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/workspaces", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody[shared.ErrorResponse](t, resp)
		assert.Equal(t, "invalid_input", body.Error)
	})

	t.Run("create and fetch round-trip", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/workspaces", actor, map[string]string{
			"kind":   string(models.KindTemplate),
			"org_id": uuid.NewString(),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		created := decodeBody[models.Workspace](t, resp)
		assert.Equal(t, models.StatusDraft, created.Status)

		resp = doJSON(t, http.MethodGet, srv.URL+"/workspaces/"+created.ID.String(), actor, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		fetched := decodeBody[models.Workspace](t, resp)
		assert.Equal(t, created.ID, fetched.ID)
	})

	t.Run("unknown workspace maps to 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/workspaces/"+uuid.NewString(), actor, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decodeBody[shared.ErrorResponse](t, resp)
		assert.Equal(t, "not_found", body.Error)
	})

	t.Run("blocked activation returns every unmet condition", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/workspaces", actor, map[string]string{
			"kind":      string(models.KindBranchInstance),
			"org_id":    uuid.NewString(),
			"branch_id": uuid.NewString(),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ws := decodeBody[models.Workspace](t, resp)

		resp = doJSON(t, http.MethodPost, srv.URL+"/workspaces/"+ws.ID.String()+"/status", actor,
			map[string]string{"status": string(models.StatusActive)})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		body := decodeBody[shared.ErrorResponse](t, resp)
		assert.Equal(t, "validation", body.Error)
		assert.NotEmpty(t, body.Details)

		// Meet the gate; the same request then succeeds. The checklist stays
		// empty so only the non-checklist conditions need satisfying.
		gate.hasConfig = true
		gate.profilePresent = true
		gate.profileSubmitted = true
		gate.empanelments = 1
		resp = doJSON(t, http.MethodPost, srv.URL+"/workspaces/"+ws.ID.String()+"/status", actor,
			map[string]string{"status": string(models.StatusActive)})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		activated := decodeBody[models.Workspace](t, resp)
		assert.Equal(t, models.StatusActive, activated.Status)
	})

	t.Run("malformed workspace id maps to 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/workspaces/not-a-uuid", actor, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("health probe stays open", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})
}
