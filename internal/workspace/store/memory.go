package store

import (
	"context"
	"sync"

	"custos/internal/workspace/models"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemory backs unit tests and local wiring. It enforces the same
// one-instance-per-branch rule the postgres unique constraint provides.
type InMemory struct {
	mu         sync.RWMutex
	workspaces map[id.WorkspaceID]models.Workspace
	byBranch   map[id.BranchID]id.WorkspaceID
	orgs       map[id.OrgID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		workspaces: make(map[id.WorkspaceID]models.Workspace),
		byBranch:   make(map[id.BranchID]id.WorkspaceID),
		orgs:       make(map[id.OrgID]struct{}),
	}
}

func (s *InMemory) EnsureOrg(ctx context.Context, orgID id.OrgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[orgID] = struct{}{}
	return nil
}

func (s *InMemory) CreateIfBranchAvailable(ctx context.Context, ws *models.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws.Kind == models.KindBranchInstance && ws.BranchID != nil {
		if _, taken := s.byBranch[*ws.BranchID]; taken {
			return sentinel.ErrConflict
		}
		s.byBranch[*ws.BranchID] = ws.ID
	}
	s.workspaces[ws.ID] = *ws
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, wsID id.WorkspaceID) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[wsID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &ws, nil
}

func (s *InMemory) FindByBranch(ctx context.Context, branchID id.BranchID) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wsID, ok := s.byBranch[branchID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	ws := s.workspaces[wsID]
	return &ws, nil
}

func (s *InMemory) Update(ctx context.Context, ws *models.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[ws.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.workspaces[ws.ID] = *ws
	return nil
}

func (s *InMemory) ListByOrg(ctx context.Context, orgID id.OrgID, status models.Status) ([]models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Workspace
	for _, ws := range s.workspaces {
		if ws.OrgID != orgID {
			continue
		}
		if status != "" && ws.Status != status {
			continue
		}
		out = append(out, ws)
	}
	return out, nil
}
