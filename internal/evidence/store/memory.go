package store

import (
	"context"
	"sort"
	"sync"

	"custos/internal/evidence"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

type InMemory struct {
	mu        sync.RWMutex
	artifacts map[id.ArtifactID]*evidence.Artifact
}

func NewInMemory() *InMemory {
	return &InMemory{artifacts: make(map[id.ArtifactID]*evidence.Artifact)}
}

func (m *InMemory) Create(_ context.Context, a *evidence.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts[a.ID] = &cp
	return nil
}

func (m *InMemory) FindByID(_ context.Context, aid id.ArtifactID) (*evidence.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[aid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *InMemory) ListByWorkspace(_ context.Context, workspaceID id.WorkspaceID) ([]evidence.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []evidence.Artifact
	for _, a := range m.artifacts {
		if a.WorkspaceID == workspaceID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *InMemory) CountByItem(_ context.Context, itemID id.ItemID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.artifacts {
		if a.ItemID != nil && *a.ItemID == itemID {
			n++
		}
	}
	return n, nil
}
