package store

import (
	"context"
	"sort"
	"sync"

	"custos/internal/checklist"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemory backs unit tests and local wiring.
type InMemory struct {
	mu    sync.RWMutex
	items map[id.ItemID]checklist.Item
}

func NewInMemory() *InMemory {
	return &InMemory{items: make(map[id.ItemID]checklist.Item)}
}

func (s *InMemory) Create(ctx context.Context, item *checklist.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[item.ID] = cloneItem(*item)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, itemID id.ItemID) (*checklist.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneItem(item)
	return &out, nil
}

func (s *InMemory) Update(ctx context.Context, item *checklist.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.items[item.ID] = cloneItem(*item)
	return nil
}

func (s *InMemory) ListByWorkspace(ctx context.Context, wsID id.WorkspaceID) ([]checklist.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []checklist.Item
	for _, item := range s.items {
		if item.WorkspaceID == wsID {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemory) CountByWorkspace(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.items {
		if item.WorkspaceID == wsID {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) CountCriticalOpen(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.items {
		if item.WorkspaceID == wsID && item.Risk == checklist.RiskCritical && item.Open() {
			count++
		}
	}
	return count, nil
}

func cloneItem(item checklist.Item) checklist.Item {
	out := item
	if item.OwnerID != nil {
		owner := *item.OwnerID
		out.OwnerID = &owner
	}
	if item.VerifierID != nil {
		verifier := *item.VerifierID
		out.VerifierID = &verifier
	}
	return out
}
