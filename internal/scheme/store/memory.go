package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"custos/internal/scheme"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemory keeps empanelments and rate cards in maps, guarded by one mutex.
type InMemory struct {
	mu           sync.RWMutex
	empanelments map[id.EmpanelmentID]*scheme.Empanelment
	empByScheme  map[string]id.EmpanelmentID // workspace|scheme
	cards        map[id.RateCardID]*scheme.RateCard
	cardByVer    map[string]id.RateCardID // workspace|scheme|version
	items        map[id.RateCardID][]scheme.RateCardItem
}

func NewInMemory() *InMemory {
	return &InMemory{
		empanelments: make(map[id.EmpanelmentID]*scheme.Empanelment),
		empByScheme:  make(map[string]id.EmpanelmentID),
		cards:        make(map[id.RateCardID]*scheme.RateCard),
		cardByVer:    make(map[string]id.RateCardID),
		items:        make(map[id.RateCardID][]scheme.RateCardItem),
	}
}

func empKey(workspaceID id.WorkspaceID, schemeCode string) string {
	return workspaceID.String() + "|" + schemeCode
}

func cardKey(workspaceID id.WorkspaceID, schemeCode string, version int) string {
	return empKey(workspaceID, schemeCode) + "|" + strconv.Itoa(version)
}

func (m *InMemory) CreateEmpanelment(_ context.Context, e *scheme.Empanelment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := empKey(e.WorkspaceID, e.SchemeCode)
	if _, exists := m.empByScheme[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *e
	m.empanelments[e.ID] = &cp
	m.empByScheme[key] = e.ID
	return nil
}

func (m *InMemory) FindEmpanelment(_ context.Context, eid id.EmpanelmentID) (*scheme.Empanelment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.empanelments[eid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *InMemory) UpdateEmpanelment(_ context.Context, e *scheme.Empanelment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.empanelments[e.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *e
	m.empanelments[e.ID] = &cp
	return nil
}

func (m *InMemory) ListEmpanelments(_ context.Context, workspaceID id.WorkspaceID) ([]scheme.Empanelment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []scheme.Empanelment
	for _, e := range m.empanelments {
		if e.WorkspaceID == workspaceID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemeCode < out[j].SchemeCode })
	return out, nil
}

func (m *InMemory) CountEmpanelments(_ context.Context, workspaceID id.WorkspaceID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.empanelments {
		if e.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (m *InMemory) CreateCard(_ context.Context, c *scheme.RateCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cardKey(c.WorkspaceID, c.SchemeCode, c.Version)
	if _, exists := m.cardByVer[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *c
	m.cards[c.ID] = &cp
	m.cardByVer[key] = c.ID
	return nil
}

func (m *InMemory) FindCard(_ context.Context, cid id.RateCardID) (*scheme.RateCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[cid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *InMemory) UpdateCard(_ context.Context, c *scheme.RateCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *c
	m.cards[c.ID] = &cp
	return nil
}

func (m *InMemory) ListCards(_ context.Context, workspaceID id.WorkspaceID) ([]scheme.RateCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []scheme.RateCard
	for _, c := range m.cards {
		if c.WorkspaceID == workspaceID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SchemeCode != out[j].SchemeCode {
			return out[i].SchemeCode < out[j].SchemeCode
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (m *InMemory) LatestFrozenCard(_ context.Context, workspaceID id.WorkspaceID, schemeCode string) (*scheme.RateCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *scheme.RateCard
	for _, c := range m.cards {
		if c.WorkspaceID != workspaceID || c.SchemeCode != schemeCode || c.Status != scheme.CardFrozen {
			continue
		}
		if best == nil || c.Version > best.Version {
			best = c
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *InMemory) AddItem(_ context.Context, it *scheme.RateCardItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.CardID] = append(m.items[it.CardID], *it)
	return nil
}

func (m *InMemory) ListItems(_ context.Context, cardID id.RateCardID) ([]scheme.RateCardItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]scheme.RateCardItem, len(m.items[cardID]))
	copy(out, m.items[cardID])
	return out, nil
}
