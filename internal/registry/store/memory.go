package store

import (
	"context"
	"sync"

	"custos/internal/registry"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemory backs unit tests and local wiring.
type InMemory struct {
	mu            sync.RWMutex
	configs       map[id.WorkspaceID]registry.Config
	profiles      map[id.WorkspaceID]registry.Profile
	professionals map[id.WorkspaceID][]registry.ProfessionalRecord
}

func NewInMemory() *InMemory {
	return &InMemory{
		configs:       make(map[id.WorkspaceID]registry.Config),
		profiles:      make(map[id.WorkspaceID]registry.Profile),
		professionals: make(map[id.WorkspaceID][]registry.ProfessionalRecord),
	}
}

func (s *InMemory) GetConfig(ctx context.Context, wsID id.WorkspaceID) (*registry.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[wsID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &cfg, nil
}

func (s *InMemory) SaveConfig(ctx context.Context, cfg *registry.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.WorkspaceID] = *cfg
	return nil
}

func (s *InMemory) GetProfile(ctx context.Context, wsID id.WorkspaceID) (*registry.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[wsID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &profile, nil
}

func (s *InMemory) SaveProfile(ctx context.Context, profile *registry.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.WorkspaceID] = *profile
	return nil
}

func (s *InMemory) AddProfessionalRecord(ctx context.Context, rec *registry.ProfessionalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.professionals[rec.WorkspaceID] = append(s.professionals[rec.WorkspaceID], *rec)
	return nil
}

func (s *InMemory) CountProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.professionals[wsID]), nil
}

func (s *InMemory) ListProfessionalRecords(ctx context.Context, wsID id.WorkspaceID) ([]registry.ProfessionalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.ProfessionalRecord, len(s.professionals[wsID]))
	copy(out, s.professionals[wsID])
	return out, nil
}
