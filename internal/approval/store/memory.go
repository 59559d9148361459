package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"custos/internal/approval"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemory backs unit tests and local wiring.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.ApprovalID]approval.Request
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.ApprovalID]approval.Request)}
}

func (s *InMemory) Create(ctx context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, approvalID id.ApprovalID) (*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneRequest(req)
	return &out, nil
}

func (s *InMemory) Update(ctx context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (s *InMemory) RecordDecision(ctx context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != approval.StatusSubmitted {
		return sentinel.ErrInvalidState
	}
	s.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (s *InMemory) ListByWorkspace(ctx context.Context, wsID id.WorkspaceID, status approval.Status) ([]approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Request
	for _, req := range s.requests {
		if req.WorkspaceID != wsID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneRequest(req approval.Request) approval.Request {
	out := req
	out.Payload = bytes.Clone(req.Payload)
	if req.DecidedBy != nil {
		decider := *req.DecidedBy
		out.DecidedBy = &decider
	}
	if req.DecidedAt != nil {
		at := *req.DecidedAt
		out.DecidedAt = &at
	}
	return out
}
