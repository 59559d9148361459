package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"custos/internal/ledger"
)

// InMemory is the test double for the ledger store. Entries are copied on
// append and on read so callers can never mutate what was recorded.
type InMemory struct {
	mu      sync.RWMutex
	entries []ledger.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(*entry))
	return nil
}

func (s *InMemory) List(ctx context.Context, filter ledger.Filter, after *ledger.Position, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]ledger.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if matches(e, filter) {
			matched = append(matched, cloneEntry(e))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})

	if after != nil {
		cut := 0
		for i, e := range matched {
			if e.CreatedAt.Before(after.CreatedAt) ||
				(e.CreatedAt.Equal(after.CreatedAt) && e.ID.String() < after.ID.String()) {
				cut = i
				break
			}
			cut = i + 1
		}
		matched = matched[cut:]
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matches(e ledger.Entry, f ledger.Filter) bool {
	if !f.WorkspaceID.IsNil() && e.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.ActorID.IsNil() {
		if e.ActorID == nil || *e.ActorID != f.ActorID {
			return false
		}
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

func cloneEntry(e ledger.Entry) ledger.Entry {
	out := e
	if e.ActorID != nil {
		actorID := *e.ActorID
		out.ActorID = &actorID
	}
	out.Before = bytes.Clone(e.Before)
	out.After = bytes.Clone(e.After)
	return out
}
