package store

import (
	"context"
	"sort"
	"sync"

	"custos/internal/schemesync"
	id "custos/pkg/domain"
	"custos/pkg/platform/sentinel"
)

// InMemoryExternal simulates the operational billing store in tests and
// local development.
type InMemoryExternal struct {
	mu      sync.RWMutex
	records map[id.ExternalRecordID]*schemesync.ExternalRecord
}

func NewInMemoryExternal() *InMemoryExternal {
	return &InMemoryExternal{records: make(map[id.ExternalRecordID]*schemesync.ExternalRecord)}
}

func (m *InMemoryExternal) FindByID(_ context.Context, rid id.ExternalRecordID) (*schemesync.ExternalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[rid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *InMemoryExternal) FindByBranchScheme(_ context.Context, branchID id.BranchID, schemeType string) (*schemesync.ExternalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.BranchID == branchID && rec.SchemeType == schemeType {
			return cloneRecord(rec), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *InMemoryExternal) ListByBranch(_ context.Context, branchID id.BranchID) ([]schemesync.ExternalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemesync.ExternalRecord
	for _, rec := range m.records {
		if rec.BranchID == branchID {
			out = append(out, *cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemeType < out[j].SchemeType })
	return out, nil
}

func (m *InMemoryExternal) Upsert(_ context.Context, rec *schemesync.ExternalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func cloneRecord(rec *schemesync.ExternalRecord) *schemesync.ExternalRecord {
	cp := *rec
	cp.PackageCodes = append([]string(nil), rec.PackageCodes...)
	cp.PackageRatesPaise = append([]int64(nil), rec.PackageRatesPaise...)
	if rec.LinkedTo != nil {
		linked := *rec.LinkedTo
		cp.LinkedTo = &linked
	}
	return &cp
}
