package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory ModuleStore used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	modules map[string]ModuleRecord
}

var _ ModuleStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{modules: make(map[string]ModuleRecord)}
}

func (m *Memory) ListModules(_ context.Context) ([]ModuleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ModuleRecord, 0, len(m.modules))
	for _, rec := range m.modules {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetModule(_ context.Context, id string) (ModuleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.modules[id]
	if !ok {
		return ModuleRecord{}, fmt.Errorf("module %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (m *Memory) SaveModule(_ context.Context, rec ModuleRecord) (ModuleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.modules[rec.ID]; ok {
		rec.InstalledAt = existing.InstalledAt
	} else if rec.InstalledAt.IsZero() {
		rec.InstalledAt = now
	}
	rec.UpdatedAt = now
	m.modules[rec.ID] = rec
	return rec, nil
}

func (m *Memory) DeleteModule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.modules[id]; !ok {
		return fmt.Errorf("module %s: %w", id, ErrNotFound)
	}
	delete(m.modules, id)
	return nil
}
