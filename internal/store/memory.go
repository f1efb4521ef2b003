package store

import (
	"context"
	"sync"

	"github.com/ufohubx/keyserver/internal/model"
)

// Memory is an in-process store. State is lost on restart; it backs tests
// and deployments that accept ephemeral keys.
type Memory struct {
	mu      sync.Mutex
	records map[string]*model.KeyRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*model.KeyRecord)}
}

// Load returns all records
func (m *Memory) Load(ctx context.Context) ([]*model.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.KeyRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// Put inserts or replaces a record
func (m *Memory) Put(ctx context.Context, rec *model.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.records[rec.Key] = &cp
	return nil
}

// Delete removes a record by key string
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}
