package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/godamri/helix-audit/audit"
)

// Memory keeps audit records in process. Ids increase monotonically.
type Memory struct {
	mu       sync.RWMutex
	records  []audit.Record
	byEntity map[string][]int
	failNext error
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byEntity: make(map[string][]int),
		now:      time.Now,
	}
}

// FailNextAppend makes the next Append return err without storing anything.
func (m *Memory) FailNextAppend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) Append(_ context.Context, rec audit.Record) (audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return audit.Record{}, audit.WrapPersistence("append audit", err)
	}

	rec.ID = int64(len(m.records) + 1)
	rec.CreatedAt = m.now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	rec = detach(rec)

	k := entityKey(rec.EntityType, rec.EntityID)
	m.byEntity[k] = append(m.byEntity[k], len(m.records))
	m.records = append(m.records, rec)
	return detach(rec), nil
}

func (m *Memory) ListByEntity(_ context.Context, entityType, entityID string) ([]audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byEntity[entityKey(entityType, entityID)]
	out := make([]audit.Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, detach(m.records[i]))
	}
	return out, nil
}

func (m *Memory) FirstByEntity(_ context.Context, entityType, entityID string) (*audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byEntity[entityKey(entityType, entityID)]
	if len(idx) == 0 {
		return nil, nil
	}
	rec := detach(m.records[idx[0]])
	return &rec, nil
}

func (m *Memory) LastByEntity(_ context.Context, entityType, entityID string) (*audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byEntity[entityKey(entityType, entityID)]
	if len(idx) == 0 {
		return nil, nil
	}
	rec := detach(m.records[idx[len(idx)-1]])
	return &rec, nil
}

func (m *Memory) CountByEntity(_ context.Context, entityType, entityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byEntity[entityKey(entityType, entityID)]), nil
}

// Len returns the total number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// detach copies the maps of rec so stored history never shares them with callers.
func detach(rec audit.Record) audit.Record {
	rec.OldValues = rec.OldValues.Clone()
	rec.NewValues = rec.NewValues.Clone()
	rec.Metadata = maps.Clone(rec.Metadata)
	return rec
}

func entityKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}
