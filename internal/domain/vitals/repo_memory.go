package vitals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local SampleStore.
type MemoryStore struct {
	mu       sync.RWMutex
	pressure map[uuid.UUID]BloodPressureReading
	weight   map[uuid.UUID]WeightReading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pressure: make(map[uuid.UUID]BloodPressureReading),
		weight:   make(map[uuid.UUID]WeightReading),
	}
}

func (m *MemoryStore) SaveBloodPressure(_ context.Context, r *BloodPressureReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pressure[r.ID] = *r
	return nil
}

func (m *MemoryStore) DeleteBloodPressure(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pressure[id]; !ok {
		return fmt.Errorf("blood pressure %s: %w", id, ErrSampleNotFound)
	}
	delete(m.pressure, id)
	return nil
}

func (m *MemoryStore) QueryBloodPressure(_ context.Context, from, to time.Time) ([]*BloodPressureReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*BloodPressureReading{}
	for _, r := range m.pressure {
		if inRange(r.Time, from, to) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func (m *MemoryStore) SaveWeight(_ context.Context, r *WeightReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weight[r.ID] = *r
	return nil
}

func (m *MemoryStore) DeleteWeight(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.weight[id]; !ok {
		return fmt.Errorf("weight %s: %w", id, ErrSampleNotFound)
	}
	delete(m.weight, id)
	return nil
}

func (m *MemoryStore) QueryWeight(_ context.Context, from, to time.Time) ([]*WeightReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*WeightReading{}
	for _, r := range m.weight {
		if inRange(r.Time, from, to) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
