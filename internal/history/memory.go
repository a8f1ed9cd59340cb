package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

// MemoryStore keeps every reading for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]model.Reading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]model.Reading)}
}

func (m *MemoryStore) Append(_ context.Context, r model.Reading) error {
	r = model.NewReading(r.Stream, r.Time, r.Fields)
	m.mu.Lock()
	m.data[r.Stream] = append(m.data[r.Stream], r)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Range(_ context.Context, stream string, start, end time.Time) ([]model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Reading
	for _, r := range m.data[stream] {
		if r.Time.Before(start) || r.Time.After(end) {
			continue
		}
		out = append(out, model.NewReading(r.Stream, r.Time, r.Fields))
	}
	return out, nil
}

// Latest returns the reading with the greatest timestamp; on a tie the one
// appended last wins.
func (m *MemoryStore) Latest(_ context.Context, stream string) (model.Reading, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := m.data[stream]
	if len(rs) == 0 {
		return model.Reading{}, false, nil
	}
	best := 0
	for i := 1; i < len(rs); i++ {
		if !rs[i].Time.Before(rs[best].Time) {
			best = i
		}
	}
	r := rs[best]
	return model.NewReading(r.Stream, r.Time, r.Fields), true, nil
}

func (m *MemoryStore) Streams(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
