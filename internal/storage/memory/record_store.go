package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// RecordStore keeps records in a map and counts writes.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]draw.Record
	writes  int
	err     error
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]draw.Record)}
}

// SetError makes every later call fail with err until cleared with nil.
func (s *RecordStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Get returns the record stored under id.
func (s *RecordStore) Get(_ context.Context, id string) (draw.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return draw.Record{}, false, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return draw.Record{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

// Upsert inserts or replaces the record.
func (s *RecordStore) Upsert(_ context.Context, rec draw.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records[rec.ID] = cloneRecord(rec)
	s.writes++
	return nil
}

// Writes reports how many upserts succeeded.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Records returns a copy of every stored record.
func (s *RecordStore) Records() []draw.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]draw.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

func cloneRecord(rec draw.Record) draw.Record {
	fields := make(map[string][]string, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = append([]string(nil), v...)
	}
	rec.Fields = fields
	return rec
}
