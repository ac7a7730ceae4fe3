package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps audit records in memory. Intended for tests and
// development; records do not survive a restart.
type MemoryStorage struct {
	mu      sync.Mutex
	records []*Record
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Append(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records = append(s.records, &copied)
	return nil
}

func (s *MemoryStorage) Recent(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if limit > n {
		limit = n
	}
	out := make([]*Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		copied := *s.records[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStorage) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r.Time.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func (s *MemoryStorage) Close() error { return nil }
