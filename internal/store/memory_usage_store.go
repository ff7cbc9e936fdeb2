package store

import (
	"context"
	"sync"

	"github.com/dunamismax/pixelpress/internal/domain"
)

type MemoryUsageStore struct {
	mu      sync.RWMutex
	logs    []domain.UsageLog
	summary domain.UsageSummary
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Record(_ context.Context, log domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, log)
	s.summary.Add(log)
	return nil
}

func (s *MemoryUsageStore) Summary(_ context.Context) (domain.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.summary, nil
}

// Logs returns a copy of the recorded logs in insertion order.
func (s *MemoryUsageStore) Logs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageLog, len(s.logs))
	copy(out, s.logs)
	return out
}
