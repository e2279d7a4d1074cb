package memory

import (
	"context"
	"sync"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"
)

// MemoryCallLogRepository keeps the most recent call records in a bounded
// ring. Oldest entries are dropped once the cap is reached.
type MemoryCallLogRepository struct {
	mu      sync.RWMutex
	records []*domain.CallRecord
	cap     int
}

func NewMemoryCallLogRepository(capacity int) ports.CallLogRepository {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryCallLogRepository{cap: capacity}
}

func (r *MemoryCallLogRepository) Record(ctx context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Newest first.
	r.records = append([]*domain.CallRecord{rec}, r.records...)
	if len(r.records) > r.cap {
		r.records = r.records[:r.cap]
	}
	return nil
}

func (r *MemoryCallLogRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}

	out := make([]*domain.CallRecord, limit)
	for i := 0; i < limit; i++ {
		rec := *r.records[i]
		out[i] = &rec
	}
	return out, nil
}
