package ports

import (
	"context"

	"embercall/internal/core/domain"
)

// CallLogRepository stores terminal snapshots of finished calls.
type CallLogRepository interface {
	Record(ctx context.Context, rec *domain.CallRecord) error
	List(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}
