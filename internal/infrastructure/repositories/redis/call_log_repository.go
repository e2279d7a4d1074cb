package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const callLogKey = "embercall:call_log"

// RedisCallLogRepository persists call records to a capped Redis list,
// newest first.
type RedisCallLogRepository struct {
	client *redis.Client
	cap    int
}

func NewRedisCallLogRepository(client *redis.Client, capacity int) ports.CallLogRepository {
	if capacity <= 0 {
		capacity = 100
	}
	return &RedisCallLogRepository{client: client, cap: capacity}
}

func (r *RedisCallLogRepository) Record(ctx context.Context, rec *domain.CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, callLogKey, data)
	pipe.LTrim(ctx, callLogKey, 0, int64(r.cap-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist call record: %w", err)
	}
	return nil
}

func (r *RedisCallLogRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 || limit > r.cap {
		limit = r.cap
	}

	items, err := r.client.LRange(ctx, callLogKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read call log: %w", err)
	}

	records := make([]*domain.CallRecord, 0, len(items))
	for _, item := range items {
		rec := &domain.CallRecord{}
		if err := json.Unmarshal([]byte(item), rec); err != nil {
			// Skip corrupt entries rather than failing the whole listing.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
