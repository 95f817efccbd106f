package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	latestKey = "mend:metrics:latest"
	latestTTL = 10 * time.Minute
)

// RedisBackend shares the latest snapshot through Redis so sibling processes
// (and the transfer peer tooling) see the same observation.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisBackend{client: client}, nil
}

// SetLatest stores the snapshot with a TTL.
func (b *RedisBackend) SetLatest(ctx context.Context, m models.SystemMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return b.client.Set(ctx, latestKey, data, latestTTL).Err()
}

// Latest reads the most recent snapshot, if one exists.
func (b *RedisBackend) Latest(ctx context.Context) (models.SystemMetrics, bool, error) {
	data, err := b.client.Get(ctx, latestKey).Bytes()
	if err == redis.Nil {
		return models.SystemMetrics{}, false, nil
	}
	if err != nil {
		return models.SystemMetrics{}, false, err
	}
	var m models.SystemMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return models.SystemMetrics{}, false, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return m, true, nil
}

// Close releases the Redis connection.
func (b *RedisBackend) Close() error { return b.client.Close() }

var _ Backend = (*RedisBackend)(nil)
