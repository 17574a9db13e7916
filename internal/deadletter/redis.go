package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"db2es/internal/config"
	"db2es/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisMirror pushes dead-letter entries onto a Redis list for consumers that replay failures.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisMirror(client *redis.Client, key string) *RedisMirror {
	return &RedisMirror{client: client, key: key}
}

func (m *RedisMirror) Push(ctx context.Context, entry models.DeadLetterEntry) error {
	if m.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}
	if err := m.client.LPush(ctx, m.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead-letter entry: %w", err)
	}
	return nil
}
