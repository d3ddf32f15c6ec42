package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/model"
)

// RedisQueueStore persists the queue as a Redis list, one JSON-encoded
// operation per element, in queue order. Save replaces the list inside a
// MULTI/EXEC so readers never observe a half-written queue.
type RedisQueueStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisQueueStore creates a queue store on an existing client
func NewRedisQueueStore(client *redis.Client, key string, logger *zap.Logger) *RedisQueueStore {
	return &RedisQueueStore{
		client: client,
		key:    key,
		logger: logger,
	}
}

// DialRedisQueueStore connects to Redis and creates a queue store
func DialRedisQueueStore(host string, port int, password string, db int, key string, logger *zap.Logger) (*RedisQueueStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisQueueStore(client, key, logger), nil
}

// Load reads the queue in order
func (s *RedisQueueStore) Load(ctx context.Context) ([]*model.QueuedOperation, error) {
	items, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	ops := make([]*model.QueuedOperation, 0, len(items))
	for i, item := range items {
		var op model.QueuedOperation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			return nil, fmt.Errorf("failed to decode queued operation %d: %w", i, err)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

// Save replaces the queue
func (s *RedisQueueStore) Save(ctx context.Context, ops []*model.QueuedOperation) error {
	values := make([]any, 0, len(ops))
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to encode queued operation %s: %w", op.ID, err)
		}
		values = append(values, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.RPush(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}

	s.logger.Debug("Queue persisted",
		zap.String("key", s.key),
		zap.Int("operations", len(ops)))
	return nil
}

// Ping checks the Redis connection
func (s *RedisQueueStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisQueueStore) Close() error {
	return s.client.Close()
}
