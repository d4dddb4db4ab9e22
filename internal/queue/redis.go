package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager is the default work queue: a Redis list pushed by the
// API server and popped by the dispatcher pool. The blocking pop is the
// ack, so a dispatcher that dies mid-item loses it; deployments that
// need redelivery use the SQS backend instead.
type RedisManager struct {
	Client       *redis.Client
	Key          string
	BlockTimeout time.Duration
}

func NewRedisManager(client *redis.Client, key string) *RedisManager {
	return &RedisManager{
		Client:       client,
		Key:          key,
		BlockTimeout: 20 * time.Second,
	}
}

func (m *RedisManager) Enqueue(ctx context.Context, jobID string) error {
	if err := m.Client.RPush(ctx, m.Key, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

func (m *RedisManager) Receive(ctx context.Context) ([]Item, error) {
	// BLPop returns [key, value]
	result, err := m.Client.BLPop(ctx, m.BlockTimeout, m.Key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []Item{{JobID: result[1]}}, nil
}

func (m *RedisManager) Ack(ctx context.Context, item Item) error {
	// The pop already removed the item.
	return nil
}
