// File: internal/queue/redis.go
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// RedisQueue is the self-hosted backend: a plain Redis list
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects lazily to the Redis server at url (redis:// or rediss://)
func NewRedisQueue(url, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConfiguration, "Invalid Redis URL", err)
	}
	return NewRedisQueueFromClient(redis.NewClient(opts), key), nil
}

// NewRedisQueueFromClient wraps an existing client
func NewRedisQueueFromClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue pushes job on the head of the list
func (q *RedisQueue) Enqueue(ctx context.Context, job *models.MintJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return utils.WrapAppError(utils.ErrCodeConnection, "Failed to enqueue mint job", err)
	}
	return nil
}

// DequeueOne pops from the tail without blocking; timeout is ignored
func (q *RedisQueue) DequeueOne(ctx context.Context, _ time.Duration) (*models.MintJob, error) {
	payload, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConnection, "Failed to dequeue mint job", err)
	}
	return decodePayload(payload)
}

// Name identifies the backend
func (q *RedisQueue) Name() string { return "redis" }

// Close releases the client's connections
func (q *RedisQueue) Close() error { return q.client.Close() }
