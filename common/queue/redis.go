package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue on a Redis stream with a consumer group, so
// several runner processes can share one backlog. Each entry carries
// the run id; cancellation marks ids in a tombstone set that Pop
// filters out.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewRedisQueue creates the stream and consumer group when absent.
func NewRedisQueue(ctx context.Context, client *redis.Client, stream string) (*RedisQueue, error) {
	group := stream + ":runners"
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &RedisQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: fmt.Sprintf("runner_%s", uuid.NewString()[:8]),
	}, nil
}

func (q *RedisQueue) tombstoneKey() string {
	return q.stream + ":cancelled"
}

// Push appends the id to the stream.
func (q *RedisQueue) Push(ctx context.Context, id string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"run_id": id},
	}).Err()
}

// Pop reads the next non-cancelled id from the stream, blocking in
// short intervals so ctx cancellation is honored.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := q.client.XAck(ctx, q.stream, q.group, message.ID).Err(); err != nil {
					return "", fmt.Errorf("ack message: %w", err)
				}
				id, _ := message.Values["run_id"].(string)
				if id == "" {
					continue
				}
				removed, err := q.client.SRem(ctx, q.tombstoneKey(), id).Result()
				if err != nil {
					return "", err
				}
				if removed > 0 {
					// Cancelled while queued; skip it.
					continue
				}
				return id, nil
			}
		}
	}
}

// Remove tombstones an id so Pop skips it. Stream entries cannot be
// deleted by value, so the id is acked lazily at read time.
func (q *RedisQueue) Remove(ctx context.Context, id string) (bool, error) {
	added, err := q.client.SAdd(ctx, q.tombstoneKey(), id).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }
