package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueKey = "verisync:tasks"
	pollInterval    = 500 * time.Millisecond
)

// RedisQueue is a delayed task queue on a Redis sorted set. The member is
// the JSON-encoded task and the score its ready time; ZREM after a ranged
// read claims a task exactly once across competing workers.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: defaultQueueKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	readyAt := time.Now().Add(delay)
	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		task, ok, err := q.claim(ctx)
		if err != nil {
			return Task{}, err
		}
		if ok {
			return task, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Task{}, ctx.Err()
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (Task, bool, error) {
	now := float64(time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 10,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Task{}, false, fmt.Errorf("read ready tasks: %w", err)
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return Task{}, false, fmt.Errorf("claim task: %w", err)
		}
		if removed == 0 {
			// Another worker claimed it first.
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			return Task{}, false, fmt.Errorf("decode task: %w", err)
		}
		return task, true, nil
	}
	return Task{}, false, nil
}
