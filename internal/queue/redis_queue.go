package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-summarizer/internal/config"
)

// RedisQueue carries job ids from the API to the worker with lease-based
// at-least-once delivery: ready list plus an in-flight zset scored by lease
// deadline. A worker crash mid-execution surfaces as an expired lease and
// the job id is handed to the next worker.
type RedisQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	leaseTTL    time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.LeaseTTL)
}

// NewRedisQueueWithClient wires an existing client, used by tests.
func NewRedisQueueWithClient(client *redis.Client, leaseTTL time.Duration) *RedisQueue {
	if leaseTTL == 0 {
		leaseTTL = 15 * time.Minute
	}
	return &RedisQueue{
		client:      client,
		readyKey:    "summary:ready",
		inflightKey: "summary:inflight",
		leaseTTL:    leaseTTL,
	}
}

// Enqueue pushes a job id onto the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.readyKey, jobID).Err()
}

// DequeueWithLease pops the next ready job id and places it into the
// in-flight set with a lease deadline. Returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.leaseTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// Ack removes a job from in-flight tracking once its execution finished.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns the length of the ready queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
