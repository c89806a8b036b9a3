package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisQueue is a list-backed queue. Failed jobs go to "<name>:failed".
type RedisQueue struct {
	rdb     *redis.Client
	name    string
	timeout time.Duration
	logger  *zap.Logger
}

var (
	_ Publisher = (*RedisQueue)(nil)
	_ Consumer  = (*RedisQueue)(nil)
)

func NewRedisQueue(rdb *redis.Client, name string, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name, timeout: 5 * time.Second, logger: logger.Named("queue")}
}

func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.name, data).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, handle func(context.Context, Job) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := q.next(ctx, handle); err != nil {
			return err
		}
	}
}

// next pops and handles at most one job.
func (q *RedisQueue) next(ctx context.Context, handle func(context.Context, Job) error) error {
	res, err := q.rdb.BLPop(ctx, q.timeout, q.name).Result()
	if errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pop %s: %w", q.name, err)
	}

	// BLPop returns [key, value].
	body := []byte(res[1])
	job, err := Decode(body)
	if err != nil {
		q.logger.Error("dropping malformed job", zap.ByteString("body", body), zap.Error(err))
		return nil
	}

	if err := handle(ctx, job); err != nil {
		q.logger.Error("job failed", zap.String("job", job.Name), zap.Int64("subscription_id", job.SubscriptionID), zap.Error(err))
		if err := q.rdb.RPush(ctx, q.name+":failed", body).Err(); err != nil {
			q.logger.Error("failed to park job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	return nil
}

// Locker takes short-lived exclusive locks in Redis.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire returns true when the caller now holds key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, 1, ttl).Result()
}

func (l *Locker) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}
