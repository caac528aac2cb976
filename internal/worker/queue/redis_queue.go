// Package queue is the Redis list connecting the API to the render
// workers. Submissions push job ids on one end, workers pop from the
// other, so renders start in submission order.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"montage/internal/pkg/errors"
)

type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push enqueues a job id for rendering.
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, q.queueName, jobID).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.push", "could not enqueue job")
	}
	return nil
}

// Pop blocks up to timeout for the next job id (BRPOP). ok is false when
// the queue stayed empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "queue.pop", "could not read queue")
	}
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}
