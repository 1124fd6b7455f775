package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"checkout-backend/internal/domain"
)

const defaultPrefix = "notify:"

// promoteScript moves due jobs from the delayed set to the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, v in ipairs(due) do
  redis.call('ZREM', KEYS[1], v)
  redis.call('LPUSH', KEYS[2], v)
end
return #due
`)

// RedisQueue keeps jobs in a ready list, a processing list holding leased
// jobs and a delayed sorted set scored by run time. Finished jobs are kept
// under their own keys for the retention the policy asks for.
type RedisQueue struct {
	rdb    redis.UniversalClient
	prefix string
	policy RetryPolicy
	now    func() time.Time
}

func NewRedisQueue(rdb redis.UniversalClient, policy RetryPolicy) *RedisQueue {
	return &RedisQueue{rdb: rdb, prefix: defaultPrefix, policy: policy, now: time.Now}
}

// WithPrefix namespaces the queue keys; tests use it for isolation.
func (q *RedisQueue) WithPrefix(p string) *RedisQueue {
	q.prefix = p
	return q
}

func (q *RedisQueue) readyKey() string      { return q.prefix + "ready" }
func (q *RedisQueue) processingKey() string { return q.prefix + "processing" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + "delayed" }
func (q *RedisQueue) completedKey(id string) string {
	return q.prefix + "completed:" + id
}
func (q *RedisQueue) failedKey(id string) string { return q.prefix + "failed:" + id }

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.RunAt.After(q.now()) {
		return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: raw}).Err()
	}
	return q.rdb.LPush(ctx, q.readyKey(), raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.readyKey()}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	raw, err := q.rdb.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job domain.NotificationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison entry: park it with the failed jobs so it stops blocking.
		_ = q.rdb.LRem(ctx, q.processingKey(), 1, raw).Err()
		_ = q.rdb.Set(ctx, q.failedKey("undecodable:"+strconv.FormatInt(time.Now().UnixNano(), 10)), raw, q.policy.KeepFailed).Err()
		return nil, err
	}
	return &Delivery{Job: job, raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, d.raw)
		p.Set(ctx, q.completedKey(d.Job.ID), d.raw, q.policy.KeepCompleted)
		return nil
	})
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, at time.Time) error {
	raw, err := json.Marshal(d.Job)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, d.raw)
		p.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(at.UnixMilli()), Member: raw})
		return nil
	})
	return err
}

func (q *RedisQueue) Fail(ctx context.Context, d *Delivery) error {
	raw, err := json.Marshal(d.Job)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(), 1, d.raw)
		p.Set(ctx, q.failedKey(d.Job.ID), raw, q.policy.KeepFailed)
		return nil
	})
	return err
}

// Recover returns jobs leased by a worker that stopped without acking them.
// Call it before starting workers.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Failed loads an exhausted job while it is still retained.
func (q *RedisQueue) Failed(ctx context.Context, id string) (*domain.NotificationJob, error) {
	raw, err := q.rdb.Get(ctx, q.failedKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job domain.NotificationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
