package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"hyperagent/internal/logging"
)

const (
	readyListKey  = "hyperagent:queue:ready"
	delayedSetKey = "hyperagent:queue:delayed"
	dedupePrefix  = "hyperagent:queue:job:"
	// dedupeTTL bounds how long a lost job id can block resubmission.
	dedupeTTL = 24 * time.Hour
)

// RedisQueue is the shared JobQueue: a ready list for immediate jobs,
// a sorted set scored by ready-time for delayed ones, and SETNX keys
// for idempotent enqueues.
type RedisQueue struct {
	client redis.UniversalClient
	logger logging.Logger
}

func NewRedisQueue(client redis.UniversalClient, logger logging.Logger) *RedisQueue {
	return &RedisQueue{client: client, logger: logging.OrNop(logger)}
}

func dedupeKey(jobID string) string { return dedupePrefix + jobID }

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) (bool, error) {
	fresh, err := q.client.SetNX(ctx, dedupeKey(job.ID), 1, dedupeTTL).Result()
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}

	copied := *job
	copied.EnqueuedAt = time.Now()
	payload, err := encodeJob(&copied)
	if err != nil {
		q.client.Del(ctx, dedupeKey(job.ID))
		return false, err
	}

	if delay > 0 {
		score := float64(time.Now().Add(delay).UnixMilli())
		if err := q.client.ZAdd(ctx, delayedSetKey, redis.Z{Score: score, Member: payload}).Err(); err != nil {
			q.client.Del(ctx, dedupeKey(job.ID))
			return false, err
		}
		return true, nil
	}

	if err := q.client.LPush(ctx, readyListKey, payload).Err(); err != nil {
		q.client.Del(ctx, dedupeKey(job.ID))
		return false, err
	}
	return true, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, bool, error) {
	raw, err := q.client.RPop(ctx, readyListKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	job, err := decodeJob(raw)
	if err != nil {
		q.logger.Warn("dropping undecodable job: %v", err)
		return nil, false, nil
	}
	q.client.Del(ctx, dedupeKey(job.ID))
	return job, true, nil
}

// PromoteDelayed moves every delayed job whose ready-time has passed
// onto the ready list.
func (q *RedisQueue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, delayedSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(now),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, delayedSetKey, member).Result()
		if err != nil {
			return promoted, err
		}
		// Another worker may have promoted it between the range read
		// and the remove; only the one that wins the ZREM pushes.
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyListKey, member).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	ready, err := q.client.LLen(ctx, readyListKey).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.client.ZCard(ctx, delayedSetKey).Result()
	if err != nil {
		return 0, err
	}
	return int(ready + delayed), nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
