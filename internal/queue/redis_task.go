package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix = "hyperagent:task:"
	taskKeyTTL    = 7 * 24 * time.Hour
)

// claimScript performs the pending->running compare-and-set on the
// status field of the task hash.
var claimScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
  redis.call("HSET", KEYS[1], "status", ARGV[2], "worker_id", ARGV[3], "started_at", ARGV[4])
  return 1
end
return 0
`)

// progressScript raises progress monotonically.
var progressScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], "progress") or "0")
local next = tonumber(ARGV[1])
if next > current then
  redis.call("HSET", KEYS[1], "progress", ARGV[1])
end
if ARGV[2] ~= "" then
  redis.call("HSET", KEYS[1], "progress_message", ARGV[2])
end
return 1
`)

// RedisTaskStore keeps each task as a hash so progress updates touch
// single fields instead of rewriting the row.
type RedisTaskStore struct {
	client redis.UniversalClient
}

func NewRedisTaskStore(client redis.UniversalClient) *RedisTaskStore {
	return &RedisTaskStore{client: client}
}

func taskKey(id string) string { return taskKeyPrefix + id }

func (s *RedisTaskStore) Create(ctx context.Context, task *Task) error {
	key := taskKey(task.ID)
	created, err := s.client.HSetNX(ctx, key, "id", task.ID).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	fields := map[string]any{
		"user_id":    task.UserID,
		"thread_id":  task.ThreadID,
		"kind":       task.Kind,
		"query":      task.Query,
		"mode_hint":  task.ModeHint,
		"status":     string(task.Status),
		"progress":   task.Progress,
		"retries":    task.RetryCount,
		"created_at": task.CreatedAt.Format(time.RFC3339Nano),
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, taskKeyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	fields, err := s.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, &ErrTaskNotFound{ID: id}
	}
	return taskFromHash(id, fields)
}

func (s *RedisTaskStore) Claim(ctx context.Context, id string, from, to Status, workerID string, at time.Time) (bool, error) {
	n, err := claimScript.Run(ctx, s.client, []string{taskKey(id)},
		string(from), string(to), workerID, at.Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisTaskStore) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	return progressScript.Run(ctx, s.client, []string{taskKey(id)},
		strconv.Itoa(progress), message).Err()
}

func (s *RedisTaskStore) Finalize(ctx context.Context, id string, status Status, result, errMsg string, at time.Time) error {
	fields := map[string]any{
		"status":       string(status),
		"result":       result,
		"error":        errMsg,
		"completed_at": at.Format(time.RFC3339Nano),
	}
	if status == StatusCompleted {
		fields["progress"] = 100
	}
	return s.client.HSet(ctx, taskKey(id), fields).Err()
}

func (s *RedisTaskStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	n, err := s.client.HIncrBy(ctx, taskKey(id), "retries", 1).Result()
	return int(n), err
}

func taskFromHash(id string, fields map[string]string) (*Task, error) {
	task := &Task{
		ID:              id,
		UserID:          fields["user_id"],
		ThreadID:        fields["thread_id"],
		Kind:            fields["kind"],
		Query:           fields["query"],
		ModeHint:        fields["mode_hint"],
		Status:          Status(fields["status"]),
		ProgressMessage: fields["progress_message"],
		Result:          fields["result"],
		Error:           fields["error"],
		WorkerID:        fields["worker_id"],
	}
	if raw := fields["progress"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("task %s has corrupt progress %q", id, raw)
		}
		task.Progress = n
	}
	if raw := fields["retries"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("task %s has corrupt retry count %q", id, raw)
		}
		task.RetryCount = n
	}
	for field, dst := range map[string]**time.Time{
		"started_at":   &task.StartedAt,
		"completed_at": &task.CompletedAt,
	} {
		raw := fields[field]
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("task %s has corrupt %s: %w", id, field, err)
		}
		*dst = &ts
	}
	if raw := fields["created_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("task %s has corrupt created_at: %w", id, err)
		}
		task.CreatedAt = ts
	}
	return task, nil
}

// encodeJob serialises a job for the Redis queue.
func encodeJob(job *Job) ([]byte, error) {
	return json.Marshal(job)
}

func decodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		return nil, errors.New("job has no id")
	}
	return &job, nil
}
