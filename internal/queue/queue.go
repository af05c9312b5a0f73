package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Job is one unit of queued work. The Task row must already exist;
// the job only carries the pointer and retry bookkeeping.
type Job struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	TaskID     string         `json:"task_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	RetryCount int            `json:"retry_count"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// KindResearch is the job kind for supervised agent runs.
const KindResearch = "research"

// ResearchJobID is the deterministic id that makes re-submission of
// the same task idempotent.
func ResearchJobID(taskID string) string {
	return KindResearch + ":" + taskID
}

// BatchJobID names ad-hoc batch work with a random suffix.
func BatchJobID(batchType string) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("batch:%s:%08x", batchType, time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("batch:%s:%s", batchType, hex.EncodeToString(buf))
}

// JobQueue hands jobs from producers to workers. Enqueue with an
// already-queued id is a no-op; PromoteDelayed moves due delayed jobs
// onto the ready list and is called from the worker tick.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job, delay time.Duration) (bool, error)
	Dequeue(ctx context.Context) (*Job, bool, error)
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

type delayedJob struct {
	job     *Job
	readyAt time.Time
}

// MemoryQueue is the in-process JobQueue used by tests and single-node
// deployments.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []*Job
	delayed []delayedJob
	queued  map[string]bool
	clock   func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queued: make(map[string]bool), clock: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[job.ID] {
		return false, nil
	}
	q.queued[job.ID] = true
	copied := *job
	copied.EnqueuedAt = q.clock()
	if delay > 0 {
		q.delayed = append(q.delayed, delayedJob{job: &copied, readyAt: q.clock().Add(delay)})
		sort.Slice(q.delayed, func(i, j int) bool { return q.delayed[i].readyAt.Before(q.delayed[j].readyAt) })
		return true, nil
	}
	q.ready = append(q.ready, &copied)
	return true, nil
}

func (q *MemoryQueue) Dequeue(context.Context) (*Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, false, nil
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	delete(q.queued, job.ID)
	return job, true, nil
}

func (q *MemoryQueue) PromoteDelayed(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	promoted := 0
	for len(q.delayed) > 0 && !q.delayed[0].readyAt.After(now) {
		q.ready = append(q.ready, q.delayed[0].job)
		q.delayed = q.delayed[1:]
		promoted++
	}
	return promoted, nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed), nil
}
