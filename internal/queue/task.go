// Package queue persists tasks, schedules their background jobs and
// runs them on a bounded worker pool.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle of a Task row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is the durable record of one submitted request. The job queue
// references tasks by id; all progress and results land here.
type Task struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ThreadID        string     `json:"thread_id"`
	Kind            string     `json:"kind"`
	Query           string     `json:"query"`
	ModeHint        string     `json:"mode_hint,omitempty"`
	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	WorkerID        string     `json:"worker_id,omitempty"`
	RetryCount      int        `json:"retry_count"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TaskStore persists Task rows. Claim is a compare-and-set so two
// workers polling the same queue cannot both run one job.
type TaskStore interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim transitions from -> to atomically, stamping the worker and
	// start time. Returns false when the task was not in `from`.
	Claim(ctx context.Context, id string, from, to Status, workerID string, at time.Time) (bool, error)
	// UpdateProgress raises the progress percentage. Progress never
	// moves backwards.
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	// Finalize writes the terminal status with result or error.
	Finalize(ctx context.Context, id string, status Status, result, errMsg string, at time.Time) error
	IncrementRetry(ctx context.Context, id string) (int, error)
}

// ErrTaskNotFound reports a lookup for an id that was never created.
type ErrTaskNotFound struct{ ID string }

func (e *ErrTaskNotFound) Error() string { return fmt.Sprintf("task %s not found", e.ID) }

// MemoryTaskStore is the in-process TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

func (s *MemoryTaskStore) Create(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, &ErrTaskNotFound{ID: id}
	}
	copied := *task
	return &copied, nil
}

func (s *MemoryTaskStore) Claim(_ context.Context, id string, from, to Status, workerID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false, &ErrTaskNotFound{ID: id}
	}
	if task.Status != from {
		return false, nil
	}
	task.Status = to
	task.WorkerID = workerID
	started := at
	task.StartedAt = &started
	return true, nil
}

func (s *MemoryTaskStore) UpdateProgress(_ context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return &ErrTaskNotFound{ID: id}
	}
	if progress > task.Progress {
		task.Progress = progress
	}
	if message != "" {
		task.ProgressMessage = message
	}
	return nil
}

func (s *MemoryTaskStore) Finalize(_ context.Context, id string, status Status, result, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return &ErrTaskNotFound{ID: id}
	}
	task.Status = status
	task.Result = result
	task.Error = errMsg
	completed := at
	task.CompletedAt = &completed
	if status == StatusCompleted {
		task.Progress = 100
	}
	return nil
}

func (s *MemoryTaskStore) IncrementRetry(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return 0, &ErrTaskNotFound{ID: id}
	}
	task.RetryCount++
	return task.RetryCount, nil
}
