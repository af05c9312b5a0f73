package queue

import (
	"context"
	"sync"
)

// CancelRegistry maps running task ids to their job contexts so the
// HTTP layer (DELETE or SSE disconnect) can abort them.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register records the cancel function for a running task.
func (r *CancelRegistry) Register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[taskID] = cancel
}

// Release forgets a finished task without cancelling it.
func (r *CancelRegistry) Release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, taskID)
}

// Cancel aborts the task's job context. Returns false when the task
// is not currently running on this process.
func (r *CancelRegistry) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	delete(r.cancels, taskID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Len reports how many tasks are currently registered.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
