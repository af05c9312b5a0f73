// Package hitl manages human-in-the-loop interrupts: storing pending
// questions, blocking agent loops on answers, and delivering responses
// submitted over HTTP.
package hitl

import (
	"context"
	"sync"
	"time"

	"hyperagent/internal/event"
)

// Action is what the user decided.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
	ActionSkip    Action = "skip"
	ActionSelect  Action = "select"
	ActionInput   Action = "input"
	// ActionApproveAlways approves and adds the tool to the session
	// auto-approve set.
	ActionApproveAlways Action = "approve_always"
	ActionCancel        Action = "cancel"
)

// Valid reports whether the action is one the manager accepts.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionDeny, ActionSkip, ActionSelect, ActionInput, ActionApproveAlways, ActionCancel:
		return true
	}
	return false
}

// Interrupt is one pending question to the user.
type Interrupt struct {
	ID        string              `json:"id"`
	ThreadID  string              `json:"thread_id"`
	Kind      event.InterruptKind `json:"kind"`
	Tool      string              `json:"tool,omitempty"`
	Args      map[string]any      `json:"args,omitempty"`
	Message   string              `json:"message"`
	Options   []string            `json:"options,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Response is the user's answer to an interrupt.
type Response struct {
	Action Action `json:"action"`
	Value  string `json:"value,omitempty"`
}

// Store persists pending interrupts so reconnecting clients can
// rehydrate. One pending interrupt per thread.
type Store interface {
	Save(ctx context.Context, interrupt *Interrupt) error
	Load(ctx context.Context, threadID string) (*Interrupt, error)
	Delete(ctx context.Context, threadID string) error
}

// MemoryStore keeps pending interrupts in-process. Suitable for
// single-node deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	pending map[string]*Interrupt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string]*Interrupt)}
}

func (s *MemoryStore) Save(_ context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[interrupt.ThreadID] = interrupt
	return nil
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[threadID], nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, threadID)
	return nil
}
