package skill

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	agenterrors "hyperagent/internal/errors"
)

// ExecutionStatus tracks one skill run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is the persisted record of a skill run.
type Execution struct {
	ID              string          `json:"id"`
	SkillID         string          `json:"skill_id"`
	UserID          string          `json:"user_id"`
	TaskID          string          `json:"task_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	InputParams     map[string]any  `json:"input_params"`
	Output          any             `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms,omitempty"`
}

// Store holds skill definitions and their execution records.
type Store interface {
	GetSkill(ctx context.Context, id string) (*Definition, error)
	ListSkills(ctx context.Context) ([]*Definition, error)
	PutSkill(ctx context.Context, def *Definition) error
	InsertExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
}

// ErrNotFound reports a missing skill or execution.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// MemoryStore is the in-process Store used by tests and single-node
// deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	skills     map[string]*Definition
	executions map[string]*Execution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		skills:     make(map[string]*Definition),
		executions: make(map[string]*Execution),
	}
}

func (s *MemoryStore) GetSkill(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.skills[id]
	if !ok {
		return nil, agenterrors.Input(&ErrNotFound{Kind: "skill", ID: id}, fmt.Sprintf("skill %s not found", id))
	}
	return def, nil
}

func (s *MemoryStore) ListSkills(context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Definition, 0, len(s.skills))
	for _, def := range s.skills {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutSkill(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[def.ID] = def
	return nil
}

func (s *MemoryStore) InsertExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; exists {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; !exists {
		return &ErrNotFound{Kind: "execution", ID: exec.ID}
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "execution", ID: id}
	}
	copied := *exec
	return &copied, nil
}
