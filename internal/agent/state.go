// Package agent implements the ReAct loop: model calls, tool
// execution, HITL suspension and context budgeting.
package agent

import (
	"hyperagent/internal/agent/ports"
	"hyperagent/internal/tool"
)

// Phase is the loop's position in its state machine.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseModelCall    Phase = "model_call"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseSuspended    Phase = "suspended"
	PhaseDone         Phase = "done"
	PhaseCancelled    Phase = "cancelled"
	PhaseFatal        Phase = "fatal_error"
	PhaseBudget       Phase = "budget_exceeded"
)

// State is the mutable per-invocation loop state. It is owned by one
// goroutine at a time; suspension hands it to the resume path intact.
type State struct {
	TaskID   string
	ThreadID string
	UserID   string
	Agent    string

	Messages []ports.Message
	Phase    Phase

	// ToolIterations counts completed tool batches across the whole
	// invocation, including batches run before a suspension.
	ToolIterations    int
	ConsecutiveErrors int

	// AutoApprove lists tools the user approved for the rest of the
	// session via approve_always.
	AutoApprove map[string]bool

	// ContextSummary holds the compressed prefix of a long
	// conversation, prepended as a system message on later calls.
	ContextSummary string

	FinalResponse string
	Usage         ports.TokenUsage

	// lastResults accumulates the current batch's results so the
	// engine can spot handoff markers once the batch completes.
	lastResults []batchResult
}

type batchResult struct {
	call   ports.ToolCall
	result tool.Result
}

// NewState seeds loop state from a system prompt and user query.
func NewState(taskID, threadID, userID, agentName, systemPrompt, query string) *State {
	return &State{
		TaskID:      taskID,
		ThreadID:    threadID,
		UserID:      userID,
		Agent:       agentName,
		Phase:       PhaseInit,
		AutoApprove: make(map[string]bool),
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: systemPrompt},
			{Role: ports.RoleUser, Content: query},
		},
	}
}

func (s *State) append(msg ports.Message) {
	s.Messages = append(s.Messages, msg)
}

// rejectToolResult overwrites the recorded result for callID with an
// error observation, so the model sees the call as failed on the next
// turn.
func (s *State) rejectToolResult(callID, content string) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		msg := &s.Messages[i]
		if msg.Role == ports.RoleTool && msg.ToolCallID == callID {
			msg.Content = "Error: " + content
			return
		}
	}
}

// autoApproved reports whether the tool bypasses the approval gate.
func (s *State) autoApproved(toolName string) bool {
	return s.AutoApprove[toolName]
}
