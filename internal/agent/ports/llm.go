// Package ports defines the interfaces the agent engine depends on,
// keeping provider adapters outside the core loop.
package ports

import (
	"context"
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in the conversation.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	// RawArgs preserves the provider's argument text when it could
	// not be parsed into Args directly.
	RawArgs string `json:"raw_args,omitempty"`
}

// ToolSpec is the model-facing tool description.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ArgsSchema  json.RawMessage `json:"args_schema"`
}

// TokenUsage tracks token consumption across calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionRequest carries one model call.
type CompletionRequest struct {
	Messages    []Message  `json:"messages"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      TokenUsage `json:"usage"`
}

// LLM is any chat completion provider.
type LLM interface {
	// Complete sends messages and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Stream sends messages and invokes onToken for each output
	// fragment before returning the assembled response.
	Stream(ctx context.Context, req CompletionRequest, onToken func(token string)) (*CompletionResponse, error)
	// Model returns the model identifier.
	Model() string
}

// ParseToolArgs decodes tool call arguments, repairing malformed JSON
// the way providers sometimes emit it (trailing commas, single quotes,
// unquoted keys).
func ParseToolArgs(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, err
	}
	return args, nil
}
