// Package event defines the typed records streamed from workers to
// clients. The wire encoding is one JSON object per event with a
// top-level "type" discriminator, so existing SSE consumers keep
// working unchanged.
package event

import "time"

// Type discriminates event payloads.
type Type string

const (
	TypeToken         Type = "token"
	TypeStage         Type = "stage"
	TypeToolCall      Type = "tool_call"
	TypeToolResult    Type = "tool_result"
	TypeSource        Type = "source"
	TypeImage         Type = "image"
	TypeHandoff       Type = "handoff"
	TypeBrowserStream Type = "browser_stream"
	TypeReasoning     Type = "reasoning"
	TypeInterrupt     Type = "interrupt"
	TypeProgress      Type = "progress"
	TypeComplete      Type = "complete"
	TypeError         Type = "error"
	TypeTaskStarted   Type = "task_started"
	TypeSkillOutput   Type = "skill_output"
)

// Terminal reports whether the type ends a task's event stream.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// StageStatus is the lifecycle of a stage milestone.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// InterruptKind describes what a HITL interrupt asks of the user.
type InterruptKind string

const (
	InterruptApproval InterruptKind = "approval"
	InterruptDecision InterruptKind = "decision"
	InterruptInput    InterruptKind = "input"
)

// Event is the tagged union streamed on a task channel. Only the
// fields relevant to Type are populated; everything else is omitted
// from the wire encoding.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Ordinal   uint64    `json:"ordinal"`
	Timestamp time.Time `json:"timestamp"`

	// token
	Content string `json:"content,omitempty"`

	// stage (Name doubles as the error name)
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Status      StageStatus `json:"status,omitempty"`

	// tool_call / tool_result
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	CallID  string         `json:"id,omitempty"`
	Output  string         `json:"output,omitempty"`
	IsError bool           `json:"is_error,omitempty"`

	// source
	Title          string  `json:"title,omitempty"`
	URL            string  `json:"url,omitempty"`
	Snippet        string  `json:"snippet,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`

	// image
	DataBase64 string `json:"data_base64,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Index      int    `json:"index,omitempty"`

	// handoff
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Task   string `json:"task,omitempty"`

	// browser_stream
	StreamURL string `json:"stream_url,omitempty"`
	SandboxID string `json:"sandbox_id,omitempty"`
	AuthKey   string `json:"auth_key,omitempty"`

	// reasoning
	Thinking   string  `json:"thinking,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Context    string  `json:"context,omitempty"`

	// interrupt
	InterruptID string        `json:"interrupt_id,omitempty"`
	Kind        InterruptKind `json:"kind,omitempty"`
	Options     []string      `json:"options,omitempty"`

	// progress / error / interrupt
	Message    string `json:"message,omitempty"`
	Percentage int    `json:"percentage,omitempty"`

	// skill_output
	SkillID string `json:"skill_id,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Token builds a streaming model output fragment.
func Token(content string) Event {
	return Event{Type: TypeToken, Content: content}
}

// Stage builds a lifecycle milestone event.
func Stage(name, description string, status StageStatus) Event {
	return Event{Type: TypeStage, Name: name, Description: description, Status: status}
}

// ToolCall announces a tool invocation.
func ToolCall(tool string, args map[string]any, callID string) Event {
	return Event{Type: TypeToolCall, Tool: tool, Args: args, CallID: callID}
}

// ToolResult reports the outcome of a tool invocation.
func ToolResult(tool, output, callID string, isError bool) Event {
	return Event{Type: TypeToolResult, Tool: tool, Output: output, CallID: callID, IsError: isError}
}

// Source reports a research finding.
func Source(title, url, snippet string, relevance float64) Event {
	return Event{Type: TypeSource, Title: title, URL: url, Snippet: snippet, RelevanceScore: relevance}
}

// Image reports a generated image.
func Image(dataBase64, url, mimeType string, index int) Event {
	return Event{Type: TypeImage, DataBase64: dataBase64, URL: url, MimeType: mimeType, Index: index}
}

// Handoff records an agent delegation.
func Handoff(source, target, task string) Event {
	return Event{Type: TypeHandoff, Source: source, Target: target, Task: task}
}

// BrowserStream advertises a live desktop feed.
func BrowserStream(streamURL, sandboxID, authKey string) Event {
	return Event{Type: TypeBrowserStream, StreamURL: streamURL, SandboxID: sandboxID, AuthKey: authKey}
}

// Reasoning is an optional transparency event.
func Reasoning(thinking string, confidence float64, context string) Event {
	return Event{Type: TypeReasoning, Thinking: thinking, Confidence: confidence, Context: context}
}

// Interrupt asks the user for a decision and suspends the loop.
func Interrupt(interruptID, title, message string, options []string, kind InterruptKind) Event {
	return Event{Type: TypeInterrupt, InterruptID: interruptID, Title: title, Message: message, Options: options, Kind: kind}
}

// Progress reports task completion percentage, clamped to 0..100.
func Progress(percentage int, message string) Event {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return Event{Type: TypeProgress, Percentage: percentage, Message: message}
}

// Complete is the terminal success event.
func Complete() Event {
	return Event{Type: TypeComplete}
}

// Error reports a failure; terminal when it is the last event.
func Error(message, name string) Event {
	return Event{Type: TypeError, Message: message, Name: name}
}

// TaskStarted announces that a worker picked the task up.
func TaskStarted() Event {
	return Event{Type: TypeTaskStarted}
}

// SkillOutput carries the collected output of a skill execution.
func SkillOutput(skillID string, result any) Event {
	return Event{Type: TypeSkillOutput, SkillID: skillID, Result: result}
}
