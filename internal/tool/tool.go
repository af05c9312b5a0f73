// Package tool defines the tool catalogue, the execution pipeline and
// the policies that govern how agents invoke external capabilities.
package tool

import (
	"context"
	"encoding/json"

	"hyperagent/internal/event"
)

// Category groups tools by capability so agents can request a toolset
// without naming individual tools.
type Category string

const (
	CategorySearch     Category = "search"
	CategoryImage      Category = "image"
	CategoryBrowser    Category = "browser"
	CategoryCode       Category = "code"
	CategoryData       Category = "data"
	CategoryHandoff    Category = "handoff"
	CategorySkill      Category = "skill"
	CategorySlides     Category = "slides"
	CategoryAppBuilder Category = "appbuilder"
	CategoryHITL       Category = "hitl"
)

// Risk ranks the blast radius of a tool. The risk gate maps it to an
// approval decision before execution.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// Descriptor is the model-facing shape of a tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ArgsSchema  json.RawMessage `json:"args_schema"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	Content  string
	IsError  bool
	Metadata map[string]any
	// Events carries side-channel events produced during execution
	// (sources, images, browser streams) for the driver to publish.
	Events []event.Event
}

// ErrorResult builds a result the model can read as a failure.
func ErrorResult(message string) Result {
	return Result{Content: message, IsError: true}
}

// Meta returns a metadata value, nil when absent.
func (r Result) Meta(key string) any {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata[key]
}

// Tool is one executable capability.
type Tool interface {
	Descriptor() Descriptor
	Category() Category
	Risk() Risk
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Invocation is one tool call travelling through the pipeline.
type Invocation struct {
	TaskID   string
	ThreadID string
	UserID   string
	Agent    string
	CallID   string
	Tool     string
	Args     map[string]any
	Risk     Risk
	Category Category

	// AutoApproved is set by the driver when the tool is on the
	// session's auto-approve list.
	AutoApproved bool
}

// InterruptRequest asks the driver to suspend for human input. It is
// converted into a stored interrupt by the loop, keeping this package
// free of the interrupt manager.
type InterruptRequest struct {
	Kind    event.InterruptKind
	Tool    string
	Args    map[string]any
	Message string
	Options []string
}

// ShortCircuit aborts a pipeline run before execution. Exactly one of
// the two fields is set.
type ShortCircuit struct {
	Interrupt *InterruptRequest
	Result    *Result
}

type identityKey struct{}

// Identity names the user and task a tool call runs on behalf of.
// Sandbox-backed tools use it to pick their session.
type Identity struct {
	UserID string
	TaskID string
}

// WithIdentity attaches the calling identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retrieves the calling identity, zero when absent.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
