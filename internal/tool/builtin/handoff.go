package builtin

import (
	"context"
	"fmt"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
)

// Handoff result metadata keys consumed by the supervisor.
const (
	MetaHandoffTarget  = "handoff_target"
	MetaHandoffTask    = "task_description"
	MetaHandoffContext = "context"
)

type handoffTool struct {
	source string
	target string
}

// NewHandoffTool builds handoff_to_<target> for the given source
// agent. Executing it performs no work; it returns a marker the
// supervisor consumes after the current tool batch finishes.
func NewHandoffTool(source, target string) tool.Tool {
	return &handoffTool{source: source, target: target}
}

func (t *handoffTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "handoff_to_" + t.target,
		Description: fmt.Sprintf("Hand the current task over to the %s agent. Use when the task needs that agent's capabilities.", t.target),
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"task_description": {"type": "string", "description": "What the receiving agent should do"},
				"context": {"type": "string", "description": "Relevant context gathered so far"}
			},
			"required": ["task_description"]
		}`),
	}
}

func (t *handoffTool) Category() tool.Category { return tool.CategoryHandoff }
func (t *handoffTool) Risk() tool.Risk         { return tool.RiskLow }

func (t *handoffTool) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	task, _ := args["task_description"].(string)
	if task == "" {
		return tool.Result{}, agenterrors.Input(nil, "task_description parameter is required")
	}
	contextText, _ := args["context"].(string)

	return tool.Result{
		Content: fmt.Sprintf("handing off to %s", t.target),
		Metadata: map[string]any{
			MetaHandoffTarget:  t.target,
			MetaHandoffTask:    task,
			MetaHandoffContext: contextText,
		},
	}, nil
}

// RegisterHandoffs installs handoff tools for every permitted hop out
// of the source agent.
func RegisterHandoffs(r *tool.Registry, source string, targets []string) error {
	for _, target := range targets {
		if err := r.Register(NewHandoffTool(source, target)); err != nil {
			return err
		}
	}
	return nil
}

// IsHandoff reports whether a result is a handoff marker, returning
// the target, task description and context when it is.
func IsHandoff(result tool.Result) (target, task, contextText string, ok bool) {
	target, ok = result.Meta(MetaHandoffTarget).(string)
	if !ok || target == "" {
		return "", "", "", false
	}
	task, _ = result.Meta(MetaHandoffTask).(string)
	contextText, _ = result.Meta(MetaHandoffContext).(string)
	return target, task, contextText, true
}
