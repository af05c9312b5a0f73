package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"hyperagent/internal/agent/ports"
	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/logging"
	"hyperagent/internal/tool"
)

// DefaultMaxExecutionTime bounds skills that declare no limit.
const DefaultMaxExecutionTime = 5 * time.Minute

// Request asks the engine to run one skill.
type Request struct {
	SkillID   string
	Params    map[string]any
	UserID    string
	TaskID    string
	Publisher *bus.Publisher
}

// Engine interprets skill sub-graphs step by step. Tool steps go
// through the shared runner so guardrails and timeouts still apply;
// model steps make one completion call.
type Engine struct {
	store  Store
	runner *tool.Runner
	llm    ports.LLM
	logger logging.Logger

	clock func() time.Time
	newID func() string
}

// NewEngine wires the skill engine. llm may be nil when no skill uses
// model steps.
func NewEngine(store Store, runner *tool.Runner, llm ports.LLM, logger logging.Logger) *Engine {
	return &Engine{
		store:  store,
		runner: runner,
		llm:    llm,
		logger: logging.OrNop(logger),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// Execute runs the skill and returns its execution record. Lookup and
// parameter validation fail before any record is inserted or any step
// runs.
func (e *Engine) Execute(ctx context.Context, req Request) (*Execution, error) {
	def, err := e.store.GetSkill(ctx, req.SkillID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, agenterrors.Input(nil, fmt.Sprintf("skill %s is disabled", def.ID))
	}
	if err := Authorize(def, req.UserID); err != nil {
		return nil, err
	}

	bindings, err := def.BindParams(req.Params)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:          e.newID(),
		SkillID:     def.ID,
		UserID:      req.UserID,
		TaskID:      req.TaskID,
		Status:      ExecutionRunning,
		InputParams: req.Params,
		StartedAt:   e.clock(),
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		return nil, err
	}

	stage := "skill_" + def.ID
	e.publish(ctx, req.Publisher, event.Stage(stage, def.Description, event.StageRunning))

	output, runErr := e.runSteps(ctx, def, req, bindings)

	now := e.clock()
	exec.CompletedAt = &now
	exec.ExecutionTimeMS = now.Sub(exec.StartedAt).Milliseconds()

	if runErr != nil {
		exec.Status = ExecutionFailed
		exec.Error = runErr.Error()
		e.publish(ctx, req.Publisher, event.Stage(stage, def.Description, event.StageFailed))
		e.publish(ctx, req.Publisher, event.Error(agenterrors.FormatForModel(runErr), "skill_"+def.ID))
	} else {
		exec.Status = ExecutionCompleted
		exec.Output = output
		e.publish(ctx, req.Publisher, event.Stage(stage, def.Description, event.StageCompleted))
		e.publish(ctx, req.Publisher, event.SkillOutput(def.ID, output))
	}

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Warn("persist skill execution %s: %v", exec.ID, err)
	}
	return exec, runErr
}

// runSteps walks the sub-graph under the skill's deadline. Step
// outputs accumulate in the bindings under each step's output key.
func (e *Engine) runSteps(ctx context.Context, def *Definition, req Request, bindings map[string]any) (any, error) {
	limit := DefaultMaxExecutionTime
	if def.MaxExecutionTimeSeconds > 0 {
		limit = time.Duration(def.MaxExecutionTimeSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	if def.MaxIterations > 0 && len(def.Steps) > def.MaxIterations {
		return nil, agenterrors.Input(nil, fmt.Sprintf("skill %s has %d steps, limit is %d", def.ID, len(def.Steps), def.MaxIterations))
	}

	var last any
	for _, step := range def.Steps {
		if err := runCtx.Err(); err != nil {
			return nil, timeoutError(def, err)
		}

		var (
			value any
			err   error
		)
		switch step.Kind {
		case StepTool:
			value, err = e.runToolStep(runCtx, def, req, step, bindings)
		case StepModel:
			value, err = e.runModelStep(runCtx, step, bindings)
		default:
			err = fmt.Errorf("skill %s step %s has unknown kind %q", def.ID, step.Name, step.Kind)
		}
		if err != nil {
			if runCtx.Err() != nil {
				return nil, timeoutError(def, runCtx.Err())
			}
			return nil, fmt.Errorf("skill %s step %s: %w", def.ID, step.Name, err)
		}

		if step.OutputKey != "" {
			bindings[step.OutputKey] = value
		}
		last = value
	}

	if out, ok := bindings["output"]; ok {
		last = out
	}
	if err := e.validateOutput(def, last); err != nil {
		return nil, err
	}
	return last, nil
}

func (e *Engine) runToolStep(ctx context.Context, def *Definition, req Request, step Step, bindings map[string]any) (any, error) {
	inv := &tool.Invocation{
		TaskID: req.TaskID,
		UserID: req.UserID,
		Agent:  "skill:" + def.ID,
		CallID: e.newID(),
		Tool:   step.Tool,
		Args:   resolveArgs(step.Args, bindings),
		// Sub-graph steps are declared by the skill author up front,
		// so the approval gate does not apply mid-run.
		AutoApproved: true,
	}

	// The call goes on the wire before the run so every tool_result on
	// the stream has a matching tool_call.
	e.publish(ctx, req.Publisher, event.ToolCall(step.Tool, inv.Args, inv.CallID))

	result, interrupt, err := e.runner.Run(ctx, inv)
	if err != nil {
		return nil, err
	}
	if interrupt != nil {
		return nil, agenterrors.Input(nil, fmt.Sprintf("tool %s requires human input, which skills cannot collect", step.Tool))
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s: %s", step.Tool, result.Content)
	}
	for _, ev := range result.Events {
		e.publish(ctx, req.Publisher, ev)
	}
	e.publish(ctx, req.Publisher, event.ToolResult(step.Tool, result.Content, inv.CallID, false))
	return result.Content, nil
}

func (e *Engine) runModelStep(ctx context.Context, step Step, bindings map[string]any) (any, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("model step %s requires a configured model", step.Name)
	}
	resp, err := e.llm.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleUser, Content: resolveString(step.Prompt, bindings)},
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

func (e *Engine) validateOutput(def *Definition, output any) error {
	if len(def.OutputSchema) == 0 {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def.OutputSchema))
	if err != nil {
		return fmt.Errorf("skill %s output schema: %w", def.ID, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := "inline://skill-" + def.ID + "-output.json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("skill %s output schema: %w", def.ID, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("skill %s output schema: %w", def.ID, err)
	}

	encoded, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("skill %s output is not serialisable: %w", def.ID, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("skill %s output is not valid JSON: %w", def.ID, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("skill %s output failed schema validation: %w", def.ID, err)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, pub *bus.Publisher, ev event.Event) {
	if pub != nil {
		pub.Publish(ctx, ev)
	}
}

func timeoutError(def *Definition, err error) error {
	return agenterrors.Resource(err, fmt.Sprintf("skill %s exceeded its %ds execution limit", def.ID, def.MaxExecutionTimeSeconds))
}

// resolveArgs substitutes {{name}} placeholders in every string value.
// An argument that is exactly one placeholder keeps the bound value's
// original type.
func resolveArgs(args map[string]any, bindings map[string]any) map[string]any {
	resolved := make(map[string]any, len(args))
	for key, value := range args {
		resolved[key] = resolveValue(value, bindings)
	}
	return resolved
}

func resolveValue(value any, bindings map[string]any) any {
	switch v := value.(type) {
	case string:
		if name, ok := solePlaceholder(v); ok {
			if bound, exists := bindings[name]; exists {
				return bound
			}
			return v
		}
		return resolveString(v, bindings)
	case map[string]any:
		return resolveArgs(v, bindings)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, bindings)
		}
		return out
	default:
		return value
	}
}

func resolveString(s string, bindings map[string]any) string {
	for name, value := range bindings {
		placeholder := "{{" + name + "}}"
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, stringify(value))
		}
	}
	return s
}

func solePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	name := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if name == "" || strings.Contains(name, "{{") {
		return "", false
	}
	return name, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
