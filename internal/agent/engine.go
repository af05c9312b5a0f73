package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"hyperagent/internal/agent/ports"
	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/hitl"
	"hyperagent/internal/logging"
	"hyperagent/internal/tool"
)

// Outcome is a completed invocation.
type Outcome struct {
	FinalResponse string
	State         *State
	// Handoff is set when the model requested a transfer to another
	// agent; the supervisor consumes it.
	Handoff *HandoffRequest
}

// HandoffRequest is the marker a handoff tool produced. CallID is the
// tool call that requested the transfer, kept so a refusal can be
// written back over that call's result.
type HandoffRequest struct {
	Target  string
	Task    string
	Context string
	CallID  string
}

// Engine drives the think-act-observe loop for one agent.
type Engine struct {
	llm       ports.LLM
	runner    *tool.Runner
	toolSpecs []ports.ToolSpec
	publisher *bus.Publisher
	config    Config
	logger    logging.Logger
	newID     func() string
}

// NewEngine wires a loop driver. toolSpecs is the model-facing
// toolset; publisher may be nil for headless runs.
func NewEngine(llm ports.LLM, runner *tool.Runner, toolSpecs []ports.ToolSpec, publisher *bus.Publisher, config Config, logger logging.Logger) *Engine {
	return &Engine{
		llm:       llm,
		runner:    runner,
		toolSpecs: toolSpecs,
		publisher: publisher,
		config:    config.withDefaults(),
		logger:    logging.OrNop(logger),
		newID:     func() string { return uuid.NewString() },
	}
}

// ToolSpecs converts registry descriptors to the model-facing form.
func ToolSpecs(descriptors []tool.Descriptor) []ports.ToolSpec {
	specs := make([]ports.ToolSpec, len(descriptors))
	for i, d := range descriptors {
		specs[i] = ports.ToolSpec{Name: d.Name, Description: d.Description, ArgsSchema: d.ArgsSchema}
	}
	return specs
}

// ResumeHandle is a suspended invocation awaiting a HITL response.
type ResumeHandle struct {
	Interrupt *hitl.Interrupt

	engine  *Engine
	state   *State
	batch   []ports.ToolCall
	index   int
	pending *tool.Invocation
}

// Run executes the loop until it completes, suspends, or fails. A
// non-nil ResumeHandle means a human response is required; everything
// else is terminal.
func (e *Engine) Run(ctx context.Context, state *State) (*Outcome, *ResumeHandle, error) {
	return e.loop(ctx, state, nil, 0)
}

// Resume continues a suspended invocation with the user's response.
func (h *ResumeHandle) Resume(ctx context.Context, response hitl.Response) (*Outcome, *ResumeHandle, error) {
	e := h.engine
	state := h.state

	var result tool.Result
	switch response.Action {
	case hitl.ActionApproveAlways:
		state.AutoApprove[h.pending.Tool] = true
		fallthrough
	case hitl.ActionApprove:
		executed, err := e.runner.Resume(ctx, h.pending)
		if err != nil {
			return e.failedToolResume(ctx, state, h, err)
		}
		result = executed
	case hitl.ActionDeny:
		result = tool.ErrorResult("User denied execution")
	case hitl.ActionSkip:
		result = tool.Result{Content: "User skipped this step"}
	case hitl.ActionSelect, hitl.ActionInput:
		result = tool.Result{Content: response.Value}
	case hitl.ActionCancel:
		return e.terminateCancelled(ctx, state, context.Canceled)
	default:
		return nil, nil, fmt.Errorf("unsupported interrupt action %q", response.Action)
	}

	state.ConsecutiveErrors = 0
	e.recordResult(ctx, state, h.batch[h.index], result)

	return e.loop(ctx, state, h.batch, h.index+1)
}

// failedToolResume treats an error from a resumed tool like any other
// tool failure: count it, report it to the model, continue the batch.
func (e *Engine) failedToolResume(ctx context.Context, state *State, h *ResumeHandle, err error) (*Outcome, *ResumeHandle, error) {
	if ctx.Err() != nil {
		return e.terminateCancelled(ctx, state, ctx.Err())
	}
	state.ConsecutiveErrors++
	if state.ConsecutiveErrors >= e.config.ConsecutiveErrorLimit {
		return e.terminateFatal(ctx, state, err)
	}
	e.recordResult(ctx, state, h.batch[h.index], tool.ErrorResult(agenterrors.FormatForModel(err)))
	return e.loop(ctx, state, h.batch, h.index+1)
}

// loop runs the state machine. A non-empty batch continues tool
// execution from index before the next model call.
func (e *Engine) loop(ctx context.Context, state *State, batch []ports.ToolCall, index int) (*Outcome, *ResumeHandle, error) {
	for {
		if batch != nil {
			outcome, handle, done, err := e.executeBatch(ctx, state, batch, index)
			if done {
				return outcome, handle, err
			}
			batch, index = nil, 0
		}

		if state.ToolIterations >= e.config.MaxIterations {
			return e.terminateBudget(ctx, state)
		}

		if err := ctx.Err(); err != nil {
			return e.terminateCancelled(ctx, state, err)
		}

		state.Phase = PhaseModelCall
		e.prepareContext(ctx, state)

		resp, err := e.modelCall(ctx, state)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return e.terminateCancelled(ctx, state, err)
			}
			return e.terminateFatal(ctx, state, err)
		}
		state.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			state.FinalResponse = resp.Content
			state.Phase = PhaseDone
			return &Outcome{FinalResponse: resp.Content, State: state}, nil, nil
		}

		state.append(ports.Message{
			Role:      ports.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		batch, index = resp.ToolCalls, 0
	}
}

// RunWithInterrupts drives the loop to termination, parking on the
// interrupt manager whenever it suspends. Interrupt timeouts resume
// as denials so the model learns the action did not happen. interrupts
// may be nil, in which case any suspension is an error.
func (e *Engine) RunWithInterrupts(ctx context.Context, state *State, interrupts *hitl.Manager) (*Outcome, error) {
	outcome, handle, err := e.Run(ctx, state)
	return e.settle(ctx, state, interrupts, outcome, handle, err)
}

// ResumeRejectedHandoff rewrites the handoff tool's recorded result as
// an error carrying the refusal reason, then continues the loop so the
// agent finishes the task itself.
func (e *Engine) ResumeRejectedHandoff(ctx context.Context, state *State, req *HandoffRequest, reason string, interrupts *hitl.Manager) (*Outcome, error) {
	state.rejectToolResult(req.CallID, "handoff refused: "+reason+"; continue the task yourself without transferring")
	outcome, handle, err := e.loop(ctx, state, nil, 0)
	return e.settle(ctx, state, interrupts, outcome, handle, err)
}

// settle drains suspension handles against the interrupt manager until
// the loop reaches a terminal outcome.
func (e *Engine) settle(ctx context.Context, state *State, interrupts *hitl.Manager, outcome *Outcome, handle *ResumeHandle, err error) (*Outcome, error) {
	for handle != nil {
		if interrupts == nil {
			return nil, fmt.Errorf("agent %s suspended but no interrupt manager is configured", state.Agent)
		}
		if cerr := interrupts.CreateInterrupt(ctx, handle.Interrupt); cerr != nil {
			return nil, cerr
		}

		response, werr := interrupts.WaitForResponse(ctx, handle.Interrupt.ThreadID, handle.Interrupt.ID, e.config.InterruptTimeout)
		switch {
		case werr == nil:
		case errors.Is(werr, hitl.ErrTimeout):
			// The stored record must go with the denial, or the thread
			// could never raise another interrupt.
			interrupts.CancelInterrupt(ctx, handle.Interrupt.ThreadID, handle.Interrupt.ID)
			response = hitl.Response{Action: hitl.ActionDeny}
		default:
			_, _, cancelErr := e.terminateCancelled(ctx, state, werr)
			return nil, cancelErr
		}

		outcome, handle, err = handle.Resume(ctx, response)
	}
	return outcome, err
}

// modelCall streams one completion, retrying transient provider
// failures.
func (e *Engine) modelCall(ctx context.Context, state *State) (*ports.CompletionResponse, error) {
	req := ports.CompletionRequest{
		Messages:    state.Messages,
		Tools:       e.toolSpecs,
		Temperature: e.config.Temperature,
	}
	return agenterrors.RetryWithResult(ctx, agenterrors.DefaultRetryConfig(), e.logger, func(ctx context.Context) (*ports.CompletionResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.config.ModelCallTimeout)
		defer cancel()
		return e.llm.Stream(callCtx, req, func(token string) {
			e.publishToken(ctx, token)
		})
	})
}

// executeBatch runs tool calls sequentially from index. Returns
// done=true with the terminal outcome, a suspension handle, or an
// error; done=false means the batch finished and the loop continues.
func (e *Engine) executeBatch(ctx context.Context, state *State, batch []ports.ToolCall, index int) (*Outcome, *ResumeHandle, bool, error) {
	state.Phase = PhaseExecuteTools

	for i := index; i < len(batch); i++ {
		call := batch[i]
		if err := ctx.Err(); err != nil {
			outcome, handle, err := e.terminateCancelled(ctx, state, err)
			return outcome, handle, true, err
		}

		e.publish(ctx, event.ToolCall(call.Name, call.Args, call.ID))

		inv := &tool.Invocation{
			TaskID:       state.TaskID,
			ThreadID:     state.ThreadID,
			UserID:       state.UserID,
			Agent:        state.Agent,
			CallID:       call.ID,
			Tool:         call.Name,
			Args:         call.Args,
			AutoApproved: state.autoApproved(call.Name),
		}

		result, interruptReq, err := e.runner.Run(ctx, inv)
		if interruptReq != nil {
			return nil, e.suspend(ctx, state, batch, i, inv, interruptReq), true, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				outcome, handle, cerr := e.terminateCancelled(ctx, state, ctx.Err())
				return outcome, handle, true, cerr
			}
			if agenterrors.Classify(err) == agenterrors.CategoryFatal {
				outcome, handle, ferr := e.terminateFatal(ctx, state, err)
				return outcome, handle, true, ferr
			}
			state.ConsecutiveErrors++
			if state.ConsecutiveErrors >= e.config.ConsecutiveErrorLimit {
				outcome, handle, ferr := e.terminateFatal(ctx, state,
					agenterrors.Fatal(err, fmt.Sprintf("%d consecutive tool failures", state.ConsecutiveErrors)))
				return outcome, handle, true, ferr
			}
			result = tool.ErrorResult(agenterrors.FormatForModel(err))
		} else {
			state.ConsecutiveErrors = 0
		}

		e.recordResult(ctx, state, call, result)
	}

	state.ToolIterations++

	// A handoff marker ends this agent's turn once the batch is done.
	if handoff := e.pendingHandoff(state, batch); handoff != nil {
		state.Phase = PhaseDone
		return &Outcome{State: state, Handoff: handoff}, nil, true, nil
	}
	return nil, nil, false, nil
}

// suspend builds the interrupt and the resume handle.
func (e *Engine) suspend(ctx context.Context, state *State, batch []ports.ToolCall, index int, inv *tool.Invocation, req *tool.InterruptRequest) *ResumeHandle {
	interrupt := &hitl.Interrupt{
		ID:       e.newID(),
		ThreadID: state.ThreadID,
		Kind:     req.Kind,
		Tool:     req.Tool,
		Args:     req.Args,
		Message:  req.Message,
		Options:  req.Options,
	}
	state.Phase = PhaseSuspended

	e.publish(ctx, event.Interrupt(interrupt.ID, interrupt.Tool, interrupt.Message, interrupt.Options, interrupt.Kind))

	return &ResumeHandle{
		Interrupt: interrupt,
		engine:    e,
		state:     state,
		batch:     batch,
		index:     index,
		pending:   inv,
	}
}

// recordResult publishes side-channel events plus the tool_result and
// appends the tool message.
func (e *Engine) recordResult(ctx context.Context, state *State, call ports.ToolCall, result tool.Result) {
	for _, extra := range result.Events {
		e.publish(ctx, extra)
	}
	e.publish(ctx, event.ToolResult(call.Name, result.Content, call.ID, result.IsError))
	state.append(ports.Message{
		Role:       ports.RoleTool,
		Content:    result.Content,
		ToolCallID: call.ID,
		Name:       call.Name,
	})
	state.lastResults = append(state.lastResults, batchResult{call: call, result: result})
}

// pendingHandoff scans the batch results for a handoff marker.
func (e *Engine) pendingHandoff(state *State, batch []ports.ToolCall) *HandoffRequest {
	defer func() { state.lastResults = nil }()
	for _, br := range state.lastResults {
		target, ok := br.result.Meta("handoff_target").(string)
		if !ok || target == "" {
			continue
		}
		task, _ := br.result.Meta("task_description").(string)
		contextText, _ := br.result.Meta("context").(string)
		return &HandoffRequest{Target: target, Task: task, Context: contextText, CallID: br.call.ID}
	}
	return nil
}

func (e *Engine) terminateCancelled(ctx context.Context, state *State, cause error) (*Outcome, *ResumeHandle, error) {
	state.Phase = PhaseCancelled
	// The context that got us here is already cancelled; the terminal
	// event still has to reach the stream.
	e.publish(context.WithoutCancel(ctx), event.Error("cancelled", "cancelled"))
	if cause == nil {
		cause = context.Canceled
	}
	return nil, nil, cause
}

func (e *Engine) terminateFatal(ctx context.Context, state *State, cause error) (*Outcome, *ResumeHandle, error) {
	state.Phase = PhaseFatal
	e.logger.Error("loop for task %s aborted: %v", state.TaskID, cause)
	e.publish(ctx, event.Error(agenterrors.FormatForModel(cause), string(agenterrors.Classify(cause))))
	return nil, nil, cause
}

func (e *Engine) terminateBudget(ctx context.Context, state *State) (*Outcome, *ResumeHandle, error) {
	state.Phase = PhaseBudget
	err := &agenterrors.BudgetExceededError{Budget: e.config.MaxIterations, Used: state.ToolIterations}
	e.publish(ctx, event.Error(err.Error(), "budget_exceeded"))
	return nil, nil, err
}

func (e *Engine) publish(ctx context.Context, ev event.Event) {
	if e.publisher != nil {
		e.publisher.Publish(ctx, ev)
	}
}

func (e *Engine) publishToken(ctx context.Context, token string) {
	if e.publisher != nil {
		e.publisher.Token(ctx, token)
	}
}
