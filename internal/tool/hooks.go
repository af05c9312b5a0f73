package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"hyperagent/internal/event"
	"hyperagent/internal/logging"
	"hyperagent/internal/tool/guardrail"
)

// InputGuardrailHook validates user-facing arguments before the tool
// runs: URL targets, shell commands and argument sizes.
type InputGuardrailHook struct {
	baseHook
	guard *guardrail.Guard
}

// NewInputGuardrailHook wires the guard into the pipeline.
func NewInputGuardrailHook(guard *guardrail.Guard) *InputGuardrailHook {
	return &InputGuardrailHook{guard: guard}
}

func (h *InputGuardrailHook) Name() string { return "input_guardrail" }

// urlArgKeys are argument names treated as outbound URLs.
var urlArgKeys = map[string]bool{"url": true, "target_url": true, "endpoint": true}

// shellArgKeys are argument names treated as shell commands.
var shellArgKeys = map[string]bool{"command": true, "script": true}

func (h *InputGuardrailHook) Before(_ context.Context, inv *Invocation) (*ShortCircuit, error) {
	for key, value := range inv.Args {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if err := h.guard.CheckArgSize(key, s); err != nil {
			return &ShortCircuit{Result: resultPtr(ErrorResult(err.Error()))}, nil
		}
		if urlArgKeys[key] {
			if err := h.guard.ValidateURL(s); err != nil {
				return &ShortCircuit{Result: resultPtr(ErrorResult(fmt.Sprintf("blocked by URL guardrail: %v", err)))}, nil
			}
		}
		if shellArgKeys[key] {
			if err := h.guard.CheckShellCommand(s); err != nil {
				return &ShortCircuit{Result: resultPtr(ErrorResult(fmt.Sprintf("blocked by command guardrail: %v", err)))}, nil
			}
		}
	}
	return nil, nil
}

// RiskGateHook suspends HIGH risk invocations for approval. MEDIUM
// risk follows the configured threshold; LOW runs directly. Tools on
// the session auto-approve list bypass the gate. HITL-category tools
// always suspend since asking the user is their whole purpose.
type RiskGateHook struct {
	baseHook
	// ApprovalThreshold is the lowest risk that requires approval.
	ApprovalThreshold Risk
}

// NewRiskGateHook returns the gate with the default threshold (HIGH).
func NewRiskGateHook() *RiskGateHook {
	return &RiskGateHook{ApprovalThreshold: RiskHigh}
}

func (h *RiskGateHook) Name() string { return "risk_gate" }

func (h *RiskGateHook) Before(_ context.Context, inv *Invocation) (*ShortCircuit, error) {
	if inv.Category == CategoryHITL {
		return &ShortCircuit{Interrupt: askUserInterrupt(inv)}, nil
	}
	if inv.AutoApproved {
		return nil, nil
	}
	if inv.Risk < h.ApprovalThreshold {
		return nil, nil
	}
	return &ShortCircuit{Interrupt: &InterruptRequest{
		Kind:    event.InterruptApproval,
		Tool:    inv.Tool,
		Args:    inv.Args,
		Message: fmt.Sprintf("Tool %s (%s risk) requires approval", inv.Tool, inv.Risk),
	}}, nil
}

// askUserInterrupt builds an input or decision interrupt from the
// ask_user tool's arguments.
func askUserInterrupt(inv *Invocation) *InterruptRequest {
	req := &InterruptRequest{
		Kind: event.InterruptInput,
		Tool: inv.Tool,
		Args: inv.Args,
	}
	if q, ok := inv.Args["question"].(string); ok {
		req.Message = q
	}
	if raw, ok := inv.Args["options"].([]any); ok && len(raw) > 0 {
		req.Kind = event.InterruptDecision
		for _, o := range raw {
			if s, ok := o.(string); ok {
				req.Options = append(req.Options, s)
			}
		}
	}
	return req
}

// OutputGuardrailHook redacts credentials and PII from textual
// results.
type OutputGuardrailHook struct {
	baseHook
	guard *guardrail.Guard
}

func NewOutputGuardrailHook(guard *guardrail.Guard) *OutputGuardrailHook {
	return &OutputGuardrailHook{guard: guard}
}

func (h *OutputGuardrailHook) Name() string { return "output_guardrail" }

func (h *OutputGuardrailHook) After(_ context.Context, _ *Invocation, result Result) Result {
	result.Content = h.guard.Redact(result.Content)
	return result
}

// TruncateHook enforces the result byte budget last so the marker
// survives redaction.
type TruncateHook struct {
	baseHook
	guard *guardrail.Guard
}

func NewTruncateHook(guard *guardrail.Guard) *TruncateHook {
	return &TruncateHook{guard: guard}
}

func (h *TruncateHook) Name() string { return "truncate" }

func (h *TruncateHook) After(_ context.Context, _ *Invocation, result Result) Result {
	result.Content = h.guard.Truncate(result.Content)
	return result
}

// DefaultPipeline assembles the standard hook chain: input guardrails,
// risk gate, output redaction, truncation.
func DefaultPipeline(guard *guardrail.Guard, logger logging.Logger) *Pipeline {
	return NewPipeline(logger,
		NewInputGuardrailHook(guard),
		NewRiskGateHook(),
		NewOutputGuardrailHook(guard),
		NewTruncateHook(guard),
	)
}

func resultPtr(r Result) *Result { return &r }

// argsFingerprint renders arguments deterministically for cache keys
// and logs.
func argsFingerprint(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
