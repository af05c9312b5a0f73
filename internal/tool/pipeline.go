package tool

import (
	"context"

	"hyperagent/internal/logging"
)

// Hook observes and can veto tool invocations. Before runs ahead of
// execution and may short-circuit; After transforms the raw result.
type Hook interface {
	Name() string
	Before(ctx context.Context, inv *Invocation) (*ShortCircuit, error)
	After(ctx context.Context, inv *Invocation, result Result) Result
}

// Pipeline runs hooks in registration order. The first short-circuit
// wins; After hooks run in the same order on the way out.
type Pipeline struct {
	hooks  []Hook
	logger logging.Logger
}

// NewPipeline builds a pipeline from the given hooks.
func NewPipeline(logger logging.Logger, hooks ...Hook) *Pipeline {
	return &Pipeline{hooks: hooks, logger: logging.OrNop(logger)}
}

// Before runs every Before hook. A returned ShortCircuit stops the
// chain; a hook error is surfaced to the caller unchanged.
func (p *Pipeline) Before(ctx context.Context, inv *Invocation) (*ShortCircuit, error) {
	for _, h := range p.hooks {
		sc, err := h.Before(ctx, inv)
		if err != nil {
			return nil, err
		}
		if sc != nil {
			p.logger.Info("hook %s short-circuited %s (interrupt=%v)", h.Name(), inv.Tool, sc.Interrupt != nil)
			return sc, nil
		}
	}
	return nil, nil
}

// After threads the result through every After hook.
func (p *Pipeline) After(ctx context.Context, inv *Invocation, result Result) Result {
	for _, h := range p.hooks {
		result = h.After(ctx, inv, result)
	}
	return result
}

// baseHook provides no-op defaults for hooks that only care about one
// side of the pipeline.
type baseHook struct{}

func (baseHook) Before(context.Context, *Invocation) (*ShortCircuit, error) { return nil, nil }
func (baseHook) After(_ context.Context, _ *Invocation, r Result) Result    { return r }
