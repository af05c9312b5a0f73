package skill

import (
	"context"

	"hyperagent/internal/bus"
	"hyperagent/internal/tool"
)

// Invoker adapts the engine to the invoke_skill tool contract. The
// caller's identity travels in the context; the publisher streams the
// skill's intermediate events onto the owning task's channel.
type Invoker struct {
	engine    *Engine
	publisher *bus.Publisher
}

func NewInvoker(engine *Engine, publisher *bus.Publisher) *Invoker {
	return &Invoker{engine: engine, publisher: publisher}
}

// Invoke runs the skill and returns its output as a string for the
// model's tool message.
func (i *Invoker) Invoke(ctx context.Context, skillID string, params map[string]any) (string, error) {
	identity := tool.IdentityFrom(ctx)
	exec, err := i.engine.Execute(ctx, Request{
		SkillID:   skillID,
		Params:    params,
		UserID:    identity.UserID,
		TaskID:    identity.TaskID,
		Publisher: i.publisher,
	})
	if err != nil {
		return "", err
	}
	return stringify(exec.Output), nil
}
