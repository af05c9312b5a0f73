package agent

import (
	"context"
	"fmt"
	"strings"

	"hyperagent/internal/agent/ports"
	"hyperagent/internal/token"
)

// elisionMarker replaces a run of elided messages so the model knows
// history was cut.
const elisionMarker = "[earlier conversation elided to fit the context window]"

// messageTokens approximates the token cost of one message.
func messageTokens(msg ports.Message) int {
	n := token.Count(msg.Content)
	for _, call := range msg.ToolCalls {
		n += token.Count(call.Name) + token.Count(fmt.Sprint(call.Args)) + 8
	}
	return n + 4
}

func totalTokens(messages []ports.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageTokens(msg)
	}
	return total
}

// fitBudget truncates the message list to the token budget. The
// system prompt and the preserveRecent most recent messages are
// protected; the elided middle collapses into a single marker.
func fitBudget(messages []ports.Message, budget, preserveRecent int) []ports.Message {
	if totalTokens(messages) <= budget {
		return messages
	}

	var system []ports.Message
	rest := messages
	if len(rest) > 0 && rest[0].Role == ports.RoleSystem {
		system = rest[:1]
		rest = rest[1:]
	}
	if len(rest) <= preserveRecent {
		return messages
	}

	recent := rest[len(rest)-preserveRecent:]
	// Tool messages at the head of the window need their calling
	// assistant message; extend the window until it opens cleanly.
	for len(recent) < len(rest) && recent[0].Role == ports.RoleTool {
		recent = rest[len(rest)-len(recent)-1:]
	}

	out := make([]ports.Message, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, ports.Message{Role: ports.RoleSystem, Content: elisionMarker})
	out = append(out, recent...)
	return out
}

const compressionPrompt = "Summarise the conversation so far for your own future reference. " +
	"Keep decisions, tool results, open questions and user constraints. Be concise."

// compress summarises the older section of a long conversation with
// one model call and stores the result on the state. The next prompt
// prepends the summary as a system message.
func (e *Engine) compress(ctx context.Context, state *State) error {
	msgs := state.Messages
	preserve := e.config.PreserveRecent
	if len(msgs) <= preserve+1 {
		return nil
	}

	older := msgs[:len(msgs)-preserve]
	var b strings.Builder
	for _, m := range older {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		for _, call := range m.ToolCalls {
			fmt.Fprintf(&b, "  -> called %s\n", call.Name)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.ModelCallTimeout)
	defer cancel()
	resp, err := e.llm.Complete(callCtx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: compressionPrompt},
			{Role: ports.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return err
	}

	state.Usage.Add(resp.Usage)
	state.ContextSummary = resp.Content
	state.Messages = append(
		[]ports.Message{msgs[0], {Role: ports.RoleSystem, Content: "Summary of earlier conversation:\n" + resp.Content}},
		msgs[len(msgs)-preserve:]...)
	return nil
}

// prepareContext applies compression and the hard token budget before
// a model call. Compression failures degrade to plain truncation.
func (e *Engine) prepareContext(ctx context.Context, state *State) {
	if totalTokens(state.Messages) >= e.config.CompressionThreshold {
		if err := e.compress(ctx, state); err != nil {
			e.logger.Warn("context compression failed, falling back to truncation: %v", err)
		}
	}
	state.Messages = fitBudget(state.Messages, e.config.TokenBudget, e.config.PreserveRecent)
}
