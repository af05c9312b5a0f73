package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/agent/ports"
)

func longConversation(n int, filler string) []ports.Message {
	msgs := []ports.Message{{Role: ports.RoleSystem, Content: "system prompt"}}
	for i := 0; i < n; i++ {
		role := ports.RoleUser
		if i%2 == 1 {
			role = ports.RoleAssistant
		}
		msgs = append(msgs, ports.Message{Role: role, Content: filler})
	}
	return msgs
}

func TestFitBudgetNoopUnderBudget(t *testing.T) {
	msgs := longConversation(4, "short")
	out := fitBudget(msgs, 100000, 10)
	assert.Equal(t, msgs, out)
}

func TestFitBudgetProtectsSystemAndRecent(t *testing.T) {
	filler := strings.Repeat("word ", 200)
	msgs := longConversation(40, filler)

	out := fitBudget(msgs, 2000, 10)
	require.Less(t, len(out), len(msgs))

	assert.Equal(t, "system prompt", out[0].Content)
	assert.Equal(t, elisionMarker, out[1].Content)

	// The ten most recent messages survive verbatim.
	assert.Equal(t, msgs[len(msgs)-10:], out[len(out)-10:])
}

func TestFitBudgetKeepsToolPairsTogether(t *testing.T) {
	filler := strings.Repeat("word ", 200)
	msgs := longConversation(30, filler)
	// Place a tool result exactly at the default cut boundary.
	msgs[len(msgs)-10] = ports.Message{Role: ports.RoleTool, Content: filler, ToolCallID: "c9"}
	msgs[len(msgs)-11] = ports.Message{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "c9", Name: "x"}}}

	out := fitBudget(msgs, 2000, 10)

	// The window opens on the assistant message that made the call.
	first := out[2]
	assert.NotEqual(t, ports.RoleTool, first.Role)
}

func TestCompressionSummarisesOlderSection(t *testing.T) {
	llm := &scriptedLLM{steps: []*ports.CompletionResponse{
		{Content: "summary of the past", Usage: ports.TokenUsage{TotalTokens: 5}},
	}}
	engine := newEngine(t, llm, nil, Config{PreserveRecent: 4})

	state := testState()
	state.Messages = longConversation(20, "some earlier content")

	require.NoError(t, engine.compress(context.Background(), state))

	assert.Equal(t, "summary of the past", state.ContextSummary)
	assert.Equal(t, 5, state.Usage.TotalTokens)

	require.GreaterOrEqual(t, len(state.Messages), 6)
	assert.Equal(t, "system prompt", state.Messages[0].Content)
	assert.Contains(t, state.Messages[1].Content, "summary of the past")
	assert.Len(t, state.Messages, 2+4)
}

func TestMessageTokensCountsToolCalls(t *testing.T) {
	plain := ports.Message{Role: ports.RoleUser, Content: "hello"}
	withCall := ports.Message{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{Name: "lookup", Args: map[string]any{"q": "x"}}}}
	assert.Greater(t, messageTokens(withCall), 0)
	assert.Greater(t, messageTokens(plain), 0)
}
