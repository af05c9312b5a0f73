package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/agent"
	"hyperagent/internal/agent/ports"
	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
	"hyperagent/internal/tool/guardrail"
)

// scriptedLLM walks a canned script of responses.
type scriptedLLM struct {
	mu    sync.Mutex
	steps []*ports.CompletionResponse
	calls int
}

func (s *scriptedLLM) next() *ports.CompletionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i]
}

func (s *scriptedLLM) Complete(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return s.next(), nil
}

func (s *scriptedLLM) Stream(_ context.Context, _ ports.CompletionRequest, _ func(string)) (*ports.CompletionResponse, error) {
	return s.next(), nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

type handoffStub struct {
	target string
}

func (h *handoffStub) Descriptor() tool.Descriptor {
	return tool.Descriptor{Name: "handoff_to_" + h.target, Description: "handoff", ArgsSchema: json.RawMessage(`{"type":"object"}`)}
}
func (h *handoffStub) Category() tool.Category { return tool.CategoryHandoff }
func (h *handoffStub) Risk() tool.Risk         { return tool.RiskLow }
func (h *handoffStub) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	task, _ := args["task_description"].(string)
	contextText, _ := args["context"].(string)
	return tool.Result{
		Content: "handing off",
		Metadata: map[string]any{
			"handoff_target":   h.target,
			"task_description": task,
			"context":          contextText,
		},
	}, nil
}

func engineFor(t *testing.T, llm ports.LLM, pub *bus.Publisher, handoffTargets ...string) *agent.Engine {
	t.Helper()
	registry := tool.NewRegistry()
	for _, target := range handoffTargets {
		require.NoError(t, registry.Register(&handoffStub{target: target}))
	}
	pipeline := tool.DefaultPipeline(guardrail.New(guardrail.Config{}), nil)
	runner := tool.NewRunner(registry, tool.NewPolicy(tool.PolicyConfig{}), pipeline, nil, nil)
	return agent.NewEngine(llm, runner, nil, pub, agent.Config{}, nil)
}

func handoffCall(target, task, contextText string) ports.ToolCall {
	return ports.ToolCall{
		ID:   "h1",
		Name: "handoff_to_" + target,
		Args: map[string]any{"task_description": task, "context": contextText},
	}
}

func classifierTo(agentName string) *scriptedLLM {
	return &scriptedLLM{steps: []*ports.CompletionResponse{
		{Content: fmt.Sprintf(`{"agent": %q, "confidence": 0.9, "reason": "test"}`, agentName)},
	}}
}

func newSupervisor(t *testing.T, router *Router, pub *bus.Publisher, defs ...AgentDef) *Supervisor {
	t.Helper()
	s, err := New(Config{Router: router, Agents: defs, Publisher: pub})
	require.NoError(t, err)
	return s
}

func TestRouteByModeHintBypassesClassifier(t *testing.T) {
	classifier := &scriptedLLM{steps: []*ports.CompletionResponse{{Content: "should never be called"}}}
	router := NewRouter(classifier, time.Second, nil)

	decision := router.Route(context.Background(), "whatever", "deep_research")
	assert.Equal(t, AgentResearch, decision.Agent)
	assert.Equal(t, float64(1), decision.Confidence)
	assert.Equal(t, 0, classifier.calls)
}

func TestRouteFallsBackToTaskOnGarbage(t *testing.T) {
	router := NewRouter(&scriptedLLM{steps: []*ports.CompletionResponse{{Content: "I think maybe research?"}}}, time.Second, nil)
	decision := router.Route(context.Background(), "query", "")
	assert.Equal(t, AgentTask, decision.Agent)
}

func TestRouteParsesClassifierVerdict(t *testing.T) {
	router := NewRouter(classifierTo("research"), time.Second, nil)
	decision := router.Route(context.Background(), "compare these papers", "")
	assert.Equal(t, AgentResearch, decision.Agent)
	assert.Equal(t, 0.9, decision.Confidence)
}

func TestCanonicalAliases(t *testing.T) {
	for alias, want := range map[string]string{
		"chat": AgentTask, "assistant": AgentTask, "deep_research": AgentResearch,
		"Researcher": AgentResearch, "task": AgentTask,
	} {
		got, ok := CanonicalAgent(alias)
		assert.True(t, ok, alias)
		assert.Equal(t, want, got, alias)
	}
	_, ok := CanonicalAgent("warlock")
	assert.False(t, ok)
}

func TestExecuteWithoutHandoff(t *testing.T) {
	taskLLM := &scriptedLLM{steps: []*ports.CompletionResponse{{Content: "direct answer"}}}
	s := newSupervisor(t, NewRouter(classifierTo("task"), time.Second, nil), nil,
		AgentDef{Name: AgentTask, SystemPrompt: "you are task", Engine: engineFor(t, taskLLM, nil)},
	)

	result, err := s.Execute(context.Background(), "do it", "u1", "t1", "th1", "")
	require.NoError(t, err)
	assert.Equal(t, "direct answer", result.FinalResponse)
	assert.Equal(t, AgentTask, result.Agent)
	assert.Empty(t, result.Handoffs)
}

func TestExecuteFollowsHandoff(t *testing.T) {
	broker := bus.NewMemoryBroker()
	ctx := context.Background()
	sub, err := broker.Subscribe(ctx, bus.Channel("t1"))
	require.NoError(t, err)
	defer sub.Close()
	pub := bus.NewPublisher(broker, "t1", nil)
	defer pub.Close()

	taskLLM := &scriptedLLM{steps: []*ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{handoffCall("research", "dig into sources", "user wants depth")}},
	}}
	researchLLM := &scriptedLLM{steps: []*ports.CompletionResponse{{Content: "research verdict"}}}

	s := newSupervisor(t, NewRouter(classifierTo("task"), time.Second, nil), pub,
		AgentDef{Name: AgentTask, SystemPrompt: "task prompt", Engine: engineFor(t, taskLLM, pub, "research")},
		AgentDef{Name: AgentResearch, SystemPrompt: "research prompt", Engine: engineFor(t, researchLLM, pub)},
	)

	result, err := s.Execute(ctx, "broad question", "u1", "t1", "th1", "")
	require.NoError(t, err)
	assert.Equal(t, "research verdict", result.FinalResponse)
	assert.Equal(t, AgentResearch, result.Agent)
	require.Len(t, result.Handoffs, 1)
	assert.Equal(t, Hop{Source: AgentTask, Target: AgentResearch, Task: "dig into sources"}, result.Handoffs[0])

	// One handoff event on the wire, matching the recorded hops.
	handoffEvents := 0
	timeout := time.After(time.Second)
	for handoffEvents == 0 {
		select {
		case payload := <-sub.Events():
			var e event.Event
			require.NoError(t, json.Unmarshal(payload, &e))
			if e.Type == event.TypeHandoff {
				handoffEvents++
				assert.Equal(t, AgentTask, e.Source)
				assert.Equal(t, AgentResearch, e.Target)
			}
		case <-timeout:
			t.Fatal("no handoff event published")
		}
	}

	// The receiving agent got the fresh query and the shared memory.
	researchState := result.States[1]
	assert.Contains(t, researchState.Messages[1].Content, "dig into sources")
	assert.Contains(t, researchState.Messages[1].Content, "user wants depth")
	assert.Contains(t, researchState.Messages[0].Content, "Shared memory")
}

func TestHandoffLimitFedBackToAgent(t *testing.T) {
	taskLLM := &scriptedLLM{steps: []*ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{handoffCall("research", "hop", "")}},
	}}
	researchLLM := &scriptedLLM{steps: []*ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{handoffCall("task", "hop back", "")}},
		{Content: "finished without transferring"},
	}}

	s, err := New(Config{
		Router:      NewRouter(classifierTo("task"), time.Second, nil),
		MaxHandoffs: 1,
		Agents: []AgentDef{
			{Name: AgentTask, SystemPrompt: "p", Engine: engineFor(t, taskLLM, nil, "research")},
			{Name: AgentResearch, SystemPrompt: "p", Engine: engineFor(t, researchLLM, nil, "task")},
		},
	})
	require.NoError(t, err)

	result, execErr := s.Execute(context.Background(), "q", "u1", "t1", "th1", "")
	require.NoError(t, execErr)
	assert.Equal(t, "finished without transferring", result.FinalResponse)
	assert.Equal(t, AgentResearch, result.Agent)
	assert.Len(t, result.Handoffs, 1)

	// The refusal reached the model as an error on the handoff call.
	researchState := result.States[1]
	found := false
	for _, msg := range researchState.Messages {
		if msg.Role == ports.RoleTool && strings.Contains(msg.Content, "handoff limit") {
			found = true
		}
	}
	assert.True(t, found, "refusal should land in the agent's transcript")
}

func TestPingPongFedBackToAgent(t *testing.T) {
	taskLLM := &scriptedLLM{steps: []*ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{handoffCall("research", "hop", "")}},
	}}
	researchLLM := &scriptedLLM{steps: []*ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{handoffCall("task", "hop back", "")}},
		{Content: "answered on my own"},
	}}

	s := newSupervisor(t, NewRouter(classifierTo("task"), time.Second, nil), nil,
		AgentDef{Name: AgentTask, SystemPrompt: "p", Engine: engineFor(t, taskLLM, nil, "research")},
		AgentDef{Name: AgentResearch, SystemPrompt: "p", Engine: engineFor(t, researchLLM, nil, "task")},
	)

	result, err := s.Execute(context.Background(), "q", "u1", "t1", "th1", "")
	require.NoError(t, err)
	assert.Equal(t, "answered on my own", result.FinalResponse)
	assert.Equal(t, AgentResearch, result.Agent)
	require.Len(t, result.Handoffs, 1)
	assert.Equal(t, Hop{Source: AgentTask, Target: AgentResearch, Task: "hop"}, result.Handoffs[0])

	researchState := result.States[1]
	found := false
	for _, msg := range researchState.Messages {
		if msg.Role == ports.RoleTool && strings.Contains(msg.Content, "bounces straight back") {
			found = true
		}
	}
	assert.True(t, found, "refusal should land in the agent's transcript")
}

func TestHopOutsideMatrixRejected(t *testing.T) {
	s := newSupervisor(t, NewRouter(classifierTo("task"), time.Second, nil), nil,
		AgentDef{Name: AgentTask, SystemPrompt: "p", Engine: engineFor(t, &scriptedLLM{steps: []*ports.CompletionResponse{{Content: "x"}}}, nil)},
		AgentDef{Name: AgentResearch, SystemPrompt: "p", Engine: engineFor(t, &scriptedLLM{steps: []*ports.CompletionResponse{{Content: "x"}}}, nil)},
	)
	s.matrix = map[string][]string{AgentTask: {}}

	_, err := s.validateHop(AgentTask, AgentResearch, []string{AgentTask}, 0)
	require.Error(t, err)
	assert.Equal(t, agenterrors.CategoryInput, agenterrors.Classify(err))
}

func TestSharedMemoryBudget(t *testing.T) {
	m := NewSharedMemory(300, 50, []string{"important", "middling"})

	m.Set("important", strings.Repeat("a", 120))
	m.Set("middling", strings.Repeat("b", 120))
	m.Set("zz_scratch", strings.Repeat("c", 120))

	assert.LessOrEqual(t, m.Size(), 300)

	// Highest priority survives untouched; lowest was cut first.
	important, _ := m.Get("important")
	assert.Len(t, important, 120)
	scratch, ok := m.Get("zz_scratch")
	if ok {
		assert.LessOrEqual(t, len(scratch), 50)
	}
}

func TestSharedMemoryDropsWhenTruncationInsufficient(t *testing.T) {
	m := NewSharedMemory(100, 90, []string{"keep"})
	m.Set("keep", strings.Repeat("a", 80))
	m.Set("drop1", strings.Repeat("b", 200))
	m.Set("drop2", strings.Repeat("c", 200))

	assert.LessOrEqual(t, m.Size(), 100)
	_, ok := m.Get("keep")
	assert.True(t, ok)
	_, ok1 := m.Get("drop1")
	_, ok2 := m.Get("drop2")
	assert.False(t, ok1 && ok2)
}

func TestSharedMemoryTruncatesOnRuneBoundary(t *testing.T) {
	m := NewSharedMemory(100, 50, nil)
	m.Set("keep", strings.Repeat("a", 20))
	// Three-byte runes: a 50-byte cut would land mid-rune.
	m.Set("multibyte", strings.Repeat("世", 40))

	assert.LessOrEqual(t, m.Size(), 100)
	v, ok := m.Get("multibyte")
	require.True(t, ok)
	assert.Less(t, len(v), 120)
	assert.True(t, utf8.ValidString(v), "truncation split a rune: %q", v)
}

func TestSharedMemorySnapshotIsCopy(t *testing.T) {
	m := NewSharedMemory(0, 0, nil)
	m.Set("k", "v")
	snap := m.Snapshot()
	snap["k"] = "mutated"
	v, _ := m.Get("k")
	assert.Equal(t, "v", v)
}
