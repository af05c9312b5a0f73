package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hyperagent/internal/agent"
	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/hitl"
	"hyperagent/internal/logging"
)

// DefaultMaxHandoffs bounds agent-to-agent transfers per task.
const DefaultMaxHandoffs = 3

// DefaultHandoffMatrix lists the permitted hops.
func DefaultHandoffMatrix() map[string][]string {
	return map[string][]string{
		AgentTask:     {AgentResearch},
		AgentResearch: {AgentTask},
	}
}

// AgentDef binds a canonical agent to its engine and prompt.
type AgentDef struct {
	Name         string
	SystemPrompt string
	Engine       *agent.Engine
}

// Hop records one executed handoff.
type Hop struct {
	Source string
	Target string
	Task   string
}

// Result is a completed supervised run.
type Result struct {
	FinalResponse string
	Agent         string
	Handoffs      []Hop
	States        []*agent.State
}

// Supervisor routes a query to an agent and follows handoff markers
// until an agent produces a final answer.
type Supervisor struct {
	router      *Router
	agents      map[string]AgentDef
	matrix      map[string][]string
	maxHandoffs int
	interrupts  *hitl.Manager
	publisher   *bus.Publisher
	memory      *SharedMemory
	logger      logging.Logger
}

// Config wires a supervisor for one task.
type Config struct {
	Router      *Router
	Agents      []AgentDef
	Matrix      map[string][]string
	MaxHandoffs int
	Interrupts  *hitl.Manager
	Publisher   *bus.Publisher
	Memory      *SharedMemory
	Logger      logging.Logger
}

// New builds a supervisor. Zero config fields use defaults.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("supervisor requires a router")
	}
	agents := make(map[string]AgentDef, len(cfg.Agents))
	for _, def := range cfg.Agents {
		if def.Engine == nil {
			return nil, fmt.Errorf("agent %s has no engine", def.Name)
		}
		agents[def.Name] = def
	}
	if _, ok := agents[AgentTask]; !ok {
		return nil, fmt.Errorf("supervisor requires the %s agent", AgentTask)
	}
	matrix := cfg.Matrix
	if matrix == nil {
		matrix = DefaultHandoffMatrix()
	}
	maxHandoffs := cfg.MaxHandoffs
	if maxHandoffs <= 0 {
		maxHandoffs = DefaultMaxHandoffs
	}
	memory := cfg.Memory
	if memory == nil {
		memory = NewSharedMemory(0, 0, nil)
	}
	return &Supervisor{
		router:      cfg.Router,
		agents:      agents,
		matrix:      matrix,
		maxHandoffs: maxHandoffs,
		interrupts:  cfg.Interrupts,
		publisher:   cfg.Publisher,
		memory:      memory,
		logger:      logging.OrNop(cfg.Logger),
	}, nil
}

// Execute routes the query and drives agents through any handoffs.
func (s *Supervisor) Execute(ctx context.Context, query, userID, taskID, threadID, modeHint string) (*Result, error) {
	decision := s.router.Route(ctx, query, modeHint)
	current := decision.Agent
	if _, ok := s.agents[current]; !ok {
		current = AgentTask
	}
	s.logger.Info("routed task %s to %s (confidence=%.2f, reason=%s)", taskID, current, decision.Confidence, decision.Reason)

	result := &Result{}
	visited := []string{current}

	for {
		def := s.agents[current]
		state := agent.NewState(taskID, threadID, userID, current, s.buildPrompt(def), query)

		outcome, err := s.runAgent(ctx, def, state)
		result.States = append(result.States, state)
		if err != nil {
			return nil, err
		}

		var target string
		for outcome.Handoff != nil {
			var verr error
			target, verr = s.validateHop(current, outcome.Handoff.Target, visited, len(result.Handoffs))
			if verr == nil {
				break
			}
			// A refused hop goes back to the agent as a tool error so
			// it can finish the task itself.
			s.logger.Warn("handoff from %s refused on task %s: %v", current, taskID, verr)
			outcome, err = def.Engine.ResumeRejectedHandoff(ctx, state, outcome.Handoff, verr.Error(), s.interrupts)
			if err != nil {
				return nil, err
			}
		}

		if outcome.Handoff == nil {
			result.FinalResponse = outcome.FinalResponse
			result.Agent = current
			return result, nil
		}

		hop := Hop{Source: current, Target: target, Task: outcome.Handoff.Task}
		result.Handoffs = append(result.Handoffs, hop)
		s.publish(ctx, event.Handoff(current, target, outcome.Handoff.Task))
		s.logger.Info("handoff %s -> %s for task %s", current, target, taskID)

		s.memory.Set("task_description", outcome.Handoff.Task)
		if outcome.Handoff.Context != "" {
			s.memory.Set("context_from_"+current, outcome.Handoff.Context)
		}

		query = freshQuery(outcome.Handoff.Task, outcome.Handoff.Context)
		visited = append(visited, target)
		current = target
	}
}

func (s *Supervisor) runAgent(ctx context.Context, def AgentDef, state *agent.State) (*agent.Outcome, error) {
	return def.Engine.RunWithInterrupts(ctx, state, s.interrupts)
}

// validateHop enforces the adjacency matrix, the handoff budget and
// the no-ping-pong rule.
func (s *Supervisor) validateHop(source, rawTarget string, visited []string, handoffs int) (string, error) {
	target, ok := CanonicalAgent(rawTarget)
	if !ok {
		return "", agenterrors.Input(nil, fmt.Sprintf("handoff to unknown agent %q", rawTarget))
	}
	if _, ok := s.agents[target]; !ok {
		return "", agenterrors.Input(nil, fmt.Sprintf("handoff target %s is not configured", target))
	}
	if handoffs >= s.maxHandoffs {
		return "", agenterrors.Fatal(nil, fmt.Sprintf("handoff limit of %d reached", s.maxHandoffs))
	}
	allowed := false
	for _, candidate := range s.matrix[source] {
		if candidate == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", agenterrors.Input(nil, fmt.Sprintf("handoff %s -> %s is not permitted", source, target))
	}
	if len(visited) >= 2 && target == visited[len(visited)-2] {
		return "", agenterrors.Input(nil, fmt.Sprintf("handoff %s -> %s bounces straight back", source, target))
	}
	return target, nil
}

// buildPrompt appends the shared memory snapshot to the agent's
// system prompt so context survives handoffs.
func (s *Supervisor) buildPrompt(def AgentDef) string {
	snapshot := s.memory.Snapshot()
	if len(snapshot) == 0 {
		return def.SystemPrompt
	}
	var b strings.Builder
	b.WriteString(def.SystemPrompt)
	b.WriteString("\n\nShared memory from earlier agents:\n")
	for _, key := range sortedKeys(snapshot) {
		fmt.Fprintf(&b, "- %s: %s\n", key, snapshot[key])
	}
	return b.String()
}

func freshQuery(task, contextText string) string {
	if contextText == "" {
		return task
	}
	return task + "\n\nContext:\n" + contextText
}

func (s *Supervisor) publish(ctx context.Context, ev event.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, ev)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
