package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hyperagent/internal/agent/ports"
	"hyperagent/internal/logging"
)

// Canonical agent names.
const (
	AgentTask     = "task"
	AgentResearch = "research"
)

// agentAliases maps historical agent names onto the two canonical
// agents. Unknown names fall back to task.
var agentAliases = map[string]string{
	"chat":          AgentTask,
	"assistant":     AgentTask,
	"general":       AgentTask,
	"browser":       AgentTask,
	"coding":        AgentTask,
	"researcher":    AgentResearch,
	"deep_research": AgentResearch,
	"analyst":       AgentResearch,
}

// CanonicalAgent resolves aliases; ok is false when the name is
// entirely unknown.
func CanonicalAgent(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case AgentTask, AgentResearch:
		return name, true
	}
	if canonical, ok := agentAliases[name]; ok {
		return canonical, true
	}
	return AgentTask, false
}

// Decision is the classifier's routing verdict.
type Decision struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const routingPrompt = `Classify the user query into exactly one agent.
Agents:
- task: direct actions, coding, file work, short factual answers
- research: multi-step investigation, gathering and synthesising sources

Respond with JSON only: {"agent": "...", "confidence": 0.0, "reason": "..."}`

// Router picks the agent for a query through a small classifier call.
type Router struct {
	llm     ports.LLM
	timeout time.Duration
	logger  logging.Logger
}

// NewRouter builds a router. timeout <= 0 uses 30s.
func NewRouter(llm ports.LLM, timeout time.Duration, logger logging.Logger) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{llm: llm, timeout: timeout, logger: logging.OrNop(logger)}
}

// Route decides the agent. A valid mode hint bypasses the classifier;
// classifier failure falls back to the task agent.
func (r *Router) Route(ctx context.Context, query, modeHint string) Decision {
	if modeHint != "" {
		if agent, ok := CanonicalAgent(modeHint); ok {
			return Decision{Agent: agent, Confidence: 1, Reason: "mode hint"}
		}
		r.logger.Warn("unknown mode hint %q, consulting classifier", modeHint)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.llm.Complete(callCtx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: routingPrompt},
			{Role: ports.RoleUser, Content: query},
		},
		MaxTokens: 200,
	})
	if err != nil {
		r.logger.Warn("routing classifier failed, defaulting to %s: %v", AgentTask, err)
		return Decision{Agent: AgentTask, Confidence: 0, Reason: "classifier unavailable"}
	}

	decision, err := parseDecision(resp.Content)
	if err != nil {
		r.logger.Warn("unparseable routing verdict %q: %v", resp.Content, err)
		return Decision{Agent: AgentTask, Confidence: 0, Reason: "unparseable classifier output"}
	}
	return decision
}

func parseDecision(content string) (Decision, error) {
	args, err := ports.ParseToolArgs(content)
	if err != nil {
		return Decision{}, err
	}
	name, _ := args["agent"].(string)
	agent, ok := CanonicalAgent(name)
	if !ok {
		return Decision{}, fmt.Errorf("unknown agent %q", name)
	}
	confidence, _ := args["confidence"].(float64)
	reason, _ := args["reason"].(string)
	return Decision{Agent: agent, Confidence: confidence, Reason: reason}, nil
}
