// Package llm implements the model port against OpenAI-compatible
// chat completion APIs.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hyperagent/internal/agent/ports"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/logging"
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Headers map[string]string
}

// Client speaks the OpenAI chat completions wire format, which the
// major providers and most gateways accept.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *agenterrors.CircuitBreaker
	logger     logging.Logger
}

// New builds a client. Timeout zero uses 120s.
func New(config Config, logger logging.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    agenterrors.NewCircuitBreaker("llm:"+config.Model, agenterrors.DefaultCircuitBreakerConfig(), logger),
		logger:     logging.OrNop(logger),
	}
}

func (c *Client) Model() string { return c.config.Model }

// Complete makes one non-streaming completion call.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, agenterrors.Transient(nil, "model returned no choices")
	}

	choice := decoded.Choices[0]
	result := &ports.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage:      decoded.Usage.toPort(),
	}
	for _, tc := range choice.Message.ToolCalls {
		call, err := tc.toPort()
		if err != nil {
			c.logger.Warn("dropping unparseable tool call %s: %v", tc.Function.Name, err)
			continue
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	return result, nil
}

// Stream runs a streaming completion, invoking onToken for each
// content delta, and returns the aggregated response.
func (c *Client) Stream(ctx context.Context, req ports.CompletionRequest, onToken func(string)) (*ports.CompletionResponse, error) {
	resp, err := c.send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var content strings.Builder
	acc := newToolCallAccumulator()
	result := &ports.CompletionResponse{}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string          `json:"content"`
					ToolCalls []wireToolDelta `json:"tool_calls"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
			Usage *wireUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("skipping undecodable stream chunk: %v", err)
			continue
		}
		if chunk.Usage != nil {
			result.Usage = chunk.Usage.toPort()
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if onToken != nil {
					onToken(choice.Delta.Content)
				}
			}
			for _, delta := range choice.Delta.ToolCalls {
				acc.add(delta)
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				result.StopReason = *choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, agenterrors.Transient(err, "model stream interrupted")
	}

	result.Content = content.String()
	calls, err := acc.finish()
	if err != nil {
		return nil, err
	}
	result.ToolCalls = calls
	return result, nil
}

func (c *Client) send(ctx context.Context, req ports.CompletionRequest, stream bool) (*http.Response, error) {
	if err := c.breaker.Allow(); err != nil {
		// Task-level retry can wait out the cool-off window.
		return nil, agenterrors.Transient(err, "model provider circuit open")
	}

	payload := map[string]any{
		"model":    c.config.Model,
		"messages": convertMessages(req.Messages),
		"stream":   stream,
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		payload["tools"] = convertTools(req.Tools)
		payload["tool_choice"] = "auto"
	}
	if stream {
		payload["stream_options"] = map[string]any{"include_usage": true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation says nothing about provider health.
			return nil, ctx.Err()
		}
		c.breaker.Mark(err)
		return nil, agenterrors.Transient(err, "model endpoint unreachable")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		mapped := mapStatusError(resp.StatusCode, detail)
		// Only provider-side failures count against the breaker; a bad
		// request would open it for healthy traffic.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.breaker.Mark(mapped)
		}
		return nil, mapped
	}
	c.breaker.Mark(nil)
	return resp, nil
}

// mapStatusError tags provider failures so the retry layer knows what
// to do with them.
func mapStatusError(status int, detail []byte) error {
	message := fmt.Sprintf("model call failed with status %d: %s", status, strings.TrimSpace(string(detail)))
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return agenterrors.Transient(nil, message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return agenterrors.Permission(nil, message)
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return agenterrors.Input(nil, message)
	default:
		return agenterrors.Fatal(nil, message)
	}
}

func convertMessages(messages []ports.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if m.Name != "" {
			entry["name"] = m.Name
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args := tc.RawArgs
				if args == "" {
					encoded, err := json.Marshal(tc.Args)
					if err == nil {
						args = string(encoded)
					}
				}
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": args,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

func convertTools(tools []ports.ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := json.RawMessage(t.ArgsSchema)
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u wireUsage) toPort() ports.TokenUsage {
	return ports.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (tc wireToolCall) toPort() (ports.ToolCall, error) {
	args, err := ports.ParseToolArgs(tc.Function.Arguments)
	if err != nil {
		return ports.ToolCall{}, err
	}
	return ports.ToolCall{
		ID:      tc.ID,
		Name:    tc.Function.Name,
		Args:    args,
		RawArgs: tc.Function.Arguments,
	}, nil
}

type wireToolDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// toolCallAccumulator stitches streamed tool call fragments back into
// complete calls, keyed by the delta index.
type toolCallAccumulator struct {
	order []int
	parts map[int]*toolCallPart
}

type toolCallPart struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{parts: make(map[int]*toolCallPart)}
}

func (a *toolCallAccumulator) add(delta wireToolDelta) {
	part, ok := a.parts[delta.Index]
	if !ok {
		part = &toolCallPart{}
		a.parts[delta.Index] = part
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		part.id = delta.ID
	}
	if delta.Function.Name != "" {
		part.name = delta.Function.Name
	}
	part.args.WriteString(delta.Function.Arguments)
}

func (a *toolCallAccumulator) finish() ([]ports.ToolCall, error) {
	calls := make([]ports.ToolCall, 0, len(a.order))
	for _, index := range a.order {
		part := a.parts[index]
		raw := part.args.String()
		if raw == "" {
			raw = "{}"
		}
		args, err := ports.ParseToolArgs(raw)
		if err != nil {
			return nil, agenterrors.Input(err, fmt.Sprintf("tool call %s arrived with unparseable arguments", part.name))
		}
		calls = append(calls, ports.ToolCall{ID: part.id, Name: part.name, Args: args, RawArgs: raw})
	}
	return calls, nil
}
