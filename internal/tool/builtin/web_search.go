package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
)

const defaultSearchBaseURL = "https://api.tavily.com"

type webSearch struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewWebSearch builds the web_search tool. client may be nil.
func NewWebSearch(apiKey, baseURL string, client *http.Client) tool.Tool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultSearchBaseURL
	}
	return &webSearch{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *webSearch) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "web_search",
		Description: "Search the web for current information. Returns result titles, URLs and summaries ranked by relevance.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum results, default 5"}
			},
			"required": ["query"]
		}`),
	}
}

func (t *webSearch) Category() tool.Category { return tool.CategorySearch }
func (t *webSearch) Risk() tool.Risk         { return tool.RiskLow }

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *webSearch) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	if t.apiKey == "" {
		return tool.ErrorResult("web search is not configured: missing search API key"), nil
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return tool.Result{}, agenterrors.Input(nil, "query parameter is required")
	}

	maxResults := 5
	if mr, ok := args["max_results"].(float64); ok {
		maxResults = int(mr)
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"max_results":    maxResults,
		"include_answer": true,
	})
	if err != nil {
		return tool.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return tool.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "search request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "reading search response")
	}
	if resp.StatusCode != http.StatusOK {
		return tool.Result{}, fmt.Errorf("search API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tool.Result{}, fmt.Errorf("decode search response: %w", err)
	}

	var b strings.Builder
	var events []event.Event
	if parsed.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n\n", parsed.Answer)
	}
	for i, r := range parsed.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Content)
		events = append(events, event.Source(r.Title, r.URL, r.Content, r.Score))
	}
	if len(parsed.Results) == 0 {
		b.WriteString("No results found.")
	}

	return tool.Result{Content: b.String(), Events: events}, nil
}
