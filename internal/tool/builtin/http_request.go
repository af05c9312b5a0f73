package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
)

type httpRequest struct {
	client *http.Client
}

// NewHTTPRequest builds the http_request tool. client may be nil.
func NewHTTPRequest(client *http.Client) tool.Tool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpRequest{client: client}
}

func (t *httpRequest) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "http_request",
		Description: "Perform an HTTP request against a public endpoint and return the status and response body.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "Target URL, http or https"},
				"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"], "description": "HTTP method, default GET"},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}},
				"body": {"type": "string", "description": "Request body for write methods"}
			},
			"required": ["url"]
		}`),
	}
}

func (t *httpRequest) Category() tool.Category { return tool.CategoryData }
func (t *httpRequest) Risk() tool.Risk         { return tool.RiskMedium }

const maxResponseBytes = 256 * 1024

func (t *httpRequest) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	rawURL, _ := args["url"].(string)
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := args["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, body)
	if err != nil {
		return tool.Result{}, agenterrors.Input(err, "invalid request")
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "reading response")
	}

	if resp.StatusCode >= 500 {
		return tool.Result{}, agenterrors.Transient(
			fmt.Errorf("status %d", resp.StatusCode),
			fmt.Sprintf("HTTP %d from %s", resp.StatusCode, req.URL.Host))
	}

	content := fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(data))
	return tool.Result{
		Content: content,
		IsError: resp.StatusCode >= 400,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
		},
	}, nil
}
