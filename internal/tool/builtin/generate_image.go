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

type generateImage struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewGenerateImage builds the generate_image tool backed by an image
// provider HTTP API.
func NewGenerateImage(baseURL, apiKey string, client *http.Client) tool.Tool {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &generateImage{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (t *generateImage) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt. Returns the image to the client as a stream event.",
		ArgsSchema: schema(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "What the image should depict"},
				"count": {"type": "integer", "minimum": 1, "maximum": 4, "description": "Number of images, default 1"}
			},
			"required": ["prompt"]
		}`),
	}
}

func (t *generateImage) Category() tool.Category { return tool.CategoryImage }
func (t *generateImage) Risk() tool.Risk         { return tool.RiskLow }

func (t *generateImage) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return tool.Result{}, agenterrors.Input(nil, "prompt parameter is required")
	}
	count := 1
	if c, ok := args["count"].(float64); ok && c >= 1 {
		count = int(c)
	}

	payload, err := json.Marshal(map[string]any{"prompt": prompt, "n": count})
	if err != nil {
		return tool.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return tool.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "image generation request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return tool.Result{}, agenterrors.Transient(err, "reading image response")
	}
	if resp.StatusCode != http.StatusOK {
		return tool.Result{}, fmt.Errorf("image API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tool.Result{}, fmt.Errorf("decode image response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return tool.ErrorResult("image provider returned no images"), nil
	}

	var events []event.Event
	for i, img := range parsed.Data {
		events = append(events, event.Image(img.B64JSON, img.URL, "image/png", i))
	}
	return tool.Result{
		Content: fmt.Sprintf("generated %d image(s) for prompt: %s", len(parsed.Data), prompt),
		Events:  events,
	}, nil
}
