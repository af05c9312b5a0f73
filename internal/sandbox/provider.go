package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"hyperagent/internal/logging"
)

// ProviderConfig points a runtime at a sandbox provider endpoint.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

// ProviderRuntime creates sandboxes through the provider's HTTP API.
// One runtime instance serves one sandbox kind.
type ProviderRuntime struct {
	kind   Kind
	config ProviderConfig
	client *http.Client
	logger logging.Logger
}

// NewProviderRuntime builds a runtime for the given kind and endpoint.
func NewProviderRuntime(kind Kind, config ProviderConfig, logger logging.Logger) (*ProviderRuntime, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("sandbox base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid sandbox base URL: %w", err)
	}
	timeout := config.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProviderRuntime{
		kind:   kind,
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logging.OrNop(logger),
	}, nil
}

// Kind returns the sandbox family this runtime provisions.
func (r *ProviderRuntime) Kind() Kind {
	return r.kind
}

type createResponse struct {
	SandboxID string `json:"sandbox_id"`
	StreamURL string `json:"stream_url,omitempty"`
	AuthKey   string `json:"auth_key,omitempty"`
}

// Create provisions a sandbox. Failures surface to the caller; nothing
// is retained on error so a partial creation never leaks.
func (r *ProviderRuntime) Create(ctx context.Context, userID, taskID string) (Executor, error) {
	body := map[string]string{
		"kind":    string(r.kind),
		"user_id": userID,
		"task_id": taskID,
	}
	var resp createResponse
	if err := r.call(ctx, http.MethodPost, "/v1/sandboxes", body, &resp); err != nil {
		return nil, err
	}
	if resp.SandboxID == "" {
		return nil, fmt.Errorf("sandbox provider returned empty sandbox id")
	}

	executor := &providerExecutor{runtime: r, sandboxID: resp.SandboxID}
	if resp.StreamURL != "" {
		executor.stream = &StreamInfo{StreamURL: resp.StreamURL, AuthKey: resp.AuthKey}
	}
	return executor, nil
}

func (r *ProviderRuntime) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.config.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sandbox provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// providerExecutor drives one provider-hosted sandbox. The killed flag
// makes Destroy idempotent regardless of which path triggers it.
type providerExecutor struct {
	runtime   *ProviderRuntime
	sandboxID string
	stream    *StreamInfo
	killed    atomic.Bool
}

func (e *providerExecutor) ID() string {
	return e.sandboxID
}

func (e *providerExecutor) path(suffix string) string {
	return "/v1/sandboxes/" + e.sandboxID + suffix
}

func (e *providerExecutor) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	if e.killed.Load() {
		return ExecResult{}, fmt.Errorf("sandbox %s already destroyed", e.sandboxID)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var out struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	err := e.runtime.call(ctx, http.MethodPost, e.path("/exec"), map[string]any{
		"command":         req.Command,
		"timeout_seconds": int(req.Timeout.Seconds()),
	}, &out)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}

func (e *providerExecutor) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var out struct {
		ContentBase64 string `json:"content_base64"`
	}
	err := e.runtime.call(ctx, http.MethodPost, e.path("/files/read"), map[string]string{"path": path}, &out)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.ContentBase64)
}

func (e *providerExecutor) WriteFile(ctx context.Context, path string, data []byte) error {
	return e.runtime.call(ctx, http.MethodPost, e.path("/files/write"), map[string]string{
		"path":           path,
		"content_base64": base64.StdEncoding.EncodeToString(data),
	}, nil)
}

func (e *providerExecutor) ListFiles(ctx context.Context, path string) ([]string, error) {
	var out struct {
		Entries []string `json:"entries"`
	}
	err := e.runtime.call(ctx, http.MethodPost, e.path("/files/list"), map[string]string{"path": path}, &out)
	if err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (e *providerExecutor) DeleteFile(ctx context.Context, path string) error {
	return e.runtime.call(ctx, http.MethodPost, e.path("/files/delete"), map[string]string{"path": path}, nil)
}

func (e *providerExecutor) FileExists(ctx context.Context, path string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	err := e.runtime.call(ctx, http.MethodPost, e.path("/files/exists"), map[string]string{"path": path}, &out)
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}

// Alive issues a cheap health probe with a short deadline so session
// reuse never blocks on a wedged provider.
func (e *providerExecutor) Alive(ctx context.Context) bool {
	if e.killed.Load() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := e.runtime.call(probeCtx, http.MethodGet, e.path("/health"), nil, nil)
	return err == nil
}

func (e *providerExecutor) Stream() *StreamInfo {
	return e.stream
}

// Destroy tears the sandbox down. Safe to call repeatedly; only the
// first call reaches the provider.
func (e *providerExecutor) Destroy(ctx context.Context) error {
	if e.killed.Swap(true) {
		return nil
	}
	return e.runtime.call(ctx, http.MethodDelete, e.path(""), nil, nil)
}
