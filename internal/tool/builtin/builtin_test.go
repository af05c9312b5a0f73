package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool"
)

func TestWebSearchFormatsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"answer": "Go is a language.",
			"results": [
				{"title": "Go", "url": "https://go.dev", "content": "The Go programming language", "score": 0.97}
			]
		}`))
	}))
	defer server.Close()

	ws := NewWebSearch("key", server.URL, server.Client())
	result, err := ws.Execute(context.Background(), map[string]any{"query": "golang"})
	require.NoError(t, err)

	assert.Contains(t, result.Content, "Answer: Go is a language.")
	assert.Contains(t, result.Content, "https://go.dev")
	require.Len(t, result.Events, 1)
	assert.Equal(t, event.TypeSource, result.Events[0].Type)
	assert.Equal(t, 0.97, result.Events[0].RelevanceScore)
}

func TestWebSearchWithoutKeyReturnsErrorResult(t *testing.T) {
	ws := NewWebSearch("", "", nil)
	result, err := ws.Execute(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWebSearchMissingQuery(t *testing.T) {
	ws := NewWebSearch("key", "", nil)
	_, err := ws.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, agenterrors.CategoryInput, agenterrors.Classify(err))
}

func TestHTTPRequestReturnsStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`created`))
	}))
	defer server.Close()

	hr := NewHTTPRequest(server.Client())
	result, err := hr.Execute(context.Background(), map[string]any{
		"url":     server.URL,
		"method":  "POST",
		"headers": map[string]any{"X-Test": "yes"},
		"body":    `{"a":1}`,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "HTTP 201")
	assert.Contains(t, result.Content, "created")
	assert.Equal(t, 201, result.Meta("status_code"))
}

func TestHTTPRequestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	hr := NewHTTPRequest(server.Client())
	_, err := hr.Execute(context.Background(), map[string]any{"url": server.URL})
	require.Error(t, err)
	assert.Equal(t, agenterrors.CategoryTransient, agenterrors.Classify(err))
}

func TestHTTPRequestClientErrorIsToolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	hr := NewHTTPRequest(server.Client())
	result, err := hr.Execute(context.Background(), map[string]any{"url": server.URL})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "HTTP 404")
}

func TestHandoffToolReturnsMarker(t *testing.T) {
	h := NewHandoffTool("task", "research")
	assert.Equal(t, "handoff_to_research", h.Descriptor().Name)
	assert.Equal(t, tool.CategoryHandoff, h.Category())

	result, err := h.Execute(context.Background(), map[string]any{
		"task_description": "dig deeper",
		"context":          "found two leads",
	})
	require.NoError(t, err)

	target, task, contextText, ok := IsHandoff(result)
	require.True(t, ok)
	assert.Equal(t, "research", target)
	assert.Equal(t, "dig deeper", task)
	assert.Equal(t, "found two leads", contextText)
}

func TestHandoffRequiresTaskDescription(t *testing.T) {
	h := NewHandoffTool("task", "research")
	_, err := h.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, agenterrors.CategoryInput, agenterrors.Classify(err))
}

func TestIsHandoffOnPlainResult(t *testing.T) {
	_, _, _, ok := IsHandoff(tool.Result{Content: "normal"})
	assert.False(t, ok)
}

func TestAskUserDirectExecutionFails(t *testing.T) {
	_, err := NewAskUser().Execute(context.Background(), map[string]any{"question": "hi"})
	require.Error(t, err)
	assert.Equal(t, agenterrors.CategoryFatal, agenterrors.Classify(err))
}

func TestRegisterBuildsBaseCatalogue(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, Register(r, Config{SearchAPIKey: "k"}))

	names := r.Names()
	assert.Contains(t, names, "web_search")
	assert.Contains(t, names, "http_request")
	assert.Contains(t, names, "ask_user")
	assert.NotContains(t, names, "execute_code")
}

type stubInvoker struct {
	lastID string
}

func (s *stubInvoker) Invoke(_ context.Context, skillID string, _ map[string]any) (string, error) {
	s.lastID = skillID
	return "skill output", nil
}

func TestInvokeSkillDelegates(t *testing.T) {
	inv := &stubInvoker{}
	is := NewInvokeSkill(inv)

	result, err := is.Execute(context.Background(), map[string]any{"skill_id": "summarise"})
	require.NoError(t, err)
	assert.Equal(t, "summarise", inv.lastID)
	assert.Equal(t, "skill output", result.Content)
}
