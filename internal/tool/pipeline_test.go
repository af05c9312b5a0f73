package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/tool/guardrail"
)

func testPipeline() *Pipeline {
	return DefaultPipeline(guardrail.New(guardrail.Config{MaxResultBytes: 64}), nil)
}

func TestRiskGateSuspendsHighRisk(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{Tool: "sandbox_file", Risk: RiskHigh, Category: CategoryData}

	sc, err := p.Before(context.Background(), inv)
	require.NoError(t, err)
	require.NotNil(t, sc)
	require.NotNil(t, sc.Interrupt)
	assert.Equal(t, event.InterruptApproval, sc.Interrupt.Kind)
	assert.Equal(t, "sandbox_file", sc.Interrupt.Tool)
}

func TestRiskGateAutoApproveBypass(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{Tool: "sandbox_file", Risk: RiskHigh, Category: CategoryData, AutoApproved: true}

	sc, err := p.Before(context.Background(), inv)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestRiskGateLowRiskPasses(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{Tool: "web_search", Risk: RiskLow, Category: CategorySearch}

	sc, err := p.Before(context.Background(), inv)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestHITLToolAlwaysSuspends(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{
		Tool: "ask_user", Risk: RiskLow, Category: CategoryHITL,
		Args: map[string]any{"question": "which one?", "options": []any{"a", "b"}},
	}

	sc, err := p.Before(context.Background(), inv)
	require.NoError(t, err)
	require.NotNil(t, sc)
	require.NotNil(t, sc.Interrupt)
	assert.Equal(t, event.InterruptDecision, sc.Interrupt.Kind)
	assert.Equal(t, "which one?", sc.Interrupt.Message)
	assert.Equal(t, []string{"a", "b"}, sc.Interrupt.Options)
}

func TestInputGuardrailBlocksPrivateURL(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{
		Tool: "http_request", Risk: RiskMedium, Category: CategoryData,
		Args: map[string]any{"url": "http://169.254.169.254/latest/meta-data"},
	}

	sc, err := p.Before(context.Background(), inv)
	require.NoError(t, err)
	require.NotNil(t, sc)
	require.NotNil(t, sc.Result)
	assert.True(t, sc.Result.IsError)
	assert.Contains(t, sc.Result.Content, "URL guardrail")
}

func TestInputGuardrailBlocksBannedCommand(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{
		Tool: "execute_code", Risk: RiskHigh, Category: CategoryCode, AutoApproved: true,
		Args: map[string]any{"command": "rm -rf /"},
	}

	sc, err := p.Before(context.Background(), inv)
	require.NoError(t, err)
	require.NotNil(t, sc)
	require.NotNil(t, sc.Result)
	assert.Contains(t, sc.Result.Content, "command guardrail")
}

func TestAfterRedactsAndTruncates(t *testing.T) {
	p := testPipeline()
	inv := &Invocation{Tool: "web_search"}

	long := "token=secretvalue123 " + string(make([]byte, 200))
	out := p.After(context.Background(), inv, Result{Content: long})
	assert.NotContains(t, out.Content, "secretvalue123")
	assert.Contains(t, out.Content, guardrail.TruncationMarker)
}

func runnerWith(t *testing.T, ft *fakeTool, cache *ResultCache) *Runner {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(ft))
	return NewRunner(r, NewPolicy(PolicyConfig{}), testPipeline(), cache, nil)
}

func TestRunnerExecutesLowRiskDirectly(t *testing.T) {
	ft := newFakeTool("echo", CategorySearch, RiskLow)
	ft.execute = func(_ context.Context, args map[string]any) (Result, error) {
		return Result{Content: "done"}, nil
	}
	runner := runnerWith(t, ft, nil)

	result, interrupt, err := runner.Run(context.Background(), &Invocation{Tool: "echo", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Nil(t, interrupt)
	assert.Equal(t, "done", result.Content)
}

func TestRunnerReturnsGuardrailShortCircuit(t *testing.T) {
	ft := newFakeTool("fetch", CategoryData, RiskLow)
	executed := false
	ft.execute = func(_ context.Context, _ map[string]any) (Result, error) {
		executed = true
		return Result{Content: "never"}, nil
	}
	runner := runnerWith(t, ft, nil)

	result, interrupt, err := runner.Run(context.Background(), &Invocation{
		Tool: "fetch",
		Args: map[string]any{"url": "http://127.0.0.1/admin"},
	})
	require.NoError(t, err)
	assert.Nil(t, interrupt)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "URL guardrail")
	assert.False(t, executed, "blocked invocation must not reach the tool")
}

func TestRunnerSurfacesInterrupt(t *testing.T) {
	ft := newFakeTool("danger", CategoryCode, RiskHigh)
	runner := runnerWith(t, ft, nil)

	_, interrupt, err := runner.Run(context.Background(), &Invocation{Tool: "danger", Args: map[string]any{}})
	require.NoError(t, err)
	require.NotNil(t, interrupt)
	assert.Equal(t, event.InterruptApproval, interrupt.Kind)
}

func TestRunnerResumeBypassesGate(t *testing.T) {
	executed := false
	ft := newFakeTool("danger", CategoryCode, RiskHigh)
	ft.execute = func(context.Context, map[string]any) (Result, error) {
		executed = true
		return Result{Content: "ran"}, nil
	}
	runner := runnerWith(t, ft, nil)

	result, err := runner.Resume(context.Background(), &Invocation{Tool: "danger", Risk: RiskHigh, Args: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, "ran", result.Content)
}

func TestRunnerRetriesTransient(t *testing.T) {
	attempts := 0
	ft := newFakeTool("flaky", CategorySearch, RiskLow)
	ft.execute = func(context.Context, map[string]any) (Result, error) {
		attempts++
		if attempts < 2 {
			return Result{}, agenterrors.Transient(nil, "blip")
		}
		return Result{Content: "recovered"}, nil
	}
	r := NewRegistry()
	require.NoError(t, r.Register(ft))
	policy := NewPolicy(PolicyConfig{
		DefaultTimeout: time.Second,
		Retry:          agenterrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, JitterFactor: 0.2},
	})
	runner := NewRunner(r, policy, testPipeline(), nil, nil)

	result, _, err := runner.Run(context.Background(), &Invocation{Tool: "flaky", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, 2, attempts)
}

func TestRunnerUnknownToolTaggedInput(t *testing.T) {
	runner := runnerWith(t, newFakeTool("known", CategorySearch, RiskLow), nil)
	_, _, err := runner.Run(context.Background(), &Invocation{Tool: "nope"})
	require.Error(t, err)
	assert.Equal(t, agenterrors.CategoryInput, agenterrors.Classify(err))
}

func TestRunnerIdentityReachesTool(t *testing.T) {
	var got Identity
	ft := newFakeTool("who", CategorySearch, RiskLow)
	ft.execute = func(ctx context.Context, _ map[string]any) (Result, error) {
		got = IdentityFrom(ctx)
		return Result{Content: "ok"}, nil
	}
	runner := runnerWith(t, ft, nil)

	_, _, err := runner.Run(context.Background(), &Invocation{Tool: "who", UserID: "u1", TaskID: "t9", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", TaskID: "t9"}, got)
}

func TestResultCacheServesLowRiskRepeats(t *testing.T) {
	calls := 0
	ft := newFakeTool("cached", CategorySearch, RiskLow)
	ft.execute = func(context.Context, map[string]any) (Result, error) {
		calls++
		return Result{Content: "hit"}, nil
	}
	cache, err := NewResultCache(CacheConfig{})
	require.NoError(t, err)
	runner := runnerWith(t, ft, cache)

	args := map[string]any{"q": "same"}
	for i := 0; i < 3; i++ {
		_, _, err := runner.Run(context.Background(), &Invocation{Tool: "cached", Args: args})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

func TestResultCacheExpiresByTTL(t *testing.T) {
	cache, err := NewResultCache(CacheConfig{TTL: time.Minute})
	require.NoError(t, err)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	args := map[string]any{"q": "x"}
	cache.Put("t", args, Result{Content: "v"})

	_, ok := cache.Get("t", args)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("t", args)
	assert.False(t, ok)
}

func TestCacheSkipsHighRiskAndErrors(t *testing.T) {
	assert.False(t, Cacheable(&Invocation{Risk: RiskHigh}))
	assert.False(t, Cacheable(&Invocation{Risk: RiskLow, Category: CategoryHandoff}))
	assert.True(t, Cacheable(&Invocation{Risk: RiskLow, Category: CategorySearch}))

	cache, err := NewResultCache(CacheConfig{})
	require.NoError(t, err)
	cache.Put("t", nil, Result{Content: "bad", IsError: true})
	_, ok := cache.Get("t", nil)
	assert.False(t, ok)
}

func TestPolicyTimeouts(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	assert.Equal(t, 30*time.Second, p.TimeoutFor("http_request"))
	assert.Equal(t, 180*time.Second, p.TimeoutFor("execute_code"))
	assert.Equal(t, 120*time.Second, p.TimeoutFor("shell_exec"))
	assert.Equal(t, 60*time.Second, p.TimeoutFor("anything_else"))
}

func TestPolicySuppressesRetriesForHighRisk(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	assert.Equal(t, 1, p.RetryFor("sandbox_file", RiskHigh).MaxAttempts)
	assert.Greater(t, p.RetryFor("web_search", RiskLow).MaxAttempts, 1)
}
