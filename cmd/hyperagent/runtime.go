package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"hyperagent/internal/bus"
	"hyperagent/internal/config"
	"hyperagent/internal/hitl"
	"hyperagent/internal/llm"
	"hyperagent/internal/logging"
	"hyperagent/internal/metrics"
	"hyperagent/internal/queue"
	"hyperagent/internal/sandbox"
	"hyperagent/internal/skill"
	"hyperagent/internal/supervisor"
	"hyperagent/internal/tool"
	"hyperagent/internal/tool/builtin"
	"hyperagent/internal/tool/guardrail"
)

// runtime holds every long-lived collaborator. Construction is
// explicit and top-down so the dependency graph stays readable;
// nothing here is global.
type runtime struct {
	cfg    *config.Config
	logger logging.Logger

	redis      redis.UniversalClient
	broker     bus.Broker
	tasks      queue.TaskStore
	jobs       queue.JobQueue
	interrupts *hitl.Manager
	cancels    *queue.CancelRegistry
	metrics    *metrics.Metrics

	sandboxes *sandbox.ManagerSet
	registry  *tool.Registry
	runner    *tool.Runner
	skills    *skill.Engine

	model       *llm.Client
	routerModel *llm.Client
}

// buildRuntime wires the full dependency graph from config. With an
// empty redis.addr everything runs in-process, which only makes sense
// when the server and the worker share the process.
func buildRuntime(ctx context.Context, cfg *config.Config, logger logging.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		cancels: queue.NewCancelRegistry(),
		metrics: metrics.New(),
	}

	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.broker = bus.NewRedisBroker(rt.redis, logger)
		rt.tasks = queue.NewRedisTaskStore(rt.redis)
		rt.jobs = queue.NewRedisQueue(rt.redis, logger)
		rt.interrupts = hitl.NewManager(hitl.NewRedisStore(rt.redis), logger)
	} else {
		logger.Warn("redis.addr is empty, using in-process broker, queue and stores")
		rt.broker = bus.NewMemoryBroker()
		rt.tasks = queue.NewMemoryTaskStore()
		rt.jobs = queue.NewMemoryQueue()
		rt.interrupts = hitl.NewManager(hitl.NewMemoryStore(), logger)
	}

	rt.model = llm.New(llm.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Name,
		Timeout: cfg.Model.Timeout,
	}, logger)
	routerName := cfg.Model.RouterModel
	if routerName == "" {
		routerName = cfg.Model.Name
	}
	rt.routerModel = llm.New(llm.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Model:   routerName,
		Timeout: cfg.Model.Timeout,
	}, logger)

	if cfg.Sandbox.ProviderURL != "" {
		set, err := buildSandboxes(cfg.Sandbox, logger)
		if err != nil {
			return nil, err
		}
		rt.sandboxes = set
	}

	if err := rt.buildTooling(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

func buildSandboxes(cfg config.SandboxConfig, logger logging.Logger) (*sandbox.ManagerSet, error) {
	managerCfg := sandbox.DefaultManagerConfig()
	if cfg.TTL > 0 {
		managerCfg.DefaultTTL = cfg.TTL
	}
	if cfg.MaxSessions > 0 {
		managerCfg.MaxSessions = cfg.MaxSessions
	}

	kinds := []sandbox.Kind{sandbox.KindExecution, sandbox.KindDesktop, sandbox.KindApp}
	managers := make([]*sandbox.Manager, 0, len(kinds))
	for _, kind := range kinds {
		rtm, err := sandbox.NewProviderRuntime(kind, sandbox.ProviderConfig{
			BaseURL: cfg.ProviderURL,
			APIKey:  cfg.AuthKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("sandbox runtime %s: %w", kind, err)
		}
		managers = append(managers, sandbox.NewManager(rtm, managerCfg, logger))
	}
	return sandbox.NewManagerSet(managers...), nil
}

// buildTooling assembles the tool registry, runner and skill engine.
// The skill engine and the invoke_skill tool reference each other
// through the runner, so ordering matters here.
func (rt *runtime) buildTooling(ctx context.Context) error {
	rt.registry = tool.NewRegistry()

	guard := guardrail.New(guardrail.DefaultConfig())
	pipeline := tool.DefaultPipeline(guard, rt.logger)
	policy := tool.NewPolicy(tool.DefaultPolicyConfig())
	cache, err := tool.NewResultCache(tool.CacheConfig{})
	if err != nil {
		return fmt.Errorf("tool cache: %w", err)
	}
	rt.runner = tool.NewRunner(rt.registry, policy, pipeline, cache, rt.logger)

	store := skill.NewMemoryStore()
	if err := skill.RegisterBuiltins(ctx, store); err != nil {
		return fmt.Errorf("register builtin skills: %w", err)
	}
	if rt.cfg.Skills.Dir != "" {
		n, err := skill.LoadDir(ctx, store, rt.cfg.Skills.Dir)
		if err != nil {
			return fmt.Errorf("load skills from %s: %w", rt.cfg.Skills.Dir, err)
		}
		rt.logger.Info("loaded %d skill definitions from %s", n, rt.cfg.Skills.Dir)
	}
	rt.skills = skill.NewEngine(store, rt.runner, rt.model, rt.logger)

	if err := builtin.Register(rt.registry, builtin.Config{
		SearchAPIKey:  rt.cfg.Tools.SearchAPIKey,
		SearchBaseURL: rt.cfg.Tools.SearchBaseURL,
		ImageBaseURL:  rt.cfg.Tools.ImageBaseURL,
		ImageAPIKey:   rt.cfg.Tools.ImageAPIKey,
		Sandboxes:     rt.sandboxes,
		Skills:        skill.NewInvoker(rt.skills, nil),
		Logger:        rt.logger,
	}); err != nil {
		return err
	}

	for source, targets := range supervisor.DefaultHandoffMatrix() {
		if err := builtin.RegisterHandoffs(rt.registry, source, targets); err != nil {
			return fmt.Errorf("register handoffs for %s: %w", source, err)
		}
	}
	return nil
}

// close releases shared connections. Server and worker shut themselves
// down before this runs.
func (rt *runtime) close() {
	if err := rt.broker.Close(); err != nil {
		rt.logger.Warn("broker close: %v", err)
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close: %v", err)
		}
	}
}
