package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hyperagent/internal/agent"
	"hyperagent/internal/agent/ports"
	"hyperagent/internal/bus"
	"hyperagent/internal/config"
	"hyperagent/internal/logging"
	"hyperagent/internal/queue"
	"hyperagent/internal/supervisor"
)

func newWorkerCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a job worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func runWorker(parent context.Context, cfg *config.Config) error {
	logger := logging.NewComponentLogger("worker")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	worker := newWorker(rt)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	worker.Stop(stopCtx)
	return nil
}

// newWorker assembles a Worker whose handler drives the supervisor.
func newWorker(rt *runtime) *queue.Worker {
	id := workerID()
	return queue.NewWorker(id, rt.jobs, rt.tasks, rt.broker, newJobHandler(rt), rt.sandboxes, rt.cancels, queue.WorkerConfig{
		MaxJobs:    rt.cfg.Worker.MaxJobs,
		PollDelay:  rt.cfg.Worker.PollDelay,
		MaxRetries: rt.cfg.Worker.MaxRetries,
		DrainGrace: rt.cfg.Worker.DrainGrace,
	}, rt.logger)
}

// newJobHandler builds the per-job execution path. Agent engines are
// cheap and carry the task's publisher, so each job gets fresh ones.
func newJobHandler(rt *runtime) queue.Handler {
	agentCfg := agent.Config{
		MaxIterations:         rt.cfg.Agent.MaxIterations,
		ConsecutiveErrorLimit: rt.cfg.Agent.ConsecutiveErrorLimit,
		TokenBudget:           rt.cfg.Agent.TokenBudget,
		InterruptTimeout:      rt.cfg.Agent.InterruptTimeout,
		ModelCallTimeout:      rt.cfg.Model.Timeout,
	}

	return queue.HandlerFunc(func(ctx context.Context, job *queue.Job, task *queue.Task, publisher *bus.Publisher, report queue.ProgressFunc) (string, error) {
		started := time.Now()
		specs := agent.ToolSpecs(rt.registry.Descriptors())

		sup, err := supervisor.New(supervisor.Config{
			Router: supervisor.NewRouter(rt.routerModel, 15*time.Second, rt.logger),
			Agents: []supervisor.AgentDef{
				{
					Name:         supervisor.AgentTask,
					SystemPrompt: rt.cfg.Agent.TaskPrompt,
					Engine:       agent.NewEngine(rt.model, rt.runner, specsFor(specs, supervisor.AgentTask), publisher, agentCfg, rt.logger),
				},
				{
					Name:         supervisor.AgentResearch,
					SystemPrompt: rt.cfg.Agent.ResearchPrompt,
					Engine:       agent.NewEngine(rt.model, rt.runner, specsFor(specs, supervisor.AgentResearch), publisher, agentCfg, rt.logger),
				},
			},
			MaxHandoffs: rt.cfg.Agent.MaxHandoffs,
			Interrupts:  rt.interrupts,
			Publisher:   publisher,
			Logger:      rt.logger,
		})
		if err != nil {
			return "", err
		}

		report(5, "routing")
		result, err := sup.Execute(ctx, task.Query, task.UserID, task.ID, task.ThreadID, task.ModeHint)

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		rt.metrics.TasksTotal.WithLabelValues(outcome).Inc()
		rt.metrics.TaskDuration.WithLabelValues(task.Kind).Observe(time.Since(started).Seconds())
		if err != nil {
			return "", err
		}
		return result.FinalResponse, nil
	})
}

// specsFor removes the self-handoff tool from an agent's toolset.
func specsFor(specs []ports.ToolSpec, agentName string) []ports.ToolSpec {
	out := make([]ports.ToolSpec, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "handoff_to_"+agentName {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// workerID is stable enough to attribute claims in the task store and
// unique across restarts of the same host.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
