package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hyperagent/internal/config"
	"hyperagent/internal/logging"
	"hyperagent/internal/server"
)

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "run an embedded job worker in the same process")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, withWorker bool) error {
	logger := logging.NewComponentLogger("serve")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	// With in-process stores the queue is invisible to other
	// processes, so an embedded worker is the only way jobs run.
	if cfg.Redis.Addr == "" && !withWorker {
		logger.Warn("no redis and no embedded worker: submitted tasks will never execute")
	}

	if withWorker {
		worker := newWorker(rt)
		if err := worker.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			worker.Stop(stopCtx)
		}()
	}

	srv := server.New(server.Deps{
		Config:     cfg.Server,
		Broker:     rt.broker,
		Tasks:      rt.tasks,
		Jobs:       rt.jobs,
		Interrupts: rt.interrupts,
		Cancels:    rt.cancels,
		Metrics:    rt.metrics,
		Logger:     logger,
	})
	return srv.Run(ctx)
}
