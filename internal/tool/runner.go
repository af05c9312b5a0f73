package tool

import (
	"context"
	"fmt"

	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/logging"
)

// Runner executes one invocation end to end: argument validation,
// Before hooks, the tool itself under its policy timeout with
// transient retries, then After hooks.
type Runner struct {
	registry *Registry
	policy   Policy
	pipeline *Pipeline
	cache    *ResultCache
	logger   logging.Logger
}

// NewRunner wires the execution path. cache may be nil.
func NewRunner(registry *Registry, policy Policy, pipeline *Pipeline, cache *ResultCache, logger logging.Logger) *Runner {
	return &Runner{
		registry: registry,
		policy:   policy,
		pipeline: pipeline,
		cache:    cache,
		logger:   logging.OrNop(logger),
	}
}

// Run executes the invocation. A non-nil InterruptRequest means the
// caller must suspend for human input; Resume completes the call once
// a response arrives. Errors carry their category tags for the loop's
// circuit breaker.
func (r *Runner) Run(ctx context.Context, inv *Invocation) (Result, *InterruptRequest, error) {
	t, err := r.registry.Get(inv.Tool)
	if err != nil {
		return Result{}, nil, agenterrors.Input(err, fmt.Sprintf("unknown tool %s", inv.Tool))
	}
	inv.Risk = t.Risk()
	inv.Category = t.Category()

	validator, err := r.registry.Validator(inv.Tool)
	if err != nil {
		return Result{}, nil, err
	}
	if err := validator.Validate(inv.Args); err != nil {
		return Result{}, nil, err
	}

	sc, err := r.pipeline.Before(ctx, inv)
	if err != nil {
		return Result{}, nil, err
	}
	if sc != nil {
		if sc.Interrupt != nil {
			return Result{}, sc.Interrupt, nil
		}
		return r.pipeline.After(ctx, inv, *sc.Result), nil, nil
	}

	return r.execute(ctx, t, inv)
}

// Resume finishes a suspended invocation after approval. The gate is
// bypassed; guardrails and output hooks still apply via After.
func (r *Runner) Resume(ctx context.Context, inv *Invocation) (Result, error) {
	t, err := r.registry.Get(inv.Tool)
	if err != nil {
		return Result{}, agenterrors.Input(err, fmt.Sprintf("unknown tool %s", inv.Tool))
	}
	result, _, err := r.execute(ctx, t, inv)
	return result, err
}

func (r *Runner) execute(ctx context.Context, t Tool, inv *Invocation) (Result, *InterruptRequest, error) {
	ctx = WithIdentity(ctx, Identity{UserID: inv.UserID, TaskID: inv.TaskID})
	timeout := r.policy.TimeoutFor(inv.Tool)
	retry := r.policy.RetryFor(inv.Tool, inv.Risk)

	result, err := r.cache.cached(ctx, inv, func(ctx context.Context) (Result, error) {
		return agenterrors.RetryWithResult(ctx, retry, r.logger, func(ctx context.Context) (Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return t.Execute(callCtx, inv.Args)
		})
	})
	if err != nil {
		r.logger.Warn("tool %s failed (%s): %v", inv.Tool, agenterrors.Classify(err), err)
		return Result{}, nil, err
	}

	return r.pipeline.After(ctx, inv, result), nil, nil
}
