package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"hyperagent/internal/async"
	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
	"hyperagent/internal/logging"
	"hyperagent/internal/sandbox"
)

// ProgressFunc lets a handler report progress; the worker persists it
// and mirrors it onto the event bus.
type ProgressFunc func(percentage int, message string)

// Handler runs one claimed job. The returned string is the task's
// final report.
type Handler interface {
	Handle(ctx context.Context, job *Job, task *Task, publisher *bus.Publisher, report ProgressFunc) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job, task *Task, publisher *bus.Publisher, report ProgressFunc) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, job *Job, task *Task, publisher *bus.Publisher, report ProgressFunc) (string, error) {
	return f(ctx, job, task, publisher, report)
}

// WorkerConfig bounds the pool and the retry policy.
type WorkerConfig struct {
	// MaxJobs is the number of jobs run concurrently.
	MaxJobs int
	// PollDelay is the queue polling period.
	PollDelay time.Duration
	// MaxRetries caps transient re-enqueues per job.
	MaxRetries int
	// Retry shapes the re-enqueue backoff delays.
	Retry agenterrors.RetryConfig
	// DrainGrace is how long Stop waits for running jobs.
	DrainGrace time.Duration
}

// DefaultWorkerConfig matches the production worker pool.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxJobs:    4,
		PollDelay:  time.Second,
		MaxRetries: 3,
		Retry: agenterrors.RetryConfig{
			BaseDelay:    5 * time.Second,
			MaxDelay:     5 * time.Minute,
			JitterFactor: 0.2,
		},
		DrainGrace: 30 * time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.MaxJobs <= 0 {
		c.MaxJobs = d.MaxJobs
	}
	if c.PollDelay <= 0 {
		c.PollDelay = d.PollDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry = d.Retry
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = d.DrainGrace
	}
	return c
}

// Worker polls the queue and runs jobs on a bounded pool. Every job
// gets its own publisher pinned to the task's channel and its own
// cancellable context registered for external aborts.
type Worker struct {
	id        string
	queue     JobQueue
	tasks     TaskStore
	broker    bus.Broker
	handler   Handler
	sandboxes *sandbox.ManagerSet
	cancels   *CancelRegistry
	config    WorkerConfig
	logger    logging.Logger

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	clock    func() time.Time
}

// NewWorker wires a worker. sandboxes may be nil when tools need no
// sandbox sessions.
func NewWorker(id string, queue JobQueue, tasks TaskStore, broker bus.Broker, handler Handler, sandboxes *sandbox.ManagerSet, cancels *CancelRegistry, config WorkerConfig, logger logging.Logger) *Worker {
	config = config.withDefaults()
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		tasks:     tasks,
		broker:    broker,
		handler:   handler,
		sandboxes: sandboxes,
		cancels:   cancels,
		config:    config,
		logger:    logging.OrNop(logger),
		sem:       semaphore.NewWeighted(int64(config.MaxJobs)),
		stop:      make(chan struct{}),
		clock:     time.Now,
	}
}

// Cancels exposes the registry so the HTTP layer can abort jobs.
func (w *Worker) Cancels() *CancelRegistry { return w.cancels }

// Start verifies broker connectivity, starts the sandbox reapers and
// begins polling. The poll loop runs until Stop or ctx cancellation.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.broker.Ping(ctx); err != nil {
		return err
	}
	if w.sandboxes != nil {
		w.sandboxes.StartAll()
	}
	async.Go(w.logger, "worker-poll:"+w.id, func() { w.pollLoop(ctx) })
	w.logger.Info("worker %s started (max_jobs=%d, poll=%s)", w.id, w.config.MaxJobs, w.config.PollDelay)
	return nil
}

// Stop halts intake and drains running jobs for up to DrainGrace.
func (w *Worker) Stop(ctx context.Context) {
	w.stopOnce.Do(func() { close(w.stop) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("worker %s drained", w.id)
	case <-time.After(w.config.DrainGrace):
		w.logger.Warn("worker %s drain grace expired with jobs still running", w.id)
	case <-ctx.Done():
	}

	if w.sandboxes != nil {
		w.sandboxes.StopAll(ctx)
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if _, err := w.queue.PromoteDelayed(ctx, w.clock()); err != nil {
		w.logger.Warn("promote delayed jobs: %v", err)
	}

	for {
		if !w.sem.TryAcquire(1) {
			return
		}
		job, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Warn("dequeue: %v", err)
		}
		if !ok {
			w.sem.Release(1)
			return
		}
		w.wg.Add(1)
		async.Go(w.logger, "worker-job:"+job.ID, func() { w.runJob(ctx, job) })
	}
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	defer w.wg.Done()
	defer w.sem.Release(1)

	task, err := w.tasks.Get(ctx, job.TaskID)
	if err != nil {
		w.logger.Warn("job %s references unknown task: %v", job.ID, err)
		return
	}

	claimed, err := w.tasks.Claim(ctx, task.ID, StatusPending, StatusRunning, w.id, w.clock())
	if err != nil {
		w.logger.Warn("claim task %s: %v", task.ID, err)
		return
	}
	if !claimed {
		w.logger.Debug("task %s already claimed elsewhere, skipping", task.ID)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.cancels.Register(task.ID, cancel)
	defer w.cancels.Release(task.ID)

	publisher := bus.NewPublisher(w.broker, task.ID, w.logger)
	defer publisher.Close()

	publisher.Publish(jobCtx, event.TaskStarted())
	report := func(percentage int, message string) {
		if err := w.tasks.UpdateProgress(ctx, task.ID, percentage, message); err != nil {
			w.logger.Warn("persist progress for %s: %v", task.ID, err)
		}
		publisher.Publish(jobCtx, event.Progress(percentage, message))
	}

	output, runErr := w.handler.Handle(jobCtx, job, task, publisher, report)
	w.finishJob(ctx, jobCtx, job, task, publisher, output, runErr)

	if w.sandboxes != nil {
		w.sandboxes.CleanupAll(ctx, task.UserID, task.ID)
	}
}

// finishJob writes the terminal task state and guarantees a terminal
// event unless the job is being retried.
func (w *Worker) finishJob(ctx, jobCtx context.Context, job *Job, task *Task, publisher *bus.Publisher, output string, runErr error) {
	now := w.clock()
	// Terminal events and final writes must land even when the worker
	// itself is shutting down.
	ctx = context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
		if err := w.tasks.Finalize(ctx, task.ID, StatusCompleted, output, "", now); err != nil {
			w.logger.Warn("finalize task %s: %v", task.ID, err)
		}
		publisher.Publish(ctx, event.Complete())
		w.logger.Info("task %s completed", task.ID)

	case jobCtx.Err() != nil && errors.Is(jobCtx.Err(), context.Canceled):
		if err := w.tasks.Finalize(ctx, task.ID, StatusCancelled, "", "cancelled", now); err != nil {
			w.logger.Warn("finalize task %s: %v", task.ID, err)
		}
		if !publisher.Terminal() {
			publisher.Publish(ctx, event.Error("cancelled", "cancelled"))
		}
		w.logger.Info("task %s cancelled", task.ID)

	case agenterrors.Classify(runErr) == agenterrors.CategoryTransient && job.RetryCount < w.config.MaxRetries:
		retries, err := w.tasks.IncrementRetry(ctx, task.ID)
		if err != nil {
			w.logger.Warn("increment retries for %s: %v", task.ID, err)
			retries = job.RetryCount + 1
		}
		// Release the claim so the retried job can be claimed again.
		if _, err := w.tasks.Claim(ctx, task.ID, StatusRunning, StatusPending, "", now); err != nil {
			w.logger.Warn("release claim on %s: %v", task.ID, err)
		}
		delay := agenterrors.Backoff(job.RetryCount, w.config.Retry)
		requeued := *job
		requeued.RetryCount = retries
		if _, err := w.queue.Enqueue(ctx, &requeued, delay); err != nil {
			w.logger.Warn("re-enqueue %s: %v", job.ID, err)
		}
		w.logger.Info("task %s hit a transient error, retry %d in %s: %v", task.ID, retries, delay, runErr)

	default:
		message := agenterrors.FormatForModel(runErr)
		if err := w.tasks.Finalize(ctx, task.ID, StatusFailed, "", message, now); err != nil {
			w.logger.Warn("finalize task %s: %v", task.ID, err)
		}
		if !publisher.Terminal() {
			publisher.Publish(ctx, event.Error(message, string(agenterrors.Classify(runErr))))
		}
		w.logger.Warn("task %s failed: %v", task.ID, runErr)
	}
}
