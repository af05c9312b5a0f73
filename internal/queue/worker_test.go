package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/bus"
	"hyperagent/internal/event"
	agenterrors "hyperagent/internal/errors"
)

func fastConfig() WorkerConfig {
	return WorkerConfig{
		MaxJobs:    2,
		PollDelay:  5 * time.Millisecond,
		MaxRetries: 2,
		Retry:      agenterrors.RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, JitterFactor: 0.2},
		DrainGrace: time.Second,
	}
}

type workerEnv struct {
	queue  *MemoryQueue
	tasks  *MemoryTaskStore
	broker *bus.MemoryBroker
	worker *Worker
}

func startWorker(t *testing.T, handler Handler) *workerEnv {
	t.Helper()
	env := &workerEnv{
		queue:  NewMemoryQueue(),
		tasks:  NewMemoryTaskStore(),
		broker: bus.NewMemoryBroker(),
	}
	env.worker = NewWorker("w1", env.queue, env.tasks, env.broker, handler, nil, nil, fastConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, env.worker.Start(ctx))
	t.Cleanup(func() {
		env.worker.Stop(context.Background())
		cancel()
	})
	return env
}

func (e *workerEnv) submit(t *testing.T, taskID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.tasks.Create(ctx, &Task{ID: taskID, UserID: "u1", Kind: KindResearch, Query: "q", Status: StatusPending, CreatedAt: time.Now()}))
	_, err := e.queue.Enqueue(ctx, &Job{ID: ResearchJobID(taskID), Kind: KindResearch, TaskID: taskID}, 0)
	require.NoError(t, err)
}

func collectTypes(t *testing.T, sub bus.Subscription, want int) []event.Type {
	t.Helper()
	var types []event.Type
	deadline := time.After(2 * time.Second)
	for len(types) < want {
		select {
		case payload := <-sub.Events():
			var ev event.Event
			require.NoError(t, json.Unmarshal(payload, &ev))
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("saw only %v", types)
		}
	}
	return types
}

func TestWorkerRunsJobToCompletion(t *testing.T) {
	env := startWorker(t, HandlerFunc(func(_ context.Context, _ *Job, task *Task, _ *bus.Publisher, report ProgressFunc) (string, error) {
		report(50, "halfway")
		return "final report", nil
	}))

	sub, err := env.broker.Subscribe(context.Background(), bus.Channel("t1"))
	require.NoError(t, err)
	defer sub.Close()

	env.submit(t, "t1")

	require.Eventually(t, func() bool {
		task, err := env.tasks.Get(context.Background(), "t1")
		return err == nil && task.Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	task, err := env.tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "final report", task.Result)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, "w1", task.WorkerID)

	types := collectTypes(t, sub, 3)
	assert.Equal(t, []event.Type{event.TypeTaskStarted, event.TypeProgress, event.TypeComplete}, types)
}

func TestWorkerRetriesTransientErrors(t *testing.T) {
	attempts := 0
	env := startWorker(t, HandlerFunc(func(_ context.Context, _ *Job, _ *Task, _ *bus.Publisher, _ ProgressFunc) (string, error) {
		attempts++
		if attempts < 3 {
			return "", agenterrors.Transient(nil, "upstream 503")
		}
		return "after retries", nil
	}))

	env.submit(t, "t1")

	require.Eventually(t, func() bool {
		task, err := env.tasks.Get(context.Background(), "t1")
		return err == nil && task.Status == StatusCompleted
	}, 3*time.Second, 5*time.Millisecond)

	task, err := env.tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "after retries", task.Result)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, 3, attempts)
}

func TestWorkerFailsAfterRetryBudget(t *testing.T) {
	env := startWorker(t, HandlerFunc(func(_ context.Context, _ *Job, _ *Task, _ *bus.Publisher, _ ProgressFunc) (string, error) {
		return "", agenterrors.Transient(nil, "always down")
	}))

	sub, err := env.broker.Subscribe(context.Background(), bus.Channel("t1"))
	require.NoError(t, err)
	defer sub.Close()

	env.submit(t, "t1")

	require.Eventually(t, func() bool {
		task, err := env.tasks.Get(context.Background(), "t1")
		return err == nil && task.Status == StatusFailed
	}, 3*time.Second, 5*time.Millisecond)

	task, err := env.tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, fastConfig().MaxRetries, task.RetryCount)
	assert.Contains(t, task.Error, "always down")

	// The stream ends with a terminal error event.
	var last event.Event
	deadline := time.After(2 * time.Second)
	for !last.Type.Terminal() {
		select {
		case payload := <-sub.Events():
			require.NoError(t, json.Unmarshal(payload, &last))
		case <-deadline:
			t.Fatal("no terminal event")
		}
	}
	assert.Equal(t, event.TypeError, last.Type)
}

func TestWorkerFatalErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	env := startWorker(t, HandlerFunc(func(_ context.Context, _ *Job, _ *Task, _ *bus.Publisher, _ ProgressFunc) (string, error) {
		attempts++
		return "", agenterrors.Fatal(nil, "broken invariant")
	}))

	env.submit(t, "t1")

	require.Eventually(t, func() bool {
		task, err := env.tasks.Get(context.Background(), "t1")
		return err == nil && task.Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, attempts)
	task, _ := env.tasks.Get(context.Background(), "t1")
	assert.Equal(t, 0, task.RetryCount)
}

func TestCancelAbortsRunningJob(t *testing.T) {
	started := make(chan struct{})
	env := startWorker(t, HandlerFunc(func(ctx context.Context, _ *Job, _ *Task, _ *bus.Publisher, _ ProgressFunc) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}))

	env.submit(t, "t1")

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	require.Eventually(t, func() bool {
		return env.worker.Cancels().Cancel("t1")
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		task, err := env.tasks.Get(context.Background(), "t1")
		return err == nil && task.Status == StatusCancelled
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerSkipsAlreadyClaimedTasks(t *testing.T) {
	handled := make(chan struct{}, 1)
	env := startWorker(t, HandlerFunc(func(_ context.Context, _ *Job, _ *Task, _ *bus.Publisher, _ ProgressFunc) (string, error) {
		handled <- struct{}{}
		return "", nil
	}))

	ctx := context.Background()
	require.NoError(t, env.tasks.Create(ctx, &Task{ID: "t1", Status: StatusRunning}))
	_, err := env.queue.Enqueue(ctx, &Job{ID: ResearchJobID("t1"), TaskID: "t1"}, 0)
	require.NoError(t, err)

	select {
	case <-handled:
		t.Fatal("handler ran for a task that was not pending")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWorkerPoolBound(t *testing.T) {
	release := make(chan struct{})
	running := make(chan string, 8)
	env := startWorker(t, HandlerFunc(func(_ context.Context, _ *Job, task *Task, _ *bus.Publisher, _ ProgressFunc) (string, error) {
		running <- task.ID
		<-release
		return "done", nil
	}))

	for _, id := range []string{"t1", "t2", "t3"} {
		env.submit(t, id)
	}

	// MaxJobs is 2: two jobs start, the third waits for a slot.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-running:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("pool never filled")
		}
	}
	select {
	case id := <-running:
		t.Fatalf("third job %s ran beyond the pool bound", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.Eventually(t, func() bool {
		for _, id := range []string{"t1", "t2", "t3"} {
			task, err := env.tasks.Get(context.Background(), id)
			if err != nil || task.Status != StatusCompleted {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)
	assert.Len(t, seen, 2)
}
