package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueIsIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	job := &Job{ID: ResearchJobID("t1"), Kind: KindResearch, TaskID: "t1"}

	fresh, err := q.Enqueue(context.Background(), job, 0)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = q.Enqueue(context.Background(), job, 0)
	require.NoError(t, err)
	assert.False(t, fresh, "duplicate id is a no-op")

	n, _ := q.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestDequeueIsFIFO(t *testing.T) {
	q := NewMemoryQueue()
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(context.Background(), &Job{ID: id, TaskID: id}, 0)
		require.NoError(t, err)
	}
	var got []string
	for {
		job, ok, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestDequeueFreesTheIDForReenqueue(t *testing.T) {
	q := NewMemoryQueue()
	job := &Job{ID: "research:t1", TaskID: "t1"}
	_, err := q.Enqueue(context.Background(), job, 0)
	require.NoError(t, err)
	_, ok, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	fresh, err := q.Enqueue(context.Background(), job, 0)
	require.NoError(t, err)
	assert.True(t, fresh, "retry of a dequeued job must enqueue")
}

func TestDelayedJobsPromoteOnTime(t *testing.T) {
	q := NewMemoryQueue()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	q.clock = func() time.Time { return now }

	_, err := q.Enqueue(context.Background(), &Job{ID: "later", TaskID: "t1"}, 10*time.Second)
	require.NoError(t, err)

	_, ok, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "delayed job is not ready yet")

	promoted, err := q.PromoteDelayed(context.Background(), now.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	promoted, err = q.PromoteDelayed(context.Background(), now.Add(11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	job, ok, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "later", job.ID)
}

func TestJobIDs(t *testing.T) {
	assert.Equal(t, "research:t42", ResearchJobID("t42"))

	id := BatchJobID("reindex")
	assert.Regexp(t, `^batch:reindex:[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, BatchJobID("reindex"))
}

func TestClaimIsCompareAndSet(t *testing.T) {
	store := NewMemoryTaskStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, &Task{ID: "t1", Status: StatusPending}))

	claimed, err := store.Claim(ctx, "t1", StatusPending, StatusRunning, "w1", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.Claim(ctx, "t1", StatusPending, StatusRunning, "w2", now)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	task, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, "w1", task.WorkerID)
	require.NotNil(t, task.StartedAt)
}

func TestProgressIsMonotone(t *testing.T) {
	store := NewMemoryTaskStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Task{ID: "t1", Status: StatusRunning}))

	require.NoError(t, store.UpdateProgress(ctx, "t1", 40, "searching"))
	require.NoError(t, store.UpdateProgress(ctx, "t1", 20, "regression"))

	task, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 40, task.Progress)
	assert.Equal(t, "regression", task.ProgressMessage)
}

func TestFinalizeCompletedForcesFullProgress(t *testing.T) {
	store := NewMemoryTaskStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Create(ctx, &Task{ID: "t1", Status: StatusRunning, Progress: 60}))

	require.NoError(t, store.Finalize(ctx, "t1", StatusCompleted, "report", "", now))
	task, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, "report", task.Result)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.Status.Terminal())
}

func TestGetUnknownTask(t *testing.T) {
	store := NewMemoryTaskStore()
	_, err := store.Get(context.Background(), "ghost")
	var nf *ErrTaskNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestCancelRegistry(t *testing.T) {
	r := NewCancelRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Register("t1", cancel)
	assert.Equal(t, 1, r.Len())

	assert.False(t, r.Cancel("ghost"))
	assert.True(t, r.Cancel("t1"))
	assert.Error(t, ctx.Err(), "registered context must be cancelled")
	assert.Equal(t, 0, r.Len())

	r.Register("t2", func() { t.Fatal("release must not cancel") })
	r.Release("t2")
	assert.False(t, r.Cancel("t2"))
}
