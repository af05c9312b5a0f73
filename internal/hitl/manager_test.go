package hitl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/event"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore(), nil)
}

func pendingInterrupt(thread, id string) *Interrupt {
	return &Interrupt{
		ID:       id,
		ThreadID: thread,
		Kind:     event.InterruptApproval,
		Tool:     "execute_code",
		Message:  "Tool execute_code requires approval",
	}
}

func TestCreateAndRehydrate(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))

	got, err := m.GetPendingInterrupt(ctx, "th1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "i1", got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	none, err := m.GetPendingInterrupt(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSecondInterruptPerThreadRejected(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))
	assert.Error(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i2")))
}

func TestWaitAndSubmitRoundTrip(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))

	var wg sync.WaitGroup
	wg.Add(1)
	var response Response
	var waitErr error
	go func() {
		defer wg.Done()
		response, waitErr = m.WaitForResponse(ctx, "th1", "i1", 5*time.Second)
	}()

	require.Eventually(t, func() bool {
		return m.SubmitResponse(ctx, "th1", "i1", Response{Action: ActionApprove})
	}, time.Second, 5*time.Millisecond)

	wg.Wait()
	require.NoError(t, waitErr)
	assert.Equal(t, ActionApprove, response.Action)

	pending, err := m.GetPendingInterrupt(ctx, "th1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestSubmitWithoutWaiterReturnsFalse(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.SubmitResponse(context.Background(), "th1", "i1", Response{Action: ActionApprove}))
}

func TestSubmitDeliversAtMostOnce(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.WaitForResponse(ctx, "th1", "i1", 5*time.Second)
	}()

	require.Eventually(t, func() bool {
		return m.SubmitResponse(ctx, "th1", "i1", Response{Action: ActionDeny})
	}, time.Second, 5*time.Millisecond)
	<-done

	assert.False(t, m.SubmitResponse(ctx, "th1", "i1", Response{Action: ActionApprove}))
}

func TestInvalidActionRejected(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.SubmitResponse(context.Background(), "th1", "i1", Response{Action: "explode"}))
}

func TestWaitTimeout(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))

	_, err := m.WaitForResponse(ctx, "th1", "i1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// The stored interrupt survives the timeout for the UI to show.
	pending, err := m.GetPendingInterrupt(ctx, "th1")
	require.NoError(t, err)
	assert.NotNil(t, pending)
}

func TestWaitHonoursContextCancellation(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := m.WaitForResponse(ctx, "th1", "i1", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelInterruptUnblocksWaiter(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))

	var response Response
	done := make(chan struct{})
	go func() {
		defer close(done)
		response, _ = m.WaitForResponse(ctx, "th1", "i1", 5*time.Second)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.waiters[waiterKey{threadID: "th1", interruptID: "i1"}]
		return ok
	}, time.Second, 5*time.Millisecond)
	require.True(t, m.CancelInterrupt(ctx, "th1", "i1"))
	<-done

	assert.Equal(t, ActionCancel, response.Action)

	pending, err := m.GetPendingInterrupt(ctx, "th1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestCancelUnknownInterrupt(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	assert.False(t, m.CancelInterrupt(ctx, "th1", "i1"))

	require.NoError(t, m.CreateInterrupt(ctx, pendingInterrupt("th1", "i1")))
	assert.False(t, m.CancelInterrupt(ctx, "th1", "wrong-id"))
}

func TestActionValidity(t *testing.T) {
	for _, a := range []Action{ActionApprove, ActionDeny, ActionSkip, ActionSelect, ActionInput, ActionApproveAlways, ActionCancel} {
		assert.True(t, a.Valid(), string(a))
	}
	assert.False(t, Action("nope").Valid())
}
