package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperagent/internal/event"
)

func collect(t *testing.T, sub Subscription, n int, timeout time.Duration) []event.Event {
	t.Helper()
	var out []event.Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case payload, ok := <-sub.Events():
			if !ok {
				return out
			}
			var e event.Event
			require.NoError(t, json.Unmarshal(payload, &e))
			out = append(out, e)
		case <-deadline:
			t.Fatalf("timed out after %d/%d events", len(out), n)
		}
	}
	return out
}

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "hyperagent:progress:abc", Channel("abc"))
}

func TestPublishAfterSubscribeDelivers(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, broker.Publish(ctx, "ch", []byte(`{"type":"complete"}`)))

	events := collect(t, sub, 1, time.Second)
	assert.Equal(t, event.TypeComplete, events[0].Type)
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	require.NoError(t, broker.Publish(ctx, "ch", []byte(`{"type":"token"}`)))

	sub, err := broker.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case payload := <-sub.Events():
		t.Fatalf("unexpected replay: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublisherOrdinalsMonotonic(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Channel("t1"))
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(broker, "t1", nil)
	defer pub.Close()

	pub.Publish(ctx, event.Stage("a", "", event.StageRunning))
	pub.Publish(ctx, event.Stage("a", "", event.StageCompleted))
	pub.Publish(ctx, event.Complete())

	events := collect(t, sub, 3, time.Second)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Ordinal)
		assert.Equal(t, "t1", e.TaskID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestPublisherTokenBatchingFlushesBeforeNonToken(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Channel("t2"))
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(broker, "t2", nil, WithTokenBatch(100, time.Minute))
	defer pub.Close()

	pub.Token(ctx, "hel")
	pub.Token(ctx, "lo ")
	pub.Token(ctx, "world")
	pub.Publish(ctx, event.Stage("write", "", event.StageCompleted))

	events := collect(t, sub, 2, time.Second)
	assert.Equal(t, event.TypeToken, events[0].Type)
	assert.Equal(t, "hello world", events[0].Content)
	assert.Equal(t, event.TypeStage, events[1].Type)
}

func TestPublisherFlushesOnBatchSize(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Channel("t3"))
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(broker, "t3", nil, WithTokenBatch(2, time.Minute))
	defer pub.Close()

	pub.Token(ctx, "a")
	pub.Token(ctx, "b")

	events := collect(t, sub, 1, time.Second)
	assert.Equal(t, "ab", events[0].Content)
}

func TestPublisherDropsAfterTerminal(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Channel("t4"))
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(broker, "t4", nil)
	defer pub.Close()

	pub.Publish(ctx, event.Complete())
	pub.Publish(ctx, event.Token("late"))
	pub.Publish(ctx, event.Error("late", ""))

	events := collect(t, sub, 1, time.Second)
	assert.Equal(t, event.TypeComplete, events[0].Type)
	assert.True(t, pub.Terminal())

	select {
	case payload := <-sub.Events():
		t.Fatalf("event after terminal: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDroppedTerminalDoesNotLatchStream(t *testing.T) {
	broker := NewMemoryBroker()

	sub, err := broker.Subscribe(context.Background(), Channel("t5"))
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(broker, "t5", nil)
	defer pub.Close()

	// The broker rejects publishes on a dead context, so this terminal
	// event never reaches the wire and must not close the stream.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	pub.Publish(cancelled, event.Error("cancelled", "cancelled"))
	assert.False(t, pub.Terminal())

	// A later publisher on a live context still gets its terminal out.
	pub.Publish(context.Background(), event.Error("cancelled", "cancelled"))
	assert.True(t, pub.Terminal())

	events := collect(t, sub, 1, time.Second)
	assert.Equal(t, event.TypeError, events[0].Type)
}

func TestBrokerCloseEndsSubscriptions(t *testing.T) {
	broker := NewMemoryBroker()
	sub, err := broker.Subscribe(context.Background(), "ch")
	require.NoError(t, err)

	require.NoError(t, broker.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
