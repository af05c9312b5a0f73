// Package bus bridges worker progress to streaming clients through a
// publish/subscribe broker. The broker is a late-arrival bus:
// subscribers that miss events before subscribing do not receive them,
// and reconnection recovery happens through the task row and the
// pending-interrupt store instead.
package bus

import "context"

const channelPrefix = "hyperagent:progress:"

// Channel returns the event channel name for a task.
func Channel(taskID string) string {
	return channelPrefix + taskID
}

// Subscription is a live feed of raw event payloads on one channel.
type Subscription interface {
	// Events yields payloads in per-channel FIFO order. The channel is
	// closed when the subscription ends.
	Events() <-chan []byte
	// Close terminates the subscription. Idempotent.
	Close() error
}

// Broker is the pub/sub transport between workers and SSE connections.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}
