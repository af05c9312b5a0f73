package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"hyperagent/internal/async"
	"hyperagent/internal/logging"
)

// RedisBroker implements Broker on Redis pub/sub. One instance is
// shared by all publishers and subscribers of a process; the client
// manages its own connection pool.
type RedisBroker struct {
	client redis.UniversalClient
	logger logging.Logger
}

// NewRedisBroker wraps an existing Redis client.
func NewRedisBroker(client redis.UniversalClient, logger logging.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logging.OrNop(logger)}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan []byte
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan []byte {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

// Publish sends payload on channel. Delivery is fire-and-forget.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub subscription and forwards messages until
// the subscription is closed or ctx is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// Force the subscription onto the wire before returning so a
	// publish issued after Subscribe is guaranteed to be seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	forwardCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan []byte, subscriberBuffer),
		cancel: cancel,
	}

	async.Go(b.logger, "bus-forward:"+channel, func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case sub.events <- []byte(msg.Payload):
				case <-forwardCtx.Done():
					return
				}
			case <-forwardCtx.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	})

	return sub, nil
}

// Ping verifies broker connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
