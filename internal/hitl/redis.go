package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	interruptKeyPrefix = "hyperagent:interrupt:"
	// Pending interrupts expire with their waiter's longest plausible
	// timeout so abandoned threads do not accumulate keys.
	interruptKeyTTL = 24 * time.Hour
)

// RedisStore persists pending interrupts in Redis so any node can
// serve the reconnection path.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func interruptKey(threadID string) string {
	return interruptKeyPrefix + threadID
}

func (s *RedisStore) Save(ctx context.Context, interrupt *Interrupt) error {
	data, err := json.Marshal(interrupt)
	if err != nil {
		return fmt.Errorf("encode interrupt: %w", err)
	}
	return s.client.Set(ctx, interruptKey(interrupt.ThreadID), data, interruptKeyTTL).Err()
}

func (s *RedisStore) Load(ctx context.Context, threadID string) (*Interrupt, error) {
	data, err := s.client.Get(ctx, interruptKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var interrupt Interrupt
	if err := json.Unmarshal(data, &interrupt); err != nil {
		return nil, fmt.Errorf("decode interrupt: %w", err)
	}
	return &interrupt, nil
}

func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	return s.client.Del(ctx, interruptKey(threadID)).Err()
}
