package bus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"hyperagent/internal/event"
	"hyperagent/internal/logging"
)

const (
	// defaultTokenBatchSize caps how many token fragments accumulate
	// before a forced flush.
	defaultTokenBatchSize = 16
	// defaultTokenBatchWindow caps how long a token fragment may wait.
	defaultTokenBatchWindow = 50 * time.Millisecond
)

// Publisher binds one task's event stream to a broker channel. It
// assigns monotonically increasing ordinals and wall-clock timestamps,
// batches token events to cap publish volume, and guarantees that
// batching never reorders tokens relative to non-token events.
//
// Publishing is non-blocking with respect to the worker: broker
// failures are logged and dropped, never surfaced.
type Publisher struct {
	broker  Broker
	channel string
	taskID  string
	logger  logging.Logger

	batchSize   int
	batchWindow time.Duration

	mu        sync.Mutex
	ordinal   uint64
	buffered  []string
	flushAt   time.Time
	closed    bool
	terminal  bool
	stopTimer chan struct{}
}

// PublisherOption customises a Publisher.
type PublisherOption func(*Publisher)

// WithTokenBatch overrides the token batching thresholds.
func WithTokenBatch(size int, window time.Duration) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.batchSize = size
		}
		if window > 0 {
			p.batchWindow = window
		}
	}
}

// NewPublisher creates a publisher pinned to the task's channel.
func NewPublisher(broker Broker, taskID string, logger logging.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		broker:      broker,
		channel:     Channel(taskID),
		taskID:      taskID,
		logger:      logging.OrNop(logger),
		batchSize:   defaultTokenBatchSize,
		batchWindow: defaultTokenBatchWindow,
		stopTimer:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.flushLoop()
	return p
}

// Channel returns the broker channel this publisher writes to.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish emits one event. Token events may be buffered; any other
// type flushes pending tokens first so the stream order is preserved.
func (p *Publisher) Publish(ctx context.Context, e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.terminal {
		p.logger.Debug("dropping event %s after terminal on task %s", e.Type, p.taskID)
		return
	}

	if e.Type == event.TypeToken {
		p.buffered = append(p.buffered, e.Content)
		if len(p.buffered) == 1 {
			p.flushAt = time.Now().Add(p.batchWindow)
		}
		if len(p.buffered) >= p.batchSize {
			p.flushTokensLocked(ctx)
		}
		return
	}

	p.flushTokensLocked(ctx)
	err := p.sendLocked(ctx, e)

	// A dropped terminal event must not latch the stream closed, or
	// no fallback publisher could ever deliver one.
	if e.Type.Terminal() && err == nil {
		p.terminal = true
	}
}

// Token is shorthand for publishing a token fragment.
func (p *Publisher) Token(ctx context.Context, content string) {
	p.Publish(ctx, event.Token(content))
}

// Close flushes pending tokens and stops the batching loop. Further
// publishes are dropped. Idempotent.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.flushTokensLocked(context.Background())
	p.closed = true
	close(p.stopTimer)
}

// Terminal reports whether a terminal event has been published.
func (p *Publisher) Terminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

func (p *Publisher) flushLoop() {
	ticker := time.NewTicker(p.batchWindow / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.buffered) > 0 && time.Now().After(p.flushAt) {
				p.flushTokensLocked(context.Background())
			}
			p.mu.Unlock()
		case <-p.stopTimer:
			return
		}
	}
}

// flushTokensLocked concatenates buffered fragments into one token
// event. Callers must hold p.mu.
func (p *Publisher) flushTokensLocked(ctx context.Context) {
	if len(p.buffered) == 0 {
		return
	}
	content := strings.Join(p.buffered, "")
	p.buffered = p.buffered[:0]
	p.sendLocked(ctx, event.Token(content))
}

func (p *Publisher) sendLocked(ctx context.Context, e event.Event) error {
	p.ordinal++
	e.Ordinal = p.ordinal
	e.Timestamp = time.Now().UTC()
	e.TaskID = p.taskID

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event %s for task %s: %v", e.Type, p.taskID, err)
		return err
	}
	if err := p.broker.Publish(ctx, p.channel, payload); err != nil {
		p.logger.Warn("publish %s on %s failed: %v", e.Type, p.channel, err)
		return err
	}
	return nil
}
