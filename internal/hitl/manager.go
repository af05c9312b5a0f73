package hitl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hyperagent/internal/logging"
)

// ErrTimeout is returned when no response arrives within the wait
// window.
var ErrTimeout = fmt.Errorf("interrupt wait timed out")

type waiterKey struct {
	threadID    string
	interruptID string
}

// Manager coordinates interrupt lifecycles. Interrupts persist in the
// Store; waiters are in-process channels, so responses must be
// submitted to the node running the suspended loop.
type Manager struct {
	store  Store
	logger logging.Logger
	clock  func() time.Time

	mu      sync.Mutex
	waiters map[waiterKey]chan Response
}

// NewManager builds a manager over the given store.
func NewManager(store Store, logger logging.Logger) *Manager {
	return &Manager{
		store:   store,
		logger:  logging.OrNop(logger),
		clock:   time.Now,
		waiters: make(map[waiterKey]chan Response),
	}
}

// CreateInterrupt stores a pending interrupt. A thread can hold at
// most one; creating a second fails.
func (m *Manager) CreateInterrupt(ctx context.Context, interrupt *Interrupt) error {
	if interrupt.ThreadID == "" || interrupt.ID == "" {
		return fmt.Errorf("interrupt requires thread and interrupt ids")
	}
	existing, err := m.store.Load(ctx, interrupt.ThreadID)
	if err != nil {
		return fmt.Errorf("check pending interrupt: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("thread %s already has pending interrupt %s", interrupt.ThreadID, existing.ID)
	}
	if interrupt.CreatedAt.IsZero() {
		interrupt.CreatedAt = m.clock()
	}
	return m.store.Save(ctx, interrupt)
}

// WaitForResponse blocks until a response is submitted, the timeout
// elapses, or ctx is cancelled. The waiter is deregistered on every
// exit path; on timeout the stored interrupt is kept so the client can
// still see what was asked.
func (m *Manager) WaitForResponse(ctx context.Context, threadID, interruptID string, timeout time.Duration) (Response, error) {
	key := waiterKey{threadID: threadID, interruptID: interruptID}
	ch := make(chan Response, 1)

	m.mu.Lock()
	if _, exists := m.waiters[key]; exists {
		m.mu.Unlock()
		return Response{}, fmt.Errorf("interrupt %s already has a waiter", interruptID)
	}
	m.waiters[key] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, key)
		m.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-ch:
		return response, nil
	case <-timer.C:
		m.logger.Warn("interrupt %s on thread %s timed out after %s", interruptID, threadID, timeout)
		return Response{}, ErrTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// SubmitResponse delivers the user's answer to the waiter. Returns
// false when no waiter is registered, which means the wait timed out
// or the loop is gone. Delivery is at-most-once; the stored interrupt
// is cleared on success.
func (m *Manager) SubmitResponse(ctx context.Context, threadID, interruptID string, response Response) bool {
	if !response.Action.Valid() {
		return false
	}

	m.mu.Lock()
	key := waiterKey{threadID: threadID, interruptID: interruptID}
	ch, ok := m.waiters[key]
	if ok {
		delete(m.waiters, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	ch <- response
	if err := m.store.Delete(ctx, threadID); err != nil {
		m.logger.Warn("clear interrupt for thread %s: %v", threadID, err)
	}
	return true
}

// GetPendingInterrupt returns the thread's pending interrupt, nil when
// none. Used by the HTTP reconnection path.
func (m *Manager) GetPendingInterrupt(ctx context.Context, threadID string) (*Interrupt, error) {
	return m.store.Load(ctx, threadID)
}

// CancelInterrupt removes a pending interrupt and unblocks any waiter
// with a cancel response. Returns false when the interrupt is unknown.
func (m *Manager) CancelInterrupt(ctx context.Context, threadID, interruptID string) bool {
	pending, err := m.store.Load(ctx, threadID)
	if err != nil {
		m.logger.Warn("load interrupt for thread %s: %v", threadID, err)
		return false
	}
	if pending == nil || pending.ID != interruptID {
		return false
	}

	if err := m.store.Delete(ctx, threadID); err != nil {
		m.logger.Warn("delete interrupt for thread %s: %v", threadID, err)
	}

	m.mu.Lock()
	key := waiterKey{threadID: threadID, interruptID: interruptID}
	ch, ok := m.waiters[key]
	if ok {
		delete(m.waiters, key)
	}
	m.mu.Unlock()

	if ok {
		ch <- Response{Action: ActionCancel}
	}
	return true
}
