package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hyperagent/internal/async"
	"hyperagent/internal/logging"
)

// ManagerConfig tunes one session pool.
type ManagerConfig struct {
	DefaultTTL   time.Duration // idle TTL for new sessions (default: 30m)
	ReapInterval time.Duration // background reap period (default: 60s)
	MaxSessions  int           // global cap, 0 = unlimited
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultTTL:   30 * time.Minute,
		ReapInterval: 60 * time.Second,
		MaxSessions:  64,
	}
}

// Manager owns the session map for one sandbox kind. All access is
// serialised behind a single mutex; TTL and health are checked under
// the same lock that hands the session out, so at most one live
// session exists per key at any instant.
type Manager struct {
	kind    Kind
	runtime Runtime
	config  ManagerConfig
	logger  logging.Logger
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a session pool backed by the given runtime.
func NewManager(runtime Runtime, config ManagerConfig, logger logging.Logger) *Manager {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 30 * time.Minute
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = 60 * time.Second
	}
	return &Manager{
		kind:     runtime.Kind(),
		runtime:  runtime,
		config:   config,
		logger:   logging.OrNop(logger),
		clock:    time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Kind returns the sandbox family this manager pools.
func (m *Manager) Kind() Kind {
	return m.kind
}

// GetOrCreate returns the live session for (userID, taskID), creating
// one when none exists. Expired or dead sessions are destroyed and
// replaced before the call returns. ttl <= 0 uses the default.
func (m *Manager) GetOrCreate(ctx context.Context, userID, taskID string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	key := SessionKey(userID, taskID)
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[key]; ok {
		switch {
		case existing.Expired(now):
			m.logger.Info("[%s] session %s expired, recreating", m.kind, key)
			m.destroyLocked(ctx, key, existing)
		case !existing.Executor.Alive(ctx):
			m.logger.Warn("[%s] session %s failed health check, recreating", m.kind, key)
			m.destroyLocked(ctx, key, existing)
		default:
			existing.LastAccessed = now
			return existing, nil
		}
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.evictOldestLocked(ctx)
	}

	executor, err := m.runtime.Create(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("create %s sandbox for %s: %w", m.kind, key, err)
	}

	session := &Session{
		Key:          key,
		UserID:       userID,
		TaskID:       taskID,
		Executor:     executor,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
	}
	m.sessions[key] = session
	m.logger.Info("[%s] created sandbox session %s (sandbox_id=%s)", m.kind, key, executor.ID())
	return session, nil
}

// Cleanup destroys the session for (userID, taskID). Idempotent;
// returns true when a session was actually removed.
func (m *Manager) Cleanup(ctx context.Context, userID, taskID string) bool {
	key := SessionKey(userID, taskID)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok {
		return false
	}
	m.destroyLocked(ctx, key, session)
	return true
}

// ReapExpired evicts every expired session and returns the count.
func (m *Manager) ReapExpired(ctx context.Context) int {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := 0
	for key, session := range m.sessions {
		if session.Expired(now) {
			m.destroyLocked(ctx, key, session)
			reaped++
		}
	}
	if reaped > 0 {
		m.logger.Info("[%s] reaped %d expired sessions", m.kind, reaped)
	}
	return reaped
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start launches the background reaper.
func (m *Manager) Start() {
	async.Go(m.logger, fmt.Sprintf("sandbox-reaper-%s", m.kind), func() {
		ticker := time.NewTicker(m.config.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ReapExpired(context.Background())
			case <-m.stop:
				return
			}
		}
	})
}

// Stop halts the reaper and destroys every remaining session.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, session := range m.sessions {
		m.destroyLocked(ctx, key, session)
	}
}

// destroyLocked removes the session and tears its executor down.
// Destruction failures are logged, never surfaced.
func (m *Manager) destroyLocked(ctx context.Context, key string, session *Session) {
	delete(m.sessions, key)
	if err := session.Executor.Destroy(ctx); err != nil {
		m.logger.Warn("[%s] destroy sandbox %s for %s: %v", m.kind, session.Executor.ID(), key, err)
	}
}

func (m *Manager) evictOldestLocked(ctx context.Context) {
	var oldestKey string
	var oldest *Session
	for key, session := range m.sessions {
		if oldest == nil || session.LastAccessed.Before(oldest.LastAccessed) {
			oldestKey = key
			oldest = session
		}
	}
	if oldest != nil {
		m.logger.Warn("[%s] session cap reached, evicting least recently used %s", m.kind, oldestKey)
		m.destroyLocked(ctx, oldestKey, oldest)
	}
}

// ManagerSet groups one manager per sandbox kind.
type ManagerSet struct {
	managers map[Kind]*Manager
}

// NewManagerSet builds a set from the given managers.
func NewManagerSet(managers ...*Manager) *ManagerSet {
	set := &ManagerSet{managers: make(map[Kind]*Manager, len(managers))}
	for _, m := range managers {
		set.managers[m.Kind()] = m
	}
	return set
}

// Get returns the manager for kind, nil when absent.
func (s *ManagerSet) Get(kind Kind) *Manager {
	return s.managers[kind]
}

// StartAll launches every manager's reaper.
func (s *ManagerSet) StartAll() {
	for _, m := range s.managers {
		m.Start()
	}
}

// StopAll stops every manager.
func (s *ManagerSet) StopAll(ctx context.Context) {
	for _, m := range s.managers {
		m.Stop(ctx)
	}
}

// CleanupAll destroys the (userID, taskID) session of every kind.
// Called on task completion and on early disconnect.
func (s *ManagerSet) CleanupAll(ctx context.Context, userID, taskID string) {
	for _, m := range s.managers {
		m.Cleanup(ctx, userID, taskID)
	}
}
