package errors

import (
	"fmt"
	"sync"
	"time"

	"hyperagent/internal/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed - normal operation, requests allowed.
	StateClosed CircuitState = iota
	// StateOpen - failing, requests blocked for a cool-off window.
	StateOpen
	// StateHalfOpen - probing whether the provider recovered.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitOpenError is returned while the breaker blocks requests. It
// classifies as fatal at the tool level; task-level callers that want
// retry semantics wrap it with Transient.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry in %v", e.Name, e.RetryAfter.Round(time.Second))
}

// CircuitBreakerConfig configures breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures to open (default: 5)
	SuccessThreshold int           // consecutive half-open successes to close (default: 2)
	Cooloff          time.Duration // wait before probing half-open (default: 30s)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooloff:          30 * time.Second,
	}
}

// CircuitBreaker guards one external provider (LLM, search, sandbox).
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a breaker for the named provider.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Cooloff <= 0 {
		config.Cooloff = 30 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		state:  StateClosed,
	}
}

// Allow reports whether a request may proceed. Returns a
// CircuitOpenError while the breaker is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		elapsed := time.Since(cb.lastFailure)
		if elapsed >= cb.config.Cooloff {
			cb.state = StateHalfOpen
			cb.successCount = 0
			cb.logger.Info("[%s] circuit breaker half-open, probing recovery", cb.name)
			return nil
		}
		return &CircuitOpenError{Name: cb.name, RetryAfter: cb.config.Cooloff - elapsed}
	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

// Mark records a request outcome. Pass nil for success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.Info("[%s] circuit breaker closed (provider recovered)", cb.name)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.logger.Warn("[%s] circuit breaker opened after %d failures", cb.name, cb.failureCount)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successCount = 0
		cb.logger.Warn("[%s] circuit breaker reopened (probe failed)", cb.name)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
}

// CircuitBreakerSet manages one breaker per external provider.
type CircuitBreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   logging.Logger
}

// NewCircuitBreakerSet creates an empty set sharing one configuration.
func NewCircuitBreakerSet(config CircuitBreakerConfig, logger logging.Logger) *CircuitBreakerSet {
	return &CircuitBreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logging.OrNop(logger),
	}
}

// Get returns the breaker for name, creating it on first use.
func (s *CircuitBreakerSet) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if breaker, ok := s.breakers[name]; ok {
		return breaker
	}
	breaker := NewCircuitBreaker(name, s.config, s.logger)
	s.breakers[name] = breaker
	return breaker
}
