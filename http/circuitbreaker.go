package http

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of one host's circuit.
type CircuitState int

const (
	// CircuitClosed lets every request through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the recovery timeout has passed.
	CircuitOpen
	// CircuitHalfOpen lets a single trial request through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the number of consecutive failures that open a circuit.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long a circuit stays open before a trial request.
	DefaultRecoveryTimeout = 30 * time.Second
)

// ErrCircuitOpen is returned without a request while a host's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive counted failures open a host's circuit.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit rejects before it lets a
	// trial through.
	RecoveryTimeout time.Duration
	// Counts decides whether an error counts against the host. Nil uses
	// IsTransientHTTPError.
	Counts func(error) bool
	// OnStateChange, when set, is called after every transition, outside
	// the breaker's lock.
	OnStateChange func(host string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

type circuit struct {
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

type transition struct {
	host     string
	from, to CircuitState
}

// CircuitBreaker keeps one circuit per upstream host. The Data API and the
// caption endpoint fail independently, so one never blocks the other.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewCircuitBreaker creates a breaker; zero config fields take defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.Counts == nil {
		cfg.Counts = IsTransientHTTPError
	}
	return &CircuitBreaker{
		cfg:      cfg,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// Allow admits a request to host or returns ErrCircuitOpen.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	c := cb.circuit(host)
	var tr *transition
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.openedAt) < cb.cfg.RecoveryTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		tr = cb.move(host, c, CircuitHalfOpen)
		c.probing = true
	case CircuitHalfOpen:
		if c.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		c.probing = true
	}
	cb.mu.Unlock()

	cb.notify(tr)
	return nil
}

// Record reports the outcome of an admitted request. A nil error or one
// that does not count closes a half-open circuit; a counted failure moves
// the circuit toward open. Cancellation by the caller says nothing about the
// host and only frees the trial slot.
func (cb *CircuitBreaker) Record(host string, err error) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	c := cb.circuit(host)
	var tr *transition
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.probing = false
	case err == nil || !cb.cfg.Counts(err):
		c.failures = 0
		c.probing = false
		if c.state == CircuitHalfOpen {
			tr = cb.move(host, c, CircuitClosed)
		}
	default:
		c.failures++
		c.probing = false
		if c.state == CircuitHalfOpen || c.failures >= cb.cfg.FailureThreshold {
			if c.state != CircuitOpen {
				tr = cb.move(host, c, CircuitOpen)
			}
			c.openedAt = cb.now()
		}
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// State returns the state of host's circuit.
func (cb *CircuitBreaker) State(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok := cb.circuits[host]; ok {
		return c.state
	}
	return CircuitClosed
}

// Reset forgets host's circuit.
func (cb *CircuitBreaker) Reset(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, host)
}

// circuit must be called with mu held.
func (cb *CircuitBreaker) circuit(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{}
		cb.circuits[host] = c
	}
	return c
}

// move must be called with mu held.
func (cb *CircuitBreaker) move(host string, c *circuit, to CircuitState) *transition {
	tr := &transition{host: host, from: c.state, to: to}
	c.state = to
	if to == CircuitClosed {
		c.failures = 0
	}
	return tr
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr != nil && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(tr.host, tr.from, tr.to)
	}
}

// IsTransientHTTPError reports whether err should count against a host's
// circuit. Quota rejections, caller cancellation and 4xx answers say nothing
// about the host's health.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var quotaErr *QuotaError
	if errors.As(err, &quotaErr) {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return IsServerError(httpErr.StatusCode)
	}

	return true
}
