package llm

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mnemosyne/internal/errs"
)

// CircuitState is one of the three legal states a CircuitBreaker can occupy.
// The only legal transitions are CLOSED->OPEN, OPEN->HALF_OPEN, HALF_OPEN->CLOSED,
// and HALF_OPEN->OPEN.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

// CircuitBreaker is a thread-safe, lazy-transitioning circuit breaker guarding
// one provider instance. Ported from the reference service's per-provider
// breaker: state only advances OPEN->HALF_OPEN when read, never via a
// background timer.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker constructs a breaker for the named provider. Zero values
// for failureThreshold/recoveryTimeout fall back to the package defaults.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// stateLocked reads the current state, performing the lazy OPEN->HALF_OPEN
// transition when the recovery timeout has elapsed. Caller must hold mu.
func (b *CircuitBreaker) stateLocked() CircuitState {
	if b.state == StateOpen {
		if time.Since(b.lastFailureTime) >= b.recoveryTimeout {
			b.state = StateHalfOpen
			log.Info().Str("circuit", b.name).Msg("circuit_breaker_half_open")
		}
	}
	return b.state
}

// State returns the current circuit state (triggers OPEN->HALF_OPEN if due).
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// FailureCount returns the number of consecutive recorded failures.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// PreRequest fast-fails with *errs.CircuitOpen when the breaker is OPEN and
// the recovery timeout has not elapsed. CLOSED and HALF_OPEN both allow the
// request through. HALF_OPEN does not limit itself to a single probe: every
// request passes until RecordSuccess closes or RecordFailure reopens the breaker.
func (b *CircuitBreaker) PreRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stateLocked() == StateOpen {
		retryAfter := b.recoveryTimeout - time.Since(b.lastFailureTime)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &errs.CircuitOpen{Provider: b.name, RetryAfter: retryAfter}
	}
	return nil
}

// RecordSuccess resets the breaker to CLOSED and zeroes the failure counter.
// CircuitOpen fast-fails must never reach this call (spec: "CircuitOpen never
// counts") since PreRequest returns before the provider is invoked.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	if prev != StateClosed {
		log.Info().Str("circuit", b.name).Str("from", string(prev)).Msg("circuit_breaker_closed")
	}
}

// RecordFailure increments the consecutive-failure counter and may open the
// circuit: a failed HALF_OPEN probe reopens immediately regardless of
// failureThreshold, otherwise the breaker opens once the threshold is hit.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		log.Warn().Str("circuit", b.name).Msg("circuit_breaker_open_probe_failed")
	case b.failureCount >= b.failureThreshold:
		b.state = StateOpen
		log.Warn().Str("circuit", b.name).Int("failures", b.failureCount).Msg("circuit_breaker_open")
	}
}

// Status is the JSON-able snapshot returned to health endpoints.
type Status struct {
	State            CircuitState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	FailureThreshold int          `json:"failure_threshold"`
	RecoveryTimeoutS float64      `json:"recovery_timeout_s"`
}

// GetStatus reports the breaker's current status.
func (b *CircuitBreaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:            b.stateLocked(),
		FailureCount:     b.failureCount,
		FailureThreshold: b.failureThreshold,
		RecoveryTimeoutS: b.recoveryTimeout.Seconds(),
	}
}

// Reset manually forces the breaker back to CLOSED.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	log.Info().Str("circuit", b.name).Msg("circuit_breaker_manual_reset")
}
