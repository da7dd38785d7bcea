package llm

import (
	"errors"
	"testing"
	"time"

	"mnemosyne/internal/errs"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker("ollama", 3, 30*time.Second)
	for i := 0; i < 2; i++ {
		if err := b.PreRequest(); err != nil {
			t.Fatalf("pre-request %d: unexpected error %v", i, err)
		}
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after 2 failures, got %s", b.State())
	}
	if err := b.PreRequest(); err != nil {
		t.Fatalf("pre-request 3rd: unexpected error %v", err)
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after 3rd failure, got %s", b.State())
	}

	var circuitOpen *errs.CircuitOpen
	err := b.PreRequest()
	if !errors.As(err, &circuitOpen) {
		t.Fatalf("expected CircuitOpen, got %v", err)
	}
	if circuitOpen.Provider != "ollama" {
		t.Fatalf("expected provider ollama, got %q", circuitOpen.Provider)
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := NewCircuitBreaker("ollama", 1, 10*time.Millisecond)
	if err := b.PreRequest(); err != nil {
		t.Fatalf("pre-request: %v", err)
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after recovery timeout, got %s", b.State())
	}
	if err := b.PreRequest(); err != nil {
		t.Fatalf("half-open probe should be allowed through, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("ollama", 1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected probe failure to reopen circuit, got %s", b.State())
	}
}

func TestCircuitBreaker_SuccessResetsToClosedAndZeroesCount(t *testing.T) {
	b := NewCircuitBreaker("ollama", 3, 30*time.Second)
	b.RecordFailure()
	b.RecordFailure()
	if b.FailureCount() != 2 {
		t.Fatalf("expected failure count 2, got %d", b.FailureCount())
	}
	b.RecordSuccess()
	if b.State() != StateClosed || b.FailureCount() != 0 {
		t.Fatalf("expected CLOSED/0 after success, got %s/%d", b.State(), b.FailureCount())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker("ollama", 1, time.Hour)
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after manual reset, got %s", b.State())
	}
}

func TestClassifyError_RateLimitIsRetryable(t *testing.T) {
	kind, msg := ClassifyError(errs.ErrProviderRateLimit)
	if !kind.Retryable() {
		t.Fatalf("expected rate limit to be retryable")
	}
	if msg == "" {
		t.Fatalf("expected a user message")
	}
}

func TestClassifyError_AuthIsFatal(t *testing.T) {
	kind, _ := ClassifyError(errs.ErrProviderAuth)
	if kind.Retryable() {
		t.Fatalf("expected auth errors to be fatal (non-retryable)")
	}
}

func TestClassifyError_CircuitOpenIsTransient(t *testing.T) {
	kind, _ := ClassifyError(&errs.CircuitOpen{Provider: "openai", RetryAfter: time.Second})
	if !kind.Retryable() {
		t.Fatalf("expected circuit-open to be retryable by the orchestrator")
	}
}
