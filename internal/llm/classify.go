package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"mnemosyne/internal/errs"
)

// ClassifyError partitions a provider error into a retry-policy kind and a
// user-facing message, mirroring the reference service's
// classify_llm_error: transient/timeout/rate_limit are retryable by the
// orchestrator, auth/invalid_request are fatal.
func ClassifyError(err error) (errs.Kind, string) {
	if err == nil {
		return errs.KindUnknown, ""
	}

	var circuitOpen *errs.CircuitOpen
	switch {
	case errors.As(err, &circuitOpen):
		return errs.KindTransient, "the provider is temporarily unavailable"
	case errors.Is(err, errs.ErrProviderAuth):
		return errs.KindAuth, "provider credential is invalid"
	case errors.Is(err, errs.ErrProviderRateLimit):
		return errs.KindRateLimit, "provider rate limit reached, please retry shortly"
	case errors.Is(err, errs.ErrProviderTimeout):
		return errs.KindTimeout, "the provider took too long to respond"
	case errors.Is(err, errs.ErrProviderTransport):
		return errs.KindTransient, "could not reach the provider"
	case errors.Is(err, errs.ErrValidation):
		return errs.KindInvalidRequest, "the request was rejected by the provider"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.KindTimeout, "the provider took too long to respond"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.KindTimeout, "the provider took too long to respond"
		}
		return errs.KindTransient, "could not reach the provider"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return errs.KindAuth, "provider credential is invalid"
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return errs.KindRateLimit, "provider rate limit reached, please retry shortly"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errs.KindTimeout, "the provider took too long to respond"
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") || strings.Contains(msg, "unprocessable"):
		return errs.KindInvalidRequest, "the request was rejected by the provider"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "eof") || strings.Contains(msg, "no such host"):
		return errs.KindTransient, "could not reach the provider"
	default:
		return errs.KindUnknown, "the provider returned an unexpected error"
	}
}
