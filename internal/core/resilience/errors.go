package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

// Common retry-related errors
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

	// ErrNonRetryable is returned when an error is explicitly non-retryable
	ErrNonRetryable = errors.New("error is not retryable")
)

// DefaultErrorChecker is a default implementation of RetryableErrorChecker
// that considers network errors, timeouts, and temporary errors as retryable.
type DefaultErrorChecker struct{}

// IsRetryable implements RetryableErrorChecker interface.
// Returns true for transient errors that should be retried.
func (c *DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Explicitly non-retryable errors
	if errors.Is(err, ErrNonRetryable) {
		return false
	}

	// Network errors - check for transient conditions
	if isTransientNetworkError(err) {
		return true
	}

	// Timeout errors - generally retryable
	if isTimeoutError(err) {
		return true
	}

	// Check for "temporary" interface (common in Go stdlib)
	type temporary interface {
		Temporary() bool
	}
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}

	// Default: assume error is retryable
	return true
}

// isTransientNetworkError determines if a network error is transient.
func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// DNS errors - temporary failures are retryable
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	// Operation errors - check for specific syscall errors
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Connection refused - service might be restarting (retryable)
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
		// Connection reset - transient network issue (retryable)
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return true
		}
		// Network unreachable - might be temporary (retryable)
		if errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return true
		}
		// Host unreachable - might be temporary (retryable)
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if an error represents a timeout.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	// Check error message for timeout indicators
	errMsg := err.Error()
	timeoutIndicators := []string{
		"timeout",
		"deadline exceeded",
		"context deadline exceeded",
		"i/o timeout",
		"timed out",
	}

	for _, indicator := range timeoutIndicators {
		if strings.Contains(strings.ToLower(errMsg), indicator) {
			return true
		}
	}

	// Check for timeout interface
	type timeout interface {
		Timeout() bool
	}
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}

	return false
}

// ContractAwareChecker makes *contracts.CoreError codes the primary
// retry signal and falls back to DefaultErrorChecker's network/timeout
// heuristics for plain errors (e.g. the raw client errors an identity
// provider's HTTP SDK returns before anything wraps them). An
// authentication failure or a validation error will not clear up on
// its own, so retrying it only delays surfacing the real problem to
// the caller.
type ContractAwareChecker struct {
	// Fallback handles errors that are not a *contracts.CoreError.
	// If nil, a *DefaultErrorChecker is used.
	Fallback RetryableErrorChecker
}

// NewContractAwareChecker returns a ContractAwareChecker backed by
// DefaultErrorChecker for non-contract errors.
func NewContractAwareChecker() *ContractAwareChecker {
	return &ContractAwareChecker{Fallback: &DefaultErrorChecker{}}
}

// IsRetryable implements RetryableErrorChecker.
func (c *ContractAwareChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch contracts.CodeOf(err) {
	case contracts.CodeAuthError, contracts.CodeValidationError,
		contracts.CodeNotFound, contracts.CodeDmlBlocked,
		contracts.CodeUntranspilable, contracts.CodeCancelled:
		return false
	case contracts.CodeThrottleError, contracts.CodeConnectionError,
		contracts.CodePoolExhausted, contracts.CodeAllPrincipals,
		contracts.CodePartialFailure:
		return true
	}

	fallback := c.Fallback
	if fallback == nil {
		fallback = &DefaultErrorChecker{}
	}
	return fallback.IsRetryable(err)
}
