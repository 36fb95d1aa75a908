package providers

import (
	"context"
	"errors"
)

// Invoker is the single integration point with a remote model provider.
// The router does not know provider-specific request or response shapes
// beyond this signature.
type Invoker interface {
	// Name returns the provider name (e.g., "openai", "anthropic", "local")
	Name() string

	// Invoke sends a prompt to the provider and returns the generated text
	// and the number of tokens consumed
	Invoke(ctx context.Context, model string, prompt string) (*Result, error)
}

// Result represents the outcome of a single provider invocation
type Result struct {
	// Content is the generated text
	Content string

	// TokensUsed is the total token count billed for the invocation
	TokensUsed int
}

// InvokerFunc adapts a plain function to the Invoker interface
type InvokerFunc func(ctx context.Context, model string, prompt string) (*Result, error)

// Invoke calls the wrapped function
func (f InvokerFunc) Invoke(ctx context.Context, model string, prompt string) (*Result, error) {
	return f(ctx, model, prompt)
}

// Name returns a generic name for function-backed invokers
func (f InvokerFunc) Name() string {
	return "func"
}

// ErrorKind classifies a provider failure for routing decisions
type ErrorKind int

const (
	// KindTransient covers timeouts, 5xx responses and network resets.
	// Transient failures are retried and count toward the circuit breaker.
	KindTransient ErrorKind = iota

	// KindCapacity covers quota and rate limit exhaustion. Capacity
	// failures are a planned signal, not a reliability signal: they are
	// never retried and never counted by the circuit breaker.
	KindCapacity

	// KindPermanent covers malformed requests, missing credentials and
	// other failures that will not succeed without operator intervention.
	KindPermanent
)

// String returns the kind name
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCapacity:
		return "capacity"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ProviderError represents a classified error from a provider invocation
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Kind determines retry and breaker behavior
	Kind ErrorKind

	// Message is a human-readable description
	Message string

	// StatusCode is the HTTP status code when applicable
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a retryable provider error
func NewTransientError(provider, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTransient, Message: message, Cause: cause}
}

// NewCapacityError creates a quota-exhaustion provider error
func NewCapacityError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindCapacity, Message: message}
}

// NewPermanentError creates a non-recoverable provider error
func NewPermanentError(provider, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindPermanent, Message: message, Cause: cause}
}

// KindOf extracts the error kind. Unclassified errors default to transient
// so that unknown failures stay retryable.
func KindOf(err error) ErrorKind {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	return KindTransient
}

// IsRetryable reports whether an error should consume retry attempts
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsCapacity reports whether an error is a quota-exhaustion signal
func IsCapacity(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindCapacity
}

// IsPermanent reports whether an error requires manual intervention
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindPermanent
}
