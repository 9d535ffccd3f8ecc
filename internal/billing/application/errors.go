package application

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNotCancellable  = errors.New("order can no longer be cancelled")
	ErrPendingExists   = errors.New("a pending payment of this kind already exists for the order")

	// ErrReconciliationMiss marks a pull-path verification that could not
	// reach the processor. Non-fatal: the money already moved, the user
	// still sees the confirmation page.
	ErrReconciliationMiss = errors.New("could not re-verify checkout session with processor")
)

// ConfigError means a required credential or setting is absent. Fatal to the
// request, never retried.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required setting %q", e.Key)
}

// ValidationError rejects malformed input at the boundary with no side
// effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError wraps a failed call to the payment processor or a
// notification channel. Provider error text is truncated before it reaches
// logs or responses.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Op, Truncate(e.Err.Error(), 200))
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Truncate caps provider-supplied text at n runes for logs and audit rows.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
