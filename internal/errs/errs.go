// Package errs classifies runtime failures so the scheduler can decide
// between retrying, failing, and pausing admissions.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ValidationError rejects a malformed task submission synchronously.
// Tasks that fail validation are never enqueued.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// NewValidation builds a ValidationError for the given field.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks an execution failure that may succeed on retry:
// executor timeouts, transient I/O, rate limits.
type TransientError struct {
	Err     error
	Message string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transient: %s", e.Message)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps err as retryable.
func NewTransient(err error) *TransientError {
	return &TransientError{Err: err}
}

// Transientf builds a retryable error from a format string.
func Transientf(format string, args ...any) *TransientError {
	return &TransientError{Message: fmt.Sprintf(format, args...)}
}

// FatalError marks a non-retryable execution failure. The task transitions
// to Failed immediately.
type FatalError struct {
	Err     error
	Message string
}

func (e *FatalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fatal: %s", e.Message)
	}
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// NewFatal wraps err as non-retryable.
func NewFatal(err error) *FatalError {
	return &FatalError{Err: err}
}

// ConsolidationError scopes a failure to a single (name, category) group
// during a consolidation pass. Sibling groups are unaffected.
type ConsolidationError struct {
	Name     string
	Category string
	Err      error
}

func (e *ConsolidationError) Error() string {
	return fmt.Sprintf("consolidation %s/%s: %v", e.Category, e.Name, e.Err)
}

func (e *ConsolidationError) Unwrap() error { return e.Err }

// PersistenceError signals that the durable store is unavailable. New
// admissions pause until storage recovers, since task and ledger state
// cannot be safely mutated without durability.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistence wraps a storage failure with the failing operation.
func NewPersistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err indicates an unavailable store.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsTransient reports whether err should be retried. Explicit markers win;
// otherwise network-level failures and timeouts are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isNetworkError(err) {
		return true
	}
	return isSyscallError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isSyscallError(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ETIMEDOUT,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
