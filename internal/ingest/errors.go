package ingest

import (
	"errors"
	"fmt"
	"time"
)

// SessionErrorKind classifies why a target could not be loaded.
type SessionErrorKind string

// Session error kinds.
const (
	SessionBlocked          SessionErrorKind = "BLOCKED"
	SessionTimeout          SessionErrorKind = "TIMEOUT"
	SessionNavigationFailed SessionErrorKind = "NAVIGATION_FAILED"
)

// SessionError is fatal to the current run.
type SessionError struct {
	Kind      SessionErrorKind
	Target    string
	URL       string
	Signature string
	Err       error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("session %s for %s", e.Kind, e.Target)
	if e.URL != "" {
		msg += " at " + e.URL
	}
	if e.Signature != "" {
		msg += " (" + e.Signature + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// ExtractionError describes a single malformed record; the run continues.
type ExtractionError struct {
	Plan  string
	Index int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract record %d with plan %s: %v", e.Index, e.Plan, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TransformErrorKind classifies why a raw record could not be normalized.
type TransformErrorKind string

// Transform error kinds.
const (
	TransformMissingContent    TransformErrorKind = "MISSING_CONTENT"
	TransformInvalidTimestamp  TransformErrorKind = "INVALID_TIMESTAMP"
	TransformUnsupportedSource TransformErrorKind = "UNSUPPORTED_SOURCE"
	TransformInvalidMessage    TransformErrorKind = "INVALID_MESSAGE"
)

// TransformError drops one record; the run continues.
type TransformError struct {
	Kind  TransformErrorKind
	Field string
	Err   error
}

func (e *TransformError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transform %s", e.Kind)
	}
	return fmt.Sprintf("transform %s: %v", e.Kind, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// DeliveryClass classifies a storage boundary failure.
type DeliveryClass string

// Delivery failure classes.
const (
	DeliveryRetryable   DeliveryClass = "RETRYABLE"
	DeliveryTerminal    DeliveryClass = "TERMINAL"
	DeliveryRateLimited DeliveryClass = "RATE_LIMITED"
)

// DeliveryError is returned by storage boundary clients for batch-level failures
// and recorded for per-item failures.
type DeliveryError struct {
	Class      DeliveryClass
	StatusCode int
	RetryAfter time.Duration
	Reason     string
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := "delivery " + string(e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ValidationError reports a canonical message invariant violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrNotFound is returned by stores when a lookup misses.
var ErrNotFound = errors.New("not found")

// ErrQueueClosed is returned by queues that no longer accept or hold work.
var ErrQueueClosed = errors.New("queue closed")

// SessionKindOf extracts the session error kind from err, if any.
func SessionKindOf(err error) (SessionErrorKind, bool) {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind, true
	}
	return "", false
}
