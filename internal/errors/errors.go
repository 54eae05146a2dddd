package errors

import (
	"errors"
	"fmt"

	"github.com/pygate/pygate/internal/types"
)

// Sentinel errors for the gating pipeline
var (
	// ErrScanUnavailable indicates the exact target content could not be
	// fetched for scanning. Distinct from a block: "we didn't check" must
	// never be reported as "we checked and said no".
	ErrScanUnavailable = errors.New("scan unavailable: target content could not be fetched")

	// ErrConsentDeclined indicates the approver explicitly declined
	ErrConsentDeclined = errors.New("consent declined")

	// ErrConsentTimedOut indicates no decision arrived before the deadline
	ErrConsentTimedOut = errors.New("consent timed out")

	// ErrConsentChannelClosed indicates the approver channel was torn down
	// while the request was outstanding
	ErrConsentChannelClosed = errors.New("consent channel closed")

	// ErrConsentCancelled indicates the caller gave up on the operation
	// while its consent request was still outstanding
	ErrConsentCancelled = errors.New("consent request cancelled")

	// ErrNoApprover indicates no approver was reachable; absence of an
	// approver never defaults to approval
	ErrNoApprover = errors.New("no approver available")

	// ErrAuditWrite marks audit sink persistence failures. These are logged
	// and counted but never propagated to the gated operation.
	ErrAuditWrite = errors.New("audit write failed")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
)

// BlockedError is returned when a scan produced a blocking finding, either a
// CRITICAL finding or one the configured policy blocks. The triggering
// finding is carried along and never silently dropped.
type BlockedError struct {
	Finding types.Finding
	Reason  string
}

func (e *BlockedError) Error() string {
	if e.Finding.Line > 0 {
		return fmt.Sprintf("scan blocked: %s (%s, line %d): %s",
			e.Finding.Category, e.Finding.Severity, e.Finding.Line, e.Reason)
	}
	return fmt.Sprintf("scan blocked: %s (%s): %s",
		e.Finding.Category, e.Finding.Severity, e.Reason)
}

// NewBlocked creates a BlockedError for the triggering finding
func NewBlocked(finding types.Finding, reason string) error {
	return &BlockedError{Finding: finding, Reason: reason}
}

// IsBlocked checks whether err carries a blocking finding
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// AsBlocked extracts the BlockedError from err, if present
func AsBlocked(err error) (*BlockedError, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}

// TransientError wraps an error to mark it as temporary (retryable)
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error: %v", e.Cause)
	}
	return "transient error"
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientf creates a new transient error with formatting
func NewTransientf(format string, args ...interface{}) error {
	return &TransientError{Cause: fmt.Errorf(format, args...)}
}

// PermanentError wraps an error to mark it as permanent (not retryable)
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent error: %v", e.Cause)
	}
	return "permanent error"
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewPermanentf creates a new permanent error with formatting
func NewPermanentf(format string, args ...interface{}) error {
	return &PermanentError{Cause: fmt.Errorf(format, args...)}
}

// IsTransient checks if an error is transient using errors.As
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Rejections are terminal for the attempt; a retry re-enters the
	// pipeline from the top with new content, it is never replayed here.
	if errors.Is(err, ErrConsentDeclined) ||
		errors.Is(err, ErrConsentTimedOut) ||
		errors.Is(err, ErrConsentChannelClosed) ||
		errors.Is(err, ErrConsentCancelled) ||
		errors.Is(err, ErrNoApprover) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		IsBlocked(err) {
		return false
	}

	if errors.Is(err, ErrScanUnavailable) {
		return true
	}

	// Default to non-transient for safety (don't retry unknown errors)
	return false
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// ConsentReason maps a consent failure to its distinct reason string
func ConsentReason(err error) string {
	switch {
	case errors.Is(err, ErrConsentTimedOut):
		return "timed out"
	case errors.Is(err, ErrConsentChannelClosed):
		return "channel closed"
	case errors.Is(err, ErrConsentCancelled):
		return "request cancelled"
	case errors.Is(err, ErrNoApprover):
		return "no approver available"
	case errors.Is(err, ErrConsentDeclined):
		return "declined by approver"
	default:
		return ""
	}
}
