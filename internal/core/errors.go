package core

import (
	"errors"
	"fmt"
)

// ErrKind classifies a failure so the orchestrator can decide retryability
// without string matching.
type ErrKind string

const (
	KindInvalidCredentials ErrKind = "invalid_credentials"
	KindRateLimited        ErrKind = "rate_limited"
	KindQuotaExhausted     ErrKind = "quota_exhausted"
	KindUnreachable        ErrKind = "unreachable"
	KindOwnerNotFound      ErrKind = "owner_not_found"
	KindEvaluation         ErrKind = "evaluation_failed"
)

// Error carries a machine-checkable kind alongside the wrapped cause
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that produced it
func NewError(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err, or KindEvaluation for untyped errors
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEvaluation
}

// Retryable reports whether the failure is worth another attempt. Credential,
// quota and unknown-owner failures never clear up on their own.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidCredentials, KindQuotaExhausted, KindOwnerNotFound:
		return false
	default:
		return true
	}
}

// UserMessage renders the terminal failure text surfaced to the owner
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindQuotaExhausted:
		return "quota exhausted"
	case KindOwnerNotFound:
		return "account not found"
	case KindRateLimited:
		return "rate limit exceeded, retry later"
	case KindUnreachable:
		return "service unreachable"
	default:
		return "classification failed"
	}
}
