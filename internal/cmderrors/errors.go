// Package cmderrors defines the closed error taxonomy from spec.md §7.
// The aggregate only ever throws BusinessRuleViolation and
// ConcurrencyConflict; every other internal fault is caught and
// reclassified by its owning component before it can escape.
package cmderrors

import "fmt"

// BusinessRuleViolation is returned by the aggregate when a command
// fails one of its local business rules (max file size, protected path,
// suspicious content, critical file deletion, ...), or when the
// validation bridge reports Blocked.
type BusinessRuleViolation struct {
	RuleName string
	Context  map[string]any
}

func (e *BusinessRuleViolation) Error() string {
	return fmt.Sprintf("business rule violation: %s", e.RuleName)
}

func NewBusinessRuleViolation(rule string, ctx map[string]any) *BusinessRuleViolation {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &BusinessRuleViolation{RuleName: rule, Context: ctx}
}

// ValidationBlocked is a convenience constructor for the specific
// business-rule violation the dispatcher bridge produces.
func ValidationBlocked(reason string) *BusinessRuleViolation {
	return NewBusinessRuleViolation("validation-bridge-blocked", map[string]any{"reason": reason})
}

// ConcurrencyConflict is returned when a command's expected_version does
// not match the aggregate's current version.
type ConcurrencyConflict struct {
	Expected uint64
	Actual   uint64
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict: expected version %d, actual %d", e.Expected, e.Actual)
}

// RaceCondition marks a transient, retryable failure raised by the VFS
// race-condition guard when a captured file-state transition does not
// match what the operation should have produced.
type RaceCondition struct {
	Path   string
	Detail string
}

func (e *RaceCondition) Error() string {
	return fmt.Sprintf("race condition on %s: %s", e.Path, e.Detail)
}

func (e *RaceCondition) Retryable() bool { return true }

// AuthFailed marks session authentication failures (bad HMAC, unknown
// session, expired session).
type AuthFailed struct {
	Reason string
}

func (e *AuthFailed) Error() string { return fmt.Sprintf("auth failed: %s", e.Reason) }

// PermissionDenied marks a session lacking the capability a section/op
// requires.
type PermissionDenied struct {
	AgentID   string
	Path      string
	Operation string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: agent=%s op=%s path=%s", e.AgentID, e.Operation, e.Path)
}

// RateLimited marks a dispatcher or VFS operation that exceeded its cap.
type RateLimited struct {
	Scope string
}

func (e *RateLimited) Error() string { return fmt.Sprintf("rate limited: %s", e.Scope) }

// Retryable reports whether an error is a known transient condition a
// caller may retry (RaceCondition, RateLimited). ConcurrencyConflict is
// intentionally excluded: the caller must re-read state and resubmit
// with a new expected_version rather than blindly retry.
func Retryable(err error) bool {
	switch err.(type) {
	case *RaceCondition, *RateLimited:
		return true
	default:
		return false
	}
}
