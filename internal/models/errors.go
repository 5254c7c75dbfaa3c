// Error taxonomy for the core operations. The four types mirror how errors
// surface at the boundary: hard failures, illegal state transitions,
// recoverable validation problems and non-fatal external hiccups.
package models

import "fmt"

// NotFoundError indicates a lookup by key (site uid, pc uid, script id, job
// id) found nothing. Surfaced as a hard failure to the caller.
type NotFoundError struct {
	Resource string // "site", "pc", "script", "job", ...
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NotFound builds a NotFoundError for the given resource and key.
func NotFound(resource string, key any) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: fmt.Sprint(key)}
}

// DomainStateError indicates an operation was attempted in a state that does
// not allow it, such as restarting a job that has not failed. These are
// admin-facing errors, never silently swallowed.
type DomainStateError struct {
	Op      string // Operation attempted
	Current string // State the entity was in
}

func (e *DomainStateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.Current)
}

// ValidationError indicates caller-supplied input failed a domain rule:
// a missing mandatory script parameter, an overlapping wake plan date range,
// a malformed security event line. The enclosing transaction is rolled back
// and the reason returned; nothing is partially committed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientExternalError wraps a failure from an auxiliary collaborator
// (mail transport, booking system, credential validator). The primary domain
// effect of the triggering operation must succeed or fail independently of
// these; callers log them and move on.
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }
