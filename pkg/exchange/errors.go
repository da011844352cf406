package exchange

import "errors"

// ConflictError reports an operation that violates the current negotiation
// state, e.g. accepting an already-rejected offer or creating a second active
// negotiation in the same conversation.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return "exchange: " + e.Op + ": conflict: " + e.Reason
}

// ExpiredReferenceError reports a negotiation id that no longer matches the
// conversation's current active negotiation. The caller must refetch before
// retrying anything.
type ExpiredReferenceError struct {
	NegotiationID string
}

func (e *ExpiredReferenceError) Error() string {
	return "exchange: negotiation " + e.NegotiationID + " is no longer active"
}

// ValidationError reports malformed local input. It is resolved locally and
// never results in a network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "exchange: invalid " + e.Field + ": " + e.Reason
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsExpiredReference(err error) bool {
	var ee *ExpiredReferenceError
	return errors.As(err, &ee)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
