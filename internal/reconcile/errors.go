package reconcile

import "errors"

// Error taxonomy of the reconciliation entry points. Handlers map these to HTTP statuses.
var (
	ErrValidation     = errors.New("validation failed")
	ErrUpstream       = errors.New("payment gateway unavailable")
	ErrAuthentication = errors.New("webhook signature mismatch")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
)
