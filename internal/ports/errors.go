package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying venue/infrastructure errors with these standard
// errors; callers classify them with errors.Is.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Validation: the requested order set would sit on the wrong side of the
	// market. Never sent to the venue.
	ErrValidation = errors.New("order parameters failed validation")

	// Transient venue failures; retried with backoff.
	ErrVenueTransient       = errors.New("transient venue failure")
	ErrExchangeUnavailable  = errors.New("venue API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")

	// Rejections; informational, never retried.
	ErrVenueRejected        = errors.New("venue rejected the request")
	ErrOrderNotFound        = errors.New("order not found on the venue")
	ErrPositionNotFound     = errors.New("position not found on the venue")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrOrderAmendFailed     = errors.New("failed to amend order")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")

	// Reconciliation
	ErrReconciliationMismatch = errors.New("tracked state diverges from venue state")
	ErrIrreversibleStep       = errors.New("irreversible step completed before failure")
	ErrRetryBudgetExhausted   = errors.New("retry budget exhausted")

	// Persistence
	ErrDuplicateEntry = errors.New("record already exists")
	ErrQueryFailed    = errors.New("store query failed")
)

// IsTransient reports whether the error belongs to the retryable class.
func IsTransient(err error) bool {
	return errors.Is(err, ErrVenueTransient) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrExchangeUnavailable)
}

// IsRejection reports whether the venue definitively refused the request;
// retrying cannot help.
func IsRejection(err error) bool {
	return errors.Is(err, ErrVenueRejected) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrOrderAmendFailed) ||
		errors.Is(err, ErrOrderCancelFailed) ||
		errors.Is(err, ErrInsufficientFunds)
}
