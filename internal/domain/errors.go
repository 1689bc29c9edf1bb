package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound = errors.New("resource not found")

	// PIN gate errors
	ErrUnauthorized    = errors.New("PIN verification required")
	ErrIncorrectPIN    = errors.New("incorrect PIN")
	ErrInvalidPIN      = errors.New("PIN must be exactly 4 digits")
	ErrPINMismatch     = errors.New("PINs do not match")
	ErrTooManyAttempts = errors.New("too many PIN attempts")

	// Validation errors
	ErrInvalidInput         = errors.New("invalid input")
	ErrContentTooLarge      = errors.New("content exceeds size limit")
	ErrInvalidAuthor        = errors.New("unknown note author")
	ErrInvalidPage          = errors.New("unknown page")
	ErrConfirmationRequired = errors.New("confirmation required")

	// Operational errors
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrEmptyID,
	ErrInvalidID,
	ErrNotFound,
	ErrUnauthorized,
	ErrIncorrectPIN,
	ErrInvalidPIN,
	ErrPINMismatch,
	ErrInvalidInput,
	ErrContentTooLarge,
	ErrInvalidAuthor,
	ErrInvalidPage,
	ErrConfirmationRequired,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTooManyAttempts)
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
