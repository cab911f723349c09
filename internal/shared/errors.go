package shared

import "errors"

var (
	// ErrValidation indicates a missing or malformed input field.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a status change out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConsistency indicates a balance or amount mismatch.
	ErrConsistency = errors.New("consistency violation")
	// ErrStorage indicates an underlying store failure.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserSafeMessage returns an error string safe to show to API clients.
// Storage errors are masked to avoid leaking driver details.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrStorage) {
		return "internal error"
	}
	return err.Error()
}
