package keyclient

import "fmt"

// Sentinel errors returned by the SDK.
var (
	// ErrNoKey is returned when no key is supplied to a call that needs one.
	ErrNoKey = fmt.Errorf("keyclient: no key provided")

	// ErrInvalidKey is returned when the server rejects a key. Inspect the
	// Reason on VerifyOutcome for the specific cause.
	ErrInvalidKey = fmt.Errorf("keyclient: key is invalid")

	// ErrNotOwner is returned when extending a key bound to another uid.
	ErrNotOwner = fmt.Errorf("keyclient: key is bound to another uid")

	// ErrAlreadyExpired is returned when extending a key past its expiry.
	ErrAlreadyExpired = fmt.Errorf("keyclient: key has already expired")

	// ErrNotFound is returned when the key does not exist on the server.
	ErrNotFound = fmt.Errorf("keyclient: key not found")
)

// APIError represents an unexpected error response from the key server.
type APIError struct {
	StatusCode int    `json:"-"`
	Reason     string `json:"reason"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keyclient: API error %d [%s]", e.StatusCode, e.Reason)
}

// reasonError maps a server failure reason to a sentinel error.
func reasonError(statusCode int, reason string) error {
	switch reason {
	case "not_found":
		return ErrNotFound
	case "already_expired":
		return ErrAlreadyExpired
	case "bound_to_another_uid":
		return ErrNotOwner
	default:
		return &APIError{StatusCode: statusCode, Reason: reason}
	}
}
