package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a refresh secret does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is past its absolute expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session has been revoked for a
	// reason other than rotation.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrReuseDetected is returned when a rotated (superseded) refresh secret is
	// presented again. The engine revokes the forward chain and all other live
	// sessions for the user before returning this.
	ErrReuseDetected = errors.New("refresh secret reuse detected")

	// ErrRotationConflict is returned by Store.Supersede when the old session is
	// no longer live, meaning a concurrent rotation won the race.
	ErrRotationConflict = errors.New("rotation conflict")

	// ErrRefreshWaitCanceled is returned to a coalesced waiter whose own context
	// ended before the shared rotation completed. The rotation itself keeps
	// running for the remaining waiters, so this is transient, not a denial.
	ErrRefreshWaitCanceled = errors.New("refresh wait canceled")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// IsDenial reports whether err is one of the four denial outcomes that must
// collapse to a single generic response at the external boundary.
func IsDenial(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrReuseDetected)
}
