package token

import "errors"

// Public, stable errors for callers.
var (
	ErrHMACKeyMissing  = errors.New("secret HMAC key missing")
	ErrHMACKeyTooShort = errors.New("secret HMAC key too short")
)
