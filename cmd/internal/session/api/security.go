package sessionapi

import (
	"context"
	"errors"
)

// ErrBadCredentials is returned by a CredentialVerifier when the presented
// username/password pair does not authenticate a user. Handlers map every
// verifier failure to the same generic 401.
var ErrBadCredentials = errors.New("sessionapi: invalid credentials")

// CredentialVerifier authenticates a username/password pair and returns the
// user ID on success. Password storage and policy live behind this boundary.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (userID string, err error)
}

// DenyAllVerifier rejects every login. It is the default when no user store
// is wired, so an unconfigured deployment fails closed.
type DenyAllVerifier struct{}

// Verify always returns ErrBadCredentials.
func (DenyAllVerifier) Verify(context.Context, string, string) (string, error) {
	return "", ErrBadCredentials
}
