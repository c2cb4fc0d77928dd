package app

import (
	"context"
	"crypto/subtle"
	"os"
	"strings"

	sessionapi "keygate/cmd/internal/session/api"
)

// devVerifier builds the dev-mode login verifier. When the dev credentials
// env pair is unset it denies everything, so a DB-less deployment cannot be
// logged into by accident.
func devVerifier(log Logger) sessionapi.CredentialVerifier {
	user := strings.TrimSpace(os.Getenv("KEYGATE_DEV_USER"))
	pass := os.Getenv("KEYGATE_DEV_PASSWORD")
	if user == "" || pass == "" {
		return sessionapi.DenyAllVerifier{}
	}

	log.Warn("auth.dev_credentials.enabled", "user", user)
	return staticVerifier{user: user, pass: pass}
}

type staticVerifier struct {
	user string
	pass string
}

func (v staticVerifier) Verify(_ context.Context, username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(v.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(v.pass)) == 1
	if !userOK || !passOK {
		return "", sessionapi.ErrBadCredentials
	}
	return "dev-" + v.user, nil
}
