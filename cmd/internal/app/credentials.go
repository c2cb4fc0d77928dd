package app

import (
	"context"
	"errors"
	"strings"

	sessionapi "keygate/cmd/internal/session/api"
	"keygate/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialVerifier authenticates against keygate.users with
// Argon2id password hashes.
type PostgresCredentialVerifier struct {
	pool *pgxpool.Pool
	pw   password.Config

	// dummyHash keeps verification time flat when the user does not exist.
	dummyHash string
}

// NewPostgresCredentialVerifier constructs a verifier. The password config
// comes from env so hash cost is tunable per deployment.
func NewPostgresCredentialVerifier(pool *pgxpool.Pool) (*PostgresCredentialVerifier, error) {
	if pool == nil {
		return nil, errors.New("app: nil db pool")
	}
	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	v := &PostgresCredentialVerifier{pool: pool, pw: pw}
	if h, err := pw.Hash("dummy-password-for-timing-only"); err == nil {
		v.dummyHash = h
	}
	return v, nil
}

// Verify implements sessionapi.CredentialVerifier.
func (v *PostgresCredentialVerifier) Verify(ctx context.Context, username, pass string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || pass == "" {
		return "", sessionapi.ErrBadCredentials
	}

	var userID, hash string
	err := v.pool.QueryRow(ctx, `
		SELECT id, password_hash
		FROM keygate.users
		WHERE username = $1 AND disabled_at IS NULL
	`, username).Scan(&userID, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		if v.dummyHash != "" {
			_, _ = v.pw.Verify(v.dummyHash, pass)
		}
		return "", sessionapi.ErrBadCredentials
	}
	if err != nil {
		return "", err
	}

	ok, err := v.pw.Verify(hash, pass)
	if err != nil || !ok {
		return "", sessionapi.ErrBadCredentials
	}
	return userID, nil
}
