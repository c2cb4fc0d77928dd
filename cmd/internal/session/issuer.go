package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PermissionSource is the collaborator consulted at issuance time for the
// permission snapshot embedded in access credentials. The snapshot stays
// frozen until the next rotation; that staleness window is accepted.
type PermissionSource interface {
	Permissions(ctx context.Context, userID string) ([]string, error)
}

// StaticPermissions is a fixed PermissionSource for dev mode and tests.
type StaticPermissions map[string][]string

// Permissions returns the configured snapshot for userID.
func (p StaticPermissions) Permissions(_ context.Context, userID string) ([]string, error) {
	return p[userID], nil
}

// AccessClaims is the verified content of an access credential.
type AccessClaims struct {
	UserID      string
	TokenID     string // jti, correlates the credential with its session
	Permissions []string
	ExpiresAt   time.Time
	IssuedAt    time.Time
	Issuer      string
}

type accessJWTClaims struct {
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// IssuedCredentials is the result of minting a credential pair. Session is a
// draft: the issuer performs no persistence, which keeps it trivially
// testable. RefreshSecret is handed to the caller exactly once and cannot be
// recovered later.
type IssuedCredentials struct {
	Session          Session
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
}

// Issuer mints access/refresh credential pairs.
type Issuer struct {
	cfg    Config
	secret []byte
	perms  PermissionSource
}

// NewIssuer constructs an Issuer. perms may not be nil.
func NewIssuer(cfg Config, perms PermissionSource) (*Issuer, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, ErrConfig
	}
	if perms == nil {
		return nil, fmt.Errorf("%w: nil permission source", ErrConfig)
	}
	return &Issuer{cfg: cfg, secret: []byte(cfg.JWTSecret), perms: perms}, nil
}

// Issue mints a credential pair for userID/deviceTag: a signed short-lived
// access token with a fresh jti and the current permission snapshot, plus an
// opaque refresh secret whose hash lands in the returned session draft.
func (i *Issuer) Issue(ctx context.Context, now time.Time, userID, deviceTag string) (IssuedCredentials, error) {
	perms, err := i.perms.Permissions(ctx, userID)
	if err != nil {
		return IssuedCredentials{}, fmt.Errorf("permission snapshot: %w", err)
	}

	refreshPlain, refreshHash, err := newRefreshSecret(i.cfg.RefreshSecretBytes)
	if err != nil {
		return IssuedCredentials{}, err
	}

	tokenID := uuid.NewString()
	accessExp := now.Add(i.cfg.AccessTokenTTL)
	refreshExp := now.Add(i.cfg.RefreshTTL)

	claims := accessJWTClaims{
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return IssuedCredentials{}, fmt.Errorf("sign access token: %w", err)
	}

	return IssuedCredentials{
		Session: Session{
			ID:         ulid.Make().String(),
			UserID:     userID,
			TokenID:    tokenID,
			SecretHash: refreshHash,
			DeviceTag:  deviceTag,
			CreatedAt:  now,
			ExpiresAt:  refreshExp,
		},
		AccessToken:      signed,
		AccessExpiresAt:  accessExp,
		RefreshSecret:    refreshPlain,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks an access token's signature and time claims and returns its
// content. now is injected so callers control the clock.
func (i *Issuer) Verify(tokenStr string, now time.Time) (AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithLeeway(i.cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)

	var claims accessJWTClaims
	parsed, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{
		UserID:      claims.Subject,
		TokenID:     claims.ID,
		Permissions: claims.Permissions,
		Issuer:      claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
