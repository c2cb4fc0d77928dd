package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Service implements the high-level session operations for keygate.
//
// It issues sessions (access + refresh), validates access tokens against the
// live session behind their jti, supports per-session, per-device, and
// per-user revocation, and performs refresh rotation with reuse detection.
// The refresh entry point is coalesced: concurrent presentations of the same
// secret observe a single rotation.
type Service struct {
	cfg    Config
	log    *slog.Logger
	store  Store
	issuer *Issuer
	flight *Coalescer
}

// Issued is the result of issuing or rotating a session.
// It includes a short-lived access token and an opaque refresh secret.
type Issued struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
}

// NewService constructs a Service with the provided configuration, store, and
// issuer.
func NewService(cfg Config, log *slog.Logger, store Store, issuer *Issuer) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		store:  store,
		issuer: issuer,
		flight: NewCoalescer(),
	}
}

func toIssued(c IssuedCredentials) Issued {
	return Issued{
		SessionID:        c.Session.ID,
		AccessToken:      c.AccessToken,
		AccessExpiresAt:  c.AccessExpiresAt,
		RefreshSecret:    c.RefreshSecret,
		RefreshExpiresAt: c.RefreshExpiresAt,
	}
}

// Issue creates a new session for a freshly authenticated user (first login
// on a device) and returns the credential pair.
func (s *Service) Issue(ctx context.Context, now time.Time, userID, deviceTag string) (Issued, error) {
	creds, err := s.issuer.Issue(ctx, now, userID, deviceTag)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Insert(ctx, creds.Session); err != nil {
		return Issued{}, err
	}
	return toIssued(creds), nil
}

// Refresh exchanges a presented refresh secret for a new credential pair.
//
// The call is guarded per secret hash: callers presenting the same secret
// while a rotation is in flight subscribe to its outcome instead of starting
// a second rotation. A caller whose context ends while waiting receives
// ErrRefreshWaitCanceled; the rotation itself runs to completion for the
// remaining waiters.
func (s *Service) Refresh(ctx context.Context, now time.Time, secret string) (Issued, error) {
	secret = strings.TrimSpace(secret)
	// Basic sanity bounds to avoid pathological inputs.
	if secret == "" || len(secret) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	hash := hashRefreshSecretHex(secret)

	// The rotation must not die with the first caller: detach it from any
	// single waiter's cancellation.
	rotCtx := context.WithoutCancel(ctx)

	creds, err := s.flight.Do(ctx, hash, func() (IssuedCredentials, error) {
		return s.rotate(rotCtx, now, hash)
	})
	if err != nil {
		return Issued{}, err
	}
	return toIssued(creds), nil
}

// rotate is the per-attempt state machine:
//
//	Presented -> Accepted
//	          -> Denied(expired) | Denied(revoked) | Denied(reuse) | Denied(not-found)
//
// Any ambiguity on the reuse branch fails closed.
func (s *Service) rotate(ctx context.Context, now time.Time, hash string) (IssuedCredentials, error) {
	row, err := s.store.FindLiveByHash(ctx, now, hash)
	if errors.Is(err, ErrSessionNotFound) {
		return IssuedCredentials{}, s.denyDeadSecret(ctx, now, hash)
	}
	if err != nil {
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return IssuedCredentials{}, err
	}

	// Accepted: mint a new pair for the same user/device lineage.
	creds, err := s.issuer.Issue(ctx, now, row.UserID, row.DeviceTag)
	if err != nil {
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return IssuedCredentials{}, err
	}

	if err := s.store.Supersede(ctx, now, row.ID, creds.Session); err != nil {
		if errors.Is(err, ErrRotationConflict) {
			// Another process won the race; the presented secret is retired.
			s.log.Warn("session.rotate.conflict", "session_id", row.ID, "user_id", row.UserID)
			rotationsTotal.WithLabelValues(outcomeConflict).Inc()
			return IssuedCredentials{}, ErrSessionRevoked
		}
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return IssuedCredentials{}, err
	}

	s.log.Info("session.rotate.ok",
		"user_id", row.UserID,
		"old_session_id", row.ID,
		"new_session_id", creds.Session.ID,
	)
	rotationsTotal.WithLabelValues(outcomeAccepted).Inc()
	return creds, nil
}

// denyDeadSecret classifies a presentation that matched no live session.
func (s *Service) denyDeadSecret(ctx context.Context, now time.Time, hash string) error {
	row, err := s.store.FindAnyByHash(ctx, hash)
	if errors.Is(err, ErrSessionNotFound) {
		rotationsTotal.WithLabelValues(outcomeNotFound).Inc()
		return ErrSessionNotFound
	}
	if err != nil {
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return err
	}

	if row.Rotated() {
		// Reuse of an already-rotated secret: a replay, almost certainly
		// theft. Revoke the forward chain and every other live session for
		// the user, then deny. Partial failure still denies.
		s.log.Error("session.rotate.reuse_detected",
			"user_id", row.UserID,
			"session_id", row.ID,
			"device_tag", row.DeviceTag,
		)
		reuseDetectedTotal.Inc()
		rotationsTotal.WithLabelValues(outcomeReuse).Inc()

		if err := s.store.RevokeChain(ctx, now, row.ID, ReasonReuseDetected); err != nil {
			s.log.Error("session.rotate.reuse_revoke_chain.fail", "err", err, "session_id", row.ID)
		}
		if err := s.store.RevokeAllForUser(ctx, now, row.UserID, ReasonReuseDetected); err != nil {
			s.log.Error("session.rotate.reuse_revoke_all.fail", "err", err, "user_id", row.UserID)
		}
		return ErrReuseDetected
	}

	if row.RevokedAt != nil {
		rotationsTotal.WithLabelValues(outcomeRevoked).Inc()
		return ErrSessionRevoked
	}

	// Not revoked, not live: past absolute expiry.
	rotationsTotal.WithLabelValues(outcomeExpired).Inc()
	return ErrSessionExpired
}

// ValidateAccess verifies an access token and ensures the backing session is
// still live, so revocation takes effect before the token's natural expiry.
func (s *Service) ValidateAccess(ctx context.Context, tokenStr string, now time.Time) (AccessClaims, error) {
	claims, err := s.issuer.Verify(tokenStr, now)
	if err != nil {
		return AccessClaims{}, err
	}

	row, err := s.store.FindByTokenID(ctx, claims.TokenID)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}

// Logout revokes exactly one session. Revoking an already-dead session is a
// no-op, not an error.
func (s *Service) Logout(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, ReasonLogout)
}

// LogoutBySecret revokes the session matching a presented refresh secret,
// whatever its state. It never reports a denial: logout must not fail
// visibly.
func (s *Service) LogoutBySecret(ctx context.Context, now time.Time, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	row, err := s.store.FindAnyByHash(ctx, hashRefreshSecretHex(secret))
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.Revoke(ctx, now, row.ID, ReasonLogout)
}

// LogoutDevice revokes all live sessions for a user/device pair.
func (s *Service) LogoutDevice(ctx context.Context, now time.Time, userID, deviceTag string) error {
	if strings.TrimSpace(deviceTag) == "" {
		return nil
	}
	return s.store.RevokeDevice(ctx, now, userID, deviceTag, ReasonDeviceLogout)
}

// LogoutEverywhere revokes all live sessions for the user. reason must be
// ReasonLogoutAll (explicit user action) or ReasonPasswordChanged (credential
// change hook); anything else falls back to ReasonLogoutAll.
func (s *Service) LogoutEverywhere(ctx context.Context, now time.Time, userID string, reason RevocationReason) error {
	if reason != ReasonLogoutAll && reason != ReasonPasswordChanged {
		reason = ReasonLogoutAll
	}
	return s.store.RevokeAllForUser(ctx, now, userID, reason)
}

// Sessions enumerates the user's live sessions for multi-device visibility.
func (s *Service) Sessions(ctx context.Context, now time.Time, userID string) ([]Session, error) {
	return s.store.ListLiveByUser(ctx, now, userID)
}
