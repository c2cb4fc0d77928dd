package session

import (
	"context"
	"time"
)

// RevocationReason tags why a session left the live state.
type RevocationReason string

const (
	// ReasonRotated marks a session superseded by a successful refresh.
	ReasonRotated RevocationReason = "rotated"
	// ReasonLogout marks a single-session logout.
	ReasonLogout RevocationReason = "logout"
	// ReasonLogoutAll marks an explicit "log out everywhere".
	ReasonLogoutAll RevocationReason = "logout-all"
	// ReasonPasswordChanged marks user-wide revocation after a password change.
	ReasonPasswordChanged RevocationReason = "password-changed"
	// ReasonDeviceLogout marks device-scoped revocation.
	ReasonDeviceLogout RevocationReason = "device-logout"
	// ReasonReuseDetected marks sessions revoked in response to a reuse signal.
	ReasonReuseDetected RevocationReason = "reuse-detected"
)

// Session mirrors the keygate.sessions row.
//
// A session is either live (RevokedAt == nil && ExpiresAt > now) or dead;
// there is no third state. ReplacedByID links a rotated session forward to
// its successor, forming a per-device lineage chain.
type Session struct {
	ID            string
	UserID        string
	TokenID       string // jti of the paired access credential
	SecretHash    string
	DeviceTag     string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason *RevocationReason
	ReplacedByID  *string
}

// Live reports whether the session is usable at the given instant.
// A session expiring exactly at now is already dead.
func (s Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// Rotated reports whether the session died by rotation, which makes a later
// presentation of its secret a reuse signal rather than a normal failure.
func (s Session) Rotated() bool {
	return s.RevokedAt != nil && s.RevokedReason != nil && *s.RevokedReason == ReasonRotated
}

// Store abstracts persistence for session state. It is a narrow facade, not a
// general repository: every mutation is a single atomic write so that racing
// rotations on the same row detect the conflict instead of double-writing.
type Store interface {
	// Insert persists a new session row.
	Insert(ctx context.Context, s Session) error

	// FindLiveByHash returns the live, unexpired session for a secret hash.
	// Returns ErrSessionNotFound otherwise.
	FindLiveByHash(ctx context.Context, now time.Time, secretHash string) (Session, error)

	// FindAnyByHash returns the session for a secret hash regardless of
	// revocation or expiry. Needed for reuse detection and for classifying
	// denials.
	FindAnyByHash(ctx context.Context, secretHash string) (Session, error)

	// FindByID loads a session row by ID.
	FindByID(ctx context.Context, id string) (Session, error)

	// FindByTokenID resolves the session backing an access credential's jti,
	// for server-authoritative revocation checks.
	FindByTokenID(ctx context.Context, tokenID string) (Session, error)

	// ListLiveByUser enumerates the user's live sessions, newest first.
	ListLiveByUser(ctx context.Context, now time.Time, userID string) ([]Session, error)

	// Supersede atomically inserts next and retires the old session with
	// reason "rotated" and ReplacedByID pointing at next. Either both writes
	// take effect or neither does. Returns ErrRotationConflict when oldID is
	// no longer live.
	Supersede(ctx context.Context, now time.Time, oldID string, next Session) error

	// Revoke revokes a single session. Revoking a dead session is a no-op.
	Revoke(ctx context.Context, now time.Time, id string, reason RevocationReason) error

	// RevokeAllForUser revokes every live session for a user in one set-based
	// write.
	RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason RevocationReason) error

	// RevokeDevice revokes every live session for a user/device pair.
	RevokeDevice(ctx context.Context, now time.Time, userID, deviceTag string, reason RevocationReason) error

	// RevokeChain revokes every still-live session reachable from fromID via
	// ReplacedByID links (the forward lineage of a compromised secret).
	RevokeChain(ctx context.Context, now time.Time, fromID string, reason RevocationReason) error

	// DeleteExpiredBefore hard-deletes sessions whose expiry or revocation
	// happened before cutoff. Only the sweeper calls this.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
