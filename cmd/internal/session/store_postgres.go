package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (keygate.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `
	id, user_id, token_id, secret_hash, device_tag,
	created_at, last_used_at, expires_at,
	revoked_at, revoked_reason, replaced_by_id`

func scanSession(row pgx.Row) (Session, error) {
	var (
		s         Session
		deviceTag *string
		reason    *string
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenID,
		&s.SecretHash,
		&deviceTag,
		&s.CreatedAt,
		&s.LastUsedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
		&reason,
		&s.ReplacedByID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if deviceTag != nil {
		s.DeviceTag = *deviceTag
	}
	if reason != nil {
		r := RevocationReason(*reason)
		s.RevokedReason = &r
	}
	return s, nil
}

// Insert persists a new session row.
func (s *PostgresStore) Insert(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keygate.sessions (
			id, user_id, token_id, secret_hash, device_tag,
			created_at, last_used_at, expires_at,
			revoked_at, revoked_reason, replaced_by_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $6, $7,
			NULL, NULL, NULL
		)
	`, sess.ID, sess.UserID, sess.TokenID, sess.SecretHash, nullIfEmpty(sess.DeviceTag), sess.CreatedAt, sess.ExpiresAt)
	return err
}

// FindLiveByHash returns the live, unexpired session for a secret hash.
func (s *PostgresStore) FindLiveByHash(ctx context.Context, now time.Time, secretHash string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM keygate.sessions
		WHERE secret_hash = $1 AND revoked_at IS NULL AND expires_at > $2
	`, secretHash, now))
}

// FindAnyByHash returns the session for a secret hash regardless of state.
func (s *PostgresStore) FindAnyByHash(ctx context.Context, secretHash string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM keygate.sessions
		WHERE secret_hash = $1
	`, secretHash))
}

// FindByID loads a session row by ID.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM keygate.sessions
		WHERE id = $1
	`, id))
}

// FindByTokenID resolves the session backing an access credential's jti.
func (s *PostgresStore) FindByTokenID(ctx context.Context, tokenID string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT`+sessionColumns+`
		FROM keygate.sessions
		WHERE token_id = $1
	`, tokenID))
}

// ListLiveByUser enumerates the user's live sessions, newest first.
func (s *PostgresStore) ListLiveByUser(ctx context.Context, now time.Time, userID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+sessionColumns+`
		FROM keygate.sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Supersede inserts next and retires oldID in a single transaction.
//
// The retire step is a conditional update (revoked_at IS NULL), so a rotation
// racing against another process loses cleanly: zero rows updated means the
// old row was already retired, the transaction rolls back, and the caller
// gets ErrRotationConflict. No second rotation can observe the old row as
// live after the winner commits.
func (s *PostgresStore) Supersede(ctx context.Context, now time.Time, oldID string, next Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO keygate.sessions (
			id, user_id, token_id, secret_hash, device_tag,
			created_at, last_used_at, expires_at,
			revoked_at, revoked_reason, replaced_by_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $6, $7,
			NULL, NULL, NULL
		)
	`, next.ID, next.UserID, next.TokenID, next.SecretHash, nullIfEmpty(next.DeviceTag), next.CreatedAt, next.ExpiresAt)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE keygate.sessions
		SET
			last_used_at = $2,
			revoked_at = $2,
			revoked_reason = $3,
			replaced_by_id = $4
		WHERE id = $1 AND revoked_at IS NULL
	`, oldID, now, string(ReasonRotated), next.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRotationConflict
	}

	return tx.Commit(ctx)
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, id string, reason RevocationReason) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE keygate.sessions
		SET revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND revoked_at IS NULL
	`, id, now, string(reason))
	return err
}

// RevokeAllForUser revokes all live sessions for a user (idempotent, set-based).
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason RevocationReason) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE keygate.sessions
		SET revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now, string(reason))
	return err
}

// RevokeDevice revokes all live sessions for a user/device pair.
func (s *PostgresStore) RevokeDevice(ctx context.Context, now time.Time, userID, deviceTag string, reason RevocationReason) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE keygate.sessions
		SET revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND device_tag = $4 AND revoked_at IS NULL
	`, userID, now, string(reason), deviceTag)
	return err
}

// RevokeChain revokes every still-live session reachable from fromID via
// replaced_by_id links.
func (s *PostgresStore) RevokeChain(ctx context.Context, now time.Time, fromID string, reason RevocationReason) error {
	_, err := s.pool.Exec(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, replaced_by_id
			FROM keygate.sessions
			WHERE id = $1
			UNION ALL
			SELECT s.id, s.replaced_by_id
			FROM keygate.sessions s
			JOIN chain c ON s.id = c.replaced_by_id
		)
		UPDATE keygate.sessions
		SET revoked_at = $2, revoked_reason = $3
		WHERE id IN (SELECT id FROM chain) AND revoked_at IS NULL
	`, fromID, now, string(reason))
	return err
}

// DeleteExpiredBefore hard-deletes sessions dead since before cutoff.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM keygate.sessions
		WHERE (revoked_at IS NOT NULL AND revoked_at < $1)
		   OR (revoked_at IS NULL AND expires_at < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
