package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when KEYGATE_DATABASE_URL is set.
// In non-CI runs, a missing database skips these tests to keep local runs fast.

func integrationPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("KEYGATE_DATABASE_URL")
	if dbURL == "" {
		t.Skip("KEYGATE_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func createIntegrationUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	userID := ulid.Make().String()
	_, err := pool.Exec(ctx, `
		INSERT INTO keygate.users (id, username, password_hash)
		VALUES ($1, $2, 'x')
	`, userID, "it-"+userID)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM keygate.sessions WHERE user_id = $1`, userID)
		_, _ = pool.Exec(ctx, `DELETE FROM keygate.users WHERE id = $1`, userID)
	})
	return userID
}

func integrationService(t *testing.T, pool *pgxpool.Pool) (*Service, *PostgresStore) {
	t.Helper()

	store := NewPostgresStore(pool)
	iss, err := NewIssuer(testConfig(), StaticPermissions{})
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(testConfig(), log, store, iss), store
}

func TestPostgresStoreRotateAndReuse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := integrationPool(ctx, t)
	svc, store := integrationService(t, pool)
	userID := createIntegrationUser(ctx, t, pool)

	now := time.Now().UTC()

	s1, err := svc.Issue(ctx, now, userID, "it-laptop")
	require.NoError(t, err)

	s2, err := svc.Refresh(ctx, now, s1.RefreshSecret)
	require.NoError(t, err)
	require.NotEqual(t, s1.SessionID, s2.SessionID)

	// The retired row records its replacement.
	old, err := store.FindByID(ctx, s1.SessionID)
	require.NoError(t, err)
	require.True(t, old.Rotated())
	require.Equal(t, s2.SessionID, *old.ReplacedByID)

	// Replaying the retired secret trips reuse detection and kills the chain.
	_, err = svc.Refresh(ctx, now, s1.RefreshSecret)
	require.ErrorIs(t, err, ErrReuseDetected)

	successor, err := store.FindByID(ctx, s2.SessionID)
	require.NoError(t, err)
	require.NotNil(t, successor.RevokedAt)
	require.Equal(t, ReasonReuseDetected, *successor.RevokedReason)
}

func TestPostgresStoreSupersedeConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := integrationPool(ctx, t)
	_, store := integrationService(t, pool)
	userID := createIntegrationUser(ctx, t, pool)

	now := time.Now().UTC()
	base := Session{
		ID:         ulid.Make().String(),
		UserID:     userID,
		TokenID:    ulid.Make().String(),
		SecretHash: hashRefreshSecretHex(ulid.Make().String()),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, store.Insert(ctx, base))

	nextA := base
	nextA.ID = ulid.Make().String()
	nextA.TokenID = ulid.Make().String()
	nextA.SecretHash = hashRefreshSecretHex(ulid.Make().String())
	require.NoError(t, store.Supersede(ctx, now, base.ID, nextA))

	// The second supersede of the same row must lose.
	nextB := base
	nextB.ID = ulid.Make().String()
	nextB.TokenID = ulid.Make().String()
	nextB.SecretHash = hashRefreshSecretHex(ulid.Make().String())
	require.ErrorIs(t, store.Supersede(ctx, now, base.ID, nextB), ErrRotationConflict)
}

func TestPostgresStoreRevokeAndSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := integrationPool(ctx, t)
	svc, store := integrationService(t, pool)
	userID := createIntegrationUser(ctx, t, pool)

	now := time.Now().UTC()

	a, err := svc.Issue(ctx, now, userID, "it-laptop")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, now, userID, "it-phone")
	require.NoError(t, err)

	require.NoError(t, svc.LogoutDevice(ctx, now, userID, "it-phone"))
	live, err := store.ListLiveByUser(ctx, now, userID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, a.SessionID, live[0].ID)

	require.NoError(t, svc.LogoutEverywhere(ctx, now, userID, ReasonLogoutAll))
	live, err = store.ListLiveByUser(ctx, now, userID)
	require.NoError(t, err)
	require.Empty(t, live)

	row, err := store.FindByID(ctx, a.SessionID)
	require.NoError(t, err)
	require.Equal(t, ReasonLogoutAll, *row.RevokedReason)
}
