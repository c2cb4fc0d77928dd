package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSession(id, userID, hash string, now time.Time) Session {
	return Session{
		ID:         id,
		UserID:     userID,
		TokenID:    "jti-" + id,
		SecretHash: hash,
		DeviceTag:  "laptop",
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func TestInMemoryStoreInsertAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	s := testSession("s1", "u1", "h1", now)
	require.NoError(t, st.Insert(ctx, s))

	got, err := st.FindLiveByHash(ctx, now, "h1")
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)

	_, err = st.FindLiveByHash(ctx, now, "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)

	byID, err := st.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", byID.UserID)

	byJTI, err := st.FindByTokenID(ctx, "jti-s1")
	require.NoError(t, err)
	require.Equal(t, "s1", byJTI.ID)
}

func TestInMemoryStoreLiveBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	s := testSession("s1", "u1", "h1", now)
	s.ExpiresAt = now // exactly at expiry: dead
	require.NoError(t, st.Insert(ctx, s))

	_, err := st.FindLiveByHash(ctx, now, "h1")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// One second before expiry: live.
	_, err = st.FindLiveByHash(ctx, now.Add(-time.Second), "h1")
	require.NoError(t, err)
}

func TestInMemoryStoreSupersede(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	old := testSession("s1", "u1", "h1", now)
	require.NoError(t, st.Insert(ctx, old))

	next := testSession("s2", "u1", "h2", now)
	require.NoError(t, st.Supersede(ctx, now, "s1", next))

	// Old is retired and points at its replacement.
	gotOld, err := st.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, gotOld.RevokedAt)
	require.NotNil(t, gotOld.RevokedReason)
	require.Equal(t, ReasonRotated, *gotOld.RevokedReason)
	require.NotNil(t, gotOld.ReplacedByID)
	require.Equal(t, "s2", *gotOld.ReplacedByID)

	// New is live.
	gotNew, err := st.FindLiveByHash(ctx, now, "h2")
	require.NoError(t, err)
	require.Equal(t, "s2", gotNew.ID)

	// Second supersede of the same row loses the race.
	err = st.Supersede(ctx, now, "s1", testSession("s3", "u1", "h3", now))
	require.ErrorIs(t, err, ErrRotationConflict)
	_, err = st.FindAnyByHash(ctx, "h3")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemoryStoreRevokeIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	require.NoError(t, st.Insert(ctx, testSession("s1", "u1", "h1", now)))

	require.NoError(t, st.Revoke(ctx, now, "s1", ReasonLogout))
	got, err := st.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	firstRevokedAt := *got.RevokedAt

	// Second revoke keeps the original timestamp and reason.
	require.NoError(t, st.Revoke(ctx, now.Add(time.Minute), "s1", ReasonLogoutAll))
	got, err = st.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, firstRevokedAt, *got.RevokedAt)
	require.Equal(t, ReasonLogout, *got.RevokedReason)

	// Revoking an unknown id is a no-op, not an error.
	require.NoError(t, st.Revoke(ctx, now, "missing", ReasonLogout))
}

func TestInMemoryStoreRevokeAllAndDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	a := testSession("s1", "u1", "h1", now)
	b := testSession("s2", "u1", "h2", now)
	b.DeviceTag = "phone"
	c := testSession("s3", "u2", "h3", now)
	require.NoError(t, st.Insert(ctx, a))
	require.NoError(t, st.Insert(ctx, b))
	require.NoError(t, st.Insert(ctx, c))

	require.NoError(t, st.RevokeDevice(ctx, now, "u1", "phone", ReasonDeviceLogout))
	live, err := st.ListLiveByUser(ctx, now, "u1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "s1", live[0].ID)

	require.NoError(t, st.RevokeAllForUser(ctx, now, "u1", ReasonPasswordChanged))
	live, err = st.ListLiveByUser(ctx, now, "u1")
	require.NoError(t, err)
	require.Empty(t, live)

	// Other user untouched.
	live, err = st.ListLiveByUser(ctx, now, "u2")
	require.NoError(t, err)
	require.Len(t, live, 1)
}

func TestInMemoryStoreRevokeChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	// s1 -> s2 -> s3 rotation lineage.
	require.NoError(t, st.Insert(ctx, testSession("s1", "u1", "h1", now)))
	require.NoError(t, st.Supersede(ctx, now, "s1", testSession("s2", "u1", "h2", now)))
	require.NoError(t, st.Supersede(ctx, now, "s2", testSession("s3", "u1", "h3", now)))

	require.NoError(t, st.RevokeChain(ctx, now, "s1", ReasonReuseDetected))

	got, err := st.FindByID(ctx, "s3")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	require.Equal(t, ReasonReuseDetected, *got.RevokedReason)

	// Already-rotated links keep their original reason.
	got, err = st.FindByID(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, ReasonRotated, *got.RevokedReason)
}

func TestInMemoryStoreDeleteExpiredBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	st := NewInMemoryStore()

	// Dead long ago: swept.
	oldDead := testSession("s1", "u1", "h1", now.Add(-48*time.Hour))
	oldDead.ExpiresAt = now.Add(-47 * time.Hour)
	require.NoError(t, st.Insert(ctx, oldDead))

	// Recently revoked: kept (within retention).
	recent := testSession("s2", "u1", "h2", now)
	require.NoError(t, st.Insert(ctx, recent))
	require.NoError(t, st.Revoke(ctx, now, "s2", ReasonLogout))

	// Live: never touched.
	require.NoError(t, st.Insert(ctx, testSession("s3", "u1", "h3", now)))

	n, err := st.DeleteExpiredBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = st.FindByID(ctx, "s1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = st.FindByID(ctx, "s2")
	require.NoError(t, err)
	_, err = st.FindByID(ctx, "s3")
	require.NoError(t, err)
}
