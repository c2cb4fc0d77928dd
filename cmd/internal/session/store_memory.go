package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when DB is not configured, and the
// backing store for unit tests of the rotation engine. All mutations happen
// under one mutex, which gives the same either-both-or-neither property the
// Postgres transaction provides.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byHash map[string]string // secret_hash -> session id
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]*Session),
		byHash: make(map[string]string),
	}
}

func cloneSession(s *Session) Session {
	out := *s
	if s.LastUsedAt != nil {
		v := *s.LastUsedAt
		out.LastUsedAt = &v
	}
	if s.RevokedAt != nil {
		v := *s.RevokedAt
		out.RevokedAt = &v
	}
	if s.RevokedReason != nil {
		v := *s.RevokedReason
		out.RevokedReason = &v
	}
	if s.ReplacedByID != nil {
		v := *s.ReplacedByID
		out.ReplacedByID = &v
	}
	return out
}

func (m *InMemoryStore) insertLocked(s Session) {
	cp := cloneSession(&s)
	m.byID[s.ID] = &cp
	m.byHash[s.SecretHash] = s.ID
}

func revokeLocked(s *Session, now time.Time, reason RevocationReason) {
	if s.RevokedAt != nil {
		return
	}
	t := now
	r := reason
	s.RevokedAt = &t
	s.RevokedReason = &r
}

// Insert persists a new session row.
func (m *InMemoryStore) Insert(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(s)
	return nil
}

// FindLiveByHash returns the live, unexpired session for a secret hash.
func (m *InMemoryStore) FindLiveByHash(ctx context.Context, now time.Time, secretHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[secretHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s := m.byID[id]
	if s == nil || !s.Live(now) {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// FindAnyByHash returns the session for a secret hash regardless of state.
func (m *InMemoryStore) FindAnyByHash(ctx context.Context, secretHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[secretHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s := m.byID[id]
	if s == nil {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// FindByID loads a session row by ID.
func (m *InMemoryStore) FindByID(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	if s == nil {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// FindByTokenID resolves the session backing an access credential's jti.
func (m *InMemoryStore) FindByTokenID(ctx context.Context, tokenID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.TokenID == tokenID {
			return cloneSession(s), nil
		}
	}
	return Session{}, ErrSessionNotFound
}

// ListLiveByUser enumerates the user's live sessions, newest first.
func (m *InMemoryStore) ListLiveByUser(ctx context.Context, now time.Time, userID string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.byID {
		if s.UserID == userID && s.Live(now) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Supersede inserts next and retires oldID as one atomic step.
func (m *InMemoryStore) Supersede(ctx context.Context, now time.Time, oldID string, next Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.byID[oldID]
	if old == nil || old.RevokedAt != nil {
		return ErrRotationConflict
	}

	m.insertLocked(next)

	t := now
	revokeLocked(old, now, ReasonRotated)
	old.LastUsedAt = &t
	newID := next.ID
	old.ReplacedByID = &newID
	return nil
}

// Revoke revokes a single session (idempotent).
func (m *InMemoryStore) Revoke(ctx context.Context, now time.Time, id string, reason RevocationReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byID[id]; s != nil {
		revokeLocked(s, now, reason)
	}
	return nil
}

// RevokeAllForUser revokes all live sessions for a user.
func (m *InMemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string, reason RevocationReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.UserID == userID {
			revokeLocked(s, now, reason)
		}
	}
	return nil
}

// RevokeDevice revokes all live sessions for a user/device pair.
func (m *InMemoryStore) RevokeDevice(ctx context.Context, now time.Time, userID, deviceTag string, reason RevocationReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.UserID == userID && s.DeviceTag == deviceTag {
			revokeLocked(s, now, reason)
		}
	}
	return nil
}

// RevokeChain revokes every still-live session on the forward lineage.
func (m *InMemoryStore) RevokeChain(ctx context.Context, now time.Time, fromID string, reason RevocationReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	id := fromID
	for id != "" && !seen[id] {
		seen[id] = true
		s := m.byID[id]
		if s == nil {
			break
		}
		revokeLocked(s, now, reason)
		if s.ReplacedByID == nil {
			break
		}
		id = *s.ReplacedByID
	}
	return nil
}

// DeleteExpiredBefore hard-deletes sessions dead since before cutoff.
func (m *InMemoryStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.byID {
		dead := false
		if s.RevokedAt != nil {
			dead = s.RevokedAt.Before(cutoff)
		} else {
			dead = s.ExpiresAt.Before(cutoff)
		}
		if dead {
			delete(m.byHash, s.SecretHash)
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}
