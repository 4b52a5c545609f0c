package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewMemoryStores backs every store with process memory. It is used by
// STORE_DRIVER=memory and by tests; data does not survive a restart.
func NewMemoryStores() Stores {
	return Stores{
		Users:     NewMemoryUserStore(),
		Refresh:   NewMemoryRefreshTokenStore(),
		Blacklist: NewMemoryBlacklist(),
		Resets:    NewMemoryResetTokenStore(),
	}
}

type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func (s *MemoryUserStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryUserStore) GetByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) Add(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrConflict
	}
	if s.taken(user) {
		return ErrConflict
	}
	s.users[user.ID] = user
	return nil
}

func (s *MemoryUserStore) UpdateProfile(_ context.Context, userID, firstName, lastName, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FirstName = firstName
	u.LastName = lastName
	u.Email = email
	if s.taken(u) {
		return ErrConflict
	}
	s.users[userID] = u
	return nil
}

func (s *MemoryUserStore) SetPassword(_ context.Context, userID, passwordHash string, clearLockout bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	if clearLockout {
		u.FailedLoginAttempts = 0
		u.LockoutUntil = nil
	}
	s.users[userID] = u
	return nil
}

// taken reports whether another user already holds the username or email.
func (s *MemoryUserStore) taken(user User) bool {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return true
		}
	}
	return false
}

func (s *MemoryUserStore) ExistsUsername(ctx context.Context, username string) (bool, error) {
	_, err := s.GetByUsername(ctx, username)
	return err == nil, nil
}

func (s *MemoryUserStore) ExistsEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.GetByEmail(ctx, email)
	return err == nil, nil
}

func (s *MemoryUserStore) RecordFailedLogin(_ context.Context, userID string, policy LockoutPolicy, now time.Time) (FailedLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return FailedLogin{}, ErrNotFound
	}

	result := policy.Apply(u.FailedLoginAttempts, u.LockoutUntil, now)
	u.FailedLoginAttempts = result.Attempts
	u.LockoutUntil = result.LockoutUntil
	s.users[userID] = u
	return result, nil
}

func (s *MemoryUserStore) RecordSuccessfulLogin(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockoutUntil = nil
	u.LastAccessAt = &now
	s.users[userID] = u
	return nil
}

// Delete deactivates the account and scrubs its identifying fields so the
// username and email can be registered again.
func (s *MemoryUserStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = false
	u.Username = deletedMarker(u.ID)
	u.Email = ""
	u.FirstName = ""
	u.LastName = ""
	u.PasswordHash = ""
	s.users[userID] = u
	return nil
}

type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]RefreshToken
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]RefreshToken)}
}

func (s *MemoryRefreshTokenStore) GetByToken(_ context.Context, tokenHash string) (RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return RefreshToken{}, ErrNotFound
}

func (s *MemoryRefreshTokenStore) GetActiveByUser(_ context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.Usable(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *MemoryRefreshTokenStore) Add(_ context.Context, token RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return ErrConflict
	}
	s.tokens[token.ID] = token
	return nil
}

func (s *MemoryRefreshTokenStore) Update(_ context.Context, token RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; !ok {
		return ErrNotFound
	}
	s.tokens[token.ID] = token
	return nil
}

func (s *MemoryRefreshTokenStore) Rotate(_ context.Context, oldID string, next RefreshToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oldID]
	if !ok || !old.Usable(now) {
		return ErrInvalidToken
	}

	old.Revoked = true
	old.RevokedAt = &now
	old.ReplacedBy = &next.ID
	s.tokens[oldID] = old
	s.tokens[next.ID] = next
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeAllByUser(_ context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.UserID != userID || t.Revoked {
			continue
		}
		t.Revoked = true
		t.RevokedAt = &now
		s.tokens[id] = t
		n++
	}
	return n, nil
}

func (s *MemoryRefreshTokenStore) RevokeByToken(_ context.Context, userID, tokenHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tokens {
		if t.TokenHash != tokenHash || t.UserID != userID {
			continue
		}
		if !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			s.tokens[id] = t
		}
		return nil
	}
	return ErrNotFound
}

func (s *MemoryRefreshTokenStore) RemoveExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if !t.ExpiresAt.After(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]BlacklistedToken
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]BlacklistedToken)}
}

func (b *MemoryBlacklist) AddToken(_ context.Context, userID, tokenHash string, expiresAt time.Time, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[tokenHash]; ok {
		return nil
	}
	b.entries[tokenHash] = BlacklistedToken{
		ID:        tokenHash,
		TokenHash: tokenHash,
		UserID:    userID,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		Reason:    reason,
	}
	return nil
}

func (b *MemoryBlacklist) IsBlacklisted(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[tokenHash]
	return ok && e.ExpiresAt.After(now), nil
}

func (b *MemoryBlacklist) CleanExpired(_ context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for hash, e := range b.entries {
		if !e.ExpiresAt.After(now) {
			delete(b.entries, hash)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBlacklist) RemoveUserTokens(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for hash, e := range b.entries {
		if e.UserID == userID {
			delete(b.entries, hash)
		}
	}
	return nil
}

type MemoryResetTokenStore struct {
	mu     sync.Mutex
	tokens map[string]PasswordResetToken
}

func NewMemoryResetTokenStore() *MemoryResetTokenStore {
	return &MemoryResetTokenStore{tokens: make(map[string]PasswordResetToken)}
}

func (s *MemoryResetTokenStore) Add(_ context.Context, token PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return ErrConflict
	}
	s.tokens[token.ID] = token
	return nil
}

func (s *MemoryResetTokenStore) GetByToken(_ context.Context, tokenHash string) (PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return PasswordResetToken{}, ErrNotFound
}

func (s *MemoryResetTokenStore) MarkUsed(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	if t.Used {
		return ErrInvalidToken
	}
	t.Used = true
	t.UsedAt = &now
	s.tokens[id] = t
	return nil
}

func (s *MemoryResetTokenStore) InvalidateForUser(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tokens {
		if t.UserID == userID && !t.Used {
			t.Used = true
			t.UsedAt = &now
			s.tokens[id] = t
		}
	}
	return nil
}

func (s *MemoryResetTokenStore) RemoveExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if !t.ExpiresAt.After(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func deletedMarker(id string) string {
	return "deleted-" + id
}
