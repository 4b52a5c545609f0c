package auth

import (
	"context"
	"time"
)

// UserStore owns user records. Lookups return ErrNotFound when no row
// matches; Add and UpdateProfile return ErrConflict on a duplicate username
// or email. The failed-login counter and lock are only written by
// RecordFailedLogin, RecordSuccessfulLogin and SetPassword with clearLockout.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	Add(ctx context.Context, user User) error
	// UpdateProfile writes the name and email columns only.
	UpdateProfile(ctx context.Context, userID, firstName, lastName, email string) error
	// SetPassword stores a new hash. clearLockout also zeroes the counter and lock.
	SetPassword(ctx context.Context, userID, passwordHash string, clearLockout bool) error
	ExistsUsername(ctx context.Context, username string) (bool, error)
	ExistsEmail(ctx context.Context, email string) (bool, error)
	// RecordFailedLogin increments the counter atomically and applies policy.
	RecordFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (FailedLogin, error)
	// RecordSuccessfulLogin zeroes the counter, clears any lock and stamps last access.
	RecordSuccessfulLogin(ctx context.Context, userID string, now time.Time) error
	Delete(ctx context.Context, userID string) error
}

// RefreshTokenStore keys tokens by their hash. Rotate must only succeed for
// the caller that observes the old token still active.
type RefreshTokenStore interface {
	GetByToken(ctx context.Context, tokenHash string) (RefreshToken, error)
	GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)
	Add(ctx context.Context, token RefreshToken) error
	Update(ctx context.Context, token RefreshToken) error
	Rotate(ctx context.Context, oldID string, next RefreshToken, now time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int64, error)
	// RevokeByToken only touches a token owned by userID.
	RevokeByToken(ctx context.Context, userID, tokenHash string, now time.Time) error
	RemoveExpired(ctx context.Context, now time.Time) (int64, error)
}

type BlacklistStore interface {
	AddToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time, reason string) error
	// IsBlacklisted ignores entries that expired before now.
	IsBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	CleanExpired(ctx context.Context, now time.Time) (int64, error)
	// RemoveUserTokens drops every entry owned by userID. It is for hard
	// deletes only; soft-deleted accounts keep their entries.
	RemoveUserTokens(ctx context.Context, userID string) error
}

type ResetTokenStore interface {
	Add(ctx context.Context, token PasswordResetToken) error
	GetByToken(ctx context.Context, tokenHash string) (PasswordResetToken, error)
	// MarkUsed fails with ErrInvalidToken when the token was already used.
	MarkUsed(ctx context.Context, id string, now time.Time) error
	InvalidateForUser(ctx context.Context, userID string, now time.Time) error
	RemoveExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers account emails. Calls are best-effort from the
// service's point of view.
type Notifier interface {
	SendWelcome(ctx context.Context, to, name string) error
	SendPasswordReset(ctx context.Context, to, name, token string, expiresAt time.Time) error
	SendPasswordChanged(ctx context.Context, to, name string) error
	SendProfileUpdated(ctx context.Context, to, name string) error
	SendAccountLocked(ctx context.Context, to, name string, until time.Time) error
	SendAccountDeleted(ctx context.Context, to, name string) error
}

type Stores struct {
	Users     UserStore
	Refresh   RefreshTokenStore
	Blacklist BlacklistStore
	Resets    ResetTokenStore
}
