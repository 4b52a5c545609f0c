package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"incident-api/internal/observability"
)

const (
	tokenTypeBearer = "Bearer"

	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout-all"
	ReasonManual          = "Manual revocation"
	ReasonPasswordChanged = "password-changed"
	ReasonAccountDeleted  = "account-deleted"

	defaultWriteTimeout  = 5 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

type Config struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	ResetTTL             time.Duration
	Lockout              LockoutPolicy
	AllowMultipleDevices bool
	// WriteTimeout bounds security writes that outlive the request context.
	WriteTimeout  time.Duration
	NotifyTimeout time.Duration
}

type Service struct {
	users     UserStore
	refresh   RefreshTokenStore
	blacklist BlacklistStore
	resets    ResetTokenStore

	codec    *TokenCodec
	hasher   PasswordHasher
	notifier Notifier
	logger   *observability.Logger
	now      func() time.Time

	cfg Config

	dummyOnce sync.Once
	dummyHash string
	pending   sync.WaitGroup
}

func NewService(stores Stores, codec *TokenCodec, hasher PasswordHasher, cfg Config) *Service {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	cfg.Lockout = cfg.Lockout.normalized()

	return &Service{
		users:     stores.Users,
		refresh:   stores.Refresh,
		blacklist: stores.Blacklist,
		resets:    stores.Resets,
		codec:     codec,
		hasher:    hasher,
		logger:    observability.NewNopLogger(),
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
	}
}

func (s *Service) WithNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) WithLogger(l *observability.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Wait blocks until in-flight notifications have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) Login(ctx context.Context, username, password string) (AuthResult, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// keep timing close to the known-user path
			s.hasher.Verify(password, s.timingHash())
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return AuthResult{}, ErrInvalidCredentials
	}

	now := s.now()
	if user.IsLocked(now) {
		if s.cfg.Lockout.ExtendOnAttempt && !s.hasher.Verify(password, user.PasswordHash) {
			return AuthResult{}, s.recordFailure(ctx, user, now)
		}
		return AuthResult{}, &LockedError{Until: *user.LockoutUntil}
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return AuthResult{}, s.recordFailure(ctx, user, now)
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	if err := s.users.RecordSuccessfulLogin(wctx, user.ID, now); err != nil {
		return AuthResult{}, fmt.Errorf("record successful login: %w", err)
	}
	user.FailedLoginAttempts = 0
	user.LockoutUntil = nil
	user.LastAccessAt = &now

	return s.issuePair(ctx, user)
}

func (s *Service) recordFailure(ctx context.Context, user User, now time.Time) error {
	wctx, cancel := s.durable(ctx)
	defer cancel()

	result, err := s.users.RecordFailedLogin(wctx, user.ID, s.cfg.Lockout, now)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}

	if result.Locked {
		s.logger.Warn("account_locked", map[string]any{
			"user_id":  user.ID,
			"attempts": result.Attempts,
			"until":    result.LockoutUntil.Format(time.RFC3339),
		})
		until := *result.LockoutUntil
		s.notify(ctx, "account_locked", func(ctx context.Context) error {
			return s.notifier.SendAccountLocked(ctx, user.Email, user.DisplayName(), until)
		})
	}
	if result.LockoutUntil != nil && result.LockoutUntil.After(now) {
		return &LockedError{Until: *result.LockoutUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	username := normalizeUsername(in.Username)
	email := normalizeEmail(in.Email)
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)

	if err := validateUsername(username); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return AuthResult{}, err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return AuthResult{}, invalid("confirmPassword", "does not match password")
	}
	if err := validateName("firstName", first); err != nil {
		return AuthResult{}, err
	}
	if err := validateName("lastName", last); err != nil {
		return AuthResult{}, err
	}

	taken, err := s.users.ExistsUsername(ctx, username)
	if err != nil {
		return AuthResult{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return AuthResult{}, fmt.Errorf("%w: username already exists", ErrConflict)
	}
	taken, err = s.users.ExistsEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return AuthResult{}, fmt.Errorf("%w: email already exists", ErrConflict)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate user id: %w", err)
	}
	now := s.now()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		LastAccessAt: &now,
	}
	if err := s.users.Add(ctx, user); err != nil {
		return AuthResult{}, err
	}

	result, err := s.issuePair(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}

	s.notify(ctx, "welcome", func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, user.Email, user.DisplayName())
	})
	return result, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResult{}, ErrInvalidToken
	}

	current, err := s.refresh.GetByToken(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, ErrInvalidToken
		}
		return AuthResult{}, fmt.Errorf("load refresh token: %w", err)
	}

	now := s.now()
	if current.Revoked {
		if current.ReplacedBy != nil {
			s.revokeFamilyOnReuse(ctx, current, now)
		}
		return AuthResult{}, ErrInvalidToken
	}
	if !current.Usable(now) {
		return AuthResult{}, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, ErrInvalidToken
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return AuthResult{}, ErrInvalidToken
	}

	access, err := s.codec.IssueAccessToken(user)
	if err != nil {
		return AuthResult{}, err
	}
	raw, next, err := s.newRefreshToken(user.ID, now)
	if err != nil {
		return AuthResult{}, err
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	if err := s.refresh.Rotate(wctx, current.ID, next, now); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return AuthResult{}, ErrInvalidToken
		}
		return AuthResult{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	return s.result(access, raw, user), nil
}

// revokeFamilyOnReuse treats a rotated token coming back as theft and cuts
// every session of the owner.
func (s *Service) revokeFamilyOnReuse(ctx context.Context, token RefreshToken, now time.Time) {
	wctx, cancel := s.durable(ctx)
	defer cancel()

	revoked, err := s.refresh.RevokeAllByUser(wctx, token.UserID, now)
	if err != nil {
		s.logger.Error("refresh_reuse_revoke_failed", map[string]any{"user_id": token.UserID, "error": err.Error()})
		return
	}
	s.logger.Warn("refresh_token_reuse_detected", map[string]any{
		"user_id":        token.UserID,
		"token_id":       token.ID,
		"revoked_tokens": revoked,
	})
}

func (s *Service) Logout(ctx context.Context, userID, accessToken, refreshToken string) error {
	if err := s.blacklistToken(ctx, userID, accessToken, ReasonLogout); err != nil {
		return err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	wctx, cancel := s.durable(ctx)
	defer cancel()
	// a token owned by someone else matches nothing and is ignored
	if err := s.refresh.RevokeByToken(wctx, userID, HashToken(refreshToken), s.now()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Service) RevokeToken(ctx context.Context, userID, accessToken, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonManual
	}
	return s.blacklistToken(ctx, userID, accessToken, reason)
}

func (s *Service) RevokeAllTokens(ctx context.Context, userID, accessToken string) error {
	wctx, cancel := s.durable(ctx)
	defer cancel()

	revoked, err := s.refresh.RevokeAllByUser(wctx, userID, s.now())
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.logger.Info("tokens_revoked", map[string]any{"user_id": userID, "refresh_tokens": revoked})

	if accessToken == "" {
		return nil
	}
	return s.blacklistToken(ctx, userID, accessToken, ReasonLogoutAll)
}

func (s *Service) ChangePassword(ctx context.Context, userID, accessToken string, in ChangePasswordInput) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	// wrong current passwords count toward the same lockout as logins
	now := s.now()
	if user.IsLocked(now) {
		if s.cfg.Lockout.ExtendOnAttempt && !s.hasher.Verify(in.CurrentPassword, user.PasswordHash) {
			return s.recordFailure(ctx, user, now)
		}
		return &LockedError{Until: *user.LockoutUntil}
	}
	if !s.hasher.Verify(in.CurrentPassword, user.PasswordHash) {
		return s.recordFailure(ctx, user, now)
	}
	if err := validatePassword(in.NewPassword); err != nil {
		return err
	}
	if in.NewPassword != in.ConfirmPassword {
		return invalid("confirmPassword", "does not match new password")
	}
	if in.NewPassword == in.CurrentPassword {
		return invalid("newPassword", "must differ from the current password")
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	if err := s.users.SetPassword(wctx, user.ID, hash, false); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	if _, err := s.refresh.RevokeAllByUser(wctx, user.ID, now); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if accessToken != "" {
		if err := s.blacklistToken(ctx, user.ID, accessToken, ReasonPasswordChanged); err != nil {
			return err
		}
	}

	s.notify(ctx, "password_changed", func(ctx context.Context) error {
		return s.notifier.SendPasswordChanged(ctx, user.Email, user.DisplayName())
	})
	return nil
}

// RequestPasswordReset answers the same way whether or not the email is
// registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	now := s.now()
	if err := s.resets.InvalidateForUser(ctx, user.ID, now); err != nil {
		return fmt.Errorf("invalidate reset tokens: %w", err)
	}

	raw, err := randomToken(resetTokenBytes)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate reset token id: %w", err)
	}
	token := PasswordResetToken{
		ID:        id.String(),
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.cfg.ResetTTL),
		CreatedAt: now,
	}
	if err := s.resets.Add(ctx, token); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.notify(ctx, "password_reset", func(ctx context.Context) error {
		return s.notifier.SendPasswordReset(ctx, user.Email, user.DisplayName(), raw, token.ExpiresAt)
	})
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	raw := strings.TrimSpace(in.Token)
	if raw == "" {
		return ErrInvalidToken
	}

	token, err := s.resets.GetByToken(ctx, HashToken(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load reset token: %w", err)
	}
	now := s.now()
	if !token.Usable(now) {
		return ErrInvalidToken
	}

	if err := validatePassword(in.NewPassword); err != nil {
		return err
	}
	if in.NewPassword != in.ConfirmPassword {
		return invalid("confirmPassword", "does not match new password")
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return ErrInvalidToken
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	// claim the token first so two concurrent resets cannot both apply
	if err := s.resets.MarkUsed(wctx, token.ID, now); err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("mark reset token used: %w", err)
	}

	if err := s.users.SetPassword(wctx, user.ID, hash, true); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	if _, err := s.refresh.RevokeAllByUser(wctx, user.ID, now); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.notify(ctx, "password_changed", func(ctx context.Context) error {
		return s.notifier.SendPasswordChanged(ctx, user.Email, user.DisplayName())
	})
	return nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (UserSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserSummary{}, err
	}
	return summarize(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (UserSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserSummary{}, err
	}

	if in.FirstName != nil {
		first := strings.TrimSpace(*in.FirstName)
		if err := validateName("firstName", first); err != nil {
			return UserSummary{}, err
		}
		user.FirstName = first
	}
	if in.LastName != nil {
		last := strings.TrimSpace(*in.LastName)
		if err := validateName("lastName", last); err != nil {
			return UserSummary{}, err
		}
		user.LastName = last
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return UserSummary{}, err
		}
		if email != user.Email {
			taken, err := s.users.ExistsEmail(ctx, email)
			if err != nil {
				return UserSummary{}, fmt.Errorf("check email: %w", err)
			}
			if taken {
				return UserSummary{}, fmt.Errorf("%w: email already exists", ErrConflict)
			}
			user.Email = email
		}
	}

	if err := s.users.UpdateProfile(ctx, user.ID, user.FirstName, user.LastName, user.Email); err != nil {
		return UserSummary{}, err
	}

	s.notify(ctx, "profile_updated", func(ctx context.Context) error {
		return s.notifier.SendProfileUpdated(ctx, user.Email, user.DisplayName())
	})
	return summarize(user), nil
}

func (s *Service) DeleteUser(ctx context.Context, userID, accessToken string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	if _, err := s.refresh.RevokeAllByUser(wctx, user.ID, s.now()); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if accessToken != "" {
		if err := s.blacklistToken(ctx, user.ID, accessToken, ReasonAccountDeleted); err != nil {
			return err
		}
	}
	if err := s.users.Delete(wctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	s.logger.Info("account_deleted", map[string]any{"user_id": user.ID})
	s.notify(ctx, "account_deleted", func(ctx context.Context) error {
		return s.notifier.SendAccountDeleted(ctx, user.Email, user.DisplayName())
	})
	return nil
}

// ListSessions returns the caller's active refresh tokens, oldest first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	tokens, err := s.refresh.GetActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, Session{ID: t.ID, IssuedAt: t.IssuedAt, ExpiresAt: t.ExpiresAt})
	}
	return out, nil
}

// RevokeSession revokes one of the caller's active refresh tokens by id.
// Ids of other users' tokens and of inactive tokens yield ErrNotFound.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	now := s.now()
	tokens, err := s.refresh.GetActiveByUser(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, t := range tokens {
		if t.ID != sessionID {
			continue
		}
		t.Revoked = true
		t.RevokedAt = &now

		wctx, cancel := s.durable(ctx)
		defer cancel()
		if err := s.refresh.Update(wctx, t); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		s.logger.Info("session_revoked", map[string]any{"user_id": userID, "token_id": t.ID})
		return nil
	}
	return ErrNotFound
}

// IsBlacklisted is the per-request revocation check.
func (s *Service) IsBlacklisted(ctx context.Context, accessToken string) (bool, error) {
	return s.blacklist.IsBlacklisted(ctx, HashToken(accessToken), s.now())
}

func (s *Service) ValidateAccessToken(accessToken string) (*Claims, error) {
	return s.codec.ValidateAccessToken(accessToken)
}

func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := s.now()
	var result CleanupResult
	var err error

	if result.RemovedRefreshTokens, err = s.refresh.RemoveExpired(ctx, now); err != nil {
		return CleanupResult{}, fmt.Errorf("remove expired refresh tokens: %w", err)
	}
	if result.RemovedBlacklist, err = s.blacklist.CleanExpired(ctx, now); err != nil {
		return CleanupResult{}, fmt.Errorf("clean blacklist: %w", err)
	}
	if result.RemovedResetTokens, err = s.resets.RemoveExpired(ctx, now); err != nil {
		return CleanupResult{}, fmt.Errorf("remove expired reset tokens: %w", err)
	}
	return result, nil
}

func (s *Service) blacklistToken(ctx context.Context, userID, accessToken, reason string) error {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return ErrInvalidToken
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	expiresAt := s.codec.ExtractExpiry(accessToken)
	if err := s.blacklist.AddToken(wctx, userID, HashToken(accessToken), expiresAt, reason); err != nil {
		return fmt.Errorf("blacklist access token: %w", err)
	}
	return nil
}

func (s *Service) issuePair(ctx context.Context, user User) (AuthResult, error) {
	access, err := s.codec.IssueAccessToken(user)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now()
	raw, token, err := s.newRefreshToken(user.ID, now)
	if err != nil {
		return AuthResult{}, err
	}

	wctx, cancel := s.durable(ctx)
	defer cancel()
	if !s.cfg.AllowMultipleDevices {
		if _, err := s.refresh.RevokeAllByUser(wctx, user.ID, now); err != nil {
			return AuthResult{}, fmt.Errorf("revoke previous refresh tokens: %w", err)
		}
	}
	if err := s.refresh.Add(wctx, token); err != nil {
		return AuthResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	return s.result(access, raw, user), nil
}

func (s *Service) newRefreshToken(userID string, now time.Time) (string, RefreshToken, error) {
	raw, err := s.codec.IssueRefreshToken()
	if err != nil {
		return "", RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", RefreshToken{}, fmt.Errorf("generate refresh token id: %w", err)
	}
	return raw, RefreshToken{
		ID:        id.String(),
		UserID:    userID,
		TokenHash: HashToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}, nil
}

func (s *Service) result(access AccessToken, refresh string, user User) AuthResult {
	return AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		User:         summarize(user),
	}
}

func (s *Service) durable(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
}

func (s *Service) notify(ctx context.Context, event string, send func(ctx context.Context) error) {
	if s.notifier == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
		defer cancel()
		if err := send(nctx); err != nil {
			s.logger.Error("notification_failed", map[string]any{"event": event, "error": err.Error()})
		}
	}()
}

func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("timing-equalizer-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

// BootstrapAdmin makes sure an Admin account named username exists. It skips
// username validation so reserved names like "admin" can be seeded, and
// leaves an existing account untouched.
func (s *Service) BootstrapAdmin(ctx context.Context, username, email, password string) error {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil
	}

	exists, err := s.users.ExistsUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("check admin user: %w", err)
	}
	if exists {
		return nil
	}

	if err := validatePassword(password); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" {
		email = username + "@localhost.localdomain"
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	admin := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if err := s.users.Add(ctx, admin); err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("insert admin user: %w", err)
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"username": username})
	return nil
}

// UserActive reports whether id names an active account.
func (s *Service) UserActive(ctx context.Context, id string) (bool, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsActive, nil
}
