package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// NewPostgresStores backs every store with the same database handle.
func NewPostgresStores(db *sql.DB) Stores {
	return Stores{
		Users:     NewUserRepository(db),
		Refresh:   NewRefreshTokenRepository(db),
		Blacklist: NewBlacklistRepository(db),
		Resets:    NewResetTokenRepository(db),
	}
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, password_hash, first_name, last_name, role,
	is_active, created_at, last_access_at, failed_login_attempts, lockout_until`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var lastAccess, lockout sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.Role,
		&user.IsActive, &user.CreatedAt, &lastAccess, &user.FailedLoginAttempts, &lockout,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.LastAccessAt = nullTime(lastAccess)
	user.LockoutUntil = nullTime(lockout)
	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("query user by username: %w", err)
	}
	return user, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("query user by email: %w", err)
	}
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, err
}

func (r *UserRepository) Add(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, role,
			is_active, created_at, last_access_at, failed_login_attempts, lockout_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role,
		user.IsActive, user.CreatedAt.UTC(), timeOrNil(user.LastAccessAt), user.FailedLoginAttempts, timeOrNil(user.LockoutUntil))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, firstName, lastName, email string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = $2, last_name = $3, email = $4, updated_at = NOW()
		WHERE id = $1
	`, userID, firstName, lastName, email)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOneRow(res, "update profile")
}

func (r *UserRepository) SetPassword(ctx context.Context, userID, passwordHash string, clearLockout bool) error {
	set := "password_hash = $2"
	if clearLockout {
		set += ", failed_login_attempts = 0, lockout_until = NULL"
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET `+set+`, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return expectOneRow(res, "set password")
}

func (r *UserRepository) ExistsUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) ExistsEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) RecordFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (FailedLogin, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return FailedLogin{}, fmt.Errorf("begin failed login tx: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	var lockout sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts, lockout_until
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&attempts, &lockout)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailedLogin{}, ErrNotFound
		}
		return FailedLogin{}, fmt.Errorf("lock user row: %w", err)
	}

	result := policy.Apply(attempts, nullTime(lockout), now.UTC())

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = $2, lockout_until = $3, updated_at = $4
		WHERE id = $1
	`, userID, result.Attempts, timeOrNil(result.LockoutUntil), now.UTC()); err != nil {
		return FailedLogin{}, fmt.Errorf("update failed login: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return FailedLogin{}, fmt.Errorf("commit failed login tx: %w", err)
	}
	return result, nil
}

func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, lockout_until = NULL, last_access_at = $2, updated_at = $2
		WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return expectOneRow(res, "record successful login")
}

// Delete deactivates the row and frees its username and email. Incidents
// keep referencing the id.
func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET is_active = FALSE, username = $2, email = $2, first_name = '', last_name = '',
			password_hash = '', updated_at = NOW()
		WHERE id = $1
	`, userID, deletedMarker(userID))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectOneRow(res, "delete user")
}

type RefreshTokenRepository struct {
	db *sql.DB
}

func NewRefreshTokenRepository(db *sql.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshColumns = `id, user_id, token_hash, issued_at, expires_at, revoked, revoked_at, replaced_by`

func scanRefreshToken(row rowScanner) (RefreshToken, error) {
	var t RefreshToken
	var revokedAt sql.NullTime
	var replacedBy sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.Revoked, &revokedAt, &replacedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.RevokedAt = nullTime(revokedAt)
	if replacedBy.Valid {
		t.ReplacedBy = &replacedBy.String
	}
	return t, nil
}

func (r *RefreshTokenRepository) GetByToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	t, err := scanRefreshToken(r.db.QueryRowContext(ctx, `SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}
	return t, err
}

func (r *RefreshTokenRepository) GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY issued_at ASC
	`, userID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query active refresh tokens: %w", err)
	}
	defer rows.Close()

	var out []RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return out, nil
}

func (r *RefreshTokenRepository) Add(ctx context.Context, token RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, token.ID, token.UserID, token.TokenHash, token.IssuedAt.UTC(), token.ExpiresAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Update(ctx context.Context, token RefreshToken) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET expires_at = $2, revoked = $3, revoked_at = $4, replaced_by = $5
		WHERE id = $1
	`, token.ID, token.ExpiresAt.UTC(), token.Revoked, timeOrNil(token.RevokedAt), stringOrNil(token.ReplacedBy))
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return expectOneRow(res, "update refresh token")
}

// Rotate revokes oldID and inserts next in one transaction. The conditional
// UPDATE is the compare-and-swap: only the caller that flips revoked from
// false wins, everyone else gets ErrInvalidToken.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, next RefreshToken, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh rotation tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, replaced_by = $3
		WHERE id = $1 AND revoked = FALSE AND expires_at > $2
	`, oldID, now.UTC(), next.ID)
	if err != nil {
		return fmt.Errorf("revoke old refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh rotation rows affected: %w", err)
	}
	if affected != 1 {
		return ErrInvalidToken
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, next.ID, next.UserID, next.TokenHash, next.IssuedAt.UTC(), next.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh rotation tx: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND revoked = FALSE
	`, userID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *RefreshTokenRepository) RevokeByToken(ctx context.Context, userID, tokenHash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $3)
		WHERE token_hash = $1 AND user_id = $2
	`, tokenHash, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return expectOneRow(res, "revoke refresh token")
}

func (r *RefreshTokenRepository) RemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteInBatches(ctx, r.db, "refresh tokens", `
		WITH stale AS (
			SELECT id FROM refresh_tokens
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, now.UTC())
}

type BlacklistRepository struct {
	db *sql.DB
}

func NewBlacklistRepository(db *sql.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

func (r *BlacklistRepository) AddToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blacklisted_tokens (token_hash, user_id, revoked_at, expires_at, reason)
		VALUES ($1, $2, NOW(), $3, $4)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, userID, expiresAt.UTC(), reason)
	if err != nil {
		return fmt.Errorf("insert blacklisted token: %w", err)
	}
	return nil
}

func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM blacklisted_tokens WHERE token_hash = $1 AND expires_at > $2)
	`, tokenHash, now.UTC()).Scan(&exists); err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return exists, nil
}

func (r *BlacklistRepository) CleanExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteInBatches(ctx, r.db, "blacklisted tokens", `
		WITH stale AS (
			SELECT token_hash FROM blacklisted_tokens
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM blacklisted_tokens t
		USING stale
		WHERE t.token_hash = stale.token_hash
	`, now.UTC())
}

func (r *BlacklistRepository) RemoveUserTokens(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM blacklisted_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("remove user blacklist entries: %w", err)
	}
	return nil
}

type ResetTokenRepository struct {
	db *sql.DB
}

func NewResetTokenRepository(db *sql.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

func (r *ResetTokenRepository) Add(ctx context.Context, token PasswordResetToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, token.ID, token.UserID, token.TokenHash, token.ExpiresAt.UTC(), token.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

func (r *ResetTokenRepository) GetByToken(ctx context.Context, tokenHash string) (PasswordResetToken, error) {
	var t PasswordResetToken
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, used, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Used, &usedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PasswordResetToken{}, ErrNotFound
		}
		return PasswordResetToken{}, fmt.Errorf("query reset token: %w", err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UsedAt = nullTime(usedAt)
	return t, nil
}

func (r *ResetTokenRepository) MarkUsed(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE
	`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reset token rows affected: %w", err)
	}
	if affected != 1 {
		return ErrInvalidToken
	}
	return nil
}

func (r *ResetTokenRepository) InvalidateForUser(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE, used_at = $2
		WHERE user_id = $1 AND used = FALSE
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("invalidate reset tokens: %w", err)
	}
	return nil
}

func (r *ResetTokenRepository) RemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	return deleteInBatches(ctx, r.db, "reset tokens", `
		WITH stale AS (
			SELECT id FROM password_reset_tokens
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM password_reset_tokens t
		USING stale
		WHERE t.id = stale.id
	`, now.UTC())
}

const cleanupBatchSize = 500

// deleteInBatches repeats a bounded DELETE until a batch comes back short so
// a large backlog never holds one long lock.
func deleteInBatches(ctx context.Context, db *sql.DB, label, query string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		res, err := db.ExecContext(ctx, query, cutoff, cleanupBatchSize)
		if err != nil {
			return total, fmt.Errorf("delete stale %s: %w", label, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("stale %s rows affected: %w", label, err)
		}
		total += affected
		if affected < cleanupBatchSize {
			return total, nil
		}
	}
}

func expectOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stringOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
