package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "blk"

// RedisBlacklist stores one key per revoked token hash with a TTL matching
// the token's own expiry, plus a set per user for bulk removal.
type RedisBlacklist struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{
		redis:  client,
		prefix: blacklistKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b *RedisBlacklist) tokenKey(tokenHash string) string {
	return b.prefix + ":t:" + tokenHash
}

func (b *RedisBlacklist) userKey(userID string) string {
	return b.prefix + ":u:" + userID
}

func (b *RedisBlacklist) AddToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time, reason string) error {
	ttl := expiresAt.Sub(b.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	pipe := b.redis.TxPipeline()
	pipe.SetNX(ctx, b.tokenKey(tokenHash), userID+"|"+reason, ttl)
	var setTTL *redis.DurationCmd
	if userID != "" {
		pipe.SAdd(ctx, b.userKey(userID), tokenHash)
		setTTL = pipe.TTL(ctx, b.userKey(userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis blacklist add: %w", err)
	}

	// the user set lives as long as its longest-lived member
	if setTTL != nil && setTTL.Val() < ttl {
		if err := b.redis.Expire(ctx, b.userKey(userID), ttl).Err(); err != nil {
			return fmt.Errorf("redis blacklist expire: %w", err)
		}
	}
	return nil
}

// IsBlacklisted relies on the key TTL for expiry.
func (b *RedisBlacklist) IsBlacklisted(ctx context.Context, tokenHash string, _ time.Time) (bool, error) {
	n, err := b.redis.Exists(ctx, b.tokenKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis blacklist lookup: %w", err)
	}
	return n > 0, nil
}

// CleanExpired is a no-op: Redis expires entries on its own.
func (b *RedisBlacklist) CleanExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (b *RedisBlacklist) RemoveUserTokens(ctx context.Context, userID string) error {
	hashes, err := b.redis.SMembers(ctx, b.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis blacklist members: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, b.tokenKey(h))
	}
	keys = append(keys, b.userKey(userID))

	if err := b.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis blacklist remove: %w", err)
	}
	return nil
}
