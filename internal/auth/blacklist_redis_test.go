package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisBlacklistExpiresWithToken(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	blacklist := NewRedisBlacklist(client)
	ctx := context.Background()

	if err := blacklist.AddToken(ctx, "user-1", "hash-1", time.Now().UTC().Add(10*time.Minute), ReasonLogout); err != nil {
		t.Fatalf("add token: %v", err)
	}
	// adding twice keeps the first entry
	if err := blacklist.AddToken(ctx, "user-1", "hash-1", time.Now().UTC().Add(10*time.Minute), ReasonManual); err != nil {
		t.Fatalf("add token again: %v", err)
	}

	ok, err := blacklist.IsBlacklisted(ctx, "hash-1", time.Now())
	if err != nil || !ok {
		t.Fatalf("expected token to be blacklisted, got %v %v", ok, err)
	}
	if got, _ := mr.Get("blk:t:hash-1"); got != "user-1|"+ReasonLogout {
		t.Fatalf("unexpected stored value %q", got)
	}
	if ttl := mr.TTL("blk:u:user-1"); ttl <= 0 {
		t.Fatalf("user set should carry a ttl, got %s", ttl)
	}

	mr.FastForward(11 * time.Minute)
	ok, err = blacklist.IsBlacklisted(ctx, "hash-1", time.Now())
	if err != nil || ok {
		t.Fatalf("expected entry to expire, got %v %v", ok, err)
	}
}

func TestRedisBlacklistRemoveUserTokens(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)
	blacklist := NewRedisBlacklist(client)
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Hour)

	for _, h := range []string{"a", "b"} {
		if err := blacklist.AddToken(ctx, "user-1", h, exp, ReasonLogout); err != nil {
			t.Fatalf("add token %s: %v", h, err)
		}
	}
	if err := blacklist.AddToken(ctx, "user-2", "c", exp, ReasonLogout); err != nil {
		t.Fatalf("add token c: %v", err)
	}

	if err := blacklist.RemoveUserTokens(ctx, "user-1"); err != nil {
		t.Fatalf("remove user tokens: %v", err)
	}
	for _, h := range []string{"a", "b"} {
		if ok, _ := blacklist.IsBlacklisted(ctx, h, time.Now()); ok {
			t.Fatalf("token %s should be removed", h)
		}
	}
	if ok, _ := blacklist.IsBlacklisted(ctx, "c", time.Now()); !ok {
		t.Fatalf("other users' tokens must stay")
	}
}

func TestServiceWithRedisBlacklist(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)
	f := newFixture(t)
	blacklist := NewRedisBlacklist(client)
	blacklist.now = f.clock.Now
	f.service.blacklist = blacklist
	ctx := context.Background()

	registered := f.register(t, "alice")
	if err := f.service.RevokeToken(ctx, registered.User.ID, registered.AccessToken, ""); err != nil {
		t.Fatalf("revoke token: %v", err)
	}
	ok, err := f.service.IsBlacklisted(ctx, registered.AccessToken)
	if err != nil || !ok {
		t.Fatalf("expected revoked token in redis, got %v %v", ok, err)
	}
}
