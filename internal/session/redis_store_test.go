package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	registry, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return registry, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	registry, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer registry.Close()

	if err := registry.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRevokeAndCheckToken(t *testing.T) {
	registry, s := setupTestRedis(t)
	defer registry.Close()
	defer s.Close()

	ctx := context.Background()

	if err := registry.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}

	revoked, err := registry.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti-1 to be revoked")
	}

	revoked, err = registry.IsRevoked(ctx, "jti-unknown")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected jti-unknown to not be revoked")
	}
}

func TestRevokedEntryExpiresWithToken(t *testing.T) {
	registry, s := setupTestRedis(t)
	defer registry.Close()
	defer s.Close()

	ctx := context.Background()

	if err := registry.RevokeToken(ctx, "jti-short", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	revoked, err := registry.IsRevoked(ctx, "jti-short")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expected denylist entry to lapse with the token's expiry")
	}
}

func TestRevokeAlreadyExpiredTokenIsNoop(t *testing.T) {
	registry, s := setupTestRedis(t)
	defer registry.Close()
	defer s.Close()

	ctx := context.Background()

	if err := registry.RevokeToken(ctx, "jti-past", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}

	revoked, err := registry.IsRevoked(ctx, "jti-past")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Error("expired token should not need a denylist entry")
	}
}
