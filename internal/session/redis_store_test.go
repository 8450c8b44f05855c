package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestLoginStateIsSingleUse(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveLoginState(ctx, "state-1", LoginState{RedirectTo: "/sitzungen"}, time.Minute); err != nil {
		t.Fatalf("SaveLoginState failed: %v", err)
	}

	data, err := store.ConsumeLoginState(ctx, "state-1")
	if err != nil {
		t.Fatalf("ConsumeLoginState failed: %v", err)
	}
	if data.RedirectTo != "/sitzungen" || data.CreatedAt.IsZero() {
		t.Errorf("unexpected login state: %+v", data)
	}

	if _, err := store.ConsumeLoginState(ctx, "state-1"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound on reuse, got %v", err)
	}
}

func TestLoginStateExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveLoginState(ctx, "state-2", LoginState{}, time.Minute); err != nil {
		t.Fatalf("SaveLoginState failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.ConsumeLoginState(ctx, "state-2"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound after expiry, got %v", err)
	}
}

func TestRevokeClaim(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsClaimRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected fresh claim not revoked, got %v %v", revoked, err)
	}

	if err := store.RevokeClaim(ctx, "jti-1", time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("RevokeClaim failed: %v", err)
	}
	revoked, err = store.IsClaimRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected claim revoked, got %v %v", revoked, err)
	}

	s.FastForward(6 * time.Minute)
	revoked, err = store.IsClaimRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to lapse with the claim, got %v %v", revoked, err)
	}
}

func TestRevokeExpiredClaimIsNoOp(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.RevokeClaim(context.Background(), "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeClaim failed: %v", err)
	}
	if s.Exists("fsr:revoked:old") {
		t.Fatal("expired claim should not be stored")
	}
}
