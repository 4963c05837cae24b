package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestBootstrapTokenRoundTrip(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	ctx := context.Background()

	token, err := CreateBootstrapToken(ctx, rdb, "vps-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("CreateBootstrapToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("CreateBootstrapToken() returned empty token")
	}

	hostID, err := ConsumeBootstrapToken(ctx, rdb, token)
	if err != nil {
		t.Fatalf("ConsumeBootstrapToken() error = %v", err)
	}
	if hostID != "vps-1" {
		t.Errorf("hostID = %q, want %q", hostID, "vps-1")
	}
}

func TestBootstrapTokenSingleUse(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	ctx := context.Background()

	token, err := CreateBootstrapToken(ctx, rdb, "vps-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("CreateBootstrapToken() error = %v", err)
	}

	if _, err := ConsumeBootstrapToken(ctx, rdb, token); err != nil {
		t.Fatalf("first ConsumeBootstrapToken() error = %v", err)
	}

	_, err = ConsumeBootstrapToken(ctx, rdb, token)
	if !errors.Is(err, ErrBootstrapTokenNotFound) {
		t.Errorf("second ConsumeBootstrapToken() error = %v, want %v", err, ErrBootstrapTokenNotFound)
	}
}

func TestBootstrapTokenUnknown(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)

	_, err := ConsumeBootstrapToken(context.Background(), rdb, "never-issued")
	if !errors.Is(err, ErrBootstrapTokenNotFound) {
		t.Errorf("ConsumeBootstrapToken() error = %v, want %v", err, ErrBootstrapTokenNotFound)
	}
}

func TestBootstrapTokenExpires(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	token, err := CreateBootstrapToken(ctx, rdb, "vps-1", time.Minute)
	if err != nil {
		t.Fatalf("CreateBootstrapToken() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, err = ConsumeBootstrapToken(ctx, rdb, token)
	if !errors.Is(err, ErrBootstrapTokenNotFound) {
		t.Errorf("ConsumeBootstrapToken() after expiry error = %v, want %v", err, ErrBootstrapTokenNotFound)
	}
}

func TestOAuthStateRoundTrip(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	ctx := context.Background()

	state, err := CreateOAuthState(ctx, rdb, "github", 10*time.Minute)
	if err != nil {
		t.Fatalf("CreateOAuthState() error = %v", err)
	}

	provider, err := ConsumeOAuthState(ctx, rdb, state)
	if err != nil {
		t.Fatalf("ConsumeOAuthState() error = %v", err)
	}
	if provider != "github" {
		t.Errorf("provider = %q, want %q", provider, "github")
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	t.Parallel()
	rdb := newTestRedis(t)
	ctx := context.Background()

	state, err := CreateOAuthState(ctx, rdb, "google", 10*time.Minute)
	if err != nil {
		t.Fatalf("CreateOAuthState() error = %v", err)
	}

	if _, err := ConsumeOAuthState(ctx, rdb, state); err != nil {
		t.Fatalf("first ConsumeOAuthState() error = %v", err)
	}

	_, err = ConsumeOAuthState(ctx, rdb, state)
	if !errors.Is(err, ErrOAuthStateNotFound) {
		t.Errorf("second ConsumeOAuthState() error = %v, want %v", err, ErrOAuthStateNotFound)
	}
}
