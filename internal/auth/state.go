package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OAuth state nonces bind an authorization redirect back to the browser that initiated it.
// Key pattern:
//
//	oauth_state:{state} → provider name (STRING with TTL)

func oauthStateKey(state string) string {
	return "oauth_state:" + state
}

// CreateOAuthState generates a state nonce for the given provider and stores it with the given TTL.
func CreateOAuthState(ctx context.Context, rdb *redis.Client, provider string, ttl time.Duration) (string, error) {
	state := uuid.New().String()

	if err := rdb.Set(ctx, oauthStateKey(state), provider, ttl).Err(); err != nil {
		return "", fmt.Errorf("create oauth state: %w", err)
	}

	return state, nil
}

// ConsumeOAuthState atomically consumes a state nonce and returns the provider it was issued for. An unknown or
// expired state yields ErrOAuthStateNotFound.
func ConsumeOAuthState(ctx context.Context, rdb *redis.Client, state string) (string, error) {
	result, err := consumeScript.Run(ctx, rdb, []string{oauthStateKey(state)}).Text()
	if err == redis.Nil {
		return "", ErrOAuthStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume oauth state: %w", err)
	}

	return result, nil
}
