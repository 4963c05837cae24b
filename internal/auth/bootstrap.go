package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bootstrap tokens let a freshly installed gateway daemon attach itself to an existing host record exactly once.
// Key pattern:
//
//	bootstrap:{token} → host_id (STRING with TTL)

func bootstrapKey(token string) string {
	return "bootstrap:" + token
}

// consumeScript atomically reads and deletes a bootstrap token so that two concurrent attaches cannot both succeed.
//
//	KEYS[1] = bootstrap:{token}
var consumeScript = redis.NewScript(`
local hostId = redis.call('GET', KEYS[1])
if not hostId then
    return false
end
redis.call('DEL', KEYS[1])
return hostId
`)

// CreateBootstrapToken generates a single-use token bound to the given host and stores it with the given TTL.
func CreateBootstrapToken(ctx context.Context, rdb *redis.Client, hostID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()

	if err := rdb.Set(ctx, bootstrapKey(token), hostID, ttl).Err(); err != nil {
		return "", fmt.Errorf("create bootstrap token: %w", err)
	}

	return token, nil
}

// ConsumeBootstrapToken atomically consumes a bootstrap token and returns the host id it was bound to. A token that
// was never issued, expired, or was already consumed yields ErrBootstrapTokenNotFound.
func ConsumeBootstrapToken(ctx context.Context, rdb *redis.Client, token string) (string, error) {
	result, err := consumeScript.Run(ctx, rdb, []string{bootstrapKey(token)}).Text()
	if err == redis.Nil {
		return "", ErrBootstrapTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume bootstrap token: %w", err)
	}

	return result, nil
}
