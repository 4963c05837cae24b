package gateway

import (
	"context"
	"errors"
)

// Sentinel errors for the gateway package.
var (
	ErrNotFound      = errors.New("gateway not found")
	ErrAlreadyExists = errors.New("host already has a gateway")
)

// Gateway is the daemon credential record for a host. AuthTokenHash is a keyed MAC of the bearer token; the plaintext
// is never stored.
type Gateway struct {
	ID            string
	HostID        string
	AuthTokenHash string
	Version       string
	Connected     bool
	LastSeen      int64
	CreatedAt     int64
}

// CreateParams holds the fields required to insert a gateway row.
type CreateParams struct {
	ID            string
	HostID        string
	AuthTokenHash string
}

// Repository defines the data-access contract for gateway operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Gateway, error)
	GetByID(ctx context.Context, id string) (*Gateway, error)
	GetByHost(ctx context.Context, hostID string) (*Gateway, error)
	UpdateConnected(ctx context.Context, id string, connected bool, at int64) error
	UpdateTokenHash(ctx context.Context, id, tokenHash string) error
	UpdateVersion(ctx context.Context, id, version string) error
	UpdateLastSeen(ctx context.Context, id string, at int64) error
}
