package credential

import (
	"context"
	"errors"
)

// Sentinel errors for the credential package.
var ErrNotFound = errors.New("provider credential not found")

// Version tags the sealing format so a future KEK rotation can tell old blobs from new.
const Version = "v1"

// Credential holds a user's sealed OAuth tokens for a cloud provider. Only ciphertext crosses this package's
// boundary; sealing and opening live in the auth package. RefreshCiphertext is empty for providers that do not issue
// refresh tokens, and ExpiresAt is zero for tokens without an expiry.
type Credential struct {
	UserID            string
	Provider          string
	AccessCiphertext  string
	RefreshCiphertext string
	ExpiresAt         int64
	Version           string
	UpdatedAt         int64
}

// UpsertParams holds the fields required to store a sealed token pair.
type UpsertParams struct {
	UserID            string
	Provider          string
	AccessCiphertext  string
	RefreshCiphertext string
	ExpiresAt         int64
}

// Repository defines the data-access contract for provider credential operations.
type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) error
	Get(ctx context.Context, userID, provider string) (*Credential, error)
	Delete(ctx context.Context, userID, provider string) error
}
