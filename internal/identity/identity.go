package identity

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors for the identity package.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrIdentityConflict is returned when an email and a provider identity resolve to two different existing users.
	// Accounts are never merged automatically; the sign-in is refused instead.
	ErrIdentityConflict = errors.New("existing accounts conflict for this identity")
	ErrEmailRequired    = errors.New("email is required")
	ErrProviderRequired = errors.New("provider and provider user id are required")
)

// User is an account row. A user owns hosts; identities point at users.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   int64
}

// EmailIdentity links a lowercased email address to a user. The email is the primary key, so an address can belong to
// at most one user.
type EmailIdentity struct {
	Email     string
	UserID    string
	CreatedAt int64
}

// AuthIdentity links an OAuth provider subject to a user. (provider, provider_user_id) is the primary key.
type AuthIdentity struct {
	Provider       string
	ProviderUserID string
	UserID         string
	CreatedAt      int64
}

// NormalizeEmail trims surrounding whitespace and lowercases the address. Every read and write of email_identities
// goes through this, so lookups are case-insensitive by construction.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ResolveParams carries the identity claims of a completed OAuth sign-in.
type ResolveParams struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
}

// resolveAction tells Resolve which rows to write for a given pair of existing links.
type resolveAction int

const (
	actionCreateAll    resolveAction = iota // neither link exists: new user plus both identities
	actionUseAuthUser                       // provider link exists: attach the email to its user
	actionUseEmailUser                      // email link exists: attach the provider identity to its user
	actionUseExisting                       // both links exist and agree: nothing to write
)

// resolveOutcome decides how a sign-in maps onto existing identity links. Empty string means the link does not exist.
// Two links pointing at different users is a conflict; neither account is touched.
func resolveOutcome(emailUserID, authUserID string) (resolveAction, error) {
	switch {
	case emailUserID == "" && authUserID == "":
		return actionCreateAll, nil
	case authUserID != "" && emailUserID == "":
		return actionUseAuthUser, nil
	case authUserID == "" && emailUserID != "":
		return actionUseEmailUser, nil
	case authUserID == emailUserID:
		return actionUseExisting, nil
	default:
		return 0, ErrIdentityConflict
	}
}

// Repository defines the data-access contract for identity operations.
type Repository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	Resolve(ctx context.Context, params ResolveParams) (*User, error)
}
