package auth

import "errors"

// Sentinel errors for the auth package.
var (
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrBootstrapTokenNotFound = errors.New("bootstrap token not found")
	ErrOAuthStateNotFound     = errors.New("oauth state not found")
)
