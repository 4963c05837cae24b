package digitalocean

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/credential"
)

// ProviderName keys stored credentials for this provider.
const ProviderName = "digitalocean"

// refreshSkew renews tokens this long before their recorded expiry so an in-flight request never carries a token that
// dies mid-call.
const refreshSkew = time.Minute

// TokenStore resolves a user's plaintext DigitalOcean access token from the sealed credential store, refreshing and
// re-sealing the pair when the access token is near expiry.
type TokenStore struct {
	creds credential.Repository
	cfg   *oauth2.Config
	kek   string
	log   zerolog.Logger
}

// NewTokenStore creates a token store over the sealed credential repository. kek is the base64 key-encryption key.
func NewTokenStore(creds credential.Repository, cfg *oauth2.Config, kek string, logger zerolog.Logger) *TokenStore {
	return &TokenStore{
		creds: creds,
		cfg:   cfg,
		kek:   kek,
		log:   logger.With().Str("component", "do-tokens").Logger(),
	}
}

// Save seals and stores a token pair for a user.
func (s *TokenStore) Save(ctx context.Context, userID string, token *oauth2.Token) error {
	accessSealed, err := auth.SealProviderToken(token.AccessToken, s.kek)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	var refreshSealed string
	if token.RefreshToken != "" {
		if refreshSealed, err = auth.SealProviderToken(token.RefreshToken, s.kek); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}

	var expiresAt int64
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry.Unix()
	}
	return s.creds.Upsert(ctx, credential.UpsertParams{
		UserID:            userID,
		Provider:          ProviderName,
		AccessCiphertext:  accessSealed,
		RefreshCiphertext: refreshSealed,
		ExpiresAt:         expiresAt,
	})
}

// Token returns a usable access token for the user, refreshing the stored pair when it is about to expire. It returns
// credential.ErrNotFound when the user never connected the provider.
func (s *TokenStore) Token(ctx context.Context, userID string) (string, error) {
	c, err := s.creds.Get(ctx, userID, ProviderName)
	if err != nil {
		return "", err
	}

	access, err := auth.OpenProviderToken(c.AccessCiphertext, s.kek)
	if err != nil {
		return "", fmt.Errorf("open access token: %w", err)
	}

	if c.ExpiresAt == 0 || time.Now().Add(refreshSkew).Unix() < c.ExpiresAt {
		return access, nil
	}
	if c.RefreshCiphertext == "" {
		// Expired with nothing to refresh; surface the stale token and let the provider reject it.
		return access, nil
	}

	refresh, err := auth.OpenProviderToken(c.RefreshCiphertext, s.kek)
	if err != nil {
		return "", fmt.Errorf("open refresh token: %w", err)
	}
	fresh, err := Refresh(ctx, s.cfg, refresh)
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, userID, fresh); err != nil {
		// The new pair is valid even if persisting it failed; next call refreshes again.
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to persist refreshed provider token")
	}
	s.log.Debug().Str("user_id", userID).Msg("Provider token refreshed")
	return fresh.AccessToken, nil
}
