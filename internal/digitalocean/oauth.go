package digitalocean

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// OAuth endpoint constants for DigitalOcean's account-connect flow.
const (
	oauthAuthURL  = "https://cloud.digitalocean.com/v1/oauth/authorize"
	oauthTokenURL = "https://cloud.digitalocean.com/v1/oauth/token"
)

// OAuthConfig returns the oauth2 configuration used to link a DigitalOcean account. The read and write scopes cover
// droplet creation, inspection, and destruction.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"read", "write"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  oauthAuthURL,
			TokenURL: oauthTokenURL,
		},
	}
}

// Refresh exchanges a refresh token for a fresh token pair. DigitalOcean rotates the refresh token on every exchange,
// so the caller must persist both halves of the result.
func Refresh(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", ErrProviderFailure, err)
	}
	return token, nil
}
