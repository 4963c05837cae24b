package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Identity is what a sign-in provider asserts about the authenticated person. ProviderUserID is the provider's stable
// account id, never the email.
type Identity struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	DisplayName    string
}

// Provider is one configured sign-in backend (GitHub or Google). apiBase is swapped for a test server in tests.
type Provider struct {
	Name    string
	Config  *oauth2.Config
	apiBase string
	fetch   func(ctx context.Context, client *http.Client, apiBase string) (*Identity, error)
}

// NewGitHubProvider configures GitHub sign-in. The user:email scope is needed because the profile email is often
// private.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		Name: "github",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: "https://api.github.com",
		fetch:   fetchGitHubIdentity,
	}
}

// NewGoogleProvider configures Google sign-in.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		apiBase: "https://openidconnect.googleapis.com",
		fetch:   fetchGoogleIdentity,
	}
}

// Configured reports whether the provider has credentials.
func (p *Provider) Configured() bool {
	return p.Config.ClientID != "" && p.Config.ClientSecret != ""
}

// FetchIdentity exchanges an authorization code and resolves who the provider says this is.
func (p *Provider) FetchIdentity(ctx context.Context, code string) (*Identity, error) {
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange: %w", p.Name, err)
	}
	identity, err := p.fetch(ctx, p.Config.Client(ctx, token), p.apiBase)
	if err != nil {
		return nil, fmt.Errorf("%s identity fetch: %w", p.Name, err)
	}
	identity.Provider = p.Name
	return identity, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fetchGitHubIdentity(ctx context.Context, client *http.Client, apiBase string) (*Identity, error) {
	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := fetchJSON(ctx, client, apiBase+"/user", &user); err != nil {
		return nil, err
	}

	identity := &Identity{
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          user.Email,
		DisplayName:    user.Name,
	}
	if identity.DisplayName == "" {
		identity.DisplayName = user.Login
	}

	// The profile email may be hidden; the emails endpoint always lists the primary one with its verified flag.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := fetchJSON(ctx, client, apiBase+"/user/emails", &emails); err != nil {
		return nil, err
	}
	for _, e := range emails {
		if e.Primary {
			identity.Email = e.Email
			identity.EmailVerified = e.Verified
			break
		}
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("github account has no usable email")
	}
	return identity, nil
}

func fetchGoogleIdentity(ctx context.Context, client *http.Client, apiBase string) (*Identity, error) {
	var user struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := fetchJSON(ctx, client, apiBase+"/v1/userinfo", &user); err != nil {
		return nil, err
	}
	if user.Email == "" {
		return nil, fmt.Errorf("google account has no usable email")
	}
	return &Identity{
		ProviderUserID: user.Sub,
		Email:          user.Email,
		EmailVerified:  user.EmailVerified,
		DisplayName:    user.Name,
	}, nil
}
